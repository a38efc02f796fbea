package writer

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"pdfdewm/ir/raw"
)

// Serialize renders the document as a complete PDF file with a classic
// cross-reference table. Objects are emitted in ascending number
// order, dictionary keys sorted, so output is deterministic.
func Serialize(doc *raw.Document) ([]byte, error) {
	version := doc.Version
	if version == "" {
		version = "1.7"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%%PDF-%s\n", version)
	// Binary comment so transports treat the file as binary.
	b.WriteString("%\xe2\xe3\xcf\xd3\n")

	refs := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })

	maxNum := 0
	offsets := make(map[int]int64, len(refs))
	for _, ref := range refs {
		offsets[ref.Num] = int64(b.Len())
		fmt.Fprintf(&b, "%d %d obj\n", ref.Num, ref.Gen)
		if err := serializeObject(&b, doc.Objects[ref]); err != nil {
			return nil, fmt.Errorf("object %s: %w", ref, err)
		}
		b.WriteString("\nendobj\n")
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}

	xrefPos := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", maxNum+1)
	b.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&b, "%010d 00000 n \n", off)
		} else {
			b.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := doc.Trailer
	if trailer == nil {
		trailer = raw.Dict()
	}
	trailer.Set("Size", raw.NumberInt(int64(maxNum+1)))
	b.WriteString("trailer\n")
	if err := serializeObject(&b, trailer); err != nil {
		return nil, fmt.Errorf("trailer: %w", err)
	}
	fmt.Fprintf(&b, "\nstartxref\n%d\n%%%%EOF\n", xrefPos)
	return b.Bytes(), nil
}

func serializeObject(b *bytes.Buffer, obj raw.Object) error {
	switch t := obj.(type) {
	case nil:
		b.WriteString("null")
	case raw.NullObj:
		b.WriteString("null")
	case raw.BoolObj:
		if t.V {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case raw.NumberObj:
		if t.IsInt {
			b.WriteString(strconv.FormatInt(t.I, 10))
		} else {
			b.WriteString(strconv.FormatFloat(t.F, 'f', -1, 64))
		}
	case raw.NameObj:
		writeName(b, t.Val)
	case raw.StringObj:
		writeLiteralString(b, t.Bytes)
	case raw.HexStringObj:
		b.WriteByte('<')
		for _, c := range t.Bytes {
			fmt.Fprintf(b, "%02X", c)
		}
		b.WriteByte('>')
	case raw.RefObj:
		fmt.Fprintf(b, "%d %d R", t.R.Num, t.R.Gen)
	case *raw.ArrayObj:
		b.WriteByte('[')
		for i, item := range t.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			if err := serializeObject(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case *raw.DictObj:
		return serializeDict(b, t)
	case *raw.StreamObj:
		if err := serializeDict(b, t.Dict); err != nil {
			return err
		}
		b.WriteString("\nstream\n")
		b.Write(t.Data)
		b.WriteString("\nendstream")
	default:
		return fmt.Errorf("unsupported object type %T", obj)
	}
	return nil
}

func serializeDict(b *bytes.Buffer, dict *raw.DictObj) error {
	keys := dict.Keys()
	sort.Strings(keys)
	b.WriteString("<<")
	for _, k := range keys {
		b.WriteByte(' ')
		writeName(b, k)
		b.WriteByte(' ')
		v, _ := dict.Get(k)
		if err := serializeObject(b, v); err != nil {
			return err
		}
	}
	b.WriteString(" >>")
	return nil
}

func writeName(b *bytes.Buffer, name string) {
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7F || isNameDelimiter(c) || c == '#' {
			fmt.Fprintf(b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
}

func isNameDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func writeLiteralString(b *bytes.Buffer, data []byte) {
	b.WriteByte('(')
	for _, c := range data {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c >= 0x7F {
				fmt.Fprintf(b, "\\%03o", c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte(')')
}
