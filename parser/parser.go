package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"pdfdewm/ir/raw"
	"pdfdewm/observability"
	"pdfdewm/recovery"
	"pdfdewm/scanner"
	"pdfdewm/xref"
)

// ErrEncrypted marks documents carrying an /Encrypt dictionary. The
// toolkit does not decrypt; callers treat such files as unreadable.
var ErrEncrypted = errors.New("document is encrypted")

// Config controls high-level parsing: xref resolution plus object
// loading into the raw table.
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Scanner  scanner.Config
	Logger   observability.Logger
}

// DocumentParser builds a raw.Document from a byte-addressable source.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewStrictStrategy()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	cfg.Scanner.Recovery = cfg.Recovery
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	table, err := xref.NewResolver(p.cfg.XRef).Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := table.Trailer()
	if trailer != nil {
		if _, ok := trailer.Get("Encrypt"); ok {
			return nil, ErrEncrypted
		}
	}

	loader := &objectLoader{reader: r, table: table, scanCfg: p.cfg.Scanner}
	objects := make(map[raw.ObjectRef]raw.Object)
	for _, num := range table.Objects() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		offset, gen, _ := table.Lookup(num)
		obj, actualGen, err := loader.load(ctx, num, offset, gen)
		if err != nil {
			loc := recovery.Location{
				ObjectNum:  num,
				ObjectGen:  gen,
				ByteOffset: offset,
				Page:       -1,
				Component:  "parser",
			}
			if p.cfg.Recovery.OnError(err, loc) == recovery.ActionFail {
				return nil, fmt.Errorf("load object %d: %w", num, err)
			}
			p.cfg.Logger.Warn("skipping unreadable object",
				observability.Int("object", num),
				observability.Error("error", err))
			continue
		}
		objects[raw.ObjectRef{Num: num, Gen: actualGen}] = obj
	}
	if len(objects) == 0 {
		return nil, errors.New("no readable objects")
	}

	return &raw.Document{
		Objects: objects,
		Trailer: trailer,
		Version: headerVersion(r),
	}, nil
}

// headerVersion reads the %PDF-x.y marker near the start of the file.
// The marker is not always at byte 0; a short junk prefix is tolerated.
func headerVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, _ := r.ReadAt(buf, 0)
	head := string(buf[:n])
	idx := strings.Index(head, "%PDF-")
	if idx < 0 {
		return ""
	}
	rest := head[idx+len("%PDF-"):]
	end := 0
	for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	return rest[:end]
}

// objectLoader reads indirect objects at xref offsets. Each load uses
// its own scanner so nested loads (stream /Length indirection) cannot
// disturb the outer cursor.
type objectLoader struct {
	reader  io.ReaderAt
	table   xref.Table
	scanCfg scanner.Config
}

func (o *objectLoader) load(ctx context.Context, num int, offset int64, gen int) (raw.Object, int, error) {
	s := scanner.New(o.reader, o.scanCfg)
	if err := s.SeekTo(offset); err != nil {
		return nil, 0, fmt.Errorf("seek to %d: %w", offset, err)
	}
	tr := &tokenReader{s: s}

	hdrNum, hdrGen, err := readHeader(tr)
	if err != nil {
		return nil, 0, err
	}
	if hdrNum != num {
		return nil, 0, fmt.Errorf("object header says %d, xref says %d", hdrNum, num)
	}

	obj, err := parseObject(tr)
	if err != nil {
		return nil, 0, err
	}

	// A dictionary may be followed by a stream payload. The payload
	// length must be known before the scanner consumes it, and /Length
	// is allowed to be an indirect reference.
	if dict, ok := obj.(*raw.DictObj); ok {
		if length, ok := o.streamLength(ctx, dict); ok {
			s.SetNextStreamLength(length)
		}
		streamTok, err := tr.next()
		if err == nil && streamTok.Type == scanner.TokenStream {
			obj = raw.NewStream(dict, streamTok.Bytes)
		} else if err == nil {
			tr.unread(streamTok)
		}
	}
	return obj, hdrGen, nil
}

func readHeader(tr *tokenReader) (num, gen int, err error) {
	numTok, err := tr.next()
	if err != nil {
		return 0, 0, err
	}
	genTok, err := tr.next()
	if err != nil {
		return 0, 0, err
	}
	objTok, err := tr.next()
	if err != nil {
		return 0, 0, err
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt ||
		genTok.Type != scanner.TokenNumber || !genTok.IsInt ||
		objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return 0, 0, fmt.Errorf("malformed object header at offset %d", numTok.Pos)
	}
	return int(numTok.Int), int(genTok.Int), nil
}

// streamLength resolves the /Length entry of a stream dictionary,
// loading the referenced object when the value is indirect.
func (o *objectLoader) streamLength(ctx context.Context, dict *raw.DictObj) (int64, bool) {
	v, ok := dict.Get("Length")
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case raw.NumberObj:
		return t.Int(), true
	case raw.RefObj:
		offset, gen, found := o.table.Lookup(t.R.Num)
		if !found {
			return 0, false
		}
		obj, _, err := o.load(ctx, t.R.Num, offset, gen)
		if err != nil {
			return 0, false
		}
		if n, ok := obj.(raw.NumberObj); ok {
			// Write the resolved value back so later passes see a
			// direct length.
			dict.Set("Length", raw.NumberInt(n.Int()))
			return n.Int(), true
		}
	}
	return 0, false
}
