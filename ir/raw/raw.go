package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
}

// Dictionary represents a PDF dictionary object.
type Dictionary interface {
	Object
	Get(key string) (Object, bool)
	Set(key string, value Object)
	Keys() []string
	Len() int
}

// Array represents a PDF array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Len() int
	Append(obj Object)
}

// Stream represents a PDF stream: a dictionary plus payload bytes.
// RawData returns the bytes exactly as stored in the file, still
// encoded by whatever /Filter chain the dictionary declares.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a PDF name object.
type Name interface {
	Object
	Value() string
}

// String represents a PDF string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a PDF numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Boolean represents a PDF boolean.
type Boolean interface {
	Object
	Value() bool
}

// Null represents the PDF null object.
type Null interface{ Object }

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// Document is the indirect-object table plus the trailer that anchors
// it. It is the exclusive in-memory representation that the detector,
// editor and writer all operate on.
type Document struct {
	Objects map[ObjectRef]Object
	Trailer *DictObj
	Version string // header version, e.g. "1.7"
}

// MaxObjectNum returns the highest object number in the table, 0 when
// the table is empty.
func (d *Document) MaxObjectNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Lookup returns the object stored under num with any generation.
// Mutation paths key strictly by ObjectRef; Lookup exists for callers
// that only know the object number (e.g. an /SMask reference written
// with a stale generation).
func (d *Document) Lookup(num int) (ObjectRef, Object, bool) {
	for ref, obj := range d.Objects {
		if ref.Num == num {
			return ref, obj, true
		}
	}
	return ObjectRef{}, nil, false
}
