package raw

// Deref follows a reference chain until it reaches a non-reference
// object. A missing table entry yields nil.
func Deref(doc *Document, obj Object) Object {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(RefObj)
		if !ok {
			return obj
		}
		next, ok := doc.Objects[ref.R]
		if !ok {
			if _, byNum, found := doc.Lookup(ref.R.Num); found {
				next = byNum
			} else {
				return nil
			}
		}
		obj = next
	}
	return nil
}

// DerefDict dereferences obj and returns it as a dictionary. Stream
// objects contribute their dictionary.
func DerefDict(doc *Document, obj Object) *DictObj {
	switch v := Deref(doc, obj).(type) {
	case *DictObj:
		return v
	case *StreamObj:
		return v.Dict
	}
	return nil
}

// DerefStream dereferences obj and returns it as a stream.
func DerefStream(doc *Document, obj Object) *StreamObj {
	s, _ := Deref(doc, obj).(*StreamObj)
	return s
}

// DictValue returns dict[key] dereferenced, or nil.
func DictValue(doc *Document, dict *DictObj, key string) Object {
	if dict == nil {
		return nil
	}
	v, ok := dict.Get(key)
	if !ok {
		return nil
	}
	return Deref(doc, v)
}

// NameValue returns dict[key] as a name string.
func NameValue(doc *Document, dict *DictObj, key string) (string, bool) {
	n, ok := DictValue(doc, dict, key).(NameObj)
	if !ok {
		return "", false
	}
	return n.Val, true
}

// IntValue returns dict[key] as an integer.
func IntValue(doc *Document, dict *DictObj, key string) (int64, bool) {
	n, ok := DictValue(doc, dict, key).(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

// FilterNames returns the /Filter chain of a stream dictionary along
// with the matching /DecodeParms entries (nil where absent).
func FilterNames(doc *Document, dict *DictObj) ([]string, []*DictObj) {
	if dict == nil {
		return nil, nil
	}
	var names []string
	switch f := DictValue(doc, dict, "Filter").(type) {
	case NameObj:
		names = []string{f.Val}
	case *ArrayObj:
		for _, item := range f.Items {
			if n, ok := Deref(doc, item).(NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	params := make([]*DictObj, len(names))
	switch p := DictValue(doc, dict, "DecodeParms").(type) {
	case *DictObj:
		if len(params) > 0 {
			params[0] = p
		}
	case *ArrayObj:
		for i := 0; i < len(params) && i < len(p.Items); i++ {
			params[i], _ = Deref(doc, p.Items[i]).(*DictObj)
		}
	}
	return names, params
}
