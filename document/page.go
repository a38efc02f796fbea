package document

import (
	"context"
	"errors"
	"fmt"

	"pdfdewm/contentstream"
	"pdfdewm/ir/raw"
)

// Page is one leaf of the page tree.
type Page struct {
	Index int
	Ref   raw.ObjectRef
	Dict  *raw.DictObj
}

const maxPageTreeDepth = 64

func (d *Document) loadPages() error {
	root := raw.DerefDict(d.raw, raw.DictValue(d.raw, d.raw.Trailer, "Root"))
	if root == nil {
		return errors.New("trailer has no /Root")
	}
	pagesObj, ok := root.Get("Pages")
	if !ok {
		return errors.New("catalog has no /Pages")
	}
	visited := make(map[raw.ObjectRef]bool)
	// An empty tree is a valid zero-page document.
	return d.walkPageTree(pagesObj, visited, 0)
}

func (d *Document) walkPageTree(node raw.Object, visited map[raw.ObjectRef]bool, depth int) error {
	if depth > maxPageTreeDepth {
		return errors.New("page tree too deep")
	}
	ref, isRef := node.(raw.RefObj)
	if isRef {
		if visited[ref.R] {
			return errors.New("page tree cycle")
		}
		visited[ref.R] = true
	}
	dict := raw.DerefDict(d.raw, node)
	if dict == nil {
		return fmt.Errorf("page tree node is not a dictionary")
	}
	typ, _ := raw.NameValue(d.raw, dict, "Type")
	if typ == "Page" {
		d.pages = append(d.pages, &Page{Index: len(d.pages), Ref: ref.R, Dict: dict})
		return nil
	}
	kids, ok := raw.DictValue(d.raw, dict, "Kids").(*raw.ArrayObj)
	if !ok {
		// A typeless leaf without kids is treated as a page; broken
		// writers omit /Type.
		if !isRef {
			return errors.New("page tree node without Kids or reference")
		}
		d.pages = append(d.pages, &Page{Index: len(d.pages), Ref: ref.R, Dict: dict})
		return nil
	}
	for _, kid := range kids.Items {
		if err := d.walkPageTree(kid, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Resources returns the page's resource dictionary, walking /Parent
// links for inherited entries. A page without resources yields an
// empty dictionary.
func (d *Document) Resources(p *Page) *raw.DictObj {
	dict := p.Dict
	for depth := 0; dict != nil && depth < maxPageTreeDepth; depth++ {
		if res := raw.DerefDict(d.raw, raw.DictValue(d.raw, dict, "Resources")); res != nil {
			return res
		}
		dict = raw.DerefDict(d.raw, raw.DictValue(d.raw, dict, "Parent"))
	}
	return raw.Dict()
}

// MediaBox returns the page's media box, inherited through the tree,
// falling back to US Letter.
func (d *Document) MediaBox(p *Page) contentstream.Rect {
	dict := p.Dict
	for depth := 0; dict != nil && depth < maxPageTreeDepth; depth++ {
		if arr, ok := raw.DictValue(d.raw, dict, "MediaBox").(*raw.ArrayObj); ok && arr.Len() == 4 {
			vals := make([]float64, 4)
			for i := 0; i < 4; i++ {
				if n, ok := raw.Deref(d.raw, arr.Items[i]).(raw.NumberObj); ok {
					vals[i] = n.Float()
				}
			}
			return contentstream.Rect{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}
		}
		dict = raw.DerefDict(d.raw, raw.DictValue(d.raw, dict, "Parent"))
	}
	return contentstream.Rect{URX: 612, URY: 792}
}

// ContentRef is one of a page's content streams with its decoded data.
type ContentRef struct {
	Ref  raw.ObjectRef
	Data []byte
}

// ContentStreams returns the page's content streams in paint order,
// each decoded. Pages may carry a single stream or an array.
func (d *Document) ContentStreams(ctx context.Context, p *Page) ([]ContentRef, error) {
	contents, ok := p.Dict.Get("Contents")
	if !ok {
		return nil, nil
	}
	var refs []raw.ObjectRef
	switch v := contents.(type) {
	case raw.RefObj:
		if arr, ok := raw.Deref(d.raw, v).(*raw.ArrayObj); ok {
			refs = collectRefs(arr)
		} else {
			refs = []raw.ObjectRef{v.R}
		}
	case *raw.ArrayObj:
		refs = collectRefs(v)
	}
	out := make([]ContentRef, 0, len(refs))
	for _, ref := range refs {
		obj, err := d.Resolve(resolveAnyGen(d.raw, ref))
		if err != nil {
			if errors.Is(err, ErrInvalidated) {
				continue
			}
			return nil, err
		}
		st, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		data, err := d.DecodeStream(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("decode content stream %s: %w", ref, err)
		}
		out = append(out, ContentRef{Ref: resolveAnyGen(d.raw, ref), Data: data})
	}
	return out, nil
}

// SetStreamData replaces a stream's payload with plain bytes. The
// filter chain is dropped; the writer reapplies compression on save.
func (d *Document) SetStreamData(ref raw.ObjectRef, data []byte) error {
	obj, err := d.Resolve(ref)
	if err != nil {
		return err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return fmt.Errorf("%s is not a stream", ref)
	}
	dict := st.Dict
	dict.Delete("Filter")
	dict.Delete("DecodeParms")
	dict.Set("Length", raw.NumberInt(int64(len(data))))
	d.Set(ref, raw.NewStream(dict, data))
	return nil
}

func collectRefs(arr *raw.ArrayObj) []raw.ObjectRef {
	out := make([]raw.ObjectRef, 0, arr.Len())
	for _, item := range arr.Items {
		if ref, ok := item.(raw.RefObj); ok {
			out = append(out, ref.R)
		}
	}
	return out
}

// resolveAnyGen maps a reference whose generation does not match any
// table entry onto the stored generation for the same number.
func resolveAnyGen(doc *raw.Document, ref raw.ObjectRef) raw.ObjectRef {
	if _, ok := doc.Objects[ref]; ok {
		return ref
	}
	if stored, _, ok := doc.Lookup(ref.Num); ok {
		return stored
	}
	return ref
}
