package writer

import (
	"sort"

	"pdfdewm/ir/raw"
)

// Compact returns a copy of the document holding only objects
// reachable from the trailer, renumbered densely from 1. References
// inside every kept object are rewritten to the new numbers; all
// generations reset to zero.
func Compact(doc *raw.Document) *raw.Document {
	reachable := make(map[raw.ObjectRef]bool)
	markReachable(doc, doc.Trailer, reachable)

	kept := make([]raw.ObjectRef, 0, len(reachable))
	for ref := range reachable {
		if _, ok := doc.Objects[ref]; ok {
			kept = append(kept, ref)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Num != kept[j].Num {
			return kept[i].Num < kept[j].Num
		}
		return kept[i].Gen < kept[j].Gen
	})

	renum := make(map[raw.ObjectRef]raw.ObjectRef, len(kept))
	for i, ref := range kept {
		renum[ref] = raw.ObjectRef{Num: i + 1}
	}

	out := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object, len(kept)),
		Version: doc.Version,
	}
	for _, ref := range kept {
		out.Objects[renum[ref]] = rewriteRefs(doc, doc.Objects[ref], renum)
	}
	out.Trailer = rewriteTrailer(doc, renum)
	out.Trailer.Set("Size", raw.NumberInt(int64(len(kept)+1)))
	return out
}

// cloneDocument deep-copies the table without renumbering, so the
// compression pass never mutates the caller's objects.
func cloneDocument(doc *raw.Document) *raw.Document {
	identity := make(map[raw.ObjectRef]raw.ObjectRef, len(doc.Objects))
	for ref := range doc.Objects {
		identity[ref] = ref
	}
	out := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object, len(doc.Objects)),
		Version: doc.Version,
	}
	for ref, obj := range doc.Objects {
		out.Objects[ref] = rewriteRefs(doc, obj, identity)
	}
	out.Trailer = rewriteTrailer(doc, identity)
	out.Trailer.Set("Size", raw.NumberInt(int64(doc.MaxObjectNum()+1)))
	return out
}

func rewriteTrailer(doc *raw.Document, renum map[raw.ObjectRef]raw.ObjectRef) *raw.DictObj {
	trailer := raw.Dict()
	if doc.Trailer != nil {
		for _, key := range doc.Trailer.Keys() {
			switch key {
			// Stale cross-reference bookkeeping is rebuilt on write.
			case "Size", "Prev", "XRefStm":
				continue
			}
			v, _ := doc.Trailer.Get(key)
			trailer.Set(key, rewriteRefs(doc, v, renum))
		}
	}
	return trailer
}

func markReachable(doc *raw.Document, obj raw.Object, reachable map[raw.ObjectRef]bool) {
	switch t := obj.(type) {
	case raw.RefObj:
		ref := resolveStored(doc, t.R)
		if reachable[ref] {
			return
		}
		reachable[ref] = true
		if target, ok := doc.Objects[ref]; ok {
			markReachable(doc, target, reachable)
		}
	case *raw.ArrayObj:
		for _, item := range t.Items {
			markReachable(doc, item, reachable)
		}
	case *raw.DictObj:
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			markReachable(doc, v, reachable)
		}
	case *raw.StreamObj:
		markReachable(doc, t.Dict, reachable)
	}
}

// rewriteRefs copies an object, mapping every reference through renum.
// References to dropped objects become null so they cannot dangle.
func rewriteRefs(doc *raw.Document, obj raw.Object, renum map[raw.ObjectRef]raw.ObjectRef) raw.Object {
	switch t := obj.(type) {
	case raw.RefObj:
		if mapped, ok := renum[resolveStored(doc, t.R)]; ok {
			return raw.RefObj{R: mapped}
		}
		return raw.NullObj{}
	case *raw.ArrayObj:
		items := make([]raw.Object, len(t.Items))
		for i, item := range t.Items {
			items[i] = rewriteRefs(doc, item, renum)
		}
		return &raw.ArrayObj{Items: items}
	case *raw.DictObj:
		out := raw.Dict()
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			out.Set(k, rewriteRefs(doc, v, renum))
		}
		return out
	case *raw.StreamObj:
		dict, _ := rewriteRefs(doc, t.Dict, renum).(*raw.DictObj)
		data := append([]byte(nil), t.Data...)
		return raw.NewStream(dict, data)
	default:
		return obj
	}
}

// resolveStored maps a reference onto the generation present in the
// table when the written generation is stale.
func resolveStored(doc *raw.Document, ref raw.ObjectRef) raw.ObjectRef {
	if _, ok := doc.Objects[ref]; ok {
		return ref
	}
	if stored, _, ok := doc.Lookup(ref.Num); ok {
		return stored
	}
	return ref
}
