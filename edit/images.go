package edit

import (
	"context"
	"fmt"
	"sort"

	"pdfdewm/contentstream"
	"pdfdewm/document"
	"pdfdewm/ir/raw"
	"pdfdewm/observability"
)

// ImageStats reports what RemoveImages changed.
type ImageStats struct {
	StreamsRewritten int
	Invalidated      int
	// Unresolved lists requested objects that no page resource names,
	// so their invocations could not be excised. The objects are still
	// invalidated.
	Unresolved []raw.ObjectRef
}

// RemoveImages removes the given image objects in three phases:
// resolve resource names, excise invocations from content streams,
// then invalidate the objects and their soft masks. Best-effort
// throughout: a reference that cannot be fully handled degrades to a
// warning, never a failure.
func (e *Editor) RemoveImages(ctx context.Context, refs []raw.ObjectRef) (ImageStats, error) {
	var stats ImageStats
	if len(refs) == 0 {
		return stats, nil
	}

	names, unresolved := e.resolveNames(refs)
	stats.Unresolved = unresolved
	for _, ref := range unresolved {
		e.logger.Warn("no resource name found for image",
			observability.String("object", ref.String()))
	}

	if len(names) > 0 {
		rewritten, err := e.exciseInvocations(ctx, names)
		if err != nil {
			return stats, err
		}
		stats.StreamsRewritten = rewritten
	}

	stats.Invalidated = e.invalidateImages(refs)
	return stats, nil
}

// resolveNames walks the page tree collecting every resource name each
// requested object is bound under. The walk stops early once all
// requests have at least one name. Objects never named are reported,
// not failed; they may live in an orphaned resource dictionary.
func (e *Editor) resolveNames(refs []raw.ObjectRef) (map[string]bool, []raw.ObjectRef) {
	want := make(map[int]raw.ObjectRef, len(refs))
	for _, ref := range refs {
		want[ref.Num] = ref
	}
	found := make(map[int]bool)
	names := make(map[string]bool)

	for _, page := range e.doc.Pages() {
		if len(found) == len(want) {
			break
		}
		visited := make(map[raw.ObjectRef]bool)
		e.collectNames(e.doc.Resources(page), want, found, names, visited, 0)
	}

	var unresolved []raw.ObjectRef
	for num, ref := range want {
		if !found[num] {
			unresolved = append(unresolved, ref)
		}
	}
	sort.Slice(unresolved, func(i, j int) bool { return unresolved[i].Num < unresolved[j].Num })
	return names, unresolved
}

const maxFormDepth = 16

func (e *Editor) collectNames(res *raw.DictObj, want map[int]raw.ObjectRef, found map[int]bool, names map[string]bool, visited map[raw.ObjectRef]bool, depth int) {
	if res == nil || depth > maxFormDepth {
		return
	}
	xobjects := raw.DerefDict(e.doc.Raw(), raw.DictValue(e.doc.Raw(), res, "XObject"))
	if xobjects == nil {
		return
	}
	for _, name := range xobjects.Keys() {
		v, _ := xobjects.Get(name)
		ref, ok := v.(raw.RefObj)
		if !ok {
			continue
		}
		if _, wanted := want[ref.R.Num]; wanted {
			names[name] = true
			found[ref.R.Num] = true
			continue
		}
		if visited[ref.R] {
			continue
		}
		visited[ref.R] = true
		dict := raw.DerefDict(e.doc.Raw(), ref)
		if dict == nil {
			continue
		}
		if subtype, _ := raw.NameValue(e.doc.Raw(), dict, "Subtype"); subtype == "Form" {
			inner := raw.DerefDict(e.doc.Raw(), raw.DictValue(e.doc.Raw(), dict, "Resources"))
			e.collectNames(inner, want, found, names, visited, depth+1)
		}
	}
}

// exciseInvocations rewrites every content stream that draws one of
// the named XObjects. The excised unit is the minimal enclosing q..Q
// bracket; a Do outside any bracket loses only the invocation itself.
func (e *Editor) exciseInvocations(ctx context.Context, names map[string]bool) (int, error) {
	rewritten := 0
	for _, page := range e.doc.Pages() {
		select {
		case <-ctx.Done():
			return rewritten, ctx.Err()
		default:
		}
		streams, err := e.doc.ContentStreams(ctx, page)
		if err != nil {
			return rewritten, fmt.Errorf("page %d: %w", page.Index, err)
		}
		for _, cs := range streams {
			ops, err := contentstream.Parse(cs.Data)
			if err != nil {
				e.logger.Warn("skipping unparseable content stream",
					observability.Int("page", page.Index),
					observability.Error("error", err))
				continue
			}
			ranges := excisionRanges(ops, names)
			if len(ranges) == 0 {
				continue
			}
			cleaned := spliceRanges(cs.Data, ranges)
			if err := e.doc.SetStreamData(cs.Ref, cleaned); err != nil {
				return rewritten, err
			}
			rewritten++
			e.logger.Debug("cleaned content stream",
				observability.Int("page", page.Index),
				observability.String("stream", cs.Ref.String()),
				observability.Int("excisions", len(ranges)))
		}
	}
	return rewritten, nil
}

// excisionRanges returns byte ranges covering each matching Do and its
// minimal enclosing bracket. Depth counting keeps nested q..Q pairs
// inside the bracket intact.
func excisionRanges(ops []contentstream.Operation, names map[string]bool) [][2]int64 {
	// encloser[i] is the op index of the innermost q open at op i.
	encloser := make([]int, len(ops))
	matchQ := make(map[int]int)
	var stack []int
	for i, op := range ops {
		top := -1
		if n := len(stack); n > 0 {
			top = stack[n-1]
		}
		encloser[i] = top
		switch op.Operator {
		case "q":
			stack = append(stack, i)
		case "Q":
			if n := len(stack); n > 0 {
				matchQ[stack[n-1]] = i
				stack = stack[:n-1]
			}
		}
	}

	var ranges [][2]int64
	for i, op := range ops {
		if op.Operator != "Do" {
			continue
		}
		name, ok := op.Name(0)
		if !ok || !names[name] {
			continue
		}
		if q := encloser[i]; q >= 0 {
			if end, balanced := matchQ[q]; balanced {
				ranges = append(ranges, [2]int64{ops[q].Start, ops[end].End})
				continue
			}
		}
		// No balanced bracket around this invocation.
		ranges = append(ranges, [2]int64{op.Start, op.End})
	}
	return ranges
}

// invalidateImages nulls each image object and its /SMask. A soft mask
// shared by two removed images is only counted once.
func (e *Editor) invalidateImages(refs []raw.ObjectRef) int {
	deleted := make(map[int]bool)
	count := 0
	for _, ref := range refs {
		stored := storedRef(e.doc, ref)
		if dict := raw.DerefDict(e.doc.Raw(), raw.RefObj{R: stored}); dict != nil {
			if sref, ok := dict.Get("SMask"); ok {
				if r, ok := sref.(raw.RefObj); ok && !deleted[r.R.Num] {
					target := storedRef(e.doc, r.R)
					e.doc.Invalidate(target)
					deleted[r.R.Num] = true
					count++
					e.logger.Debug("invalidated soft mask",
						observability.String("object", target.String()))
				}
			}
		}
		if deleted[stored.Num] {
			continue
		}
		if _, err := e.doc.Resolve(stored); err != nil {
			e.logger.Warn("image object not removable",
				observability.String("object", stored.String()),
				observability.Error("error", err))
			continue
		}
		e.doc.Invalidate(stored)
		deleted[stored.Num] = true
		count++
		e.logger.Debug("invalidated image",
			observability.String("object", stored.String()))
	}
	return count
}

// storedRef maps a reference onto the generation actually stored in
// the table; xrefs written with stale generations still resolve.
func storedRef(doc *document.Document, ref raw.ObjectRef) raw.ObjectRef {
	if _, ok := doc.Raw().Objects[ref]; ok {
		return ref
	}
	if stored, _, ok := doc.Raw().Lookup(ref.Num); ok {
		return stored
	}
	return ref
}
