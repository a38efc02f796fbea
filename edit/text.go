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

// MarkText queues a redaction rectangle on a page. Nothing changes
// until Apply runs.
func (e *Editor) MarkText(page int, bbox contentstream.Rect) {
	e.marks[page] = append(e.marks[page], bbox)
}

// TextStats reports what Apply changed.
type TextStats struct {
	BlocksRemoved int
	PagesRedacted int
}

// Apply executes all queued redactions: text blocks intersecting a
// marked rectangle are removed from their content streams, and each
// rectangle is painted over in white so underlying artwork cannot
// show through.
func (e *Editor) Apply(ctx context.Context) (TextStats, error) {
	var stats TextStats
	if len(e.marks) == 0 {
		return stats, nil
	}
	tracer := contentstream.NewTracer()

	pages := make([]int, 0, len(e.marks))
	for p := range e.marks {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	for _, pageIdx := range pages {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		if pageIdx < 0 || pageIdx >= len(e.doc.Pages()) {
			continue
		}
		page := e.doc.Pages()[pageIdx]
		rects := e.marks[pageIdx]

		streams, err := e.doc.ContentStreams(ctx, page)
		if err != nil {
			return stats, fmt.Errorf("page %d: %w", pageIdx, err)
		}
		removed := 0
		for si, cs := range streams {
			ops, err := contentstream.Parse(cs.Data)
			if err != nil {
				e.logger.Warn("skipping unparseable content stream",
					observability.Int("page", pageIdx),
					observability.Error("error", err))
				continue
			}
			var ranges [][2]int64
			for _, block := range tracer.Trace(ops).Blocks {
				for _, r := range rects {
					if block.BBox.Intersects(r) {
						ranges = append(ranges, blockRange(ops, block))
						removed++
						break
					}
				}
			}
			data := cs.Data
			changed := len(ranges) > 0
			if changed {
				data = spliceRanges(data, ranges)
			}
			// The fill goes on the last stream so it paints above
			// everything else on the page.
			if si == len(streams)-1 {
				data = append(data, fillOps(rects)...)
				changed = true
			}
			// Streams with no matched blocks keep their stored bytes
			// and filter chain.
			if !changed {
				continue
			}
			if err := e.doc.SetStreamData(cs.Ref, data); err != nil {
				return stats, err
			}
		}
		stats.BlocksRemoved += removed
		stats.PagesRedacted++
		e.logger.Debug("applied redactions",
			observability.Int("page", pageIdx),
			observability.Int("rects", len(rects)),
			observability.Int("blocks", removed))
	}
	e.marks = make(map[int][]contentstream.Rect)
	return stats, nil
}

// SanitizeHiddenText strips text that would never be visible: render
// mode 3, a fully transparent ExtGState, or placement entirely off the
// page. Run after Apply so redacted pages cannot leak hidden copies of
// the removed text.
func (e *Editor) SanitizeHiddenText(ctx context.Context) (int, error) {
	removed := 0
	tracer := contentstream.NewTracer()
	for _, page := range e.doc.Pages() {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}
		mediaBox := e.doc.MediaBox(page)
		transparent := e.transparentGStates(page)

		streams, err := e.doc.ContentStreams(ctx, page)
		if err != nil {
			return removed, fmt.Errorf("page %d: %w", page.Index, err)
		}
		for _, cs := range streams {
			ops, err := contentstream.Parse(cs.Data)
			if err != nil {
				continue
			}
			var ranges [][2]int64
			for _, block := range tracer.Trace(ops).Blocks {
				if !isHidden(block, mediaBox, transparent) {
					continue
				}
				ranges = append(ranges, blockRange(ops, block))
				removed++
			}
			if len(ranges) == 0 {
				continue
			}
			if err := e.doc.SetStreamData(cs.Ref, spliceRanges(cs.Data, ranges)); err != nil {
				return removed, err
			}
		}
	}
	if removed > 0 {
		e.logger.Info("sanitized hidden text",
			observability.Int("blocks", removed))
	}
	return removed, nil
}

func isHidden(block contentstream.TextBlock, mediaBox contentstream.Rect, transparent map[string]bool) bool {
	if block.Invisible {
		return true
	}
	if !block.BBox.IsEmpty() && !block.BBox.Intersects(mediaBox) {
		return true
	}
	for _, gs := range block.GStates {
		if transparent[gs] {
			return true
		}
	}
	return false
}

// transparentGStates returns the names of ExtGStates whose fill alpha
// is zero.
func (e *Editor) transparentGStates(page *document.Page) map[string]bool {
	out := make(map[string]bool)
	res := e.doc.Resources(page)
	states := raw.DerefDict(e.doc.Raw(), raw.DictValue(e.doc.Raw(), res, "ExtGState"))
	if states == nil {
		return out
	}
	for _, name := range states.Keys() {
		v, _ := states.Get(name)
		dict := raw.DerefDict(e.doc.Raw(), v)
		if dict == nil {
			continue
		}
		if ca, ok := raw.DictValue(e.doc.Raw(), dict, "ca").(raw.NumberObj); ok && ca.Float() == 0 {
			out[name] = true
		}
	}
	return out
}

func blockRange(ops []contentstream.Operation, block contentstream.TextBlock) [2]int64 {
	return [2]int64{ops[block.StartOp].Start, ops[block.EndOp].End}
}

// fillOps renders white rectangles covering the redacted regions.
func fillOps(rects []contentstream.Rect) []byte {
	var out []byte
	for _, r := range rects {
		out = append(out, []byte(fmt.Sprintf("\nq 1 1 1 rg %g %g %g %g re f Q",
			r.LLX, r.LLY, r.Width(), r.Height()))...)
	}
	return out
}
