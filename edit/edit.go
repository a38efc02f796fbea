// Package edit mutates a document in place: excising watermark image
// invocations, invalidating their objects, and redacting text regions.
package edit

import (
	"sort"

	"pdfdewm/contentstream"
	"pdfdewm/document"
	"pdfdewm/observability"
)

type Options struct {
	Logger observability.Logger
}

// Editor applies watermark removal edits to one document. Image
// removal acts immediately; text redactions accumulate via MarkText
// and take effect on Apply.
type Editor struct {
	doc    *document.Document
	logger observability.Logger
	marks  map[int][]contentstream.Rect
}

func New(doc *document.Document, opts Options) *Editor {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	return &Editor{
		doc:    doc,
		logger: opts.Logger,
		marks:  make(map[int][]contentstream.Rect),
	}
}

// spliceRanges removes the given [start,end) byte ranges from data.
// Overlapping ranges merge.
func spliceRanges(data []byte, ranges [][2]int64) []byte {
	if len(ranges) == 0 {
		return data
	}
	sorted := append([][2]int64(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][0] < sorted[j][0] })

	var merged [][2]int64
	for _, r := range sorted {
		if n := len(merged); n > 0 && r[0] <= merged[n-1][1] {
			if r[1] > merged[n-1][1] {
				merged[n-1][1] = r[1]
			}
			continue
		}
		merged = append(merged, r)
	}

	out := make([]byte, 0, len(data))
	pos := int64(0)
	for _, r := range merged {
		start, end := r[0], r[1]
		if start < pos {
			start = pos
		}
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		if start > int64(len(data)) || end <= start {
			continue
		}
		out = append(out, data[pos:start]...)
		pos = end
	}
	out = append(out, data[pos:]...)
	return out
}
