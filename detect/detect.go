// Package detect finds watermark candidates: images recurring across
// pages and text blocks matching caller-supplied keywords.
package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pdfdewm/contentstream"
	"pdfdewm/document"
	"pdfdewm/ir/raw"
	"pdfdewm/observability"
)

type Kind int

const (
	KindImage Kind = iota
	KindText
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "text"
}

// Candidate is one suspected watermark. Image candidates are keyed by
// the image object; text candidates by page and position.
type Candidate struct {
	Kind     Kind
	Document string

	// Image candidates.
	Ref       raw.ObjectRef
	Name      string           // first resource name on the lowest page
	Pages     []int            // sorted page indices referencing the image
	Names     map[int][]string // resource names per page, in resource order
	PageCount int              // len(Pages)
	Width     int
	Height    int

	// Text candidates.
	Page    int
	BBox    contentstream.Rect // rounded to two decimals
	Text    string
	Keyword string
}

// Key returns a stable identity that survives re-scans of the same
// file and distinguishes candidates across documents in a batch.
func (c Candidate) Key() string {
	if c.Kind == KindImage {
		return fmt.Sprintf("image|%s|%d-%d", c.Document, c.Ref.Num, c.Ref.Gen)
	}
	return fmt.Sprintf("text|%s|%d|%.2f,%.2f,%.2f,%.2f",
		c.Document, c.Page, c.BBox.LLX, c.BBox.LLY, c.BBox.URX, c.BBox.URY)
}

type Config struct {
	// Ratio is the fraction of pages an image must appear on to count
	// as recurring. The page threshold is max(1, floor(pages*Ratio)).
	Ratio float64
	// Keywords are matched as exact, case-sensitive substrings of text
	// blocks. Empty means no text scan.
	Keywords []string
	Logger   observability.Logger
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	if cfg.Ratio <= 0 {
		cfg.Ratio = 0.5
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Detector{cfg: cfg}
}

// MinPages returns the recurrence threshold for a document of the
// given size.
func (d *Detector) MinPages(totalPages int) int {
	min := int(float64(totalPages) * d.cfg.Ratio)
	if min < 1 {
		min = 1
	}
	return min
}

// Scan inspects every page and returns image candidates followed by
// text candidates, each in deterministic order.
func (d *Detector) Scan(ctx context.Context, doc *document.Document) ([]Candidate, error) {
	images, err := d.scanImages(ctx, doc)
	if err != nil {
		return nil, err
	}
	texts, err := d.scanText(ctx, doc)
	if err != nil {
		return nil, err
	}
	out := append(images, texts...)
	d.cfg.Logger.Info("scan complete",
		observability.String("document", doc.Path()),
		observability.Int("images", len(images)),
		observability.Int("texts", len(texts)))
	return out, nil
}

func (d *Detector) scanImages(ctx context.Context, doc *document.Document) ([]Candidate, error) {
	occurrences := make(map[raw.ObjectRef]map[int][]string)

	for _, page := range doc.Pages() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for ref, names := range pageImages(doc, page) {
			if occurrences[ref] == nil {
				occurrences[ref] = make(map[int][]string)
			}
			occurrences[ref][page.Index] = names
		}
	}

	minPages := d.MinPages(len(doc.Pages()))
	var out []Candidate
	for ref, byPage := range occurrences {
		if len(byPage) < minPages {
			continue
		}
		pages := make([]int, 0, len(byPage))
		for p := range byPage {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		c := Candidate{
			Kind:      KindImage,
			Document:  doc.Path(),
			Ref:       ref,
			Name:      byPage[pages[0]][0],
			Pages:     pages,
			Names:     byPage,
			PageCount: len(pages),
		}
		if dict := raw.DerefDict(doc.Raw(), raw.RefObj{R: ref}); dict != nil {
			if w, ok := raw.IntValue(doc.Raw(), dict, "Width"); ok {
				c.Width = int(w)
			}
			if h, ok := raw.IntValue(doc.Raw(), dict, "Height"); ok {
				c.Height = int(h)
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Num < out[j].Ref.Num })
	return out, nil
}

// pageImages maps every image XObject reachable from the page's
// resources to the resource names it is exposed under, one entry per
// name. Form XObjects are walked recursively so images drawn through
// forms still count toward recurrence.
func pageImages(doc *document.Document, page *document.Page) map[raw.ObjectRef][]string {
	out := make(map[raw.ObjectRef][]string)
	visited := make(map[raw.ObjectRef]bool)
	collectImages(doc.Raw(), doc.Resources(page), out, visited, 0)
	return out
}

const maxFormDepth = 16

func collectImages(rdoc *raw.Document, res *raw.DictObj, out map[raw.ObjectRef][]string, visited map[raw.ObjectRef]bool, depth int) {
	if res == nil || depth > maxFormDepth {
		return
	}
	xobjects := raw.DerefDict(rdoc, raw.DictValue(rdoc, res, "XObject"))
	if xobjects == nil {
		return
	}
	names := xobjects.Keys()
	sort.Strings(names)
	for _, name := range names {
		v, _ := xobjects.Get(name)
		ref, ok := v.(raw.RefObj)
		if !ok {
			continue
		}
		dict := raw.DerefDict(rdoc, ref)
		if dict == nil {
			continue
		}
		subtype, _ := raw.NameValue(rdoc, dict, "Subtype")
		switch subtype {
		case "Image":
			out[ref.R] = append(out[ref.R], name)
		case "Form":
			if visited[ref.R] {
				continue
			}
			visited[ref.R] = true
			inner := raw.DerefDict(rdoc, raw.DictValue(rdoc, dict, "Resources"))
			collectImages(rdoc, inner, out, visited, depth+1)
		}
	}
}

func (d *Detector) scanText(ctx context.Context, doc *document.Document) ([]Candidate, error) {
	if len(d.cfg.Keywords) == 0 {
		return nil, nil
	}

	var out []Candidate
	seen := make(map[string]bool)
	tracer := contentstream.NewTracer()

	for _, page := range doc.Pages() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		streams, err := doc.ContentStreams(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Index, err)
		}
		for _, cs := range streams {
			ops, err := contentstream.Parse(cs.Data)
			if err != nil {
				d.cfg.Logger.Warn("skipping unparseable content stream",
					observability.Int("page", page.Index),
					observability.Error("error", err))
				continue
			}
			for _, block := range tracer.Trace(ops).Blocks {
				for _, kw := range d.cfg.Keywords {
					if !strings.Contains(block.Text, kw) {
						continue
					}
					c := Candidate{
						Kind:     KindText,
						Document: doc.Path(),
						Page:     page.Index,
						BBox:     block.BBox.Round(),
						Text:     block.Text,
						Keyword:  kw,
					}
					// First scan of a position wins; re-parsed or
					// duplicated blocks do not add candidates.
					if !seen[c.Key()] {
						seen[c.Key()] = true
						out = append(out, c)
					}
					break // one candidate per block
				}
			}
		}
	}
	return out, nil
}
