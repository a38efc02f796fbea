package detect_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"pdfdewm/detect"
	"pdfdewm/document"
	"pdfdewm/ir/raw"
	"pdfdewm/pdftest"
)

func loadDoc(t *testing.T, data []byte) *document.Document {
	t.Helper()
	doc, err := document.Load(context.Background(), data, document.Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return doc
}

// watermarked builds n pages where object 50 appears on every page and
// object 51 only on the first.
func watermarked(n int) []byte {
	pages := make([]pdftest.PageSpec, n)
	for i := range pages {
		pages[i] = pdftest.PageSpec{
			Content:  "q 200 0 0 100 50 60 cm /WM Do Q",
			XObjects: map[string]int{"WM": 50},
		}
	}
	pages[0].XObjects["Pic"] = 51
	pages[0].Content = "q 200 0 0 100 50 60 cm /WM Do Q q 10 0 0 10 0 0 cm /Pic Do Q"
	return pdftest.Doc(pages,
		pdftest.Object{Num: 50, Body: pdftest.GrayImage(4, 4)},
		pdftest.Object{Num: 51, Body: pdftest.GrayImage(2, 2)},
	)
}

func TestScanFindsRecurringImage(t *testing.T) {
	doc := loadDoc(t, watermarked(4))
	cands, err := detect.New(detect.Config{Ratio: 0.5}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidate count = %d, want 1: %+v", len(cands), cands)
	}
	c := cands[0]
	if c.Kind != detect.KindImage || c.Ref.Num != 50 {
		t.Errorf("candidate = %+v, want image object 50", c)
	}
	if c.PageCount != 4 {
		t.Errorf("page count = %d, want 4", c.PageCount)
	}
	if c.Width != 4 || c.Height != 4 {
		t.Errorf("dimensions = %dx%d, want 4x4", c.Width, c.Height)
	}
	if c.Name != "WM" {
		t.Errorf("name = %q, want WM", c.Name)
	}
	if len(c.Pages) != 4 {
		t.Fatalf("pages = %v, want all four", c.Pages)
	}
	for i, p := range c.Pages {
		if p != i {
			t.Errorf("pages = %v, want [0 1 2 3]", c.Pages)
			break
		}
	}
	for _, p := range c.Pages {
		if names := c.Names[p]; len(names) != 1 || names[0] != "WM" {
			t.Errorf("names on page %d = %v, want [WM]", p, names)
		}
	}
}

func TestScanRecordsEveryNamePerPage(t *testing.T) {
	// The same image object bound under two names on one page keeps
	// both names in the candidate.
	pages := make([]pdftest.PageSpec, 2)
	for i := range pages {
		pages[i] = pdftest.PageSpec{
			Content:  "q 10 0 0 10 0 0 cm /WM Do Q q 10 0 0 10 50 50 cm /WM2 Do Q",
			XObjects: map[string]int{"WM": 50, "WM2": 50},
		}
	}
	doc := loadDoc(t, pdftest.Doc(pages, pdftest.Object{Num: 50, Body: pdftest.GrayImage(2, 2)}))
	cands, err := detect.New(detect.Config{Ratio: 0.5}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %+v, want 1", cands)
	}
	names := cands[0].Names[0]
	if len(names) != 2 {
		t.Fatalf("names on page 0 = %v, want both bindings", names)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["WM"] || !seen["WM2"] {
		t.Errorf("names = %v, want WM and WM2", names)
	}
}

func TestMinPagesBoundary(t *testing.T) {
	cases := []struct {
		pages int
		ratio float64
		want  int
	}{
		{10, 0.8, 8},
		{10, 0.5, 5},
		{3, 0.5, 1},
		{1, 0.5, 1},
		{5, 0.9, 4}, // floor(4.5)
		{2, 0.1, 1}, // never below one page
	}
	for _, tc := range cases {
		d := detect.New(detect.Config{Ratio: tc.ratio})
		if got := d.MinPages(tc.pages); got != tc.want {
			t.Errorf("MinPages(%d) with ratio %v = %d, want %d", tc.pages, tc.ratio, got, tc.want)
		}
	}
}

func TestHighRatioExcludesPartialCoverage(t *testing.T) {
	// Image 50 covers 4 of 5 pages; at ratio 1.0 the threshold is 5.
	pages := make([]pdftest.PageSpec, 5)
	for i := range pages {
		if i < 4 {
			pages[i] = pdftest.PageSpec{
				Content:  "q 10 0 0 10 0 0 cm /WM Do Q",
				XObjects: map[string]int{"WM": 50},
			}
		} else {
			pages[i] = pdftest.PageSpec{Content: "q Q"}
		}
	}
	doc := loadDoc(t, pdftest.Doc(pages, pdftest.Object{Num: 50, Body: pdftest.GrayImage(2, 2)}))

	cands, err := detect.New(detect.Config{Ratio: 1.0}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("candidates at ratio 1.0 = %+v, want none", cands)
	}

	cands, err = detect.New(detect.Config{Ratio: 0.8}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Errorf("candidates at ratio 0.8 = %d, want 1", len(cands))
	}
}

func TestScanFindsImagesInsideForms(t *testing.T) {
	form := pdftest.Stream("/Subtype /Form /BBox [0 0 100 100] /Resources << /XObject << /Inner 51 0 R >> >>", "q 100 0 0 100 0 0 cm /Inner Do Q")
	pages := make([]pdftest.PageSpec, 2)
	for i := range pages {
		pages[i] = pdftest.PageSpec{
			Content:  "q /Fm1 Do Q",
			XObjects: map[string]int{"Fm1": 50},
		}
	}
	doc := loadDoc(t, pdftest.Doc(pages,
		pdftest.Object{Num: 50, Body: form},
		pdftest.Object{Num: 51, Body: pdftest.GrayImage(2, 2)},
	))
	cands, err := detect.New(detect.Config{Ratio: 0.5}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Ref.Num != 51 {
		t.Fatalf("candidates = %+v, want image 51 via form", cands)
	}
}

func TestScanTextKeywords(t *testing.T) {
	pages := []pdftest.PageSpec{
		{Content: "BT /F1 24 Tf 1 0 0 1 100 400 Tm (ACME CONFIDENTIAL) Tj ET"},
		{Content: "BT /F1 12 Tf 1 0 0 1 72 700 Tm (ordinary body text) Tj ET"},
	}
	doc := loadDoc(t, pdftest.Doc(pages))
	cands, err := detect.New(detect.Config{
		Keywords: []string{"CONFIDENTIAL", "DRAFT"},
	}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %+v, want 1", cands)
	}
	c := cands[0]
	if c.Kind != detect.KindText || c.Page != 0 || c.Keyword != "CONFIDENTIAL" {
		t.Errorf("candidate = %+v", c)
	}
	if c.BBox.LLX != 100 || c.BBox.LLY != 400 {
		t.Errorf("bbox = %+v, want origin at (100, 400)", c.BBox)
	}
}

func TestScanTextFirstKeywordWins(t *testing.T) {
	doc := loadDoc(t, pdftest.Doc([]pdftest.PageSpec{
		{Content: "BT /F1 12 Tf (draft and confidential) Tj ET"},
	}))
	cands, err := detect.New(detect.Config{
		Keywords: []string{"confidential", "draft"},
	}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1 (one per block)", len(cands))
	}
	if cands[0].Keyword != "confidential" {
		t.Errorf("keyword = %q, want first configured keyword", cands[0].Keyword)
	}
}

func TestScanTextKeywordsCaseSensitive(t *testing.T) {
	doc := loadDoc(t, pdftest.Doc([]pdftest.PageSpec{
		{Content: "BT /F1 12 Tf (Confidential draft) Tj ET"},
	}))
	cands, err := detect.New(detect.Config{
		Keywords: []string{"CONFIDENTIAL", "DRAFT"},
	}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("candidates = %+v, want none (keyword case must match)", cands)
	}

	cands, err = detect.New(detect.Config{
		Keywords: []string{"Confidential"},
	}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Errorf("candidates = %d, want 1 for an exact-case keyword", len(cands))
	}
}

func TestScanZeroPageDocument(t *testing.T) {
	doc := loadDoc(t, pdftest.Doc(nil))
	cands, err := detect.New(detect.Config{
		Ratio:    0.5,
		Keywords: []string{"CONFIDENTIAL"},
	}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("scan of empty document: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("candidates = %+v, want none", cands)
	}
}

func TestScanWithoutKeywordsSkipsText(t *testing.T) {
	doc := loadDoc(t, pdftest.Doc([]pdftest.PageSpec{
		{Content: "BT /F1 12 Tf (CONFIDENTIAL) Tj ET"},
	}))
	cands, err := detect.New(detect.Config{}).Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("candidates = %+v, want none without keywords", cands)
	}
}

func TestScanDeterministic(t *testing.T) {
	doc := loadDoc(t, watermarked(4))
	d := detect.New(detect.Config{Ratio: 0.5, Keywords: []string{"confidential"}})
	first, err := d.Scan(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := d.Scan(context.Background(), doc)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(again) != fmt.Sprint(first) {
			t.Fatalf("scan %d differed:\n%v\n%v", i, again, first)
		}
	}
}

func TestCandidateKeysDistinguishDocuments(t *testing.T) {
	a := detect.Candidate{Kind: detect.KindImage, Document: "a.pdf", Ref: raw.ObjectRef{Num: 5}}
	b := detect.Candidate{Kind: detect.KindImage, Document: "b.pdf", Ref: raw.ObjectRef{Num: 5}}
	if a.Key() == b.Key() {
		t.Error("image keys collide across documents")
	}
	ta := detect.Candidate{Kind: detect.KindText, Document: "a.pdf", Page: 1}
	tb := detect.Candidate{Kind: detect.KindText, Document: "a.pdf", Page: 2}
	if ta.Key() == tb.Key() {
		t.Error("text keys collide across pages")
	}
}

func TestPreviewGrayImage(t *testing.T) {
	doc := loadDoc(t, watermarked(2))
	d := detect.New(detect.Config{Ratio: 0.5})
	cands, err := d.Scan(context.Background(), doc)
	if err != nil || len(cands) == 0 {
		t.Fatalf("scan: %v (%d candidates)", err, len(cands))
	}
	img, err := d.Preview(context.Background(), doc, cands[0], 64)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Errorf("bounds = %v, want 4x4 (below the thumbnail cap)", img.Bounds())
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Errorf("image type = %T, want grayscale", img)
	}
}

func TestPreviewScalesDown(t *testing.T) {
	pages := []pdftest.PageSpec{
		{Content: "q /WM Do Q", XObjects: map[string]int{"WM": 50}},
	}
	doc := loadDoc(t, pdftest.Doc(pages, pdftest.Object{Num: 50, Body: pdftest.GrayImage(64, 32)}))
	d := detect.New(detect.Config{Ratio: 0.5})
	cands, _ := d.Scan(context.Background(), doc)
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	img, err := d.Preview(context.Background(), doc, cands[0], 16)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Errorf("bounds = %v, want 16x8", img.Bounds())
	}
}

func TestPreviewTextCandidate(t *testing.T) {
	doc := loadDoc(t, pdftest.Doc([]pdftest.PageSpec{{Content: "q Q"}}))
	d := detect.New(detect.Config{})
	_, err := d.Preview(context.Background(), doc, detect.Candidate{Kind: detect.KindText}, 64)
	if !errors.Is(err, detect.ErrNoPreview) {
		t.Fatalf("err = %v, want ErrNoPreview", err)
	}
}
