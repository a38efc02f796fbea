package edit_test

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"pdfdewm/contentstream"
	"pdfdewm/document"
	"pdfdewm/edit"
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

func pageContent(t *testing.T, doc *document.Document, page int) string {
	t.Helper()
	streams, err := doc.ContentStreams(context.Background(), doc.Pages()[page])
	if err != nil {
		t.Fatalf("content streams: %v", err)
	}
	var parts []string
	for _, cs := range streams {
		parts = append(parts, string(cs.Data))
	}
	return strings.Join(parts, "\n")
}

func TestRemoveImagesExcisesBracket(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{
			Content:  "0 0 m 10 10 l S q 200 0 0 100 50 60 cm /WM Do Q BT /F1 12 Tf (kept) Tj ET",
			XObjects: map[string]int{"WM": 50},
		},
	}, pdftest.Object{Num: 50, Body: pdftest.GrayImage(2, 2)})
	doc := loadDoc(t, data)

	stats, err := edit.New(doc, edit.Options{}).RemoveImages(context.Background(), []raw.ObjectRef{{Num: 50}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if stats.StreamsRewritten != 1 {
		t.Errorf("streams rewritten = %d, want 1", stats.StreamsRewritten)
	}
	if stats.Invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", stats.Invalidated)
	}

	content := pageContent(t, doc, 0)
	if strings.Contains(content, "Do") {
		t.Errorf("content still invokes XObject: %q", content)
	}
	if strings.Contains(content, "200 0 0 100") {
		t.Errorf("enclosing bracket survived: %q", content)
	}
	if !strings.Contains(content, "0 0 m 10 10 l S") || !strings.Contains(content, "(kept) Tj") {
		t.Errorf("unrelated content damaged: %q", content)
	}

	_, err = doc.Resolve(raw.ObjectRef{Num: 50})
	if !errors.Is(err, document.ErrInvalidated) {
		t.Errorf("image resolve err = %v, want ErrInvalidated", err)
	}
}

func TestRemoveImagesMinimalBracket(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{
			Content:  "q 1 0 0 1 5 5 cm 0 0 m 1 1 l S q 2 0 0 2 0 0 cm /WM Do Q (after) Tj Q",
			XObjects: map[string]int{"WM": 50},
		},
	}, pdftest.Object{Num: 50, Body: pdftest.GrayImage(2, 2)})
	doc := loadDoc(t, data)

	if _, err := edit.New(doc, edit.Options{}).RemoveImages(context.Background(), []raw.ObjectRef{{Num: 50}}); err != nil {
		t.Fatal(err)
	}
	content := pageContent(t, doc, 0)
	if strings.Contains(content, "Do") {
		t.Errorf("invocation survived: %q", content)
	}
	// Only the inner bracket goes; the outer survives with its content.
	if !strings.Contains(content, "q 1 0 0 1 5 5 cm") || !strings.Contains(content, "(after) Tj Q") {
		t.Errorf("outer bracket damaged: %q", content)
	}
	if strings.Contains(content, "2 0 0 2") {
		t.Errorf("inner bracket survived: %q", content)
	}
}

func TestRemoveImagesBareDo(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{
			Content:  "0.5 g /WM Do 0 0 m 1 1 l S",
			XObjects: map[string]int{"WM": 50},
		},
	}, pdftest.Object{Num: 50, Body: pdftest.GrayImage(2, 2)})
	doc := loadDoc(t, data)

	if _, err := edit.New(doc, edit.Options{}).RemoveImages(context.Background(), []raw.ObjectRef{{Num: 50}}); err != nil {
		t.Fatal(err)
	}
	content := pageContent(t, doc, 0)
	if strings.Contains(content, "Do") {
		t.Errorf("invocation survived: %q", content)
	}
	if !strings.Contains(content, "0.5 g") || !strings.Contains(content, "0 0 m 1 1 l S") {
		t.Errorf("neighbors of a bare Do damaged: %q", content)
	}
}

func TestRemoveImagesNullsSMask(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{
			Content:  "q /WM Do Q",
			XObjects: map[string]int{"WM": 50},
		},
	},
		pdftest.Object{Num: 50, Body: pdftest.GrayImageWithSMask(2, 2, 51)},
		pdftest.Object{Num: 51, Body: pdftest.GrayImage(2, 2)},
	)
	doc := loadDoc(t, data)

	stats, err := edit.New(doc, edit.Options{}).RemoveImages(context.Background(), []raw.ObjectRef{{Num: 50}})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Invalidated != 2 {
		t.Errorf("invalidated = %d, want image plus smask", stats.Invalidated)
	}
	for _, num := range []int{50, 51} {
		if _, err := doc.Resolve(raw.ObjectRef{Num: num}); !errors.Is(err, document.ErrInvalidated) {
			t.Errorf("object %d err = %v, want ErrInvalidated", num, err)
		}
	}
}

func TestRemoveImagesSharedSMaskCountedOnce(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{
			Content:  "q /A Do Q q /B Do Q",
			XObjects: map[string]int{"A": 50, "B": 52},
		},
	},
		pdftest.Object{Num: 50, Body: pdftest.GrayImageWithSMask(2, 2, 51)},
		pdftest.Object{Num: 51, Body: pdftest.GrayImage(2, 2)},
		pdftest.Object{Num: 52, Body: pdftest.GrayImageWithSMask(2, 2, 51)},
	)
	doc := loadDoc(t, data)

	stats, err := edit.New(doc, edit.Options{}).RemoveImages(context.Background(),
		[]raw.ObjectRef{{Num: 50}, {Num: 52}})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Invalidated != 3 {
		t.Errorf("invalidated = %d, want 3 (two images, one shared mask)", stats.Invalidated)
	}
}

func TestRemoveImagesUnresolvedWarnsNotFails(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{Content: "q Q"},
	}, pdftest.Object{Num: 60, Body: pdftest.GrayImage(2, 2)})
	doc := loadDoc(t, data)

	stats, err := edit.New(doc, edit.Options{}).RemoveImages(context.Background(), []raw.ObjectRef{{Num: 60}})
	if err != nil {
		t.Fatalf("unresolved image must not fail removal: %v", err)
	}
	if len(stats.Unresolved) != 1 || stats.Unresolved[0].Num != 60 {
		t.Errorf("unresolved = %+v, want object 60", stats.Unresolved)
	}
	// The object is still invalidated even without a resource name.
	if _, err := doc.Resolve(raw.ObjectRef{Num: 60}); !errors.Is(err, document.ErrInvalidated) {
		t.Errorf("err = %v, want ErrInvalidated", err)
	}
}

func TestRemoveImagesIdempotent(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{Content: "q /WM Do Q", XObjects: map[string]int{"WM": 50}},
	}, pdftest.Object{Num: 50, Body: pdftest.GrayImage(2, 2)})
	doc := loadDoc(t, data)

	ed := edit.New(doc, edit.Options{})
	if _, err := ed.RemoveImages(context.Background(), []raw.ObjectRef{{Num: 50}}); err != nil {
		t.Fatal(err)
	}
	stats, err := ed.RemoveImages(context.Background(), []raw.ObjectRef{{Num: 50}})
	if err != nil {
		t.Fatalf("second removal: %v", err)
	}
	if stats.Invalidated != 0 {
		t.Errorf("second removal invalidated %d objects, want 0", stats.Invalidated)
	}
}

func TestApplyRedactsIntersectingBlocks(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{Content: "BT /F1 24 Tf 1 0 0 1 100 400 Tm (CONFIDENTIAL) Tj ET " +
			"BT /F1 12 Tf 1 0 0 1 72 700 Tm (body text) Tj ET"},
	})
	doc := loadDoc(t, data)

	ed := edit.New(doc, edit.Options{})
	ed.MarkText(0, contentstream.Rect{LLX: 100, LLY: 400, URX: 244, URY: 424})
	stats, err := ed.Apply(context.Background())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stats.BlocksRemoved != 1 || stats.PagesRedacted != 1 {
		t.Errorf("stats = %+v, want one block on one page", stats)
	}

	content := pageContent(t, doc, 0)
	if strings.Contains(content, "CONFIDENTIAL") {
		t.Errorf("redacted text survived: %q", content)
	}
	if !strings.Contains(content, "body text") {
		t.Errorf("unrelated text removed: %q", content)
	}
	if !strings.Contains(content, "1 1 1 rg") || !strings.Contains(content, "re f") {
		t.Errorf("white fill missing: %q", content)
	}
}

func TestApplyKeepsUntouchedStreamFilters(t *testing.T) {
	// Page with two content streams: the first is hex-filtered and has
	// no marked blocks, so Apply must leave its stored bytes and filter
	// chain alone.
	hexPayload := hex.EncodeToString([]byte("0 0 m 10 10 l S")) + ">"
	data := pdftest.File(
		pdftest.Object{Num: 1, Body: "<< /Type /Catalog /Pages 2 0 R >>"},
		pdftest.Object{Num: 2, Body: "<< /Type /Pages /Kids [10 0 R] /Count 1 >>"},
		pdftest.Object{Num: 10, Body: "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents [100 0 R 101 0 R] >>"},
		pdftest.Object{Num: 100, Body: pdftest.Stream("/Filter /ASCIIHexDecode", hexPayload)},
		pdftest.Object{Num: 101, Body: pdftest.Stream("", "BT /F1 24 Tf 1 0 0 1 100 400 Tm (REMOVE) Tj ET")},
	)
	doc := loadDoc(t, data)

	ed := edit.New(doc, edit.Options{})
	ed.MarkText(0, contentstream.Rect{LLX: 90, LLY: 390, URX: 180, URY: 430})
	stats, err := ed.Apply(context.Background())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stats.BlocksRemoved != 1 {
		t.Errorf("blocks removed = %d, want 1", stats.BlocksRemoved)
	}

	obj, err := doc.Resolve(raw.ObjectRef{Num: 100})
	if err != nil {
		t.Fatal(err)
	}
	st := obj.(*raw.StreamObj)
	if v, _ := st.Dict.Get("Filter"); v != (raw.NameObj{Val: "ASCIIHexDecode"}) {
		t.Errorf("untouched stream filter = %v, want ASCIIHexDecode", v)
	}
	if string(st.Data) != hexPayload {
		t.Errorf("untouched stream rewritten: %q", st.Data)
	}

	streams, err := doc.ContentStreams(context.Background(), doc.Pages()[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(streams[0].Data) != "0 0 m 10 10 l S" {
		t.Errorf("first stream = %q, want path ops intact", streams[0].Data)
	}
	if strings.Contains(string(streams[1].Data), "REMOVE") {
		t.Errorf("marked block survived: %q", streams[1].Data)
	}
	if !strings.Contains(string(streams[1].Data), "1 1 1 rg") {
		t.Errorf("white fill missing from last stream: %q", streams[1].Data)
	}
}

func TestApplyWithoutMarksIsNoop(t *testing.T) {
	data := pdftest.Doc([]pdftest.PageSpec{
		{Content: "BT (text) Tj ET"},
	})
	doc := loadDoc(t, data)
	before := pageContent(t, doc, 0)

	stats, err := edit.New(doc, edit.Options{}).Apply(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.BlocksRemoved != 0 || stats.PagesRedacted != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if pageContent(t, doc, 0) != before {
		t.Error("content changed without marks")
	}
}

func TestSanitizeHiddenText(t *testing.T) {
	// Render mode and ExtGState persist in the graphics state, so the
	// later blocks reset or bracket them.
	content := "BT 3 Tr /F1 10 Tf 1 0 0 1 100 100 Tm (invisible mode) Tj ET " +
		"BT 0 Tr /F1 10 Tf 1 0 0 1 -5000 100 Tm (off page) Tj ET " +
		"q BT /GS0 gs /F1 10 Tf 1 0 0 1 100 200 Tm (zero alpha) Tj ET Q " +
		"BT /F1 10 Tf 1 0 0 1 100 300 Tm (visible) Tj ET"
	data := pdftest.Doc([]pdftest.PageSpec{
		{
			Content:    content,
			ExtGStates: map[string]int{"GS0": 70},
		},
	}, pdftest.Object{Num: 70, Body: "<< /Type /ExtGState /ca 0 >>"})
	doc := loadDoc(t, data)

	removed, err := edit.New(doc, edit.Options{}).SanitizeHiddenText(context.Background())
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	got := pageContent(t, doc, 0)
	for _, gone := range []string{"invisible mode", "off page", "zero alpha"} {
		if strings.Contains(got, gone) {
			t.Errorf("hidden text %q survived: %q", gone, got)
		}
	}
	if !strings.Contains(got, "visible") {
		t.Errorf("visible text removed: %q", got)
	}
}
