package batch_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdfdewm/batch"
	"pdfdewm/detect"
	"pdfdewm/document"
	"pdfdewm/pdftest"
	"pdfdewm/writer"
)

func watermarkedPDF(pages int) []byte {
	specs := make([]pdftest.PageSpec, pages)
	for i := range specs {
		specs[i] = pdftest.PageSpec{
			Content:  "q 200 0 0 100 50 60 cm /WM Do Q BT /F1 24 Tf 1 0 0 1 150 400 Tm (CONFIDENTIAL) Tj ET BT /F1 12 Tf 1 0 0 1 72 700 Tm (body) Tj ET",
			XObjects: map[string]int{"WM": 50},
		}
	}
	return pdftest.Doc(specs, pdftest.Object{Num: 50, Body: pdftest.GrayImage(4, 4)})
}

func cleanPDF() []byte {
	return pdftest.Doc([]pdftest.PageSpec{
		{Content: "BT /F1 12 Tf 1 0 0 1 72 700 Tm (plain document) Tj ET"},
	})
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func collect(t *testing.T, ch <-chan batch.Event) (files []batch.Event, completed batch.Event) {
	t.Helper()
	sawCompleted := false
	for ev := range ch {
		switch ev.Type {
		case batch.EventFileDone:
			files = append(files, ev)
		case batch.EventCompleted:
			completed = ev
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("event stream ended without a Completed event")
	}
	return files, completed
}

func TestRunProcessesWatermarkedFile(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	src := filepath.Join(inDir, "report.pdf")
	writeFile(t, src, watermarkedPDF(5))

	p := batch.New(batch.Config{
		Workers:   2,
		Ratio:     0.5,
		Keywords:  []string{"CONFIDENTIAL"},
		OutputDir: outDir,
		Suffix:    "_dewm",
	})
	files, completed := collect(t, p.Run(context.Background(), []string{src}))

	if len(files) != 1 {
		t.Fatalf("file events = %d, want 1", len(files))
	}
	ev := files[0]
	if ev.Action != batch.ActionProcessed {
		t.Fatalf("action = %v, err = %v, want processed", ev.Action, ev.Err)
	}
	if ev.Index != 1 || ev.Total != 1 {
		t.Errorf("progress = %d/%d, want 1/1", ev.Index, ev.Total)
	}
	if ev.RunID == "" {
		t.Error("event has no run id")
	}
	if ev.Detected == 0 || ev.Removed == 0 {
		t.Errorf("detected = %d removed = %d, want nonzero", ev.Detected, ev.Removed)
	}
	if completed.Processed != 1 || completed.Failed != 0 {
		t.Errorf("completed tallies = %+v", completed)
	}

	dest := filepath.Join(outDir, "report_dewm.pdf")
	if ev.Output != dest {
		t.Errorf("output = %q, want %q", ev.Output, dest)
	}
	reopened, err := document.Open(context.Background(), dest, document.Options{})
	if err != nil {
		t.Fatalf("reopen output: %v", err)
	}
	cands, err := detect.New(detect.Config{Ratio: 0.5, Keywords: []string{"CONFIDENTIAL"}}).Scan(context.Background(), reopened)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("output still has candidates: %+v", cands)
	}
	for _, page := range reopened.Pages() {
		streams, err := reopened.ContentStreams(context.Background(), page)
		if err != nil {
			t.Fatal(err)
		}
		for _, cs := range streams {
			if !strings.Contains(string(cs.Data), "(body) Tj") {
				t.Errorf("page %d lost unrelated text: %q", page.Index, cs.Data)
			}
		}
	}
}

func TestRunSkipsCleanFileWithoutCopy(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	src := filepath.Join(inDir, "plain.pdf")
	writeFile(t, src, cleanPDF())

	p := batch.New(batch.Config{OutputDir: outDir, Keywords: []string{"CONFIDENTIAL"}})
	files, completed := collect(t, p.Run(context.Background(), []string{src}))

	if files[0].Action != batch.ActionSkipped {
		t.Errorf("action = %v, want skipped", files[0].Action)
	}
	if completed.Skipped != 1 {
		t.Errorf("completed = %+v, want one skip", completed)
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Errorf("output dir not empty after skip: %v", entries)
	}
}

func TestRunCopiesCleanFile(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	src := filepath.Join(inDir, "plain.pdf")
	data := cleanPDF()
	writeFile(t, src, data)

	p := batch.New(batch.Config{OutputDir: outDir, CopySkipped: true})
	files, completed := collect(t, p.Run(context.Background(), []string{src}))

	if files[0].Action != batch.ActionCopied {
		t.Fatalf("action = %v, err = %v, want copied", files[0].Action, files[0].Err)
	}
	if completed.Copied != 1 {
		t.Errorf("completed = %+v, want one copy", completed)
	}
	copied, err := os.ReadFile(filepath.Join(outDir, "plain.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(copied, data) {
		t.Error("copy is not verbatim")
	}
}

func TestRunCopyOntoItselfSkips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.pdf")
	data := cleanPDF()
	writeFile(t, src, data)

	// Output dir equals the source dir, so the copy would land on the
	// source file.
	p := batch.New(batch.Config{OutputDir: dir, CopySkipped: true, Overwrite: true})
	files, _ := collect(t, p.Run(context.Background(), []string{src}))

	if files[0].Action != batch.ActionSkipped {
		t.Fatalf("action = %v, want skipped", files[0].Action)
	}
	if !errors.Is(files[0].Err, batch.ErrSourceIsDestination) {
		t.Errorf("err = %v, want ErrSourceIsDestination", files[0].Err)
	}
	after, _ := os.ReadFile(src)
	if !bytes.Equal(after, data) {
		t.Error("source file modified by refused self-copy")
	}
}

func TestRunExistingDestinationSkips(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	src := filepath.Join(inDir, "report.pdf")
	writeFile(t, src, watermarkedPDF(3))
	dest := filepath.Join(outDir, "report_dewm.pdf")
	writeFile(t, dest, []byte("occupied"))

	p := batch.New(batch.Config{OutputDir: outDir, Ratio: 0.5, Suffix: "_dewm"})
	files, _ := collect(t, p.Run(context.Background(), []string{src}))

	if files[0].Action != batch.ActionSkipped {
		t.Fatalf("action = %v, want skipped", files[0].Action)
	}
	if !errors.Is(files[0].Err, writer.ErrDestinationExists) {
		t.Errorf("err = %v, want ErrDestinationExists", files[0].Err)
	}
	occupied, _ := os.ReadFile(dest)
	if string(occupied) != "occupied" {
		t.Error("existing destination overwritten without --overwrite")
	}
}

func TestRunPreservesSubpath(t *testing.T) {
	inRoot, outDir := t.TempDir(), t.TempDir()
	sub := filepath.Join(inRoot, "2024", "q3")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(sub, "report.pdf")
	writeFile(t, src, watermarkedPDF(2))

	p := batch.New(batch.Config{
		OutputDir: outDir,
		InputRoot: inRoot,
		Ratio:     0.5,
		Suffix:    "_dewm",
	})
	files, _ := collect(t, p.Run(context.Background(), []string{src}))

	if files[0].Action != batch.ActionProcessed {
		t.Fatalf("action = %v, err = %v", files[0].Action, files[0].Err)
	}
	want := filepath.Join(outDir, "2024", "q3", "report_dewm.pdf")
	if files[0].Output != want {
		t.Errorf("output = %q, want %q", files[0].Output, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestRunUnreadableFileFails(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	src := filepath.Join(inDir, "broken.pdf")
	writeFile(t, src, []byte("this is not a pdf"))

	p := batch.New(batch.Config{OutputDir: outDir})
	files, completed := collect(t, p.Run(context.Background(), []string{src}))

	if files[0].Action != batch.ActionFailed {
		t.Fatalf("action = %v, want failed", files[0].Action)
	}
	if !errors.Is(files[0].Err, document.ErrUnreadable) {
		t.Errorf("err = %v, want ErrUnreadable", files[0].Err)
	}
	if completed.Failed != 1 {
		t.Errorf("completed = %+v, want one failure", completed)
	}
}

func TestRunManyFilesAllReported(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	var paths []string
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf"} {
		path := filepath.Join(inDir, name)
		writeFile(t, path, watermarkedPDF(2))
		paths = append(paths, path)
	}

	p := batch.New(batch.Config{Workers: 3, OutputDir: outDir, Ratio: 0.5})
	files, completed := collect(t, p.Run(context.Background(), paths))

	if len(files) != len(paths) {
		t.Fatalf("file events = %d, want %d", len(files), len(paths))
	}
	if completed.Processed != len(paths) {
		t.Errorf("processed = %d, want %d", completed.Processed, len(paths))
	}
	seen := make(map[string]bool)
	for _, ev := range files {
		seen[ev.Path] = true
		if ev.Total != len(paths) {
			t.Errorf("event total = %d, want %d", ev.Total, len(paths))
		}
	}
	if len(seen) != len(paths) {
		t.Errorf("distinct paths reported = %d, want %d", len(seen), len(paths))
	}
}

func TestRunCancelledContext(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	src := filepath.Join(inDir, "report.pdf")
	writeFile(t, src, watermarkedPDF(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := batch.New(batch.Config{OutputDir: outDir})
	files, completed := collect(t, p.Run(ctx, []string{src}))

	if len(files) != 0 {
		t.Errorf("file events after pre-cancelled run = %d, want 0", len(files))
	}
	if completed.Processed != 0 {
		t.Errorf("completed = %+v, want nothing processed", completed)
	}
}

func TestScanAllDeduplicates(t *testing.T) {
	inDir := t.TempDir()
	a := filepath.Join(inDir, "a.pdf")
	b := filepath.Join(inDir, "b.pdf")
	writeFile(t, a, watermarkedPDF(3))
	writeFile(t, b, watermarkedPDF(3))

	p := batch.New(batch.Config{Ratio: 0.5, Keywords: []string{"CONFIDENTIAL"}})
	cands, err := p.ScanAll(context.Background(), []string{a, b, a})
	if err != nil {
		t.Fatal(err)
	}
	// Each file contributes one image and three text candidates; the
	// repeated path adds nothing.
	wantPerFile := 1 + 3
	if len(cands) != 2*wantPerFile {
		t.Fatalf("candidates = %d, want %d", len(cands), 2*wantPerFile)
	}
	keys := make(map[string]bool)
	for _, c := range cands {
		if keys[c.Key()] {
			t.Errorf("duplicate key %q", c.Key())
		}
		keys[c.Key()] = true
	}
}
