// Package batch drives watermark removal across many files with a
// bounded worker pool, reporting progress through an event channel.
package batch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"pdfdewm/detect"
	"pdfdewm/document"
	"pdfdewm/edit"
	"pdfdewm/ir/raw"
	"pdfdewm/observability"
	"pdfdewm/writer"
)

// ErrSourceIsDestination guards the skip-copy path against copying a
// file onto itself.
var ErrSourceIsDestination = errors.New("source and destination are the same file")

type EventType int

const (
	EventFileStart EventType = iota
	EventFileDone
	EventCompleted
)

type Action int

const (
	// ActionProcessed: watermarks were removed and the result saved.
	ActionProcessed Action = iota
	// ActionCopied: nothing detected; the file was copied verbatim.
	ActionCopied
	// ActionSkipped: nothing detected, or the destination already
	// existed without overwrite.
	ActionSkipped
	// ActionFailed: the file could not be handled; Err carries why.
	ActionFailed
)

// Event is one progress notification. Index counts from 1 to Total
// for file events; Completed carries the final tallies.
type Event struct {
	Type     EventType
	RunID    string
	Index    int
	Total    int
	Path     string
	Output   string
	Action   Action
	Detected int
	Removed  int
	Err      error

	Processed int // Completed only
	Copied    int
	Skipped   int
	Failed    int
}

type Config struct {
	Workers        int
	Ratio          float64
	Keywords       []string
	SanitizeHidden bool
	Overwrite      bool
	// Suffix is appended to the output file stem, e.g. "_dewm".
	Suffix string
	// CopySkipped copies files with no detections to the output tree.
	CopySkipped bool
	OutputDir   string
	// InputRoot, when set, preserves each file's subpath below it in
	// the output tree.
	InputRoot string
	Logger    observability.Logger
}

type Processor struct {
	cfg    Config
	logger observability.Logger
}

func New(cfg Config) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Suffix == "" {
		cfg.Suffix = "_dewm"
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Processor{cfg: cfg, logger: cfg.Logger}
}

// Run processes the files concurrently and returns the event channel.
// The channel closes after the final Completed event. Cancelling the
// context stops new files from starting; files already in flight
// finish.
func (p *Processor) Run(ctx context.Context, files []string) <-chan Event {
	runID := newRunID()
	logger := p.logger.With(observability.String("run", runID))
	out := make(chan Event, len(files)+1)

	go func() {
		defer close(out)

		jobs := make(chan int)
		results := make(chan Event, len(files))
		var wg sync.WaitGroup

		for w := 0; w < p.cfg.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for idx := range jobs {
					out <- Event{
						Type:  EventFileStart,
						RunID: runID,
						Index: idx + 1,
						Total: len(files),
						Path:  files[idx],
					}
					ev := p.processFile(ctx, logger, files[idx])
					ev.Type = EventFileDone
					ev.RunID = runID
					ev.Index = idx + 1
					ev.Total = len(files)
					ev.Path = files[idx]
					results <- ev
					out <- ev
				}
			}()
		}

	dispatch:
		for i := range files {
			if ctx.Err() != nil {
				break
			}
			select {
			case <-ctx.Done():
				break dispatch
			case jobs <- i:
			}
		}
		close(jobs)
		wg.Wait()
		close(results)

		done := Event{Type: EventCompleted, RunID: runID, Total: len(files)}
		for ev := range results {
			switch ev.Action {
			case ActionProcessed:
				done.Processed++
			case ActionCopied:
				done.Copied++
			case ActionSkipped:
				done.Skipped++
			case ActionFailed:
				done.Failed++
			}
		}
		out <- done
	}()
	return out
}

// processFile runs the whole pipeline for one input: open, scan,
// remove, save. Files without detections are copied or skipped.
func (p *Processor) processFile(ctx context.Context, logger observability.Logger, path string) Event {
	logger = logger.With(observability.String("file", path))

	doc, err := document.Open(ctx, path, document.Options{Logger: logger})
	if err != nil {
		logger.Error("open failed", observability.Error("error", err))
		return Event{Action: ActionFailed, Err: err}
	}

	detector := detect.New(detect.Config{
		Ratio:    p.cfg.Ratio,
		Keywords: p.cfg.Keywords,
		Logger:   logger,
	})
	cands, err := detector.Scan(ctx, doc)
	if err != nil {
		logger.Error("scan failed", observability.Error("error", err))
		return Event{Action: ActionFailed, Err: err}
	}

	if len(cands) == 0 && !p.cfg.SanitizeHidden {
		if p.cfg.CopySkipped {
			dest, err := p.copyUnprocessed(path)
			if err != nil {
				if errors.Is(err, ErrSourceIsDestination) || errors.Is(err, writer.ErrDestinationExists) {
					logger.Warn("copy skipped", observability.Error("reason", err))
					return Event{Action: ActionSkipped, Err: err}
				}
				return Event{Action: ActionFailed, Err: err}
			}
			return Event{Action: ActionCopied, Output: dest}
		}
		return Event{Action: ActionSkipped}
	}

	removed, err := p.removeAll(ctx, doc, cands, logger)
	if err != nil {
		logger.Error("removal failed", observability.Error("error", err))
		return Event{Action: ActionFailed, Err: err, Detected: len(cands)}
	}

	dest, err := p.outputPath(path, true)
	if err != nil {
		return Event{Action: ActionFailed, Err: err, Detected: len(cands)}
	}
	err = writer.Save(ctx, doc.Raw(), dest, writer.SaveOptions{
		Overwrite: p.cfg.Overwrite,
		Compact:   true,
		Compress:  true,
		Logger:    logger,
	})
	if err != nil {
		if errors.Is(err, writer.ErrDestinationExists) {
			logger.Warn("destination exists, skipping", observability.String("dest", dest))
			return Event{Action: ActionSkipped, Err: err, Detected: len(cands)}
		}
		logger.Error("save failed", observability.Error("error", err))
		return Event{Action: ActionFailed, Err: err, Detected: len(cands)}
	}
	return Event{Action: ActionProcessed, Output: dest, Detected: len(cands), Removed: removed}
}

// removeAll applies every candidate: image refs through the excision
// path, text candidates through redaction, plus the optional hidden
// text pass.
func (p *Processor) removeAll(ctx context.Context, doc *document.Document, cands []detect.Candidate, logger observability.Logger) (int, error) {
	editor := edit.New(doc, edit.Options{Logger: logger})
	removed := 0

	var imageRefs []raw.ObjectRef
	for _, c := range cands {
		switch c.Kind {
		case detect.KindImage:
			imageRefs = append(imageRefs, c.Ref)
		case detect.KindText:
			editor.MarkText(c.Page, c.BBox)
		}
	}
	if len(imageRefs) > 0 {
		stats, err := editor.RemoveImages(ctx, imageRefs)
		if err != nil {
			return removed, err
		}
		removed += stats.Invalidated
	}
	textStats, err := editor.Apply(ctx)
	if err != nil {
		return removed, err
	}
	removed += textStats.BlocksRemoved
	if p.cfg.SanitizeHidden {
		n, err := editor.SanitizeHiddenText(ctx)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// ScanAll opens each file and merges its candidates into one
// deduplicated, deterministic review list. Unreadable files are
// skipped with a warning.
func (p *Processor) ScanAll(ctx context.Context, files []string) ([]detect.Candidate, error) {
	detector := detect.New(detect.Config{
		Ratio:    p.cfg.Ratio,
		Keywords: p.cfg.Keywords,
		Logger:   p.logger,
	})
	seen := make(map[string]bool)
	var out []detect.Candidate
	for _, path := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		doc, err := document.Open(ctx, path, document.Options{Logger: p.logger})
		if err != nil {
			p.logger.Warn("skipping unreadable file",
				observability.String("file", path),
				observability.Error("error", err))
			continue
		}
		cands, err := detector.Scan(ctx, doc)
		if err != nil {
			p.logger.Warn("scan failed",
				observability.String("file", path),
				observability.Error("error", err))
			continue
		}
		for _, c := range cands {
			if !seen[c.Key()] {
				seen[c.Key()] = true
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func newRunID() string { return ulid.Make().String() }
