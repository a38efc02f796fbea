package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"pdfdewm/batch"
	"pdfdewm/detect"
	"pdfdewm/observability"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "pdfdewm",
		Usage:   "Detect and remove watermarks from PDF files",
		Version: Version,
		Commands: []*cli.Command{
			scanCmd(),
			removeCmd(),
		},
	}
}

// Flags shared by scan and remove.
func detectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:  "ratio",
			Value: 0.5,
			Usage: "Fraction of pages an image must appear on to count as a watermark",
		},
		&cli.StringSliceFlag{
			Name:    "keywords",
			Aliases: []string{"k"},
			Usage:   "Case-insensitive text fragments to flag (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Emit debug-level log lines",
		},
	}
}

func scanCmd() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Report watermark candidates without modifying any file",
		ArgsUsage: "<pdf-or-dir>...",
		Flags:     detectionFlags(),
		Action: func(c *cli.Context) error {
			files, _, err := collectInputs(c.Args().Slice())
			if err != nil {
				return err
			}
			p := batch.New(batch.Config{
				Ratio:    c.Float64("ratio"),
				Keywords: c.StringSlice("keywords"),
				Logger:   newLogger(c),
			})
			cands, err := p.ScanAll(c.Context, files)
			if err != nil {
				return err
			}
			if len(cands) == 0 {
				fmt.Println("no watermark candidates found")
				return nil
			}
			for _, cand := range cands {
				printCandidate(cand)
			}
			fmt.Printf("%d candidate(s) across %d file(s)\n", len(cands), len(files))
			return nil
		},
	}
}

func removeCmd() *cli.Command {
	flags := append(detectionFlags(),
		&cli.BoolFlag{
			Name:  "sanitize-hidden",
			Usage: "Also strip invisible and off-page text",
		},
		&cli.BoolFlag{
			Name:  "overwrite",
			Usage: "Replace existing files at the destination",
		},
		&cli.StringFlag{
			Name:  "suffix",
			Value: "_dewm",
			Usage: "Suffix appended to output file names",
		},
		&cli.BoolFlag{
			Name:  "copy-skipped",
			Usage: "Copy files with no detections into the output tree",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "Output directory (default: next to each source file)",
		},
		&cli.IntFlag{
			Name:  "workers",
			Value: 4,
			Usage: "Number of files processed concurrently",
		},
	)
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove detected watermarks and save cleaned copies",
		ArgsUsage: "<pdf-or-dir>...",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			files, root, err := collectInputs(c.Args().Slice())
			if err != nil {
				return err
			}
			p := batch.New(batch.Config{
				Workers:        c.Int("workers"),
				Ratio:          c.Float64("ratio"),
				Keywords:       c.StringSlice("keywords"),
				SanitizeHidden: c.Bool("sanitize-hidden"),
				Overwrite:      c.Bool("overwrite"),
				Suffix:         c.String("suffix"),
				CopySkipped:    c.Bool("copy-skipped"),
				OutputDir:      c.String("out"),
				InputRoot:      root,
				Logger:         newLogger(c),
			})

			var failed int
			for ev := range p.Run(c.Context, files) {
				switch ev.Type {
				case batch.EventFileDone:
					printFileDone(ev)
					if ev.Action == batch.ActionFailed {
						failed++
					}
				case batch.EventCompleted:
					fmt.Printf("done: %d processed, %d copied, %d skipped, %d failed\n",
						ev.Processed, ev.Copied, ev.Skipped, ev.Failed)
				}
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d file(s) failed", failed), 1)
			}
			return nil
		},
	}
}

func newLogger(c *cli.Context) observability.Logger {
	level := observability.LevelWarn
	if c.Bool("verbose") {
		level = observability.LevelDebug
	}
	return observability.NewWriterLogger(os.Stderr, level)
}

// collectInputs expands the command arguments into a flat list of PDF
// paths. Directory arguments are walked recursively; when exactly one
// directory is given it becomes the input root, so the output tree
// mirrors its layout.
func collectInputs(args []string) (files []string, root string, err error) {
	if len(args) == 0 {
		return nil, "", fmt.Errorf("no input files given")
	}
	dirs := 0
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, "", fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		dirs++
		root = arg
		walkErr := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
				files = append(files, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, "", fmt.Errorf("walk %s: %w", arg, walkErr)
		}
	}
	if dirs != 1 || len(args) != 1 {
		root = ""
	}
	if len(files) == 0 {
		return nil, "", fmt.Errorf("no PDF files found")
	}
	return files, root, nil
}

func printCandidate(c detect.Candidate) {
	switch c.Kind {
	case detect.KindImage:
		fmt.Printf("%s: image %s (%s, %dx%d) on %d page(s)\n",
			c.Document, c.Ref, c.Name, c.Width, c.Height, c.PageCount)
	case detect.KindText:
		fmt.Printf("%s: text %q (keyword %q) on page %d at (%.1f, %.1f)\n",
			c.Document, c.Text, c.Keyword, c.Page+1, c.BBox.LLX, c.BBox.LLY)
	}
}

func printFileDone(ev batch.Event) {
	prefix := fmt.Sprintf("[%d/%d] %s", ev.Index, ev.Total, ev.Path)
	switch ev.Action {
	case batch.ActionProcessed:
		fmt.Printf("%s -> %s (detected %d, removed %d)\n", prefix, ev.Output, ev.Detected, ev.Removed)
	case batch.ActionCopied:
		fmt.Printf("%s -> %s (copied, nothing detected)\n", prefix, ev.Output)
	case batch.ActionSkipped:
		if ev.Err != nil {
			fmt.Printf("%s skipped: %v\n", prefix, ev.Err)
		} else {
			fmt.Printf("%s skipped, nothing detected\n", prefix)
		}
	case batch.ActionFailed:
		fmt.Printf("%s FAILED: %v\n", prefix, ev.Err)
	}
}
