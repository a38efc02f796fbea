// Package writer persists a raw document back to disk: compaction of
// the object table, stream compression, serialization with a fresh
// cross-reference table, and guarded atomic file placement.
package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"pdfdewm/ir/raw"
	"pdfdewm/observability"
)

var (
	// ErrOutputDirMissing is returned when the destination's directory
	// does not exist. The writer never creates directories.
	ErrOutputDirMissing = errors.New("output directory does not exist")
	// ErrDestinationExists is returned when the destination file exists
	// and overwriting is not enabled. Callers treat it as a skip.
	ErrDestinationExists = errors.New("destination exists")
)

type SaveOptions struct {
	// Overwrite allows replacing an existing destination file.
	Overwrite bool
	// Compact drops unreachable objects and renumbers the table.
	Compact bool
	// Compress flate-encodes streams that carry no filter.
	Compress bool
	Logger   observability.Logger
}

// Save writes the document to dest. The input document is not
// mutated; compaction and compression happen on a copy. The file
// appears atomically via a temp file and rename.
func Save(ctx context.Context, doc *raw.Document, dest string, opts SaveOptions) error {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	dir := filepath.Dir(dest)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrOutputDirMissing, dir)
	}
	if !opts.Overwrite {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
		}
	}

	out := doc
	if opts.Compact {
		out = Compact(doc)
		opts.Logger.Debug("compacted object table",
			observability.Int("before", len(doc.Objects)),
			observability.Int("after", len(out.Objects)))
	} else {
		out = cloneDocument(doc)
	}
	if opts.Compress {
		compressStreams(out)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := Serialize(out)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pdfdewm-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("place output: %w", err)
	}
	opts.Logger.Info("saved document",
		observability.String("dest", dest),
		observability.Int("objects", len(out.Objects)),
		observability.Int("bytes", len(data)))
	return nil
}
