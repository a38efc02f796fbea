package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pdfdewm/writer"
)

// outputPath maps an input file to its destination. Processed files
// get the configured suffix; copies keep their name. When InputRoot is
// set and the file lies below it, the relative subpath is preserved
// and created under the output directory.
func (p *Processor) outputPath(src string, withSuffix bool) (string, error) {
	base := filepath.Base(src)
	name := base
	if withSuffix {
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		name = stem + p.cfg.Suffix + ".pdf"
	}

	outDir := p.cfg.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(src)
	}

	subpath := ""
	if p.cfg.InputRoot != "" {
		if rel, err := filepath.Rel(p.cfg.InputRoot, src); err == nil && !strings.HasPrefix(rel, "..") {
			subpath = filepath.Dir(rel)
			if subpath == "." {
				subpath = ""
			}
		}
	}

	dir := filepath.Join(outDir, subpath)
	if subpath != "" {
		// Only subpaths are created; the output directory itself must
		// already exist.
		if _, err := os.Stat(outDir); err != nil {
			return "", fmt.Errorf("%w: %s", writer.ErrOutputDirMissing, outDir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output subpath: %w", err)
		}
	}
	return filepath.Join(dir, name), nil
}

// copyUnprocessed copies a file with no detections verbatim into the
// output tree, with the same guards the writer applies: never onto
// itself, never over an existing file unless overwriting is enabled.
func (p *Processor) copyUnprocessed(src string) (string, error) {
	dest, err := p.outputPath(src, false)
	if err != nil {
		return "", err
	}

	absSrc, err1 := filepath.Abs(src)
	absDest, err2 := filepath.Abs(dest)
	if err1 == nil && err2 == nil && absSrc == absDest {
		return "", fmt.Errorf("%w: %s", ErrSourceIsDestination, src)
	}
	if dir := filepath.Dir(dest); !dirExists(dir) {
		return "", fmt.Errorf("%w: %s", writer.ErrOutputDirMissing, dir)
	}
	if !p.cfg.Overwrite {
		if _, err := os.Stat(dest); err == nil {
			return "", fmt.Errorf("%w: %s", writer.ErrDestinationExists, dest)
		}
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write copy: %w", err)
	}
	return dest, nil
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
