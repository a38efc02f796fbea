package xref

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"pdfdewm/ir/raw"
)

// Table holds object offsets resolved from the cross-reference data,
// plus the trailer dictionary that anchors the document graph.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	Objects() []int
	Trailer() *raw.DictObj
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
}

type ResolverConfig struct {
	// MaxPrevDepth bounds how many /Prev links an incremental-update
	// chain may have before resolution gives up. Zero means 32.
	MaxPrevDepth int
	// DisableRepair turns off the full-file reconstruction fallback.
	DisableRepair bool
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxPrevDepth <= 0 {
		cfg.MaxPrevDepth = 32
	}
	return &tableResolver{cfg: cfg}
}

// tableResolver parses classic (non-stream) xref tables. Documents
// using cross-reference streams fail the classic parse and fall
// through to the repair scan, which recovers uncompressed objects.
type tableResolver struct {
	cfg ResolverConfig
}

func (t *tableResolver) Resolve(ctx context.Context, r io.ReaderAt) (Table, error) {
	data := readAll(r)

	tbl, err := t.resolveClassic(ctx, data)
	if err == nil {
		return tbl, nil
	}
	if t.cfg.DisableRepair {
		return nil, err
	}
	repaired, rerr := repair(ctx, data)
	if rerr != nil {
		return nil, fmt.Errorf("%w (repair: %v)", err, rerr)
	}
	return repaired, nil
}

func (t *tableResolver) resolveClassic(ctx context.Context, data []byte) (Table, error) {
	startxref := bytes.LastIndex(data, []byte("startxref"))
	if startxref < 0 {
		return nil, errors.New("startxref not found")
	}
	rest := data[startxref+len("startxref"):]
	lines := bufio.NewScanner(bytes.NewReader(rest))
	var offset int64
	for lines.Scan() {
		text := strings.TrimSpace(lines.Text())
		if text == "" {
			continue
		}
		val, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse startxref: %w", err)
		}
		offset = val
		break
	}

	entries := make(map[int]entry)
	var trailer *raw.DictObj
	seen := make(map[int64]bool)

	for depth := 0; depth < t.cfg.MaxPrevDepth; depth++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if offset <= 0 || offset >= int64(len(data)) {
			return nil, fmt.Errorf("xref offset out of range: %d", offset)
		}
		if seen[offset] {
			break // cycle in the /Prev chain
		}
		seen[offset] = true

		sectionTrailer, err := parseSection(data[offset:], entries)
		if err != nil {
			return nil, err
		}
		if trailer == nil {
			trailer = sectionTrailer
		}
		prev, ok := trailerPrev(sectionTrailer)
		if !ok {
			break
		}
		offset = prev
	}

	if len(entries) == 0 {
		return nil, errors.New("empty xref table")
	}
	return &table{entries: entries, trailer: trailer}, nil
}

// parseSection parses one "xref ... trailer <<...>>" section. Entries
// already present in out belong to a newer incremental update and are
// not overwritten.
func parseSection(section []byte, out map[int]entry) (*raw.DictObj, error) {
	sc := bufio.NewScanner(bytes.NewReader(section))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "xref" {
		return nil, errors.New("xref keyword not found at offset")
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "trailer") {
			break
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid xref subsection header: %q", line)
		}
		startObj, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("parse xref start: %w", err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parse xref count: %w", err)
		}
		for i := 0; i < count; i++ {
			if !sc.Scan() {
				return nil, errors.New("unexpected end of xref section")
			}
			fields := strings.Fields(strings.TrimSpace(sc.Text()))
			if len(fields) < 3 {
				return nil, fmt.Errorf("invalid xref entry: %q", sc.Text())
			}
			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse xref offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("parse xref gen: %w", err)
			}
			if fields[2] != "n" {
				continue // free entry
			}
			num := startObj + i
			if _, exists := out[num]; !exists {
				out[num] = entry{offset: off, gen: gen}
			}
		}
	}
	idx := bytes.Index(section, []byte("trailer"))
	if idx < 0 {
		return nil, errors.New("trailer not found after xref section")
	}
	trailer, err := parseTrailer(section[idx+len("trailer"):])
	if err != nil {
		return nil, err
	}
	return trailer, nil
}

func trailerPrev(trailer *raw.DictObj) (int64, bool) {
	if trailer == nil {
		return 0, false
	}
	v, ok := trailer.Get("Prev")
	if !ok {
		return 0, false
	}
	n, ok := v.(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

type entry struct {
	offset int64
	gen    int
}

type table struct {
	entries map[int]entry
	trailer *raw.DictObj
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(64 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
