package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"pdfdewm/filters"
	"pdfdewm/ir/raw"
	"pdfdewm/observability"
	"pdfdewm/parser"
	"pdfdewm/recovery"
)

var (
	// ErrUnreadable wraps any failure to parse a document into the raw
	// object table, including encrypted files.
	ErrUnreadable = errors.New("document unreadable")
	// ErrMissingObject is returned when a resolved reference has no
	// entry in the object table.
	ErrMissingObject = errors.New("object missing")
	// ErrInvalidated is returned when a resolved reference points at an
	// object that was removed in this session.
	ErrInvalidated = errors.New("object invalidated")
)

type Options struct {
	Logger   observability.Logger
	Recovery recovery.Strategy
}

// Document wraps the raw object table with page access and the
// mutation operations the detector and editor build on.
type Document struct {
	path        string
	raw         *raw.Document
	pages       []*Page
	invalidated map[raw.ObjectRef]bool
	filters     *filters.Pipeline
	logger      observability.Logger
}

// Open parses the file at path into memory. The file handle is not
// retained; every later operation works on the in-memory table.
func Open(ctx context.Context, path string, opts Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	doc, err := Load(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	doc.path = path
	return doc, nil
}

// Load parses an in-memory PDF.
func Load(ctx context.Context, data []byte, opts Options) (*Document, error) {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	p := parser.NewDocumentParser(parser.Config{
		Recovery: opts.Recovery,
		Logger:   opts.Logger,
	})
	rawDoc, err := p.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	d := &Document{
		raw:         rawDoc,
		invalidated: make(map[raw.ObjectRef]bool),
		filters:     filters.Default(),
		logger:      opts.Logger,
	}
	if err := d.loadPages(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return d, nil
}

func (d *Document) Path() string       { return d.path }
func (d *Document) Raw() *raw.Document { return d.raw }
func (d *Document) Version() string    { return d.raw.Version }
func (d *Document) Pages() []*Page     { return d.pages }

// Resolve returns the object stored under ref.
func (d *Document) Resolve(ref raw.ObjectRef) (raw.Object, error) {
	if d.invalidated[ref] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidated, ref)
	}
	obj, ok := d.raw.Objects[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingObject, ref)
	}
	return obj, nil
}

// Set replaces the object stored under ref.
func (d *Document) Set(ref raw.ObjectRef, obj raw.Object) {
	d.raw.Objects[ref] = obj
	delete(d.invalidated, ref)
}

// Invalidate removes an object's content while keeping its table slot,
// so any reference still in the file resolves to null instead of
// dangling. Invalidating twice is a no-op.
func (d *Document) Invalidate(ref raw.ObjectRef) {
	if d.invalidated[ref] {
		return
	}
	if _, ok := d.raw.Objects[ref]; !ok {
		return
	}
	d.raw.Objects[ref] = raw.NullObj{}
	d.invalidated[ref] = true
}

func (d *Document) IsInvalidated(ref raw.ObjectRef) bool { return d.invalidated[ref] }

// DecodeStream runs a stream's filter chain and returns the plain
// bytes. Image codec filters pass through unchanged.
func (d *Document) DecodeStream(ctx context.Context, st *raw.StreamObj) ([]byte, error) {
	names, params := raw.FilterNames(d.raw, st.Dict)
	if len(names) == 0 {
		return st.Data, nil
	}
	return d.filters.Decode(ctx, st.Data, names, params)
}
