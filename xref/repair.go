package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"pdfdewm/ir/raw"
	"pdfdewm/scanner"
)

// repair reconstructs the table by scanning the whole file for
// "<num> <gen> obj" headers and keeping the last trailer dictionary it
// meets. Used when the declared xref data is missing or corrupt.
func repair(ctx context.Context, data []byte) (Table, error) {
	entries := make(map[int]entry)
	var lastTrailer *raw.DictObj

	pos := 0
	for pos < len(data) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		idx := bytes.Index(data[pos:], []byte("obj"))
		if idx < 0 {
			break
		}
		at := pos + idx
		pos = at + 3
		// Reject 'endobj' and names like '/obj'.
		if at > 0 && !isHeaderBoundary(data[at-1]) {
			continue
		}
		if at+3 < len(data) && !isHeaderBoundary(data[at+3]) {
			continue
		}
		num, gen, start, ok := headerBefore(data, at)
		if !ok {
			continue
		}
		// Later definitions of the same object win; they belong to a
		// newer incremental update appended further into the file.
		entries[num] = entry{offset: int64(start), gen: gen}
	}

	// The last trailer in the file is authoritative.
	tpos := bytes.LastIndex(data, []byte("trailer"))
	if tpos >= 0 {
		if dict, err := parseTrailer(data[tpos+len("trailer"):]); err == nil {
			lastTrailer = dict
		}
	}
	if lastTrailer == nil {
		// Fall back to hunting for any dictionary holding /Root.
		lastTrailer = findRootDict(data)
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	if lastTrailer == nil {
		lastTrailer = raw.Dict()
		lastTrailer.Set("Size", raw.NumberInt(int64(len(entries))))
	}
	return &table{entries: entries, trailer: lastTrailer}, nil
}

func isHeaderBoundary(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

// headerBefore walks backwards from the 'obj' keyword to read the
// generation and object numbers, returning the header start offset.
func headerBefore(data []byte, at int) (num, gen, start int, ok bool) {
	i := at - 1
	for i >= 0 && isHeaderBoundary(data[i]) {
		i--
	}
	genEnd := i + 1
	for i >= 0 && data[i] >= '0' && data[i] <= '9' {
		i--
	}
	genStart := i + 1
	if genStart == genEnd {
		return 0, 0, 0, false
	}
	for i >= 0 && isHeaderBoundary(data[i]) {
		i--
	}
	numEnd := i + 1
	for i >= 0 && data[i] >= '0' && data[i] <= '9' {
		i--
	}
	numStart := i + 1
	if numStart == numEnd {
		return 0, 0, 0, false
	}
	if numStart > 0 && !isHeaderBoundary(data[numStart-1]) {
		return 0, 0, 0, false
	}
	num = atoi(data[numStart:numEnd])
	gen = atoi(data[genStart:genEnd])
	return num, gen, numStart, true
}

func atoi(b []byte) int {
	v := 0
	for _, c := range b {
		v = v*10 + int(c-'0')
	}
	return v
}

func findRootDict(data []byte) *raw.DictObj {
	pos := len(data)
	for {
		idx := bytes.LastIndex(data[:pos], []byte("/Root"))
		if idx < 0 {
			return nil
		}
		dictStart := bytes.LastIndex(data[:idx], []byte("<<"))
		if dictStart >= 0 {
			if dict, err := parseTrailer(data[dictStart:]); err == nil {
				if _, ok := dict.Get("Root"); ok {
					return dict
				}
			}
		}
		pos = idx
	}
}

// parseTrailer parses the dictionary that follows a 'trailer' keyword
// (or any byte slice starting at '<<'). Only direct values, arrays,
// nested dictionaries and references occur in trailers.
func parseTrailer(data []byte) (*raw.DictObj, error) {
	s := scanner.New(bytes.NewReader(data), scanner.Config{})
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenDict {
		return nil, fmt.Errorf("expected dictionary, got token type %d", tok.Type)
	}
	obj, err := parseDict(s)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func parseDict(s scanner.Scanner) (*raw.DictObj, error) {
	dict := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name key in dictionary at offset %d", tok.Pos)
		}
		val, err := parseValue(s)
		if err != nil {
			return nil, err
		}
		dict.Set(tok.Str, val)
	}
}

func parseArray(s scanner.Scanner) (*raw.ArrayObj, error) {
	arr := raw.NewArray()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		val, err := valueFromToken(s, tok)
		if err != nil {
			return nil, err
		}
		arr.Append(val)
	}
}

func parseValue(s scanner.Scanner) (raw.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return valueFromToken(s, tok)
}

func valueFromToken(s scanner.Scanner, tok scanner.Token) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenDict:
		return parseDict(s)
	case scanner.TokenArray:
		return parseArray(s)
	case scanner.TokenName:
		return raw.NameLiteral(tok.Str), nil
	case scanner.TokenString:
		return raw.Str(tok.Bytes), nil
	case scanner.TokenHex:
		return raw.HexStringObj{Bytes: tok.Bytes}, nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenNumber:
		if !tok.IsInt {
			return raw.NumberFloat(tok.Real), nil
		}
		// Possible "<num> <gen> R" reference; look ahead two tokens.
		pos := s.Position()
		genTok, err := s.Next()
		if err == nil && genTok.Type == scanner.TokenNumber && genTok.IsInt {
			rTok, err := s.Next()
			if err == nil && rTok.Type == scanner.TokenKeyword && rTok.Str == "R" {
				return raw.Ref(int(tok.Int), int(genTok.Int)), nil
			}
		}
		if err := s.SeekTo(pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return raw.NumberInt(tok.Int), nil
	}
	return nil, fmt.Errorf("unexpected token type %d at offset %d", tok.Type, tok.Pos)
}
