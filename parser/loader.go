package parser

import (
	"errors"
	"fmt"

	"pdfdewm/ir/raw"
	"pdfdewm/scanner"
)

// tokenReader adds pushback on top of a scanner, which lets the object
// parser look ahead for "num gen R" references without seeking.
type tokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func (t *tokenReader) next() (scanner.Token, error) {
	if n := len(t.buf); n > 0 {
		tok := t.buf[n-1]
		t.buf = t.buf[:n-1]
		return tok, nil
	}
	return t.s.Next()
}

func (t *tokenReader) unread(tok scanner.Token) {
	t.buf = append(t.buf, tok)
}

const maxParseDepth = 128

// parseObject reads one complete object value from the token stream.
// Stream payloads are not handled here; they only occur at the top
// level of an indirect object and the loader deals with them.
func parseObject(tr *tokenReader) (raw.Object, error) {
	return parseObjectDepth(tr, 0)
}

func parseObjectDepth(tr *tokenReader, depth int) (raw.Object, error) {
	if depth > maxParseDepth {
		return nil, errors.New("object nesting too deep")
	}
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	return objectFromToken(tr, tok, depth)
}

func objectFromToken(tr *tokenReader, tok scanner.Token, depth int) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenDict:
		return parseDictBody(tr, depth+1)
	case scanner.TokenArray:
		return parseArrayBody(tr, depth+1)
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
		return parseNumberOrRef(tr, tok)
	}
	return nil, fmt.Errorf("unexpected token type %d at offset %d", tok.Type, tok.Pos)
}

// parseNumberOrRef disambiguates a bare integer from the start of a
// "num gen R" reference by reading up to two more tokens and pushing
// them back when the pattern does not complete.
func parseNumberOrRef(tr *tokenReader, numTok scanner.Token) (raw.Object, error) {
	genTok, err := tr.next()
	if err != nil {
		return raw.NumberInt(numTok.Int), nil
	}
	if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		tr.unread(genTok)
		return raw.NumberInt(numTok.Int), nil
	}
	rTok, err := tr.next()
	if err != nil {
		tr.unread(genTok)
		return raw.NumberInt(numTok.Int), nil
	}
	if rTok.Type == scanner.TokenKeyword && rTok.Str == "R" {
		return raw.Ref(int(numTok.Int), int(genTok.Int)), nil
	}
	tr.unread(rTok)
	tr.unread(genTok)
	return raw.NumberInt(numTok.Int), nil
}

func parseDictBody(tr *tokenReader, depth int) (*raw.DictObj, error) {
	dict := raw.Dict()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name key at offset %d", tok.Pos)
		}
		val, err := parseObjectDepth(tr, depth)
		if err != nil {
			return nil, err
		}
		dict.Set(tok.Str, val)
	}
}

func parseArrayBody(tr *tokenReader, depth int) (*raw.ArrayObj, error) {
	arr := raw.NewArray()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		obj, err := objectFromToken(tr, tok, depth)
		if err != nil {
			return nil, err
		}
		arr.Append(obj)
	}
}
