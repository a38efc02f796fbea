package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"pdfdewm/scanner"
)

// Parse tokenizes a decoded content stream into operations. Unknown
// operators are kept; callers decide which ones matter. Inline images
// (BI .. ID .. EI) collapse into a single "BI" operation spanning the
// whole image so binary sample data never reaches the tokenizer.
func Parse(data []byte) ([]Operation, error) {
	s := scanner.New(bytes.NewReader(data), scanner.Config{})
	var ops []Operation
	var stack []Operand
	opStart := int64(-1)

	push := func(op Operand, pos int64) {
		if opStart < 0 {
			opStart = pos
		}
		stack = append(stack, op)
	}

	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case scanner.TokenNumber:
			push(NumberOperand{Val: numValue(tok), IsInt: tok.IsInt}, tok.Pos)
		case scanner.TokenName:
			push(NameOperand{Val: tok.Str}, tok.Pos)
		case scanner.TokenString, scanner.TokenHex:
			push(StringOperand{Val: tok.Bytes}, tok.Pos)
		case scanner.TokenBoolean:
			push(BoolOperand{Val: tok.Bool}, tok.Pos)
		case scanner.TokenNull:
			push(NullOperand{}, tok.Pos)
		case scanner.TokenArray:
			arr, err := parseArrayOperand(s)
			if err != nil {
				return nil, err
			}
			push(arr, tok.Pos)
		case scanner.TokenDict:
			dict, err := parseDictOperand(s)
			if err != nil {
				return nil, err
			}
			push(dict, tok.Pos)
		case scanner.TokenKeyword:
			if tok.Str == "BI" {
				end, err := skipInlineImage(data, s)
				if err != nil {
					return nil, err
				}
				start := tok.Pos
				if opStart >= 0 {
					start = opStart
				}
				ops = append(ops, Operation{Operator: "BI", Start: start, End: end})
				stack = nil
				opStart = -1
				continue
			}
			start := tok.Pos
			if opStart >= 0 {
				start = opStart
			}
			ops = append(ops, Operation{
				Operator: tok.Str,
				Operands: stack,
				Start:    start,
				End:      s.Position(),
			})
			stack = nil
			opStart = -1
		default:
			return nil, fmt.Errorf("unexpected token type %d at offset %d", tok.Type, tok.Pos)
		}
	}
	return ops, nil
}

func numValue(tok scanner.Token) float64 {
	if tok.IsInt {
		return float64(tok.Int)
	}
	return tok.Real
}

func parseArrayOperand(s scanner.Scanner) (ArrayOperand, error) {
	var arr ArrayOperand
	for {
		tok, err := s.Next()
		if err != nil {
			return arr, err
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			if tok.Str == "]" {
				return arr, nil
			}
			return arr, fmt.Errorf("unexpected keyword %q in array at offset %d", tok.Str, tok.Pos)
		case scanner.TokenNumber:
			arr.Items = append(arr.Items, NumberOperand{Val: numValue(tok), IsInt: tok.IsInt})
		case scanner.TokenName:
			arr.Items = append(arr.Items, NameOperand{Val: tok.Str})
		case scanner.TokenString, scanner.TokenHex:
			arr.Items = append(arr.Items, StringOperand{Val: tok.Bytes})
		case scanner.TokenBoolean:
			arr.Items = append(arr.Items, BoolOperand{Val: tok.Bool})
		case scanner.TokenNull:
			arr.Items = append(arr.Items, NullOperand{})
		case scanner.TokenArray:
			inner, err := parseArrayOperand(s)
			if err != nil {
				return arr, err
			}
			arr.Items = append(arr.Items, inner)
		case scanner.TokenDict:
			inner, err := parseDictOperand(s)
			if err != nil {
				return arr, err
			}
			arr.Items = append(arr.Items, inner)
		default:
			return arr, fmt.Errorf("unexpected token in array at offset %d", tok.Pos)
		}
	}
}

func parseDictOperand(s scanner.Scanner) (DictOperand, error) {
	dict := DictOperand{Pairs: make(map[string]Operand)}
	for {
		tok, err := s.Next()
		if err != nil {
			return dict, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return dict, fmt.Errorf("expected name key in dict at offset %d", tok.Pos)
		}
		key := tok.Str
		val, err := s.Next()
		if err != nil {
			return dict, err
		}
		switch val.Type {
		case scanner.TokenNumber:
			dict.Pairs[key] = NumberOperand{Val: numValue(val), IsInt: val.IsInt}
		case scanner.TokenName:
			dict.Pairs[key] = NameOperand{Val: val.Str}
		case scanner.TokenString, scanner.TokenHex:
			dict.Pairs[key] = StringOperand{Val: val.Bytes}
		case scanner.TokenBoolean:
			dict.Pairs[key] = BoolOperand{Val: val.Bool}
		case scanner.TokenNull:
			dict.Pairs[key] = NullOperand{}
		case scanner.TokenArray:
			inner, err := parseArrayOperand(s)
			if err != nil {
				return dict, err
			}
			dict.Pairs[key] = inner
		case scanner.TokenDict:
			inner, err := parseDictOperand(s)
			if err != nil {
				return dict, err
			}
			dict.Pairs[key] = inner
		default:
			return dict, fmt.Errorf("unexpected dict value at offset %d", val.Pos)
		}
	}
}

// skipInlineImage advances past an inline image. The image parameters
// before ID are regular tokens; the sample data after ID is raw binary
// terminated by a whitespace-delimited EI keyword.
func skipInlineImage(data []byte, s scanner.Scanner) (int64, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return 0, fmt.Errorf("inline image parameters: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "ID" {
			break
		}
	}
	// One whitespace byte follows ID, then the sample data.
	pos := int(s.Position()) + 1
	for pos < len(data) {
		idx := bytes.Index(data[pos:], []byte("EI"))
		if idx < 0 {
			break
		}
		at := pos + idx
		beforeOK := at == 0 || isStreamWS(data[at-1])
		afterOK := at+2 >= len(data) || isStreamWS(data[at+2])
		if beforeOK && afterOK {
			end := int64(at + 2)
			if err := s.SeekTo(end); err != nil && !errors.Is(err, io.EOF) {
				return 0, err
			}
			return end, nil
		}
		pos = at + 2
	}
	return 0, errors.New("inline image missing EI")
}

func isStreamWS(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}
