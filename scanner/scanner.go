package scanner

import (
	"bytes"
	"errors"
	"io"

	"pdfdewm/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal string
	TokenHex                      // hex string, decoded
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenStream                   // stream payload following the 'stream' keyword
	TokenKeyword                  // obj, endobj, R, '>>', ']', trailer, ...
)

// Token is a single lexical unit. Which fields are meaningful depends
// on Type: Str for names and keywords, Int/Real/IsInt for numbers,
// Bytes for strings and stream payloads, Bool for booleans.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string
	Int   int64
	Real  float64
	IsInt bool
	Bool  bool
	Bytes []byte
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	// SetNextStreamLength tells the scanner how many payload bytes the
	// next 'stream' keyword carries. Without it the scanner falls back
	// to searching for 'endstream'.
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	WindowSize      int64
	// Recovery decides whether malformed constructs fail the scan or
	// degrade to best-effort tokens. Nil is lenient.
	Recovery recovery.Strategy
}

// pdfScanner incrementally buffers data from a ReaderAt in fixed-size
// windows so huge documents are not copied twice.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
}

func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	if err := s.ensure(s.pos); err != nil && s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case '{', '}':
		// PostScript function delimiters; surface as keywords.
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	}
	if isNumberStart(c) {
		return s.scanNumber()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *pdfScanner) peek(ahead int64) byte {
	if err := s.ensure(s.pos + ahead); err != nil {
		return 0
	}
	if s.pos+ahead >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+ahead]
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool     { return !isWhitespace(c) && !isDelimiter(c) }
func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil || s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					break
				}
			}
			continue
		}
		return nil
	}
}

func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if err == io.EOF || n == 0 {
		s.eof = true
		return nil
	}
	return err
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil || s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' {
			s.pos++
			hi := s.hexNibble()
			lo := s.hexNibble()
			out.WriteByte(hi<<4 | lo)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) hexNibble() byte {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return 0
	}
	c := s.data[s.pos]
	s.pos++
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for {
		if err := s.ensure(s.pos); err != nil || s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		switch {
		case c == '\\':
			s.pos++
			if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r':
				// Line continuation; swallow a following LF too.
				s.pos++
				if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2; k++ {
					if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
						break
					}
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
		case c == '(':
			depth++
			buf.WriteByte(c)
			s.pos++
		case c == ')':
			depth--
			s.pos++
			if depth == 0 {
				return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
			s.pos++
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string exceeds limit")
		}
	}
	// Unterminated string; strategies decide whether the collected
	// prefix is surfaced or the scan fails.
	if err := s.recoverable(errors.New("unterminated literal string"), start); err != nil {
		return Token{}, err
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

// recoverable consults the configured strategy; without one the
// scanner stays lenient.
func (s *pdfScanner) recoverable(err error, offset int64) error {
	if s.cfg.Recovery == nil {
		return nil
	}
	loc := recovery.Location{Page: -1, ByteOffset: offset, Component: "scanner"}
	if s.cfg.Recovery.OnError(err, loc) == recovery.ActionFail {
		return err
	}
	return nil
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	}
	return c
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	for {
		if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		nibbles = append(nibbles, c)
		s.pos++
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i+1 < len(nibbles); i += 2 {
		out = append(out, hexVal(nibbles[i])<<4|hexVal(nibbles[i+1]))
	}
	return Token{Type: TokenHex, Bytes: out, Pos: start}, nil
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func (s *pdfScanner) scanNumber() (Token, error) {
	start := s.pos
	var raw []byte
	isInt := true
	for {
		if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '.' {
			isInt = false
			raw = append(raw, c)
			s.pos++
			continue
		}
		if c == '+' || c == '-' || (c >= '0' && c <= '9') {
			raw = append(raw, c)
			s.pos++
			continue
		}
		break
	}
	tok := Token{Type: TokenNumber, Pos: start, IsInt: isInt}
	if isInt {
		tok.Int = parseInt(raw)
	} else {
		tok.Real = parseReal(raw)
	}
	return tok, nil
}

func parseInt(raw []byte) int64 {
	var v int64
	neg := false
	for _, c := range raw {
		switch {
		case c == '-':
			neg = true
		case c == '+':
		case c >= '0' && c <= '9':
			v = v*10 + int64(c-'0')
		}
	}
	if neg {
		return -v
	}
	return v
}

func parseReal(raw []byte) float64 {
	var intPart, fracPart float64
	var fracDiv float64 = 1
	neg := false
	seenDot := false
	for _, c := range raw {
		switch {
		case c == '-':
			neg = true
		case c == '+':
		case c == '.':
			seenDot = true
		case c >= '0' && c <= '9':
			if seenDot {
				fracDiv *= 10
				fracPart = fracPart*10 + float64(c-'0')
			} else {
				intPart = intPart*10 + float64(c-'0')
			}
		}
	}
	v := intPart + fracPart/fracDiv
	if neg {
		return -v
	}
	return v
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	var raw []byte
	for {
		if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		raw = append(raw, c)
		s.pos++
	}
	word := string(raw)
	switch word {
	case "true":
		return Token{Type: TokenBoolean, Bool: true, Pos: start}, nil
	case "false":
		return Token{Type: TokenBoolean, Bool: false, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStreamPayload(start)
	}
	return Token{Type: TokenKeyword, Str: word, Pos: start}, nil
}

// scanStreamPayload reads the bytes between 'stream' and 'endstream'.
// A length hint set via SetNextStreamLength takes priority; without
// one the payload boundary is found by searching for the keyword.
func (s *pdfScanner) scanStreamPayload(start int64) (Token, error) {
	// Consume the EOL after 'stream' (CRLF or LF).
	if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	length := s.nextStreamLen
	s.nextStreamLen = -1
	if s.cfg.MaxStreamLength > 0 && length > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream exceeds limit")
	}
	if length >= 0 {
		if err := s.ensure(s.pos + length); err != nil && s.pos+length > int64(len(s.data)) {
			return Token{}, errors.New("stream truncated")
		}
		data := append([]byte(nil), s.data[s.pos:s.pos+length]...)
		s.pos += length
		s.skipToEndstream()
		return Token{Type: TokenStream, Bytes: data, Pos: start}, nil
	}
	// No hint: scan forward for 'endstream'.
	for {
		idx := bytes.Index(s.data[s.pos:], []byte("endstream"))
		if idx >= 0 {
			end := s.pos + int64(idx)
			data := s.data[s.pos:end]
			// Trim the EOL that precedes the keyword.
			data = bytes.TrimRight(data, "\r\n")
			out := append([]byte(nil), data...)
			s.pos = end + int64(len("endstream"))
			return Token{Type: TokenStream, Bytes: out, Pos: start}, nil
		}
		if s.eof {
			return Token{}, errors.New("endstream not found")
		}
		if err := s.loadMore(); err != nil {
			return Token{}, err
		}
	}
}

func (s *pdfScanner) skipToEndstream() {
	for {
		idx := bytes.Index(s.data[s.pos:], []byte("endstream"))
		if idx >= 0 {
			s.pos += int64(idx) + int64(len("endstream"))
			return
		}
		if s.eof {
			return
		}
		if s.loadMore() != nil {
			return
		}
	}
}
