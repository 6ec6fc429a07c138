package parser

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/wudi/pdfrev/ir/raw"
)

// lexer walks PDF syntax in an in-memory byte slice. It backs both
// file-level parsing and object-stream member parsing.
type lexer struct {
	data []byte
	pos  int
}

var errUnexpectedEOF = errors.New("parser: unexpected end of input")

func isWhitespace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) skipWS() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *lexer) peek() (byte, bool) {
	if l.pos >= len(l.data) {
		return 0, false
	}
	return l.data[l.pos], true
}

// keyword consumes a run of regular characters.
func (l *lexer) keyword() string {
	start := l.pos
	for l.pos < len(l.data) && !isWhitespace(l.data[l.pos]) && !isDelimiter(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// expectKeyword consumes the given keyword or fails.
func (l *lexer) expectKeyword(kw string) error {
	l.skipWS()
	at := l.pos
	if got := l.keyword(); got != kw {
		return fmt.Errorf("parser: expected %q at offset %d, got %q", kw, at, got)
	}
	return nil
}

// expectInt consumes an unsigned integer token.
func (l *lexer) expectInt() (int64, error) {
	l.skipWS()
	at := l.pos
	kw := l.keyword()
	n, err := strconv.ParseInt(kw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parser: expected integer at offset %d: %w", at, err)
	}
	return n, nil
}

// eol consumes one end-of-line marker: LF, CR or CRLF.
func (l *lexer) eol() {
	if l.pos < len(l.data) && l.data[l.pos] == '\r' {
		l.pos++
	}
	if l.pos < len(l.data) && l.data[l.pos] == '\n' {
		l.pos++
	}
}

// parseValue parses one object value: dict, array, name, string,
// number, boolean, null or indirect reference.
func (l *lexer) parseValue() (raw.Object, error) {
	l.skipWS()
	c, ok := l.peek()
	if !ok {
		return nil, errUnexpectedEOF
	}
	switch {
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			return l.parseDict()
		}
		return l.parseHexString()
	case c == '[':
		return l.parseArray()
	case c == '(':
		return l.parseLiteralString()
	case c == '/':
		return l.parseName()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return l.parseNumberOrRef()
	default:
		at := l.pos
		switch kw := l.keyword(); kw {
		case "true":
			return raw.Bool(true), nil
		case "false":
			return raw.Bool(false), nil
		case "null":
			return raw.Null{}, nil
		default:
			return nil, fmt.Errorf("parser: unexpected token %q at offset %d", kw, at)
		}
	}
}

func (l *lexer) parseDict() (raw.Object, error) {
	l.pos += 2 // <<
	dict := raw.NewDict()
	for {
		l.skipWS()
		c, ok := l.peek()
		if !ok {
			return nil, errUnexpectedEOF
		}
		if c == '>' {
			if l.pos+1 >= len(l.data) || l.data[l.pos+1] != '>' {
				return nil, fmt.Errorf("parser: malformed dictionary end at offset %d", l.pos)
			}
			l.pos += 2
			return dict, nil
		}
		if c != '/' {
			return nil, fmt.Errorf("parser: expected name key at offset %d", l.pos)
		}
		key, err := l.parseName()
		if err != nil {
			return nil, err
		}
		val, err := l.parseValue()
		if err != nil {
			return nil, err
		}
		dict.Set(key.(raw.Name), val)
	}
}

func (l *lexer) parseArray() (raw.Object, error) {
	l.pos++ // [
	var arr raw.Array
	for {
		l.skipWS()
		c, ok := l.peek()
		if !ok {
			return nil, errUnexpectedEOF
		}
		if c == ']' {
			l.pos++
			if arr == nil {
				arr = raw.Array{}
			}
			return arr, nil
		}
		item, err := l.parseValue()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func (l *lexer) parseName() (raw.Object, error) {
	l.pos++ // /
	var out []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' && l.pos+2 < len(l.data) {
			hi := hexNibble(l.data[l.pos+1])
			lo := hexNibble(l.data[l.pos+2])
			if hi >= 0 && lo >= 0 {
				out = append(out, byte(hi<<4|lo))
				l.pos += 3
				continue
			}
		}
		out = append(out, c)
		l.pos++
	}
	return raw.Name(out), nil
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

func (l *lexer) parseHexString() (raw.Object, error) {
	l.pos++ // <
	var out []byte
	hi := -1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if hi >= 0 {
				out = append(out, byte(hi<<4)) // odd digit implies trailing zero
			}
			return raw.String{Data: out, Hex: true}, nil
		}
		if isWhitespace(c) {
			continue
		}
		n := hexNibble(c)
		if n < 0 {
			return nil, fmt.Errorf("parser: invalid hex digit %q at offset %d", c, l.pos-1)
		}
		if hi < 0 {
			hi = n
		} else {
			out = append(out, byte(hi<<4|n))
			hi = -1
		}
	}
	return nil, errUnexpectedEOF
}

func (l *lexer) parseLiteralString() (raw.Object, error) {
	l.pos++ // (
	var out []byte
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.data) {
				return nil, errUnexpectedEOF
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, e)
			case '\r':
				// line continuation; swallow an optional LF
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data); i++ {
						o := l.data[l.pos]
						if o < '0' || o > '7' {
							break
						}
						v = v<<3 | int(o-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return raw.String{Data: out}, nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return nil, errUnexpectedEOF
}

// parseNumberOrRef parses a number, upgrading "<num> <gen> R" token
// triples to a reference.
func (l *lexer) parseNumberOrRef() (raw.Object, error) {
	at := l.pos
	tok := l.numberToken()
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		if n >= 0 {
			save := l.pos
			l.skipWS()
			genTok := l.numberToken()
			if gen, err := strconv.ParseInt(genTok, 10, 32); err == nil && gen >= 0 {
				l.skipWS()
				if kw := l.keyword(); kw == "R" {
					return raw.Ref{Num: int(n), Gen: int(gen)}, nil
				}
			}
			l.pos = save
		}
		return raw.Integer(n), nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("parser: invalid number %q at offset %d", tok, at)
	}
	return raw.Real(f), nil
}

func (l *lexer) numberToken() string {
	start := l.pos
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			l.pos++
			continue
		}
		break
	}
	return string(l.data[start:l.pos])
}
