package ocr

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// tjSpacing is the TJ kerning adjustment, in thousandths of an em, past which
// a gap is read as a word break.
const tjSpacing = -200

// ShownText returns the strings drawn by the text-showing operators (Tj, TJ,
// ' and ") of one page content stream. Line moves become newlines. Strings
// are decoded as UTF-16BE when they carry a byte order mark and as Latin-1
// otherwise; glyphs from fonts with custom encodings come out as raw codes.
func ShownText(stream []byte) string {
	lx := &lexer{src: stream}
	var (
		out      strings.Builder
		operands []any
	)
	newline := func() { out.WriteByte('\n') }

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		op, isOp := tok.(operator)
		if !isOp {
			operands = append(operands, tok)
			continue
		}
		switch op {
		case "Tj":
			out.WriteString(lastString(operands))
		case "'":
			newline()
			out.WriteString(lastString(operands))
		case "\"":
			newline()
			out.WriteString(lastString(operands))
		case "TJ":
			if len(operands) > 0 {
				if arr, ok := operands[len(operands)-1].([]any); ok {
					for _, item := range arr {
						switch v := item.(type) {
						case string:
							out.WriteString(v)
						case float64:
							if v < tjSpacing {
								out.WriteByte(' ')
							}
						}
					}
				}
			}
		case "T*", "ET":
			newline()
		case "Td", "TD":
			if len(operands) >= 2 {
				if ty, ok := operands[len(operands)-1].(float64); ok && ty != 0 {
					newline()
					break
				}
			}
			out.WriteByte(' ')
		case "Tm":
			newline()
		case "ID":
			lx.skipInlineImage()
		}
		operands = operands[:0]
	}
	return tidy(out.String())
}

func lastString(operands []any) string {
	for i := len(operands) - 1; i >= 0; i-- {
		if s, ok := operands[i].(string); ok {
			return s
		}
	}
	return ""
}

// tidy collapses runs of spaces, trims every line and drops blank ones.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

type operator string

type lexer struct {
	src []byte
	pos int
}

func isWhite(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isWhite(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
		default:
			return
		}
	}
}

// next returns the next token: a string, float64, []any, name or operator.
// Dictionaries are skipped whole.
func (l *lexer) next() (any, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return nil, false
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return decodeText(l.literal()), true
	case c == '<' && l.peek(1) == '<':
		l.skipDict()
		return l.next()
	case c == '<':
		l.pos++
		return decodeText(l.hex()), true
	case c == '[':
		l.pos++
		var arr []any
		for {
			l.skipSpace()
			if l.pos >= len(l.src) {
				return arr, true
			}
			if l.src[l.pos] == ']' {
				l.pos++
				return arr, true
			}
			tok, ok := l.next()
			if !ok {
				return arr, true
			}
			arr = append(arr, tok)
		}
	case c == ']' || c == ')' || c == '>' || c == '{' || c == '}':
		l.pos++
		return l.next()
	case c == '/':
		start := l.pos
		l.pos++
		l.regular()
		return name(l.src[start:l.pos]), true
	}
	start := l.pos
	l.regular()
	word := string(l.src[start:l.pos])
	if f, err := strconv.ParseFloat(word, 64); err == nil {
		return f, true
	}
	return operator(word), true
}

type name string

func (l *lexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) regular() {
	for l.pos < len(l.src) && !isWhite(l.src[l.pos]) && !isDelim(l.src[l.pos]) {
		l.pos++
	}
}

func (l *lexer) literal() []byte {
	var buf []byte
	depth := 1
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return buf
			}
			buf = append(buf, c)
		case '\\':
			if l.pos >= len(l.src) {
				return buf
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '\r':
				if l.pos < len(l.src) && l.src[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
						v = v*8 + int(l.src[l.pos]-'0')
						l.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		default:
			buf = append(buf, c)
		}
	}
	return buf
}

func (l *lexer) hex() []byte {
	var (
		buf  []byte
		hi   byte
		half bool
	)
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		v, ok := hexValue(c)
		if !ok {
			continue
		}
		if half {
			buf = append(buf, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		buf = append(buf, hi<<4)
	}
	return buf
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (l *lexer) skipDict() {
	depth := 0
	for l.pos < len(l.src) {
		switch {
		case l.src[l.pos] == '<' && l.peek(1) == '<':
			depth++
			l.pos += 2
		case l.src[l.pos] == '>' && l.peek(1) == '>':
			depth--
			l.pos += 2
			if depth == 0 {
				return
			}
		case l.src[l.pos] == '(':
			l.pos++
			l.literal()
		default:
			l.pos++
		}
	}
}

// skipInlineImage moves past the binary data of an inline image up to and
// including its EI operator.
func (l *lexer) skipInlineImage() {
	if l.pos < len(l.src) && isWhite(l.src[l.pos]) {
		l.pos++
	}
	for l.pos+1 < len(l.src) {
		if l.src[l.pos] == 'E' && l.src[l.pos+1] == 'I' &&
			(l.pos == 0 || isWhite(l.src[l.pos-1])) &&
			(l.pos+2 == len(l.src) || isWhite(l.src[l.pos+2])) {
			l.pos += 2
			return
		}
		l.pos++
	}
	l.pos = len(l.src)
}

func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		b = b[2:]
		units := make([]uint16, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
