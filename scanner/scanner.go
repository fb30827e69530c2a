package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/examsec/pdfveil/recovery"
)

type TokenType int

const (
	TokenDictStart   TokenType = iota // '<<'
	TokenDictEnd                      // '>>'
	TokenArrayStart                   // '['
	TokenArrayEnd                     // ']'
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenInlineImage                  // raw bytes between ID and EI
	TokenKeyword                      // operators and other bare keywords
)

// Token is one lexical unit of a content stream. String payloads keep
// track of whether they came from a hex literal, since hex strings are
// opaque byte sequences that must not be re-encoded as text.
type Token struct {
	Type  TokenType
	Pos   int
	Str   string
	Bytes []byte
	Num   float64
	Int   int64
	IsInt bool
	Bool  bool
	Hex   bool
}

type Config struct {
	MaxStringLength int
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxInlineImage  int
	Recovery        recovery.Strategy
}

// Scanner tokenizes a fully decoded, in-memory content stream.
// Content streams arrive already decompressed, so unlike a file-level
// PDF scanner there is no windowed reading here.
type Scanner struct {
	data       []byte
	pos        int
	cfg        Config
	arrayDepth int
	dictDepth  int
}

func New(data []byte, cfg Config) *Scanner {
	return &Scanner{data: data, cfg: cfg}
}

func (s *Scanner) Position() int { return s.pos }

// Next returns the next token, or io.EOF at end of stream.
func (s *Scanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= len(s.data) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDictStart, Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenDictEnd, Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: ">", Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArrayStart, Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenArrayEnd, Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case '{', '}':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
	}
	if isNumberStart(c) {
		return s.scanNumber()
	}
	return s.scanKeyword()
}

func (s *Scanner) skipWSAndComments() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < len(s.data) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peek(n int) byte {
	if s.pos+n >= len(s.data) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < len(s.data) {
			s.pos++
			a := fromHex(s.data[s.pos])
			s.pos++
			b := fromHex(s.data[s.pos])
			s.pos++
			out.WriteByte((a << 4) | b)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

// scanLiteralString handles PDF 7.3.4.2 literal strings: balanced
// parentheses, backslash escapes, octal escapes, line continuations.
func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '\\' {
			s.pos++
			if s.pos >= len(s.data) {
				break
			}
			esc := s.data[s.pos]
			if esc == '\r' {
				s.pos++
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
				continue
			}
			if esc == '\n' {
				s.pos++
				continue
			}
			if esc >= '0' && esc <= '7' {
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.pos < len(s.data); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
				continue
			}
			buf.WriteByte(translateEscape(esc))
			s.pos++
			continue
		}
		if c == '(' {
			depth++
			buf.WriteByte(c)
			s.pos++
			continue
		}
		if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
			buf.WriteByte(c)
			s.pos++
			continue
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && buf.Len() > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("literal string too long"), "literal")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var hexbuf []byte
	closed := false
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		hexbuf = append(hexbuf, c)
		s.pos++
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	if s.cfg.MaxStringLength > 0 && len(hexbuf)/2 > s.cfg.MaxStringLength {
		return Token{}, s.recover(errors.New("hex string too long"), "hex")
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, (fromHex(hexbuf[i])<<4)|fromHex(hexbuf[i+1]))
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

func (s *Scanner) scanNumber() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	isInt := true
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || (c >= '0' && c <= '9') {
			buf.WriteByte(c)
			s.pos++
			continue
		}
		if c == '.' {
			isInt = false
			buf.WriteByte(c)
			s.pos++
			continue
		}
		break
	}
	str := buf.String()
	if isInt {
		if i, err := strconv.ParseInt(str, 10, 64); err == nil {
			return s.emit(Token{Type: TokenNumber, Int: i, Num: float64(i), IsInt: true, Pos: start})
		}
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return Token{}, s.recover(errors.New("invalid number "+strconv.Quote(str)), "number")
	}
	return s.emit(Token{Type: TokenNumber, Num: f, Pos: start})
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	if kw == "" {
		// Non-delimiter, non-keyword byte: consume it so the scanner
		// cannot loop forever on garbage.
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start})
	}
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "ID":
		return s.scanInlineImage(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

// scanInlineImage consumes raw bytes after ID until an EI delimiter
// preceded by whitespace. The image parameters were already emitted as
// ordinary tokens before the ID keyword.
func (s *Scanner) scanInlineImage(start int) (Token, error) {
	if s.pos < len(s.data) && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	for s.pos+1 < len(s.data) {
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' {
			prevOK := s.pos > dataStart && isWhitespace(s.data[s.pos-1])
			nextOK := s.pos+2 >= len(s.data) || isDelimiter(s.data[s.pos+2])
			if prevOK && nextOK {
				payload := append([]byte(nil), s.data[dataStart:s.pos-1]...)
				if s.cfg.MaxInlineImage > 0 && len(payload) > s.cfg.MaxInlineImage {
					return Token{}, s.recover(errors.New("inline image too long"), "inline_image")
				}
				s.pos += 2
				return s.emit(Token{Type: TokenInlineImage, Bytes: payload, Pos: start})
			}
		}
		s.pos++
	}
	return Token{}, s.recover(errors.New("unterminated inline image"), "inline_image")
}

func (s *Scanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	action := s.cfg.Recovery.OnError(err, recovery.Location{
		ByteOffset: int64(s.pos),
		Component:  "scanner:" + loc,
	})
	switch action {
	case recovery.ActionSkip, recovery.ActionFix:
		return nil
	default:
		return err
	}
}

func (s *Scanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArrayStart:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, s.recover(errors.New("array depth exceeded"), "array")
		}
	case TokenArrayEnd:
		if s.arrayDepth == 0 {
			return Token{}, s.recover(errors.New("array depth underflow"), "array")
		}
		s.arrayDepth--
	case TokenDictStart:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, s.recover(errors.New("dict depth exceeded"), "dict")
		}
	case TokenDictEnd:
		if s.dictDepth == 0 {
			return Token{}, s.recover(errors.New("dict depth underflow"), "dict")
		}
		s.dictDepth--
	}
	return tok, nil
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
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
	default:
		return c
	}
}
