package scanner

import (
	"bytes"
	"io"
	"testing"

	"github.com/examsec/pdfveil/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) *Scanner {
	t.Helper()
	return New([]byte(data), cfg)
}

func nextToken(t *testing.T, s *Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_TextShowingOperators(t *testing.T) {
	s := newScanner(t, "BT /F1 12 Tf (Hello) Tj ET", Config{})

	if tok := nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "BT" {
		t.Fatalf("expected BT, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "F1" {
		t.Fatalf("expected /F1, got %+v", tok)
	}
	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 12 {
		t.Fatalf("expected size 12, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "Tf" {
		t.Fatalf("expected Tf, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenString || string(tok.Bytes) != "Hello" || tok.Hex {
		t.Fatalf("expected literal string Hello, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "Tj" {
		t.Fatalf("expected Tj, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "ET" {
		t.Fatalf("expected ET, got %+v", tok)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_KernedArray(t *testing.T) {
	s := newScanner(t, "[(He) -20 (llo)] TJ", Config{})

	if tok := nextToken(t, s); tok.Type != TokenArrayStart {
		t.Fatalf("expected array start, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenString || string(tok.Bytes) != "He" {
		t.Fatalf("expected He, got %+v", tok)
	}
	tok := nextToken(t, s)
	if tok.Type != TokenNumber || tok.Int != -20 {
		t.Fatalf("expected -20, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenString || string(tok.Bytes) != "llo" {
		t.Fatalf("expected llo, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArrayEnd {
		t.Fatalf("expected array end, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "TJ" {
		t.Fatalf("expected TJ, got %+v", tok)
	}
}

func TestScanner_HexStringKind(t *testing.T) {
	s := newScanner(t, "<48656C6C6F> Tj", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenString || !tok.Hex {
		t.Fatalf("expected hex string token, got %+v", tok)
	}
	if !bytes.Equal(tok.Bytes, []byte("Hello")) {
		t.Fatalf("expected decoded Hello, got %q", tok.Bytes)
	}
}

func TestScanner_HexStringOddNibbles(t *testing.T) {
	s := newScanner(t, "<48656C6C6F2> Tj", Config{})
	tok := nextToken(t, s)
	if !bytes.Equal(tok.Bytes, []byte("Hello ")) {
		t.Fatalf("expected odd nibble padded with 0, got %q", tok.Bytes)
	}
}

func TestScanner_LiteralEscapes(t *testing.T) {
	s := newScanner(t, `(a\(b\)c\\d\101) Tj`, Config{})
	tok := nextToken(t, s)
	if string(tok.Bytes) != `a(b)c\dA` {
		t.Fatalf("unexpected decode: %q", tok.Bytes)
	}
}

func TestScanner_NestedParens(t *testing.T) {
	s := newScanner(t, "(a (nested) b) Tj", Config{})
	tok := nextToken(t, s)
	if string(tok.Bytes) != "a (nested) b" {
		t.Fatalf("unexpected decode: %q", tok.Bytes)
	}
}

func TestScanner_NegativeReal(t *testing.T) {
	s := newScanner(t, "-12.5 0 Td", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenNumber || tok.IsInt || tok.Num != -12.5 {
		t.Fatalf("expected -12.5, got %+v", tok)
	}
}

func TestScanner_NameHexEscape(t *testing.T) {
	s := newScanner(t, "/A#20B cs", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenName || tok.Str != "A B" {
		t.Fatalf("expected name 'A B', got %+v", tok)
	}
}

func TestScanner_UnterminatedStringStrict(t *testing.T) {
	s := newScanner(t, "(oops", Config{Recovery: recovery.NewStrictStrategy()})
	if _, err := s.Next(); err == nil {
		t.Fatal("expected error for unterminated string under strict recovery")
	}
}

func TestScanner_UnterminatedStringLenient(t *testing.T) {
	lenient := recovery.NewLenientStrategy()
	s := newScanner(t, "(oops", Config{Recovery: lenient})
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("lenient recovery should fix: %v", err)
	}
	if string(tok.Bytes) != "oops" {
		t.Fatalf("expected salvaged bytes, got %q", tok.Bytes)
	}
	if len(lenient.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(lenient.Errors))
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner(t, "BI /W 2 /H 2 ID \x01\x02\x03\x04 EI Q", Config{})
	var tok Token
	for {
		var err error
		tok, err = s.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.Type == TokenInlineImage {
			break
		}
	}
	if !bytes.Equal(tok.Bytes, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected image payload %v", tok.Bytes)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "Q" {
		t.Fatalf("expected Q after inline image, got %+v", tok)
	}
}

func TestScanner_DepthLimits(t *testing.T) {
	s := newScanner(t, "[[[1]]]", Config{MaxArrayDepth: 2, Recovery: recovery.NewStrictStrategy()})
	var err error
	for err == nil {
		_, err = s.Next()
	}
	if err == io.EOF {
		t.Fatal("expected depth error before EOF")
	}
}
