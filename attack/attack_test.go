package attack

import (
	"errors"
	"os"
	"testing"

	"github.com/examsec/pdfveil/contentstream"
	"github.com/examsec/pdfveil/coords"
	"github.com/examsec/pdfveil/fontgen"
	"github.com/examsec/pdfveil/metrics"
)

func TestResolveAnchor_ExactSlice(t *testing.T) {
	stem := "The value is 50."
	start, end, err := ResolveAnchor(stem, Entity{Input: "50", Output: "40", AnchorStart: 13, AnchorEnd: 15})
	if err != nil {
		t.Fatalf("ResolveAnchor: %v", err)
	}
	if start != 13 || end != 15 {
		t.Errorf("anchor = [%d,%d), want [13,15)", start, end)
	}
}

func TestResolveAnchor_RepairsByUniqueOccurrence(t *testing.T) {
	stem := "The value is 50."
	start, end, err := ResolveAnchor(stem, Entity{Input: "50", Output: "40", AnchorStart: 3, AnchorEnd: 5})
	if err != nil {
		t.Fatalf("ResolveAnchor: %v", err)
	}
	if got := string([]rune(stem)[start:end]); got != "50" {
		t.Errorf("repaired anchor slices %q, want %q", got, "50")
	}
}

func TestResolveAnchor_Unanchored(t *testing.T) {
	start, end, err := ResolveAnchor("pick option B below", Entity{Input: "B", Output: "C", AnchorStart: -1, AnchorEnd: -1})
	if err != nil {
		t.Fatalf("ResolveAnchor: %v", err)
	}
	if start != 12 || end != 13 {
		t.Errorf("anchor = [%d,%d), want [12,13)", start, end)
	}
}

func TestResolveAnchor_AmbiguousFails(t *testing.T) {
	_, _, err := ResolveAnchor("5 plus 5 is 10", Entity{Input: "5", Output: "4", AnchorStart: -1, AnchorEnd: -1})
	if !errors.Is(err, ErrUnresolvableAnchor) {
		t.Fatalf("err = %v, want ErrUnresolvableAnchor", err)
	}
}

func TestResolveAnchor_MissingFails(t *testing.T) {
	_, _, err := ResolveAnchor("nothing here", Entity{Input: "50", Output: "40", AnchorStart: -1, AnchorEnd: -1})
	if !errors.Is(err, ErrUnresolvableAnchor) {
		t.Fatalf("err = %v, want ErrUnresolvableAnchor", err)
	}
}

func TestDetectCase(t *testing.T) {
	cases := []struct {
		token string
		want  CasePattern
	}{
		{"paris", CaseLower},
		{"PARIS", CaseUpper},
		{"Paris", CaseTitle},
		{"PaRis", CaseMixed},
		{"50.", CaseLower},
		{"iPhone", CaseMixed},
	}
	for _, tc := range cases {
		if got := DetectCase(tc.token); got != tc.want {
			t.Errorf("DetectCase(%q) = %s, want %s", tc.token, got, tc.want)
		}
	}
}

func TestMatchCase(t *testing.T) {
	cases := []struct {
		source, text, want string
	}{
		{"PARIS", "london", "LONDON"},
		{"paris", "LONDON", "london"},
		{"Paris", "london", "London"},
		{"PaRiS", "london", "LoNdOn"},
		{"pA", "xYZ", "xYZ"},
		{"Ab", "wxyz", "Wxyz"},
	}
	for _, tc := range cases {
		if got := MatchCase(tc.source, tc.text); got != tc.want {
			t.Errorf("MatchCase(%q, %q) = %q, want %q", tc.source, tc.text, got, tc.want)
		}
	}
}

func TestEntity_CharPairs(t *testing.T) {
	pairs := Entity{Input: "50", Output: "40x"}.CharPairs()
	want := []FontMapping{{'5', '4'}, {'0', '0'}}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

type fakeRegistry struct {
	byPath map[string]string
}

func (r *fakeRegistry) Resource(path string) (string, error) {
	if r.byPath == nil {
		r.byPath = map[string]string{}
	}
	if name, ok := r.byPath[path]; ok {
		return name, nil
	}
	name := "Fp" + string(rune('0'+len(r.byPath)))
	r.byPath[path] = name
	return name, nil
}

const testFont = "../testdata/DejaVuSans.ttf"

func newTestCompositor(t *testing.T) (*Compositor, *fakeRegistry) {
	t.Helper()
	if _, err := os.Stat(testFont); err != nil {
		t.Skipf("test font not available: %v", err)
	}
	builder, err := fontgen.NewBuilder(testFont, t.TempDir())
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	cache, err := metrics.Open(t.TempDir())
	if err != nil {
		t.Fatalf("metrics.Open: %v", err)
	}
	reg := &fakeRegistry{}
	return NewCompositor(builder, cache, reg), reg
}

func TestComposeToken_EqualLength(t *testing.T) {
	c, reg := newTestCompositor(t)
	ops, err := c.ComposeToken(Entity{Input: "50", Output: "40"}, Layout{
		Origin:      coords.Point{X: 72, Y: 700},
		FontSize:    12,
		BaseFontRes: "F1",
	})
	if err != nil {
		t.Fatalf("ComposeToken: %v", err)
	}
	if ops[0].Operator != "BT" || ops[len(ops)-1].Operator != "ET" {
		t.Fatal("composed token is not a closed text object")
	}
	var shown []byte
	for _, op := range ops {
		if op.Operator == "Tj" {
			str := op.Operands[0].(contentstream.StringOperand)
			shown = append(shown, str.Value...)
		}
	}
	// Extraction must read the output entity.
	if string(shown) != "40" {
		t.Errorf("shown codepoints = %q, want %q", shown, "40")
	}
	// Only the differing character needs a pair font; identical
	// characters draw from the base font.
	if len(reg.byPath) != 1 {
		t.Errorf("registered %d pair fonts, want 1", len(reg.byPath))
	}
}

func TestComposeToken_InputLongerPadsThinSpace(t *testing.T) {
	c, _ := newTestCompositor(t)
	ops, err := c.ComposeToken(Entity{Input: "ABC", Output: "XY"}, Layout{
		Origin:      coords.Point{X: 72, Y: 700},
		FontSize:    12,
		BaseFontRes: "F1",
	})
	if err != nil {
		t.Fatalf("ComposeToken: %v", err)
	}
	var last contentstream.StringOperand
	n := 0
	for _, op := range ops {
		if op.Operator == "Tj" {
			last = op.Operands[0].(contentstream.StringOperand)
			n++
		}
	}
	if n != 3 {
		t.Fatalf("got %d shows, want 3", n)
	}
	// The surplus input position shows the thin-space codepoint.
	pad := fontgen.ThinSpaceFiller
	want := []byte{byte(pad >> 8), byte(pad)}
	if string(last.Value) != string(want) {
		t.Errorf("padding codepoint = %x, want %x", last.Value, want)
	}
}

func TestComposeToken_OutputLongerZeroWidth(t *testing.T) {
	c, _ := newTestCompositor(t)
	ops, err := c.ComposeToken(Entity{Input: "XY", Output: "ABC"}, Layout{
		Origin:      coords.Point{X: 72, Y: 700},
		FontSize:    12,
		BaseFontRes: "F1",
	})
	if err != nil {
		t.Fatalf("ComposeToken: %v", err)
	}
	var shown []byte
	for _, op := range ops {
		if op.Operator == "Tj" {
			shown = append(shown, op.Operands[0].(contentstream.StringOperand).Value...)
		}
	}
	if string(shown) != "ABC" {
		t.Errorf("shown codepoints = %q, want %q", shown, "ABC")
	}
}

func TestComposeToken_WrapsAtRightMargin(t *testing.T) {
	c, _ := newTestCompositor(t)
	ops, err := c.ComposeToken(Entity{Input: "WWWWWWWW", Output: "MMMMMMMM"}, Layout{
		Origin:      coords.Point{X: 72, Y: 700},
		RightMargin: 90,
		Leading:     14,
		FontSize:    12,
		BaseFontRes: "F1",
	})
	if err != nil {
		t.Fatalf("ComposeToken: %v", err)
	}
	tms := 0
	for _, op := range ops {
		if op.Operator == "Tm" {
			tms++
		}
	}
	if tms < 2 {
		t.Errorf("expected a line wrap, got %d Tm operators", tms)
	}
}
