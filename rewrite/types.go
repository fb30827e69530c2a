package rewrite

import (
	"errors"

	"github.com/examsec/pdfveil/contentstream"
	"github.com/examsec/pdfveil/coords"
)

// ErrAmbiguousMatch reports match segments that are disjoint or
// overlapping in the target text and therefore cannot be rewritten
// inline. The merger recovers by forcing isolation; callers never see
// this error surfaced.
var ErrAmbiguousMatch = errors.New("ambiguous match segments")

// Span is a logical piece of extracted text produced by the structuring
// stage, carrying optional page geometry.
type Span struct {
	Page int
	Text string
	BBox [4]float64
}

// SpanSlice points at a character sub-range of a span.
type SpanSlice struct {
	Span  *Span
	Start int
	End   int
}

// SegmentRole orders the pieces a replacement partitions a run into.
type SegmentRole int

const (
	RolePrefix SegmentRole = iota
	RoleMatch
	RoleSuffix
)

func (r SegmentRole) String() string {
	switch r {
	case RolePrefix:
		return "prefix"
	case RoleMatch:
		return "match"
	case RoleSuffix:
		return "suffix"
	}
	return "unknown"
}

// ReplacementSegment is one planned piece of a rewritten run. For
// prefix and suffix roles Text is the preserved slice of the original
// run text; for match roles it is the portion of the replacement text
// assigned to this operator. LocalStart/LocalEnd index the run's
// original text. TargetStart/TargetEnd index the full replacement text
// and are only meaningful for match segments.
type ReplacementSegment struct {
	OperatorIndex int
	Role          SegmentRole
	Text          string
	LocalStart    int
	LocalEnd      int
	TargetStart   int
	TargetEnd     int
	Slices        []SpanSlice

	Matrix   coords.Matrix
	FontRes  string
	FontSize float64
	Width    float64

	RequiresIsolation bool

	// Overlay holds prebuilt operations drawn in the match's slot,
	// between the preserved prefix and suffix. It forces isolation.
	Overlay []contentstream.Operation
}

// ReplacementPlan is the ordered set of segments realizing one
// substitution on one page. Segments are totally ordered by
// (OperatorIndex, LocalStart).
type ReplacementPlan struct {
	Page        int
	Original    string
	Replacement string
	Segments    []ReplacementSegment
}

// OperatorIndices returns the distinct operator indices the plan
// touches, in order.
func (p *ReplacementPlan) OperatorIndices() []int {
	var out []int
	for _, seg := range p.Segments {
		if len(out) == 0 || out[len(out)-1] != seg.OperatorIndex {
			out = append(out, seg.OperatorIndex)
		}
	}
	return out
}

// TextRun is a decoded, positioned piece of text belonging to one page.
type TextRun struct {
	Page        int
	Index       int
	SourceIndex int
	Text        string
	FontRes     string
	FontSize    float64
	Matrix      coords.Matrix
	Width       float64

	CharSpacing  float64
	WordSpacing  float64
	HorizScaling float64
	Rise         float64
}

// Measurer resolves the rendered width of text in a page font resource
// at a given size, in text-space points. The second return is false
// when no metrics source can serve the font.
type Measurer interface {
	Width(fontRes, text string, size float64) (float64, bool)
}

// FontResources answers for and extends a page's font resource
// dictionary. Ensure must create a minimal entry when the name is not
// yet present, so every emitted Tf resolves.
type FontResources interface {
	Has(name string) bool
	Ensure(name string)
}
