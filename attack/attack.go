// Package attack selects and renders adversarial text substitutions:
// anchor-verified entity mappings, casing-matched replacement text, and
// the glyph compositor that draws one codepoint with another's outline.
package attack

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvableAnchor reports a substitution whose claimed character
// offsets do not slice its input out of the source text and whose input
// occurs either never or more than once elsewhere. The substitution is
// dropped; others in the same document proceed.
var ErrUnresolvableAnchor = errors.New("unresolvable anchor")

// AttackMode is the closed set of perturbation strategies.
type AttackMode int

const (
	// ModePrevention rewrites content so assistants refuse or fail to
	// answer.
	ModePrevention AttackMode = iota
	// ModeDetectionCodeGlyph makes extracted text diverge from rendered
	// glyphs via pair fonts.
	ModeDetectionCodeGlyph
	// ModeDetectionHiddenText plants extractable text drawn invisibly.
	ModeDetectionHiddenText
)

func (m AttackMode) String() string {
	switch m {
	case ModePrevention:
		return "prevention"
	case ModeDetectionCodeGlyph:
		return "detection/code-glyph"
	case ModeDetectionHiddenText:
		return "detection/hidden-text"
	}
	return "unknown"
}

// QuestionKind is the closed set of question types the attack layer
// distinguishes when choosing replacement entities.
type QuestionKind int

const (
	QuestionMultipleChoice QuestionKind = iota
	QuestionNumeric
	QuestionTrueFalse
	QuestionFreeText
)

func (k QuestionKind) String() string {
	switch k {
	case QuestionMultipleChoice:
		return "multiple-choice"
	case QuestionNumeric:
		return "numeric"
	case QuestionTrueFalse:
		return "true-false"
	case QuestionFreeText:
		return "free-text"
	}
	return "unknown"
}

// Entity is one substitution unit before it becomes content-stream
// segments: the text an extractor should read (Output) in place of what
// the document shows (Input), with an optional anchor into the stem.
type Entity struct {
	Input  string
	Output string

	// AnchorStart/AnchorEnd are rune offsets into the source stem
	// claiming where Input lives. Negative means unanchored.
	AnchorStart int
	AnchorEnd   int
}

// FontMapping pairs one input character with the output character whose
// codepoint replaces it.
type FontMapping struct {
	Input  rune
	Output rune
}

// CharPairs expands an entity into per-position font mappings over the
// shorter of the two texts. Length mismatches are handled by the
// compositor's padding, not here.
func (e Entity) CharPairs() []FontMapping {
	in := []rune(e.Input)
	out := []rune(e.Output)
	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	pairs := make([]FontMapping, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, FontMapping{Input: in[i], Output: out[i]})
	}
	return pairs
}

// ResolveAnchor verifies that an entity's anchor slices its input out of
// the stem. A wrong or missing anchor is repaired when the input occurs
// exactly once in the stem; otherwise the substitution is unresolvable.
func ResolveAnchor(stem string, e Entity) (start, end int, err error) {
	runes := []rune(stem)
	inLen := len([]rune(e.Input))
	if e.AnchorStart >= 0 && e.AnchorEnd >= e.AnchorStart && e.AnchorEnd <= len(runes) {
		if string(runes[e.AnchorStart:e.AnchorEnd]) == e.Input {
			return e.AnchorStart, e.AnchorEnd, nil
		}
	}
	if e.Input == "" {
		return 0, 0, fmt.Errorf("%w: empty input entity", ErrUnresolvableAnchor)
	}
	first := strings.Index(stem, e.Input)
	if first < 0 {
		return 0, 0, fmt.Errorf("%w: %q not found in stem", ErrUnresolvableAnchor, e.Input)
	}
	if strings.Index(stem[first+len(e.Input):], e.Input) >= 0 {
		return 0, 0, fmt.Errorf("%w: %q occurs more than once in stem", ErrUnresolvableAnchor, e.Input)
	}
	start = len([]rune(stem[:first]))
	return start, start + inLen, nil
}
