package metrics

import (
	"bytes"
	"fmt"

	"github.com/go-text/typesetting/di"
	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

// MeasureShaped returns the advance width of text at the given size by
// actually shaping it, kerning and ligatures included. This is the live
// measurement the run merger falls back to when the sidecar has no
// entry for a substring.
func MeasureShaped(fontData []byte, text string, size float64) (float64, error) {
	if len(fontData) == 0 {
		return 0, fmt.Errorf("measure: empty font data")
	}
	face, err := gofont.ParseTTF(bytes.NewReader(fontData))
	if err != nil {
		return 0, fmt.Errorf("measure: %w", err)
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return 0, nil
	}

	shaper := &shaping.HarfbuzzShaper{}
	// Shape at 1000 units per em so advances come back in PDF glyph
	// space and scale linearly with the font size.
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: di.DirectionLTR,
		Face:      face,
		Size:      fixed.Int26_6(1000 * 64),
		Script:    language.Latin,
		Language:  language.DefaultLanguage(),
	}
	output := shaper.Shape(input)

	total := 0.0
	for _, g := range output.Glyphs {
		total += float64(g.XAdvance) / 64.0
	}
	return total / 1000.0 * size, nil
}
