package rewrite

import (
	"strings"

	"github.com/examsec/pdfveil/contentstream"
)

// RunWidth computes the text-space width of a show record: the measured
// glyph advances plus char/word spacing, minus TJ kerning adjustments,
// scaled by horizontal scaling. Returns 0 when the measurer cannot
// serve the record's font.
func RunWidth(rec *contentstream.OperatorRecord, measure Measurer) float64 {
	text := rec.Text()
	if text == "" {
		return 0
	}
	base, ok := measure.Width(rec.FontRes, text, rec.FontSize)
	if !ok {
		return 0
	}
	w := base + spacingWidth(text, rec.CharSpacing, rec.WordSpacing)
	for _, adj := range rec.Adjustments {
		w -= adj.Value / 1000 * rec.FontSize
	}
	return w * scaling(rec.HorizScaling)
}

// SegmentWidth measures a text slice against a record's font and
// spacing state, without kerning adjustments.
func SegmentWidth(rec *contentstream.OperatorRecord, text string, measure Measurer) (float64, bool) {
	if text == "" {
		return 0, true
	}
	base, ok := measure.Width(rec.FontRes, text, rec.FontSize)
	if !ok {
		return 0, false
	}
	w := base + spacingWidth(text, rec.CharSpacing, rec.WordSpacing)
	return w * scaling(rec.HorizScaling), true
}

// ProportionalWidth apportions a run's total width to a sub-range by
// character count. The deterministic last-resort of the width
// resolution chain.
func ProportionalWidth(total float64, text string, start, end int) float64 {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if end <= start {
		return 0
	}
	return total * float64(end-start) / float64(n)
}

func spacingWidth(text string, charSpacing, wordSpacing float64) float64 {
	n := len([]rune(text))
	return charSpacing*float64(n) + wordSpacing*float64(strings.Count(text, " "))
}

func scaling(horiz float64) float64 {
	if horiz == 0 {
		return 1
	}
	return horiz / 100
}
