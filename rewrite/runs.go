package rewrite

import (
	"github.com/examsec/pdfveil/contentstream"
)

// ExtractRuns builds one TextRun per text-showing record. measure may
// be nil, leaving widths at the character-count-free zero value for
// callers that position edits without width accounting.
func ExtractRuns(records []contentstream.OperatorRecord, page int, measure Measurer) []TextRun {
	var runs []TextRun
	for i := range records {
		rec := &records[i]
		if !rec.IsShow() {
			continue
		}
		run := TextRun{
			Page:         page,
			Index:        len(runs),
			SourceIndex:  rec.Index,
			Text:         rec.Text(),
			FontRes:      rec.FontRes,
			FontSize:     rec.FontSize,
			Matrix:       rec.TextMatrix,
			CharSpacing:  rec.CharSpacing,
			WordSpacing:  rec.WordSpacing,
			HorizScaling: rec.HorizScaling,
			Rise:         rec.Rise,
		}
		if measure != nil {
			run.Width = RunWidth(rec, measure)
		}
		runs = append(runs, run)
	}
	return runs
}
