package rewrite

import (
	"strings"

	"github.com/examsec/pdfveil/contentstream"
)

// ExtractText decodes the text an operator stream shows, in operator
// order, the way a text extractor reads it. Used to assert extraction
// divergence and round-trip fidelity on merged streams.
func ExtractText(ops []contentstream.Operation) (string, error) {
	tracker := contentstream.NewStateTracker()
	records, err := tracker.Track(ops)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := range records {
		b.WriteString(records[i].Text())
	}
	return b.String(), nil
}
