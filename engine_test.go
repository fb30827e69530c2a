package pdfveil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examsec/pdfveil/attack"
	"github.com/examsec/pdfveil/contentstream"
	"github.com/examsec/pdfveil/observability"
	"github.com/examsec/pdfveil/resources"
	"github.com/examsec/pdfveil/rewrite"
	"github.com/examsec/pdfveil/scanner"
)

const testFont = "testdata/DejaVuSans.ttf"

type pageResources struct {
	names map[string]bool
}

func newPageResources(names ...string) *pageResources {
	r := &pageResources{names: map[string]bool{}}
	for _, n := range names {
		r.names[n] = true
	}
	return r
}

func (r *pageResources) Has(name string) bool { return r.names[name] }
func (r *pageResources) Ensure(name string)   { r.names[name] = true }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(NewDefaultConfig(t.TempDir()))
	require.NoError(t, err)
	return e
}

func extractText(t *testing.T, content []byte) string {
	t.Helper()
	ops, err := contentstream.Parse(content, scanner.Config{})
	require.NoError(t, err)
	text, err := rewrite.ExtractText(ops)
	require.NoError(t, err)
	return text
}

func TestConfigValidation(t *testing.T) {
	cfg := NewDefaultConfig(t.TempDir())
	assert.NoError(t, cfg.Validate())

	cfg.FontDir = ""
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig(t.TempDir())
	cfg.FallbackWidthRatio = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig(t.TempDir())
	cfg.WidthTolerance = -1
	assert.Error(t, cfg.Validate())
}

func TestAttackPage_PreventionInline(t *testing.T) {
	e := newTestEngine(t)
	page := Page{
		Number:    0,
		Content:   []byte("BT /F1 12 Tf 10 700 Td (The value is 50.) Tj ET"),
		Resources: newPageResources("F1"),
	}
	res, err := e.AttackPage(page, []Mapping{{
		Original:    "50",
		Replacement: "40",
		StartPos:    13,
		EndPos:      15,
	}}, attack.ModePrevention)
	require.NoError(t, err)
	assert.Equal(t, "The value is 40.", extractText(t, res.Content))
	assert.Equal(t, [][2]string{{"50", "40"}}, res.Applied)
}

type recordingLogger struct {
	msgs []string
}

func (l *recordingLogger) Debug(msg string, _ ...observability.Field) { l.msgs = append(l.msgs, msg) }
func (l *recordingLogger) Info(msg string, _ ...observability.Field)  { l.msgs = append(l.msgs, msg) }
func (l *recordingLogger) Warn(msg string, _ ...observability.Field)  { l.msgs = append(l.msgs, msg) }
func (l *recordingLogger) Error(msg string, _ ...observability.Field) { l.msgs = append(l.msgs, msg) }
func (l *recordingLogger) With(...observability.Field) observability.Logger { return l }

func TestAttackPage_EmitsTimingMetrics(t *testing.T) {
	log := &recordingLogger{}
	e, err := NewEngine(NewDefaultConfig(t.TempDir()), WithLogger(log))
	require.NoError(t, err)
	page := Page{
		Content:   []byte("BT /F1 12 Tf 10 700 Td (The value is 50.) Tj ET"),
		Resources: newPageResources("F1"),
	}
	_, err = e.AttackPage(page, []Mapping{{
		Original:    "50",
		Replacement: "40",
		StartPos:    13,
		EndPos:      15,
	}}, attack.ModePrevention)
	require.NoError(t, err)
	assert.Contains(t, log.msgs, observability.MetricTrackTime)
	assert.Contains(t, log.msgs, observability.MetricMergeTime)
}

func TestAttackPage_PreventionIdentityWithoutMappings(t *testing.T) {
	e := newTestEngine(t)
	content := []byte("q 0.5 0 0 0.5 0 0 cm BT /F1 12 Tf (unchanged) Tj ET Q")
	res, err := e.AttackPage(Page{Content: content}, nil, attack.ModePrevention)
	require.NoError(t, err)
	again, err := contentstream.Parse(content, scanner.Config{})
	require.NoError(t, err)
	assert.Equal(t, string(contentstream.Serialize(again)), string(res.Content))
}

func TestAttackPage_DropsUnresolvableMapping(t *testing.T) {
	e := newTestEngine(t)
	page := Page{Content: []byte("BT /F1 12 Tf (5 and 5 again) Tj ET")}
	res, err := e.AttackPage(page, []Mapping{
		{Original: "5", Replacement: "4", StartPos: -1, EndPos: -1},
		{Original: "again", Replacement: "anew", StartPos: -1, EndPos: -1},
	}, attack.ModePrevention)
	require.NoError(t, err)
	// The ambiguous "5" is dropped; the unique mapping still applies.
	assert.Equal(t, [][2]string{{"again", "anew"}}, res.Applied)
	assert.Equal(t, "5 and 5 anew", extractText(t, res.Content))
}

func TestAttackPage_BadAnchorRepaired(t *testing.T) {
	e := newTestEngine(t)
	page := Page{Content: []byte("BT /F1 12 Tf (The value is 50.) Tj ET")}
	res, err := e.AttackPage(page, []Mapping{{
		Original:    "50",
		Replacement: "40",
		StartPos:    2,
		EndPos:      4,
	}}, attack.ModePrevention)
	require.NoError(t, err)
	assert.Equal(t, "The value is 40.", extractText(t, res.Content))
}

func TestAttackPage_HiddenText(t *testing.T) {
	e := newTestEngine(t)
	page := Page{Content: []byte("BT /F1 12 Tf 10 700 Td (The value is 50.) Tj ET")}
	res, err := e.AttackPage(page, []Mapping{{
		Original:    "50",
		Replacement: "40",
		StartPos:    13,
		EndPos:      15,
	}}, attack.ModeDetectionHiddenText)
	require.NoError(t, err)
	// Original text stays; hidden replacement is appended invisibly.
	text := extractText(t, res.Content)
	assert.Contains(t, text, "The value is 50.")
	assert.Contains(t, text, "40")
	assert.Contains(t, string(res.Content), "3 Tr")
}

func TestAttackPage_CodeGlyphRequiresBaseFont(t *testing.T) {
	e := newTestEngine(t)
	page := Page{Content: []byte("BT /F1 12 Tf (50) Tj ET")}
	_, err := e.AttackPage(page, []Mapping{{Original: "50", Replacement: "40", StartPos: 0, EndPos: 2}},
		attack.ModeDetectionCodeGlyph)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseFontPath")
}

func TestAttackPage_CodeGlyph(t *testing.T) {
	if _, err := os.Stat(testFont); err != nil {
		t.Skipf("test font not available: %v", err)
	}
	cfg := NewDefaultConfig(t.TempDir())
	cfg.BaseFontPath = testFont
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	dict := resources.NewDict(nil)
	dict.Register("F1", testFont)
	page := NewPage(0, []byte("BT /F1 12 Tf 10 700 Td (The value is 50.) Tj ET"), dict)
	out, err := e.AttackPage(page, []Mapping{{
		Original:    "50",
		Replacement: "40",
		StartPos:    13,
		EndPos:      15,
	}}, attack.ModeDetectionCodeGlyph)
	require.NoError(t, err)
	// Extraction reads the replacement at the matched position, in
	// reading order.
	text := extractText(t, out.Content)
	assert.Equal(t, "The value is 40.", text)
	// The pair font for 5->4 was injected and its resource registered.
	require.Len(t, out.NewFonts, 1)
	for name, path := range out.NewFonts {
		assert.True(t, dict.Has(name))
		assert.Contains(t, path, "0035_to_0034.ttf")
	}
	assert.Equal(t, [][2]string{{"50", "40"}}, out.Applied)
}

func TestBuildPairFonts(t *testing.T) {
	if _, err := os.Stat(testFont); err != nil {
		t.Skipf("test font not available: %v", err)
	}
	dir := t.TempDir()
	cfg := NewDefaultConfig(dir)
	cfg.BaseFontPath = testFont
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	result, err := e.BuildPairFonts([]Mapping{
		{Original: "50", Replacement: "40"},
		{Original: "true", Replacement: "flse"},
	})
	require.NoError(t, err)
	assert.Equal(t, dir, result.PrebuiltFontDir)
	assert.Len(t, result.Mappings, 2)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var fonts []string
	for _, ent := range entries {
		if strings.HasSuffix(ent.Name(), ".ttf") {
			fonts = append(fonts, ent.Name())
		}
	}
	// 5->4 plus t->f, r->l, u->s; "e" and "0" map to themselves.
	assert.Len(t, fonts, 4)
}
