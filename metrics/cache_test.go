package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/examsec/pdfveil/observability"
)

func writeBogusFont(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "bogus.ttf")
	if err := os.WriteFile(path, []byte("not a font"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestKeyFormat(t *testing.T) {
	if got := Key('A'); got != "U+0041" {
		t.Fatalf("Key('A') = %q", got)
	}
	if got := Key('​'); got != "U+200B" {
		t.Fatalf("Key(zwsp) = %q", got)
	}
}

func TestCache_EstimateFallback(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	font := writeBogusFont(t, dir)

	fm, err := c.For(font)
	if err != nil {
		t.Fatalf("table parse failure must degrade, not fail: %v", err)
	}
	if !fm.Estimated {
		t.Fatal("expected estimated metrics for unparseable font")
	}
	if fm.UnitsPerEm != 1000 {
		t.Fatalf("estimate unitsPerEm = %d", fm.UnitsPerEm)
	}
	if adv, ok := fm.AdvanceUnits('x'); !ok || adv != 500 {
		t.Fatalf("estimate advance = %d, %v", adv, ok)
	}

	w, err := c.Width(font, "ab", 10)
	if err != nil {
		t.Fatalf("width: %v", err)
	}
	if w != 10 {
		t.Fatalf("estimated width of 2 chars at size 10 should be 10, got %v", w)
	}
}

func TestCache_MissingFontFile(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.For("/no/such/font.ttf"); err == nil {
		t.Fatal("expected error for missing font file")
	}
}

func TestCache_SidecarPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	font := writeBogusFont(t, dir)
	if _, err := c.For(font); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, SidecarName))
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	var sc struct {
		Version int                        `json:"version"`
		Fonts   map[string]json.RawMessage `json:"fonts"`
	}
	if err := json.Unmarshal(raw, &sc); err != nil {
		t.Fatalf("sidecar shape: %v", err)
	}
	if sc.Version != sidecarVersion || len(sc.Fonts) != 1 {
		t.Fatalf("sidecar contents wrong: %+v", sc)
	}

	// A second cache over the same dir serves the entry without
	// touching the font file.
	if err := os.Remove(font); err != nil {
		t.Fatal(err)
	}
	c2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	fm, err := c2.For(font)
	if err != nil {
		t.Fatalf("expected sidecar hit after font deletion: %v", err)
	}
	if !fm.Estimated {
		t.Fatal("reloaded entry lost its estimated flag")
	}
}

func TestCache_CorruptSidecarDiscarded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SidecarName), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("corrupt sidecar must not fail open: %v", err)
	}
	font := writeBogusFont(t, dir)
	if _, err := c.For(font); err != nil {
		t.Fatal(err)
	}
}

type recordingLogger struct {
	observability.NopLogger
	msgs []string
}

func (l *recordingLogger) Debug(msg string, _ ...observability.Field) {
	l.msgs = append(l.msgs, msg)
}

func TestCache_SecondLookupIsAHit(t *testing.T) {
	dir := t.TempDir()
	log := &recordingLogger{}
	c, err := Open(dir, WithLogger(log))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	font := writeBogusFont(t, dir)
	if _, err := c.For(font); err != nil {
		t.Fatalf("first For: %v", err)
	}
	if _, err := c.For(font); err != nil {
		t.Fatalf("second For: %v", err)
	}
	hits := 0
	for _, m := range log.msgs {
		if m == observability.MetricMetricsCacheHit {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("got %d cache-hit records, want 1: %v", hits, log.msgs)
	}
}

func TestCache_WidthLiveShapingFallback(t *testing.T) {
	font := "../testdata/DejaVuSans.ttf"
	if _, err := os.Stat(font); err != nil {
		t.Skipf("test font not available: %v", err)
	}
	c, err := Open(t.TempDir(), WithFallbackRatio(0.5))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// The euro sign is outside the cached advance ranges, so its width
	// must come from a live shaping pass, not the fixed ratio.
	w, err := c.Width(font, "€", 10)
	if err != nil {
		t.Fatalf("width: %v", err)
	}
	if w <= 0 {
		t.Fatalf("live width = %v, want > 0", w)
	}
	if w == 0.5*10 {
		t.Fatalf("width %v equals the fixed-ratio estimate; live shaping not used", w)
	}
	// Covered codepoints still answer from the table.
	wa, err := c.Width(font, "A", 10)
	if err != nil {
		t.Fatalf("width: %v", err)
	}
	if wa <= 0 {
		t.Fatalf("table width = %v, want > 0", wa)
	}
}

func TestParseFont_RealFont(t *testing.T) {
	data, err := os.ReadFile("../testdata/DejaVuSans.ttf")
	if err != nil {
		t.Skip("DejaVuSans.ttf not found, skipping test")
	}
	fm, err := ParseFont(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fm.Estimated {
		t.Fatal("real font must not be estimated")
	}
	if fm.UnitsPerEm <= 0 {
		t.Fatalf("unitsPerEm = %d", fm.UnitsPerEm)
	}
	if adv, ok := fm.AdvanceUnits('A'); !ok || adv <= 0 {
		t.Fatalf("advance for A = %d, %v", adv, ok)
	}
	if fm.CapHeight <= 0 || fm.CapHeight >= fm.UnitsPerEm {
		t.Fatalf("cap height = %d (unitsPerEm %d)", fm.CapHeight, fm.UnitsPerEm)
	}
}
