package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/freetype/truetype"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/examsec/pdfveil/observability"
)

// ErrMetricsUnavailable reports that a font's tables could not be read
// at all. Table parse failures do not raise it: they degrade to the
// fixed-ratio estimate so rendering never stops the pipeline.
var ErrMetricsUnavailable = errors.New("font metrics unavailable")

const (
	SidecarName    = "font_metrics.json"
	sidecarVersion = 1

	// DefaultFallbackRatio is the advance, as a fraction of an em,
	// assumed for codepoints whose metrics could not be parsed.
	DefaultFallbackRatio = 0.5
)

// Codepoints covered when a font is first parsed: printable ASCII,
// Latin-1 supplement, and the filler codepoints the padding fonts use.
var coveredRanges = [][2]rune{
	{0x0020, 0x007E},
	{0x00A0, 0x00FF},
	{0x2009, 0x2009}, // thin space filler
	{0x200B, 0x200B}, // zero-width filler
}

// FontMetrics holds per-codepoint advance widths in font units.
type FontMetrics struct {
	UnitsPerEm int            `json:"unitsPerEm"`
	CapHeight  int            `json:"capHeight,omitempty"`
	Advances   map[string]int `json:"advances"`
	Estimated  bool           `json:"estimated,omitempty"`
}

// Key returns the sidecar key for a codepoint, e.g. "U+0041".
func Key(r rune) string { return fmt.Sprintf("U+%04X", r) }

// AdvanceUnits returns the advance of r in font units.
func (m *FontMetrics) AdvanceUnits(r rune) (int, bool) {
	adv, ok := m.Advances[Key(r)]
	return adv, ok
}

type sidecar struct {
	Version int                     `json:"version"`
	Fonts   map[string]*FontMetrics `json:"fonts"`
}

// Cache parses font tables once per font path and persists the result
// as a JSON sidecar next to the generated fonts. It is read-mostly and
// safe for concurrent use; racing writers converge to identical bytes
// because sidecar serialization is deterministic.
type Cache struct {
	dir           string
	fallbackRatio float64
	log           observability.Logger

	mu    sync.RWMutex
	fonts map[string]*FontMetrics
}

type Option func(*Cache)

func WithFallbackRatio(r float64) Option {
	return func(c *Cache) { c.fallbackRatio = r }
}

func WithLogger(log observability.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// Open loads the metrics sidecar from dir, creating dir if needed.
// A corrupt sidecar is discarded and rebuilt lazily.
func Open(dir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	c := &Cache{
		dir:           dir,
		fallbackRatio: DefaultFallbackRatio,
		log:           observability.NopLogger{},
		fonts:         make(map[string]*FontMetrics),
	}
	for _, opt := range opts {
		opt(c)
	}
	data, err := os.ReadFile(filepath.Join(dir, SidecarName))
	if err == nil {
		var sc sidecar
		if jsonErr := json.Unmarshal(data, &sc); jsonErr == nil && sc.Version == sidecarVersion {
			for path, fm := range sc.Fonts {
				c.fonts[path] = fm
			}
		} else {
			c.log.Warn("discarding unreadable metrics sidecar",
				observability.String("dir", dir))
		}
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// For returns metrics for the font at path, parsing and persisting on
// first use. Paths are stored absolute so every process keys the same
// sidecar entries.
func (c *Cache) For(path string) (*FontMetrics, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	c.mu.RLock()
	fm, ok := c.fonts[abs]
	c.mu.RUnlock()
	if ok {
		c.log.Debug(observability.MetricMetricsCacheHit, observability.String("font", abs))
		return fm, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	fm, parseErr := ParseFont(data)
	if parseErr != nil {
		c.log.Warn("font table parse failed, using fixed-ratio estimate",
			observability.String("font", abs),
			observability.Error("err", parseErr))
		fm = c.estimate()
	}

	c.mu.Lock()
	if existing, ok := c.fonts[abs]; ok {
		fm = existing
	} else {
		c.fonts[abs] = fm
	}
	c.mu.Unlock()
	if err := c.persist(); err != nil {
		c.log.Warn("metrics sidecar not persisted", observability.Error("err", err))
	}
	return fm, nil
}

// Width returns the rendered width of text at the given size using the
// font at path. Codepoints outside the cached tables fall back to a
// live shaping pass over the whole text, then to the fixed-ratio
// estimate.
func (c *Cache) Width(path, text string, size float64) (float64, error) {
	fm, err := c.For(path)
	if err != nil {
		return 0, err
	}
	total := 0.0
	missing := false
	for _, r := range text {
		if adv, ok := fm.AdvanceUnits(r); ok {
			total += float64(adv) / float64(fm.UnitsPerEm) * size
			continue
		}
		missing = true
		total += c.fallbackRatio * size
	}
	if !missing || fm.Estimated {
		return total, nil
	}
	if w, err := c.measureLive(path, text, size); err == nil {
		return w, nil
	} else {
		c.log.Warn("live measurement failed, using fixed-ratio estimate",
			observability.String("font", path),
			observability.Error("err", err))
	}
	return total, nil
}

// measureLive shapes text with the actual font file. Slower than the
// advance tables, only consulted for codepoints the sidecar does not
// cover.
func (c *Cache) measureLive(path, text string, size float64) (float64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return MeasureShaped(data, text, size)
}

func (c *Cache) estimate() *FontMetrics {
	fm := &FontMetrics{
		UnitsPerEm: 1000,
		Advances:   make(map[string]int),
		Estimated:  true,
	}
	adv := int(math.Round(c.fallbackRatio * 1000))
	for _, rng := range coveredRanges {
		for r := rng[0]; r <= rng[1]; r++ {
			fm.Advances[Key(r)] = adv
		}
	}
	return fm
}

func (c *Cache) persist() error {
	c.mu.RLock()
	sc := sidecar{Version: sidecarVersion, Fonts: c.fonts}
	data, err := json.MarshalIndent(sc, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, SidecarName), data, 0o644)
}

// ParseFont extracts unitsPerEm and covered-codepoint advances from a
// font file. sfnt is tried first; fonts it rejects go through the
// freetype parser before the caller falls back to estimates.
func ParseFont(data []byte) (*FontMetrics, error) {
	if fm, err := parseSFNT(data); err == nil {
		return fm, nil
	}
	return parseFreetype(data)
}

func parseSFNT(data []byte) (*FontMetrics, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("sfnt parse: %w", err)
	}
	upm := int(f.UnitsPerEm())
	if upm == 0 {
		return nil, fmt.Errorf("sfnt parse: zero unitsPerEm")
	}
	buf := &sfnt.Buffer{}
	// At ppem == unitsPerEm one pixel equals one font unit, so the
	// 26.6 advance converts by a shift.
	ppem := fixed.Int26_6(upm << 6)
	fm := &FontMetrics{UnitsPerEm: upm, Advances: make(map[string]int)}
	if m, err := f.Metrics(buf, ppem, xfont.HintingNone); err == nil {
		fm.CapHeight = (int(m.CapHeight) + 32) >> 6
	}
	for _, rng := range coveredRanges {
		for r := rng[0]; r <= rng[1]; r++ {
			gid, err := f.GlyphIndex(buf, r)
			if err != nil || gid == 0 {
				continue
			}
			adv, err := f.GlyphAdvance(buf, gid, ppem, xfont.HintingNone)
			if err != nil {
				continue
			}
			fm.Advances[Key(r)] = (int(adv) + 32) >> 6
		}
	}
	if len(fm.Advances) == 0 {
		return nil, fmt.Errorf("sfnt parse: no covered glyphs")
	}
	return fm, nil
}

func parseFreetype(data []byte) (*FontMetrics, error) {
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("freetype parse: %w", err)
	}
	upm := int(f.FUnitsPerEm())
	if upm == 0 {
		return nil, fmt.Errorf("freetype parse: zero unitsPerEm")
	}
	scale := fixed.Int26_6(upm << 6)
	fm := &FontMetrics{UnitsPerEm: upm, Advances: make(map[string]int)}
	for _, rng := range coveredRanges {
		for r := rng[0]; r <= rng[1]; r++ {
			idx := f.Index(r)
			if idx == 0 {
				continue
			}
			hm := f.HMetric(scale, idx)
			fm.Advances[Key(r)] = (int(hm.AdvanceWidth) + 32) >> 6
		}
	}
	if len(fm.Advances) == 0 {
		return nil, fmt.Errorf("freetype parse: no covered glyphs")
	}
	return fm, nil
}
