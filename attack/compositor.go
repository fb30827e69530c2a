package attack

import (
	"fmt"

	"github.com/examsec/pdfveil/contentstream"
	"github.com/examsec/pdfveil/coords"
	"github.com/examsec/pdfveil/fontgen"
	"github.com/examsec/pdfveil/metrics"
	"github.com/examsec/pdfveil/observability"
)

// FontRegistry maps a font file on disk to a page font resource name,
// registering the font with the page on first use.
type FontRegistry interface {
	Resource(fontPath string) (string, error)
}

// Layout positions a composed token on the page.
type Layout struct {
	Origin      coords.Point
	RightMargin float64
	Leading     float64
	FontSize    float64
	// BaseFontRes draws fallback glyphs when a pair font cannot be
	// built.
	BaseFontRes string
}

// DefaultSizeClampRatio bounds per-glyph size adjustment so a composed
// token blends with surrounding text.
const DefaultSizeClampRatio = 0.02

// Compositor draws entity text so that the rendered glyph at each
// position is the input character while the encoded codepoint is the
// output character.
type Compositor struct {
	builder  *fontgen.Builder
	cache    *metrics.Cache
	registry FontRegistry
	clamp    float64
	log      observability.Logger
}

type CompositorOption func(*Compositor)

func WithSizeClamp(ratio float64) CompositorOption {
	return func(c *Compositor) { c.clamp = ratio }
}

func WithCompositorLogger(log observability.Logger) CompositorOption {
	return func(c *Compositor) { c.log = log }
}

func NewCompositor(builder *fontgen.Builder, cache *metrics.Cache, registry FontRegistry, opts ...CompositorOption) *Compositor {
	c := &Compositor{
		builder:  builder,
		cache:    cache,
		registry: registry,
		clamp:    DefaultSizeClampRatio,
		log:      observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// glyphDraw is one resolved position of a composed token.
type glyphDraw struct {
	code     rune
	fontPath string // empty means base font fallback
	width    float64
}

// ComposeToken renders the entity as one text object: per position the
// output codepoint shown with the input character's glyph, thin-space
// padding for surplus input characters, zero-width padding for surplus
// output characters. Widths come from the metrics cache against the
// base font and drive wrapping at the layout's right margin.
func (c *Compositor) ComposeToken(e Entity, layout Layout) ([]contentstream.Operation, error) {
	if layout.FontSize <= 0 {
		return nil, fmt.Errorf("compose %q: font size must be positive", e.Input)
	}
	in := []rune(e.Input)
	out := []rune(MatchCase(e.Input, e.Output))
	n := len(in)
	if len(out) > n {
		n = len(out)
	}
	draws := make([]glyphDraw, 0, n)
	for i := 0; i < n; i++ {
		switch {
		case i < len(in) && i < len(out):
			draws = append(draws, c.pairDraw(in[i], out[i], layout.FontSize))
		case i < len(in):
			draws = append(draws, c.inputPadDraw(in[i], layout.FontSize))
		default:
			draws = append(draws, c.outputPadDraw(out[i]))
		}
	}
	return c.emit(draws, layout)
}

// pairDraw resolves one both-sides position. A missing pair font falls
// back to drawing the output character in the base font, degrading the
// attack visually for that character only.
func (c *Compositor) pairDraw(in, out rune, size float64) glyphDraw {
	width := c.baseWidth(in, size)
	if in == out {
		return glyphDraw{code: out, width: width}
	}
	path, err := c.builder.BuildPair(in, out)
	if err != nil {
		c.log.Warn("pair font unavailable, using base glyph",
			observability.String("pair", fmt.Sprintf("%c->%c", in, out)),
			observability.Error("error", err))
		return glyphDraw{code: out, width: c.baseWidth(out, size)}
	}
	return glyphDraw{code: out, fontPath: path, width: width}
}

// inputPadDraw shows a thin-space codepoint wearing the surplus input
// character's glyph, so the reader sees the character but extraction
// reads whitespace.
func (c *Compositor) inputPadDraw(in rune, size float64) glyphDraw {
	width := c.baseWidth(in, size)
	path, err := c.builder.BuildFiller(fontgen.ThinSpaceFiller, in, false)
	if err != nil {
		c.log.Warn("thin-space filler unavailable, drawing base glyph",
			observability.String("char", string(in)),
			observability.Error("error", err))
		return glyphDraw{code: in, width: width}
	}
	return glyphDraw{code: fontgen.ThinSpaceFiller, fontPath: path, width: width}
}

// outputPadDraw shows a surplus output character with a zero-advance
// blank glyph: extraction finds it, nothing is drawn.
func (c *Compositor) outputPadDraw(out rune) glyphDraw {
	path, err := c.builder.BuildFiller(out, fontgen.ZeroWidthFiller, true)
	if err != nil {
		path, err = c.builder.BuildFiller(out, ' ', true)
	}
	if err != nil {
		c.log.Warn("zero-width filler unavailable, dropping surplus output character",
			observability.String("char", string(out)),
			observability.Error("error", err))
		return glyphDraw{}
	}
	return glyphDraw{code: out, fontPath: path}
}

func (c *Compositor) emit(draws []glyphDraw, layout Layout) ([]contentstream.Operation, error) {
	to := contentstream.NewTextObject()
	to.Begin()
	x, y := layout.Origin.X, layout.Origin.Y
	to.SetMatrix(coords.Translate(x, y))
	for _, d := range draws {
		if d.code == 0 {
			continue
		}
		if layout.RightMargin > 0 && layout.Leading > 0 &&
			x > layout.Origin.X && x+d.width > layout.RightMargin {
			x = layout.Origin.X
			y -= layout.Leading
			to.SetMatrix(coords.Translate(x, y))
		}
		res, size, err := c.resolveFont(d, layout)
		if err != nil {
			return nil, err
		}
		to.SetFont(res, size)
		data, kind := encodeCodepoint(d.code)
		to.Show(data, kind)
		x += d.width
	}
	return to.End(), nil
}

func (c *Compositor) resolveFont(d glyphDraw, layout Layout) (string, float64, error) {
	if d.fontPath == "" {
		return layout.BaseFontRes, layout.FontSize, nil
	}
	res, err := c.registry.Resource(d.fontPath)
	if err != nil {
		return "", 0, fmt.Errorf("register font %s: %w", d.fontPath, err)
	}
	return res, c.glyphSize(d.fontPath, layout.FontSize), nil
}

// glyphSize scales the layout size by the cap-height ratio between
// base and pair font, clamped so the drawn token never visibly jumps
// in size. Pair fonts subset the base, so the ratio is normally 1.
func (c *Compositor) glyphSize(fontPath string, size float64) float64 {
	base, err := c.cache.For(c.builder.BasePath())
	if err != nil {
		return size
	}
	pair, err := c.cache.For(fontPath)
	if err != nil || pair.UnitsPerEm == 0 {
		return size
	}
	// Compare optical sizes by cap height as a fraction of the em;
	// fall back to the raw em ratio when a font reports no cap height.
	ratio := float64(base.UnitsPerEm) / float64(pair.UnitsPerEm)
	if base.CapHeight > 0 && pair.CapHeight > 0 {
		ratio = (float64(base.CapHeight) / float64(base.UnitsPerEm)) /
			(float64(pair.CapHeight) / float64(pair.UnitsPerEm))
	}
	if ratio > 1+c.clamp {
		ratio = 1 + c.clamp
	}
	if ratio < 1-c.clamp {
		ratio = 1 - c.clamp
	}
	return size * ratio
}

// baseWidth measures one character against the base font, falling back
// through the cache's estimate chain so a width is always available.
func (c *Compositor) baseWidth(r rune, size float64) float64 {
	w, err := c.cache.Width(c.builder.BasePath(), string(r), size)
	if err != nil {
		return metrics.DefaultFallbackRatio * size
	}
	return w
}

// encodeCodepoint encodes one codepoint for a show operand: a single
// byte where possible, otherwise an opaque big-endian byte pair.
func encodeCodepoint(r rune) ([]byte, contentstream.LiteralKind) {
	if r <= 0xFF {
		return []byte{byte(r)}, contentstream.LiteralText
	}
	return []byte{byte(r >> 8), byte(r)}, contentstream.LiteralHex
}
