package fontgen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/sync/errgroup"

	"github.com/examsec/pdfveil/observability"
)

// ErrMissingPairFont reports that a requested pair font file is absent
// and could not be built. Callers recover by drawing the base font
// glyph instead, degrading the attack visually but not failing it.
var ErrMissingPairFont = errors.New("pair font missing")

// Filler codepoints used by the padding font set. The thin-space filler
// keeps an advance; the zero-width filler is extracted but draws
// nothing that moves the pen.
const (
	ThinSpaceFiller rune = 0x2009
	ZeroWidthFiller rune = 0x200B
)

// Builder manufactures glyph-pair subset fonts from one base font.
// Fonts are cached on disk under deterministic names, so BuildPair is a
// create-if-absent operation: concurrent builders racing on the same
// pair write byte-identical files.
type Builder struct {
	basePath string
	baseData []byte
	base     *sfnt.Font
	dir      string
	log      observability.Logger
}

type Option func(*Builder)

func WithLogger(log observability.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// NewBuilder loads the base font and prepares the output directory.
func NewBuilder(basePath, dir string, opts ...Option) (*Builder, error) {
	data, err := os.ReadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("read base font: %w", err)
	}
	base, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse base font: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create font dir: %w", err)
	}
	b := &Builder{
		basePath: basePath,
		baseData: data,
		base:     base,
		dir:      dir,
		log:      observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// BasePath returns the path of the base font.
func (b *Builder) BasePath() string { return b.basePath }

// Dir returns the pair-font cache directory.
func (b *Builder) Dir() string { return b.dir }

// PairPath returns the deterministic cache path for the font that
// renders codepoint out using the glyph of in.
func (b *Builder) PairPath(in, out rune) string {
	return filepath.Join(b.dir, fmt.Sprintf("%04x_to_%04x.ttf", in, out))
}

// FillerPath returns the cache path for a padding font mapping a filler
// codepoint onto the glyph of visual.
func (b *Builder) FillerPath(filler, visual rune, zeroWidth bool) string {
	prefix := "pad"
	if zeroWidth {
		prefix = "padz"
	}
	return filepath.Join(b.dir, fmt.Sprintf("%s_%04x_%04x.ttf", prefix, filler, visual))
}

// BuildPair synthesizes the pair font for (in, out): a minimal font
// whose cmap entry for out points at in's glyph outline, keeping in's
// advance width. A pre-existing cache file is returned untouched.
func (b *Builder) BuildPair(in, out rune) (string, error) {
	path := b.PairPath(in, out)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	start := time.Now()
	gid, err := b.glyphIndex(in)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingPairFont, err)
	}
	data, err := remapFont(b.baseData, map[rune]uint16{out: gid}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build %04x->%04x: %v", ErrMissingPairFont, in, out, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingPairFont, err)
	}
	b.log.Debug(observability.MetricPairFontTime,
		observability.String("path", path),
		observability.Int("bytes", len(data)),
		observability.Duration("elapsed", time.Since(start)))
	return path, nil
}

// BuildFiller synthesizes a padding font where the filler codepoint
// shows visual's glyph. With zeroWidth set, the glyph's advance is
// forced to zero so extraction finds the filler but the pen never
// moves.
func (b *Builder) BuildFiller(filler, visual rune, zeroWidth bool) (string, error) {
	path := b.FillerPath(filler, visual, zeroWidth)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	gid, err := b.glyphIndex(visual)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingPairFont, err)
	}
	var zero map[int]bool
	if zeroWidth {
		zero = map[int]bool{int(gid): true}
	}
	data, err := remapFont(b.baseData, map[rune]uint16{filler: gid}, zero)
	if err != nil {
		return "", fmt.Errorf("%w: filler %04x: %v", ErrMissingPairFont, filler, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingPairFont, err)
	}
	return path, nil
}

// BuildAll builds every pair concurrently. Cache population is
// create-if-absent, so no coordination beyond the errgroup is needed.
func (b *Builder) BuildAll(pairs [][2]rune) error {
	var g errgroup.Group
	for _, pair := range pairs {
		in, out := pair[0], pair[1]
		g.Go(func() error {
			_, err := b.BuildPair(in, out)
			return err
		})
	}
	return g.Wait()
}

func (b *Builder) glyphIndex(r rune) (uint16, error) {
	buf := &sfnt.Buffer{}
	gid, err := b.base.GlyphIndex(buf, r)
	if err != nil {
		return 0, err
	}
	if gid == 0 {
		return 0, fmt.Errorf("base font has no glyph for %U", r)
	}
	return uint16(gid), nil
}

// remapFont builds a subset font from data whose cmap contains exactly
// the given codepoint-to-glyph assignments. Glyph IDs are preserved
// (sparse subset), so hmtx advances carry over unchanged except for the
// forced zero-advance set.
func remapFont(data []byte, mapping map[rune]uint16, zeroAdvance map[int]bool) ([]byte, error) {
	p, err := newTableParser(data)
	if err != nil {
		return nil, err
	}
	for _, tag := range []string{"glyf", "loca", "head", "maxp", "hmtx", "hhea"} {
		if !p.hasTable(tag) {
			return nil, fmt.Errorf("base font lacks %s table (CFF outlines unsupported)", tag)
		}
	}
	head, err := p.readTable("head")
	if err != nil {
		return nil, err
	}
	if len(head) < 54 {
		return nil, fmt.Errorf("head table truncated")
	}
	longLoca := int16(binary16(head[50:52])) != 0
	maxp, err := p.readTable("maxp")
	if err != nil {
		return nil, err
	}
	if len(maxp) < 6 {
		return nil, fmt.Errorf("maxp table truncated")
	}
	numGlyphs := int(binary16(maxp[4:6]))

	closure := map[int]bool{0: true}
	for _, gid := range mapping {
		closure[int(gid)] = true
	}
	if err := p.glyphClosure(closure, numGlyphs, longLoca); err != nil {
		return nil, fmt.Errorf("glyph closure: %w", err)
	}

	maxGID := 0
	for gid := range closure {
		if gid > maxGID {
			maxGID = gid
		}
	}
	newNumGlyphs := maxGID + 1
	if newNumGlyphs > numGlyphs {
		newNumGlyphs = numGlyphs
	}

	newGlyf, newLoca, err := p.rebuildGlyfLoca(closure, newNumGlyphs, longLoca)
	if err != nil {
		return nil, err
	}
	newHmtx, err := p.rebuildHmtx(newNumGlyphs, zeroAdvance)
	if err != nil {
		return nil, err
	}
	newCmap, err := buildCmapFormat4(mapping)
	if err != nil {
		return nil, err
	}

	newMaxp := append([]byte(nil), maxp...)
	putU16(newMaxp[4:], uint16(newNumGlyphs))

	// Rebuilt loca is always long format.
	newHead := append([]byte(nil), head...)
	putU16(newHead[50:], 1)

	hhea, err := p.readTable("hhea")
	if err != nil {
		return nil, err
	}
	newHhea := append([]byte(nil), hhea...)
	if len(newHhea) >= 36 {
		putU16(newHhea[34:], uint16(newNumGlyphs))
	}

	w := &tableWriter{}
	w.addTable("glyf", newGlyf)
	w.addTable("loca", newLoca)
	w.addTable("hmtx", newHmtx)
	w.addTable("maxp", newMaxp)
	w.addTable("head", newHead)
	w.addTable("hhea", newHhea)
	w.addTable("cmap", newCmap)
	for _, tag := range []string{"name", "OS/2", "post", "cvt ", "fpgm", "prep"} {
		if !p.hasTable(tag) {
			continue
		}
		tbl, err := p.readTable(tag)
		if err != nil {
			return nil, err
		}
		w.addTable(tag, tbl)
	}
	return w.bytes(), nil
}

func binary16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}
