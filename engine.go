// Package pdfveil rewrites PDF content streams and manufactures
// glyph-remapped subset fonts so that the text a parser extracts from a
// span differs from what a reader sees rendered, without disturbing
// surrounding layout.
package pdfveil

import (
	"fmt"
	"time"

	"github.com/examsec/pdfveil/attack"
	"github.com/examsec/pdfveil/contentstream"
	"github.com/examsec/pdfveil/coords"
	"github.com/examsec/pdfveil/fontgen"
	"github.com/examsec/pdfveil/metrics"
	"github.com/examsec/pdfveil/observability"
	"github.com/examsec/pdfveil/resources"
	"github.com/examsec/pdfveil/rewrite"
	"github.com/examsec/pdfveil/scanner"
)

// Page is one page's content stream plus the font facts the engine
// needs: which font file backs each text resource, and the resource
// dictionary to extend when new fonts are injected.
type Page struct {
	Number    int
	Content   []byte
	Fonts     map[string]string
	Resources rewrite.FontResources
}

// NewPage bundles a content stream with a resource dictionary: the
// dictionary answers both the font-path lookups the measurer needs and
// the Has/Ensure calls the merger makes.
func NewPage(number int, content []byte, dict *resources.Dict) Page {
	return Page{
		Number:    number,
		Content:   content,
		Fonts:     dict.Fonts(),
		Resources: dict,
	}
}

// PageResult is a rewritten page. NewFonts lists font files the caller
// must embed, keyed by the resource name the stream references.
type PageResult struct {
	Content  []byte
	Applied  [][2]string
	NewFonts map[string]string
}

// Engine drives the per-page pipeline: parse, track state, align spans,
// plan replacements, merge, serialize. One page is processed completely
// before the next; the metrics cache and font builder are the only
// state shared across pages.
type Engine struct {
	cfg     Config
	cache   *metrics.Cache
	builder *fontgen.Builder
	log     observability.Logger
}

type Option func(*Engine)

func WithLogger(log observability.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	cache, err := metrics.Open(cfg.FontDir,
		metrics.WithFallbackRatio(cfg.FallbackWidthRatio),
		metrics.WithLogger(e.log))
	if err != nil {
		return nil, fmt.Errorf("open metrics cache: %w", err)
	}
	e.cache = cache
	return e, nil
}

// MetricsCache exposes the engine's shared cache for callers that embed
// fonts and need the same width facts.
func (e *Engine) MetricsCache() *metrics.Cache { return e.cache }

func (e *Engine) ensureBuilder() (*fontgen.Builder, error) {
	if e.builder != nil {
		return e.builder, nil
	}
	if e.cfg.BaseFontPath == "" {
		return nil, fmt.Errorf("glyph attack requires Config.BaseFontPath")
	}
	b, err := fontgen.NewBuilder(e.cfg.BaseFontPath, e.cfg.FontDir, fontgen.WithLogger(e.log))
	if err != nil {
		return nil, err
	}
	e.builder = b
	return b, nil
}

// resourceMeasurer answers width questions for page font resources,
// degrading to the configured fixed-ratio estimate when a font has no
// usable metrics. It never fails: a font without metrics degrades to
// the estimate instead of aborting the page.
type resourceMeasurer struct {
	cache *metrics.Cache
	fonts map[string]string
	ratio float64
}

func (m resourceMeasurer) Width(fontRes, text string, size float64) (float64, bool) {
	if path, ok := m.fonts[fontRes]; ok {
		if w, err := m.cache.Width(path, text, size); err == nil {
			return w, true
		}
	}
	return m.ratio * size * float64(len([]rune(text))), true
}

// pageRegistry assigns resource names to injected font files and keeps
// the page's resource dictionary in step.
type pageRegistry struct {
	res    rewrite.FontResources
	byPath map[string]string
	next   int
}

func newPageRegistry(res rewrite.FontResources) *pageRegistry {
	return &pageRegistry{res: res, byPath: map[string]string{}}
}

func (r *pageRegistry) Resource(path string) (string, error) {
	if name, ok := r.byPath[path]; ok {
		return name, nil
	}
	name := fmt.Sprintf("GF%d", r.next)
	r.next++
	r.byPath[path] = name
	if r.res != nil {
		r.res.Ensure(name)
	}
	return name, nil
}

// Fonts returns resource name to font path for every injected font.
func (r *pageRegistry) Fonts() map[string]string {
	out := make(map[string]string, len(r.byPath))
	for path, name := range r.byPath {
		out[name] = path
	}
	return out
}

// pageState is the shared prologue of every attack mode.
type pageState struct {
	ops     []contentstream.Operation
	records []contentstream.OperatorRecord
	runs    []rewrite.TextRun
	align   *rewrite.Alignment
	measure resourceMeasurer
}

func (e *Engine) loadPage(page Page) (*pageState, error) {
	ops, err := contentstream.Parse(page.Content, scanner.Config{})
	if err != nil {
		return nil, fmt.Errorf("page %d: parse: %w", page.Number, err)
	}
	measure := resourceMeasurer{cache: e.cache, fonts: page.Fonts, ratio: e.cfg.FallbackWidthRatio}
	tracker := contentstream.NewStateTracker()
	tracker.Advance = func(rec *contentstream.OperatorRecord) float64 {
		return rewrite.RunWidth(rec, measure)
	}
	start := time.Now()
	records, err := tracker.Track(ops)
	if err != nil {
		return nil, fmt.Errorf("page %d: track: %w", page.Number, err)
	}
	e.log.Debug(observability.MetricTrackTime,
		observability.Int("page", page.Number),
		observability.Int("operators", len(ops)),
		observability.Duration("elapsed", time.Since(start)))
	runs := rewrite.ExtractRuns(records, page.Number, measure)
	return &pageState{
		ops:     ops,
		records: records,
		runs:    runs,
		align:   rewrite.NewAlignment(runs),
		measure: measure,
	}, nil
}

// resolve anchors a mapping against the page text. A nil plan with nil
// error means the mapping was dropped.
func (e *Engine) resolve(st *pageState, m Mapping, replacement string, opts *rewrite.PlanOptions, page int) (*rewrite.ReplacementPlan, error) {
	entity := attack.Entity{
		Input:       m.Original,
		Output:      m.Replacement,
		AnchorStart: m.StartPos,
		AnchorEnd:   m.EndPos,
	}
	start, end, err := attack.ResolveAnchor(st.align.Text(), entity)
	if err != nil {
		e.log.Warn(observability.MetricDroppedMappings,
			observability.String("original", m.Original),
			observability.Error("error", err))
		return nil, nil
	}
	plan, err := rewrite.Plan(st.align, start, end, replacement, page, opts)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", m.Original, err)
	}
	return plan, nil
}

// AttackPage applies every resolvable mapping to one page in the given
// mode. Unresolvable mappings are dropped individually; a returned
// error means the page could not be rewritten at all and the caller
// should keep the original.
func (e *Engine) AttackPage(page Page, mappings []Mapping, mode attack.AttackMode) (*PageResult, error) {
	st, err := e.loadPage(page)
	if err != nil {
		return nil, err
	}
	switch mode {
	case attack.ModePrevention:
		return e.preventionAttack(st, page, mappings)
	case attack.ModeDetectionCodeGlyph:
		return e.codeGlyphAttack(st, page, mappings)
	case attack.ModeDetectionHiddenText:
		return e.hiddenTextAttack(st, page, mappings)
	}
	return nil, fmt.Errorf("unknown attack mode %d", mode)
}

// preventionAttack substitutes replacement text in both the extracted
// and the rendered stream.
func (e *Engine) preventionAttack(st *pageState, page Page, mappings []Mapping) (*PageResult, error) {
	var plans []*rewrite.ReplacementPlan
	var applied [][2]string
	for _, m := range mappings {
		plan, err := e.resolve(st, m, m.Replacement, nil, page.Number)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			continue
		}
		plans = append(plans, plan)
		applied = append(applied, [2]string{m.Original, m.Replacement})
	}
	merged, err := e.merge(st, page, plans)
	if err != nil {
		return nil, err
	}
	return &PageResult{Content: contentstream.Serialize(merged), Applied: applied}, nil
}

// codeGlyphAttack removes each matched span from the original operators
// and redraws it with pair fonts, so extraction reads the replacement
// while the page shows the original glyphs.
func (e *Engine) codeGlyphAttack(st *pageState, page Page, mappings []Mapping) (*PageResult, error) {
	builder, err := e.ensureBuilder()
	if err != nil {
		return nil, err
	}
	registry := newPageRegistry(page.Resources)
	compositor := attack.NewCompositor(builder, e.cache, registry,
		attack.WithSizeClamp(e.cfg.SizeClampRatio),
		attack.WithCompositorLogger(e.log))

	var plans []*rewrite.ReplacementPlan
	var applied [][2]string
	for _, m := range mappings {
		plan, err := e.resolve(st, m, "", &rewrite.PlanOptions{RequiresIsolation: true}, page.Number)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			continue
		}
		layout, ok := e.spanLayout(st, plan, m)
		if !ok {
			e.log.Warn(observability.MetricDroppedMappings,
				observability.String("original", m.Original),
				observability.String("reason", "no match segment geometry"))
			continue
		}
		ops, err := compositor.ComposeToken(attack.Entity{Input: m.Original, Output: m.Replacement}, layout)
		if err != nil {
			return nil, fmt.Errorf("compose %q: %w", m.Original, err)
		}
		attachOverlay(plan, ops)
		plans = append(plans, plan)
		applied = append(applied, [2]string{m.Original, m.Replacement})
	}
	merged, err := e.merge(st, page, plans)
	if err != nil {
		return nil, err
	}
	return &PageResult{
		Content:  contentstream.Serialize(merged),
		Applied:  applied,
		NewFonts: registry.Fonts(),
	}, nil
}

// attachOverlay hangs the composed operations off the plan's first
// match segment so the merger splices them into the deleted span's
// slot, keeping extraction order intact.
func attachOverlay(plan *rewrite.ReplacementPlan, ops []contentstream.Operation) {
	for i := range plan.Segments {
		if plan.Segments[i].Role == rewrite.RoleMatch {
			plan.Segments[i].Overlay = ops
			return
		}
	}
}

// hiddenTextAttack leaves the rendered page untouched and plants the
// replacement text in invisible render mode where extractors will find
// it.
func (e *Engine) hiddenTextAttack(st *pageState, page Page, mappings []Mapping) (*PageResult, error) {
	out := append([]contentstream.Operation(nil), st.ops...)
	var applied [][2]string
	for _, m := range mappings {
		plan, err := e.resolve(st, m, m.Replacement, nil, page.Number)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			continue
		}
		layout, ok := e.spanLayout(st, plan, m)
		if !ok {
			continue
		}
		to := contentstream.NewTextObject()
		to.Begin().SetRenderMode(3)
		if layout.BaseFontRes != "" {
			to.SetFont(layout.BaseFontRes, layout.FontSize)
		}
		to.SetMatrix(coords.Translate(layout.Origin.X, layout.Origin.Y))
		to.Show([]byte(m.Replacement), contentstream.LiteralText)
		out = append(out, to.End()...)
		applied = append(applied, [2]string{m.Original, m.Replacement})
	}
	return &PageResult{Content: contentstream.Serialize(out), Applied: applied}, nil
}

// spanLayout derives the drawing geometry for a plan's first match
// segment: its matrix origin shifted right past any preserved prefix,
// wrapping at the selection bounding box when one was supplied.
func (e *Engine) spanLayout(st *pageState, plan *rewrite.ReplacementPlan, m Mapping) (attack.Layout, bool) {
	var match, prefix *rewrite.ReplacementSegment
	for i := range plan.Segments {
		switch plan.Segments[i].Role {
		case rewrite.RoleMatch:
			if match == nil {
				match = &plan.Segments[i]
			}
		case rewrite.RolePrefix:
			prefix = &plan.Segments[i]
		}
	}
	if match == nil {
		return attack.Layout{}, false
	}
	origin := match.Matrix.Origin()
	if prefix != nil {
		rec := &st.records[prefix.OperatorIndex]
		if w, ok := rewrite.SegmentWidth(rec, prefix.Text, st.measure); ok {
			origin.X += w * match.Matrix.XScale()
		}
	}
	layout := attack.Layout{
		Origin:      origin,
		FontSize:    match.FontSize,
		Leading:     match.FontSize * 1.2,
		BaseFontRes: match.FontRes,
	}
	if m.SelectionBBox[2] > m.SelectionBBox[0] {
		layout.RightMargin = m.SelectionBBox[2]
	}
	return layout, true
}

func (e *Engine) merge(st *pageState, page Page, plans []*rewrite.ReplacementPlan) ([]contentstream.Operation, error) {
	merger := rewrite.NewMerger(rewrite.MergerOptions{
		WidthTolerance: e.cfg.WidthTolerance,
		Measure:        st.measure,
		Resources:      page.Resources,
		Log:            e.log,
	})
	start := time.Now()
	merged, err := merger.Merge(st.ops, st.records, plans)
	if err != nil {
		return nil, fmt.Errorf("page %d: merge: %w", page.Number, err)
	}
	e.log.Debug(observability.MetricMergeTime,
		observability.Int("page", page.Number),
		observability.Duration("elapsed", time.Since(start)))
	return merged, nil
}

// BuildPairFonts pre-builds every pair font the mappings need and
// returns the metadata record for the evaluation layer. Identical
// input/output characters need no font and are skipped.
func (e *Engine) BuildPairFonts(mappings []Mapping) (*AttackResult, error) {
	builder, err := e.ensureBuilder()
	if err != nil {
		return nil, err
	}
	var pairs [][2]rune
	seen := map[[2]rune]bool{}
	result := &AttackResult{PrebuiltFontDir: e.cfg.FontDir}
	for _, m := range mappings {
		result.Mappings = append(result.Mappings, [2]string{m.Original, m.Replacement})
		entity := attack.Entity{Input: m.Original, Output: m.Replacement}
		for _, p := range entity.CharPairs() {
			if p.Input == p.Output {
				continue
			}
			key := [2]rune{p.Input, p.Output}
			if seen[key] {
				continue
			}
			seen[key] = true
			pairs = append(pairs, key)
		}
	}
	if err := builder.BuildAll(pairs); err != nil {
		return nil, fmt.Errorf("build pair fonts: %w", err)
	}
	return result, nil
}
