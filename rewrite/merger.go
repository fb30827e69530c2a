package rewrite

import (
	"fmt"
	"unicode/utf16"

	"github.com/examsec/pdfveil/contentstream"
	"github.com/examsec/pdfveil/coords"
	"github.com/examsec/pdfveil/observability"
)

// DefaultWidthTolerance is the rendered-width slack, in points, inside
// which an inline rewrite is considered layout-preserving.
const DefaultWidthTolerance = 0.5

type MergerOptions struct {
	// WidthTolerance caps the rendered-width drift an inline rewrite
	// may introduce before the merger falls back to isolation.
	WidthTolerance float64
	Measure        Measurer
	Resources      FontResources
	Log            observability.Logger
}

// Merger applies replacement plans to an operator stream, choosing per
// touched operator between inline rewrite, cross-operator rewrite and
// isolation blocks.
type Merger struct {
	tol     float64
	measure Measurer
	res     FontResources
	log     observability.Logger

	isolated int
}

func NewMerger(opts MergerOptions) *Merger {
	m := &Merger{
		tol:     opts.WidthTolerance,
		measure: opts.Measure,
		res:     opts.Resources,
		log:     opts.Log,
	}
	if m.tol <= 0 {
		m.tol = DefaultWidthTolerance
	}
	if m.log == nil {
		m.log = observability.NopLogger{}
	}
	return m
}

// Merge produces a new operator list realizing every plan. Untouched
// operators are copied verbatim. An error means no plan could be
// applied safely and the caller should keep the original stream.
func (m *Merger) Merge(ops []contentstream.Operation, records []contentstream.OperatorRecord, plans []*ReplacementPlan) ([]contentstream.Operation, error) {
	if len(ops) != len(records) {
		return nil, fmt.Errorf("operator list and record list diverge: %d vs %d", len(ops), len(records))
	}
	replace := map[int][]contentstream.Operation{}
	for _, plan := range plans {
		indices := plan.OperatorIndices()
		for _, idx := range indices {
			if idx < 0 || idx >= len(records) {
				return nil, fmt.Errorf("plan for %q references operator %d outside stream of %d operators", plan.Original, idx, len(records))
			}
			if !records[idx].IsShow() {
				return nil, fmt.Errorf("plan for %q references operator %d (%s), not a text-showing operator", plan.Original, idx, records[idx].Op)
			}
			if _, taken := replace[idx]; taken {
				m.log.Warn("dropping plan touching an already-rewritten operator",
					observability.String("original", plan.Original),
					observability.Int("operator", idx))
				indices = nil
				break
			}
		}
		if indices == nil {
			continue
		}
		if err := m.prepare(replace, ops, records, plan, indices); err != nil {
			return nil, err
		}
	}
	out := make([]contentstream.Operation, 0, len(ops))
	for i, op := range ops {
		if r, ok := replace[i]; ok {
			out = append(out, r...)
		} else {
			out = append(out, op)
		}
	}
	if m.isolated > 0 {
		m.log.Debug(observability.MetricIsolationBlocks, observability.Int("count", m.isolated))
	}
	return dedupFontOps(out), nil
}

type opSegments struct {
	prefix *ReplacementSegment
	match  *ReplacementSegment
	suffix *ReplacementSegment
}

func splitRoles(segs []*ReplacementSegment) (opSegments, error) {
	var s opSegments
	for _, seg := range segs {
		switch seg.Role {
		case RolePrefix:
			if s.prefix != nil {
				return s, fmt.Errorf("%w: duplicate prefix segment", ErrAmbiguousMatch)
			}
			s.prefix = seg
		case RoleMatch:
			if s.match != nil {
				return s, fmt.Errorf("%w: duplicate match segment on one operator", ErrAmbiguousMatch)
			}
			s.match = seg
		case RoleSuffix:
			if s.suffix != nil {
				return s, fmt.Errorf("%w: duplicate suffix segment", ErrAmbiguousMatch)
			}
			s.suffix = seg
		}
	}
	if s.match == nil {
		return s, fmt.Errorf("%w: operator has no match segment", ErrAmbiguousMatch)
	}
	return s, nil
}

func (m *Merger) prepare(replace map[int][]contentstream.Operation, ops []contentstream.Operation, records []contentstream.OperatorRecord, plan *ReplacementPlan, indices []int) error {
	byOp := map[int][]*ReplacementSegment{}
	for i := range plan.Segments {
		seg := &plan.Segments[i]
		byOp[seg.OperatorIndex] = append(byOp[seg.OperatorIndex], seg)
	}
	switch len(indices) {
	case 1:
		idx := indices[0]
		segs, err := splitRoles(byOp[idx])
		if err != nil {
			return err
		}
		replace[idx] = m.mergeSingle(ops[idx], &records[idx], segs)
		return nil
	case 2:
		a, b := indices[0], indices[1]
		segsA, errA := splitRoles(byOp[a])
		segsB, errB := splitRoles(byOp[b])
		if errA != nil || errB != nil {
			return firstErr(errA, errB)
		}
		if m.crossInline(replace, ops, records, a, b, segsA, segsB) {
			return nil
		}
		// Non-contiguous target ranges or non-Tj forms: isolate each
		// operator with its own segments rather than guess positions.
		replace[a] = m.isolate(ops[a], &records[a], segsA)
		replace[b] = m.isolate(ops[b], &records[b], segsB)
		return nil
	default:
		for _, idx := range indices {
			segs, err := splitRoles(byOp[idx])
			if err != nil {
				return err
			}
			replace[idx] = m.isolate(ops[idx], &records[idx], segs)
		}
		return nil
	}
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// mergeSingle applies a plan confined to one operator: inline when the
// replacement is layout-safe, isolation otherwise.
func (m *Merger) mergeSingle(op contentstream.Operation, rec *contentstream.OperatorRecord, segs opSegments) []contentstream.Operation {
	match := segs.match
	if match.RequiresIsolation || len(match.Overlay) > 0 || match.FontRes != rec.FontRes {
		return m.isolate(op, rec, segs)
	}
	whole := segs.prefix == nil && segs.suffix == nil
	if whole && op.Operator != "TJ" {
		if match.Text == "" {
			return m.consumeSlot(op, rec)
		}
		return []contentstream.Operation{rewriteShowString(op, rec, match.Text)}
	}
	origW := m.resolveMatchWidth(rec, match)
	newW, ok := SegmentWidth(rec, match.Text, m.measure)
	if !ok || diffExceeds(origW, newW, rec.TextMatrix, m.tol) {
		return m.isolate(op, rec, segs)
	}
	if op.Operator == "TJ" {
		return []contentstream.Operation{rewriteKerned(op, rec, match)}
	}
	text := segText(segs.prefix) + match.Text + segText(segs.suffix)
	return []contentstream.Operation{rewriteShowString(op, rec, text)}
}

// crossInline rewrites a match spanning two adjacent Tj operators in
// place. Returns false when the form or target contiguity rules it out.
func (m *Merger) crossInline(replace map[int][]contentstream.Operation, ops []contentstream.Operation, records []contentstream.OperatorRecord, a, b int, segsA, segsB opSegments) bool {
	if ops[a].Operator != "Tj" || ops[b].Operator != "Tj" {
		return false
	}
	if segsA.match.RequiresIsolation || segsB.match.RequiresIsolation {
		return false
	}
	if len(segsA.match.Overlay) > 0 || len(segsB.match.Overlay) > 0 {
		return false
	}
	for i := a + 1; i < b; i++ {
		if records[i].IsShow() {
			return false
		}
	}
	if segsA.match.TargetEnd != segsB.match.TargetStart {
		m.log.Warn("match segments not contiguous in replacement text, isolating",
			observability.String("error", ErrAmbiguousMatch.Error()),
			observability.Int("gap_start", segsA.match.TargetEnd),
			observability.Int("gap_end", segsB.match.TargetStart))
		return false
	}
	textA := segText(segsA.prefix) + segsA.match.Text
	textB := segsB.match.Text + segText(segsB.suffix)
	recA, recB := &records[a], &records[b]
	if textA == "" {
		replace[a] = m.consumeSlot(ops[a], recA)
	} else {
		replace[a] = []contentstream.Operation{rewriteShowString(ops[a], recA, textA)}
	}
	if textB == "" {
		replace[b] = m.consumeSlot(ops[b], recB)
	} else {
		replace[b] = []contentstream.Operation{rewriteShowString(ops[b], recB, textB)}
	}
	return true
}

// isolate replaces a show operator with: the original operator cut down
// to its preserved prefix, an isolated BT..ET block drawing the
// replacement in its own state, an optional block re-drawing the
// suffix, and a reopened text object restoring the surrounding state.
func (m *Merger) isolate(op contentstream.Operation, rec *contentstream.OperatorRecord, segs opSegments) []contentstream.Operation {
	m.isolated++
	match := segs.match
	var out []contentstream.Operation

	prefixW := 0.0
	if segs.prefix != nil {
		prefixW = m.resolveSegWidth(rec, segs.prefix)
		if op.Operator == "TJ" {
			// Truncate the array after the prefix, keeping its kerning.
			cut := &ReplacementSegment{
				LocalStart: segs.prefix.LocalEnd,
				LocalEnd:   len([]rune(rec.Text())),
			}
			out = append(out, rewriteKerned(op, rec, cut))
		} else {
			out = append(out, rewriteShowString(op, rec, segs.prefix.Text))
		}
	} else {
		out = append(out, m.consumeSlot(op, rec)...)
	}

	inText := rec.TextDepth > 0
	if inText {
		out = append(out, contentstream.Operation{Operator: "ET"})
	}

	curFont, curSize := rec.FontRes, rec.FontSize

	origMatchW := m.resolveMatchWidth(rec, match)
	drawnW := origMatchW
	if match.Text != "" {
		to := contentstream.NewTextObject()
		to.Begin().SeedFont(curFont, curSize)
		m.ensureFont(match.FontRes)
		to.SetFont(match.FontRes, match.FontSize)
		curFont, curSize = match.FontRes, match.FontSize
		to.SetCharSpacing(rec.CharSpacing).
			SetWordSpacing(rec.WordSpacing).
			SetHorizScaling(horizOrDefault(rec.HorizScaling)).
			SetRise(rec.Rise)
		to.SetMatrix(coords.Translate(prefixW, 0).Multiply(match.Matrix))
		data, kind := encodeShowText(match.Text, fragmentKind(rec))
		to.Show(data, kind)
		out = append(out, to.End()...)
		if w, ok := m.measure.Width(match.FontRes, match.Text, match.FontSize); ok {
			drawnW = w * scaling(rec.HorizScaling)
		}
	}
	// A deleted match leaves drawnW at the original width so the suffix
	// keeps its original x position.

	// Prebuilt overlay operations take the match's place in extraction
	// order: after the preserved prefix, before the suffix block. The
	// overlay may leave any font current, so the blocks after it must
	// reassert theirs.
	if len(match.Overlay) > 0 {
		out = append(out, match.Overlay...)
		curFont, curSize = "", 0
	}

	if segs.suffix != nil && segs.suffix.Text != "" {
		to := contentstream.NewTextObject()
		to.Begin().SeedFont(curFont, curSize)
		to.SetFont(rec.FontRes, rec.FontSize)
		curFont, curSize = rec.FontRes, rec.FontSize
		to.SetCharSpacing(rec.CharSpacing).
			SetWordSpacing(rec.WordSpacing).
			SetHorizScaling(horizOrDefault(rec.HorizScaling)).
			SetRise(rec.Rise)
		to.SetMatrix(coords.Translate(prefixW+drawnW, 0).Multiply(rec.TextMatrix))
		data, kind := encodeShowText(segs.suffix.Text, fragmentKind(rec))
		to.Show(data, kind)
		out = append(out, to.End()...)
	}

	if inText {
		// Reopen the enclosing text object with the original state so
		// every untouched operator after the edit renders as before.
		to := contentstream.NewTextObject()
		to.Begin().SeedFont(curFont, curSize)
		if rec.FontRes != "" {
			to.SetFont(rec.FontRes, rec.FontSize)
		}
		to.SetCharSpacing(rec.CharSpacing).
			SetWordSpacing(rec.WordSpacing).
			SetHorizScaling(horizOrDefault(rec.HorizScaling)).
			SetRise(rec.Rise).
			SetLeading(rec.Leading)
		to.SetMatrix(rec.TextLineMatrix)
		ops := to.End()
		out = append(out, ops[:len(ops)-1]...) // drop the builder's ET; the original stream's ET closes it
	}
	return out
}

// consumeSlot removes a show operator while preserving the state side
// effects the ' and " forms carry.
func (m *Merger) consumeSlot(op contentstream.Operation, rec *contentstream.OperatorRecord) []contentstream.Operation {
	switch op.Operator {
	case "'":
		return []contentstream.Operation{{Operator: "T*"}}
	case "\"":
		return []contentstream.Operation{
			{Operator: "Tw", Operands: []contentstream.Operand{contentstream.NumberOperand{Value: rec.WordSpacing}}},
			{Operator: "Tc", Operands: []contentstream.Operand{contentstream.NumberOperand{Value: rec.CharSpacing}}},
			{Operator: "T*"},
		}
	}
	return nil
}

func (m *Merger) ensureFont(name string) {
	if name == "" || m.res == nil {
		return
	}
	if !m.res.Has(name) {
		m.res.Ensure(name)
	}
}

// resolveMatchWidth resolves the original width of the matched range:
// planner-provided width when it agrees with a proportional estimate,
// else a measured substring width, else the proportional estimate.
func (m *Merger) resolveMatchWidth(rec *contentstream.OperatorRecord, match *ReplacementSegment) float64 {
	runW := RunWidth(rec, m.measure)
	est := ProportionalWidth(runW, rec.Text(), match.LocalStart, match.LocalEnd)
	if match.Width > 0 && !diffExceeds(match.Width, est, rec.TextMatrix, m.tol) {
		return match.Width
	}
	orig := runeSlice(rec.Text(), match.LocalStart, match.LocalEnd)
	if w, ok := SegmentWidth(rec, orig, m.measure); ok && w > 0 {
		return w
	}
	return est
}

func (m *Merger) resolveSegWidth(rec *contentstream.OperatorRecord, seg *ReplacementSegment) float64 {
	if w, ok := SegmentWidth(rec, seg.Text, m.measure); ok && w > 0 {
		return w
	}
	if seg.Width > 0 {
		return seg.Width
	}
	return ProportionalWidth(RunWidth(rec, m.measure), rec.Text(), seg.LocalStart, seg.LocalEnd)
}

func diffExceeds(a, b float64, tm coords.Matrix, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d*tm.XScale() > tol
}

func segText(seg *ReplacementSegment) string {
	if seg == nil {
		return ""
	}
	return seg.Text
}

func horizOrDefault(v float64) float64 {
	if v == 0 {
		return 100
	}
	return v
}

// fragmentKind returns the literal kind of the record's first fragment.
// Byte-string content must stay byte-string on rewrite.
func fragmentKind(rec *contentstream.OperatorRecord) contentstream.LiteralKind {
	if len(rec.Fragments) > 0 {
		return rec.Fragments[0].Literal
	}
	return contentstream.LiteralText
}

// rewriteShowString swaps the string operand of a Tj, ' or " operator,
// keeping the operator form and any leading operands.
func rewriteShowString(op contentstream.Operation, rec *contentstream.OperatorRecord, text string) contentstream.Operation {
	data, kind := encodeShowText(text, fragmentKind(rec))
	operand := contentstream.StringOperand{Value: data, Literal: kind}
	out := contentstream.Operation{Operator: op.Operator}
	switch op.Operator {
	case "\"":
		out.Operands = append(out.Operands, op.Operands[0], op.Operands[1], operand)
	default:
		out.Operands = []contentstream.Operand{operand}
	}
	return out
}

// rewriteKerned rebuilds a TJ array with the matched character range
// replaced. Every string and adjustment outside the range is kept
// unchanged in original order; adjustments inside the range fall away
// with the characters they kerned.
func rewriteKerned(op contentstream.Operation, rec *contentstream.OperatorRecord, match *ReplacementSegment) contentstream.Operation {
	arr, ok := op.Operands[0].(contentstream.ArrayOperand)
	if !ok {
		return op
	}
	var items []contentstream.Operand
	cursor := 0
	replaced := false
	for _, item := range arr.Values {
		switch v := item.(type) {
		case contentstream.NumberOperand:
			if cursor <= match.LocalStart || cursor >= match.LocalEnd {
				items = append(items, v)
			}
		case contentstream.StringOperand:
			runes := []rune(decodeForLength(v))
			fragStart, fragEnd := cursor, cursor+len(runes)
			cursor = fragEnd
			if fragEnd <= match.LocalStart || fragStart >= match.LocalEnd {
				items = append(items, v)
				continue
			}
			if before := clampSlice(runes, 0, match.LocalStart-fragStart); len(before) > 0 {
				data, kind := encodeShowText(string(before), v.Literal)
				items = append(items, contentstream.StringOperand{Value: data, Literal: kind})
			}
			if !replaced {
				replaced = true
				if match.Text != "" {
					data, kind := encodeShowText(match.Text, v.Literal)
					items = append(items, contentstream.StringOperand{Value: data, Literal: kind})
				}
			}
			if after := clampSlice(runes, match.LocalEnd-fragStart, len(runes)); len(after) > 0 {
				data, kind := encodeShowText(string(after), v.Literal)
				items = append(items, contentstream.StringOperand{Value: data, Literal: kind})
			}
		default:
			items = append(items, item)
		}
	}
	return contentstream.Operation{Operator: "TJ", Operands: []contentstream.Operand{
		contentstream.ArrayOperand{Values: items},
	}}
}

func clampSlice(runes []rune, start, end int) []rune {
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if end <= start {
		return nil
	}
	return runes[start:end]
}

func decodeForLength(s contentstream.StringOperand) string {
	if len(s.Value) >= 2 && s.Value[0] == 0xFE && s.Value[1] == 0xFF {
		return decodeUTF16Text(s.Value[2:])
	}
	runes := make([]rune, len(s.Value))
	for i, b := range s.Value {
		runes[i] = rune(b)
	}
	return string(runes)
}

func decodeUTF16Text(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	buf := make([]uint16, len(data)/2)
	for i := range buf {
		buf[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return string(utf16.Decode(buf))
}

// encodeShowText encodes replacement text for a show operand. Content
// that fits single bytes keeps the requested kind; anything wider goes
// out as BOM-prefixed UTF-16BE, which both literal forms carry safely.
func encodeShowText(text string, kind contentstream.LiteralKind) ([]byte, contentstream.LiteralKind) {
	wide := false
	for _, r := range text {
		if r > 0xFF {
			wide = true
			break
		}
	}
	if !wide {
		data := make([]byte, 0, len(text))
		for _, r := range text {
			data = append(data, byte(r))
		}
		return data, kind
	}
	units := utf16.Encode([]rune(text))
	data := make([]byte, 0, 2+2*len(units))
	data = append(data, 0xFE, 0xFF)
	for _, u := range units {
		data = append(data, byte(u>>8), byte(u))
	}
	return data, kind
}

// dedupFontOps drops Tf operators that restate the font already in
// effect, tracking save/restore so a Tf after Q is judged against the
// restored state.
func dedupFontOps(ops []contentstream.Operation) []contentstream.Operation {
	type fontState struct {
		res  string
		size float64
	}
	var stack []fontState
	var cur fontState
	out := ops[:0]
	for _, op := range ops {
		switch op.Operator {
		case "q":
			stack = append(stack, cur)
		case "Q":
			if n := len(stack); n > 0 {
				cur = stack[n-1]
				stack = stack[:n-1]
			}
		case "Tf":
			if len(op.Operands) == 2 {
				next := fontState{res: op.Name(0), size: op.Num(1)}
				if next == cur && next.res != "" {
					continue
				}
				cur = next
			}
		}
		out = append(out, op)
	}
	return out
}
