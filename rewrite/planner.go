package rewrite

import (
	"fmt"
)

// PlanOptions overrides segment geometry when the caller needs match
// segments drawn with a different font or position than the owning run,
// as glyph-substitution rendering does.
type PlanOptions struct {
	FontRes           string
	FontSize          float64
	RequiresIsolation bool
	Slices            []SpanSlice
}

// Plan partitions the runs covering [start,end) into prefix, match and
// suffix segments realizing the replacement. Cross-operator matches get
// one match segment per touched operator, each assigned its share of
// the replacement text proportionally by original character count.
func Plan(a *Alignment, start, end int, replacement string, page int, opts *PlanOptions) (*ReplacementPlan, error) {
	slices, err := a.Slice(start, end)
	if err != nil {
		return nil, err
	}
	original := sliceText(a, slices)
	plan := &ReplacementPlan{
		Page:        page,
		Original:    original,
		Replacement: replacement,
	}
	repl := []rune(replacement)
	matched := end - start

	first, last := slices[0], slices[len(slices)-1]
	if first.Start > 0 {
		run := a.Run(first.RunIndex)
		plan.Segments = append(plan.Segments, ReplacementSegment{
			OperatorIndex: first.OperatorIndex,
			Role:          RolePrefix,
			Text:          runeSlice(run.Text, 0, first.Start),
			LocalEnd:      first.Start,
			Matrix:        run.Matrix,
			FontRes:       run.FontRes,
			FontSize:      run.FontSize,
			Width:         ProportionalWidth(run.Width, run.Text, 0, first.Start),
		})
	}

	consumed := 0
	for _, sl := range slices {
		run := a.Run(sl.RunIndex)
		share := sl.End - sl.Start
		tStart := scaleTarget(consumed, matched, len(repl))
		tEnd := scaleTarget(consumed+share, matched, len(repl))
		consumed += share
		seg := ReplacementSegment{
			OperatorIndex: sl.OperatorIndex,
			Role:          RoleMatch,
			Text:          string(repl[tStart:tEnd]),
			LocalStart:    sl.Start,
			LocalEnd:      sl.End,
			TargetStart:   tStart,
			TargetEnd:     tEnd,
			Matrix:        run.Matrix,
			FontRes:       run.FontRes,
			FontSize:      run.FontSize,
			Width:         ProportionalWidth(run.Width, run.Text, sl.Start, sl.End),
		}
		if opts != nil {
			if opts.FontRes != "" {
				seg.FontRes = opts.FontRes
			}
			if opts.FontSize != 0 {
				seg.FontSize = opts.FontSize
			}
			seg.RequiresIsolation = opts.RequiresIsolation
			seg.Slices = opts.Slices
		}
		plan.Segments = append(plan.Segments, seg)
	}

	lastRun := a.Run(last.RunIndex)
	if n := len([]rune(lastRun.Text)); last.End < n {
		plan.Segments = append(plan.Segments, ReplacementSegment{
			OperatorIndex: last.OperatorIndex,
			Role:          RoleSuffix,
			Text:          runeSlice(lastRun.Text, last.End, n),
			LocalStart:    last.End,
			LocalEnd:      n,
			Matrix:        lastRun.Matrix,
			FontRes:       lastRun.FontRes,
			FontSize:      lastRun.FontSize,
			Width:         ProportionalWidth(lastRun.Width, lastRun.Text, last.End, n),
		})
	}

	if err := checkOrdered(plan.Segments); err != nil {
		return nil, err
	}
	return plan, nil
}

func sliceText(a *Alignment, slices []RunSlice) string {
	out := ""
	for _, sl := range slices {
		out += runeSlice(a.Run(sl.RunIndex).Text, sl.Start, sl.End)
	}
	return out
}

func runeSlice(s string, start, end int) string {
	runes := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if end <= start {
		return ""
	}
	return string(runes[start:end])
}

// scaleTarget maps a consumed original-character count onto the
// replacement text proportionally, keeping the full replacement
// assigned even when the lengths differ.
func scaleTarget(consumed, matched, replLen int) int {
	if matched == 0 {
		return 0
	}
	if consumed >= matched {
		return replLen
	}
	return consumed * replLen / matched
}

func checkOrdered(segs []ReplacementSegment) error {
	for i := 1; i < len(segs); i++ {
		a, b := segs[i-1], segs[i]
		if b.OperatorIndex < a.OperatorIndex ||
			(b.OperatorIndex == a.OperatorIndex && b.LocalStart < a.LocalStart) {
			return fmt.Errorf("segments out of order at %d: (%d,%d) after (%d,%d)",
				i, b.OperatorIndex, b.LocalStart, a.OperatorIndex, a.LocalStart)
		}
	}
	return nil
}
