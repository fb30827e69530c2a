package rewrite

import "fmt"

// RunSlice says characters [Start,End) of a matched range live inside
// the run at RunIndex, as local rune offsets into that run's text.
type RunSlice struct {
	RunIndex      int
	OperatorIndex int
	Start         int
	End           int
}

// Alignment maps absolute character offsets over the concatenation of a
// page's runs back onto the individual runs.
type Alignment struct {
	runs   []TextRun
	starts []int
	total  int
}

// NewAlignment indexes the runs. Offsets are rune offsets, matching the
// character positions the structuring stage reports.
func NewAlignment(runs []TextRun) *Alignment {
	a := &Alignment{runs: runs, starts: make([]int, len(runs))}
	for i, run := range runs {
		a.starts[i] = a.total
		a.total += len([]rune(run.Text))
	}
	return a
}

// Len returns the total character count across all runs.
func (a *Alignment) Len() int { return a.total }

// Text returns the concatenation of all run texts.
func (a *Alignment) Text() string {
	out := ""
	for _, run := range a.runs {
		out += run.Text
	}
	return out
}

// Run returns the run backing a slice.
func (a *Alignment) Run(i int) *TextRun { return &a.runs[i] }

// Slice resolves an absolute character range into per-run slices, in
// run order. Empty ranges resolve to a single zero-length slice on the
// run containing (or, at the very end, preceding) the offset, so pure
// insertions still anchor to an operator.
func (a *Alignment) Slice(start, end int) ([]RunSlice, error) {
	if start < 0 || end < start || end > a.total {
		return nil, fmt.Errorf("character range [%d,%d) outside text of length %d", start, end, a.total)
	}
	if start == end {
		for i := len(a.runs) - 1; i >= 0; i-- {
			n := len([]rune(a.runs[i].Text))
			if start >= a.starts[i] && start <= a.starts[i]+n {
				local := start - a.starts[i]
				return []RunSlice{{RunIndex: i, OperatorIndex: a.runs[i].SourceIndex, Start: local, End: local}}, nil
			}
		}
		return nil, fmt.Errorf("offset %d not covered by any run", start)
	}
	var out []RunSlice
	for i, run := range a.runs {
		n := len([]rune(run.Text))
		lo, hi := a.starts[i], a.starts[i]+n
		if hi <= start || lo >= end {
			continue
		}
		s, e := start, end
		if s < lo {
			s = lo
		}
		if e > hi {
			e = hi
		}
		out = append(out, RunSlice{
			RunIndex:      i,
			OperatorIndex: run.SourceIndex,
			Start:         s - lo,
			End:           e - lo,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("character range [%d,%d) not covered by any run", start, end)
	}
	return out, nil
}
