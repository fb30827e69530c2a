package contentstream

import "github.com/examsec/pdfveil/coords"

// TextObject builds a self-contained BT..ET block. The compositor and
// run merger use it to emit isolation blocks without hand-assembling
// operand slices; Tf emission is deduplicated against the font the
// builder last set.
type TextObject struct {
	ops     []Operation
	curFont string
	curSize float64
	open    bool
}

func NewTextObject() *TextObject {
	return &TextObject{}
}

func (t *TextObject) Begin() *TextObject {
	t.ops = append(t.ops, Operation{Operator: "BT"})
	t.open = true
	return t
}

// SetFont emits Tf unless the builder already set that exact font.
func (t *TextObject) SetFont(res string, size float64) *TextObject {
	if res == t.curFont && size == t.curSize {
		return t
	}
	t.curFont, t.curSize = res, size
	t.ops = append(t.ops, Operation{Operator: "Tf", Operands: []Operand{
		NameOperand{Value: res},
		NumberOperand{Value: size},
	}})
	return t
}

// SeedFont records the font in effect before the block without
// emitting Tf, so SetFont can skip a redundant operator.
func (t *TextObject) SeedFont(res string, size float64) *TextObject {
	t.curFont, t.curSize = res, size
	return t
}

func (t *TextObject) SetMatrix(m coords.Matrix) *TextObject {
	t.ops = append(t.ops, Operation{Operator: "Tm", Operands: []Operand{
		NumberOperand{Value: m[0]}, NumberOperand{Value: m[1]},
		NumberOperand{Value: m[2]}, NumberOperand{Value: m[3]},
		NumberOperand{Value: m[4]}, NumberOperand{Value: m[5]},
	}})
	return t
}

func (t *TextObject) scalar(op string, v float64) *TextObject {
	t.ops = append(t.ops, Operation{Operator: op, Operands: []Operand{NumberOperand{Value: v}}})
	return t
}

func (t *TextObject) SetCharSpacing(v float64) *TextObject { return t.scalar("Tc", v) }
func (t *TextObject) SetWordSpacing(v float64) *TextObject { return t.scalar("Tw", v) }
func (t *TextObject) SetHorizScaling(v float64) *TextObject {
	return t.scalar("Tz", v)
}
func (t *TextObject) SetRise(v float64) *TextObject    { return t.scalar("Ts", v) }
func (t *TextObject) SetLeading(v float64) *TextObject { return t.scalar("TL", v) }

// SetRenderMode emits Tr. Mode 3 draws nothing while keeping the text
// extractable.
func (t *TextObject) SetRenderMode(mode int) *TextObject {
	t.ops = append(t.ops, Operation{Operator: "Tr", Operands: []Operand{
		NumberOperand{Value: float64(mode), IsInt: true},
	}})
	return t
}

// Show emits a Tj with the requested literal kind. Byte-string content
// always goes out as a hex literal so opaque codepoints survive.
func (t *TextObject) Show(data []byte, kind LiteralKind) *TextObject {
	t.ops = append(t.ops, Operation{Operator: "Tj", Operands: []Operand{
		StringOperand{Value: data, Literal: kind},
	}})
	return t
}

// ShowKerned emits a TJ array of string and adjustment items.
func (t *TextObject) ShowKerned(items []Operand) *TextObject {
	t.ops = append(t.ops, Operation{Operator: "TJ", Operands: []Operand{
		ArrayOperand{Values: items},
	}})
	return t
}

func (t *TextObject) End() []Operation {
	if t.open {
		t.ops = append(t.ops, Operation{Operator: "ET"})
		t.open = false
	}
	return t.ops
}
