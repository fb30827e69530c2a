package contentstream

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/examsec/pdfveil/coords"
)

// ErrMalformedOperand reports a text or state operator whose operands do
// not match the expected arity or types. Pages raising it cannot be
// rewritten safely and the caller must fall back to the original.
var ErrMalformedOperand = errors.New("malformed operand")

// TextFragment is one decoded string literal of a show operator. Raw
// always holds the undecoded bytes; Text is empty for hex literals whose
// bytes are not self-evidently character codes.
type TextFragment struct {
	Text       string
	Raw        []byte
	Literal    LiteralKind
	OperandPos int
}

// KernAdjust is one numeric adjustment inside a TJ array, identified by
// its position in the array so rewrites can preserve ordering.
type KernAdjust struct {
	Value      float64
	OperandPos int
}

// OperatorRecord is an immutable snapshot of one operator together with
// the full graphics/text state in effect when it executed.
type OperatorRecord struct {
	Index         int
	Op            string
	Operands      []Operand
	GraphicsDepth int
	TextDepth     int

	CTM            coords.Matrix
	TextMatrix     coords.Matrix
	TextLineMatrix coords.Matrix

	FontRes      string
	FontSize     float64
	CharSpacing  float64
	WordSpacing  float64
	HorizScaling float64
	Leading      float64
	Rise         float64
	RenderMode   int

	Fragments   []TextFragment
	Adjustments []KernAdjust
}

// Text concatenates the record's decoded fragments.
func (r *OperatorRecord) Text() string {
	out := ""
	for _, f := range r.Fragments {
		out += f.Text
	}
	return out
}

// IsShow reports whether the operator draws text.
func (r *OperatorRecord) IsShow() bool {
	switch r.Op {
	case "Tj", "TJ", "'", "\"":
		return true
	}
	return false
}

type textState struct {
	fontRes      string
	fontSize     float64
	charSpacing  float64
	wordSpacing  float64
	horizScaling float64
	leading      float64
	rise         float64
	renderMode   int
}

type trackerState struct {
	ctm  coords.Matrix
	text textState
}

// AdvanceFunc returns the text-space advance of a show operator, used
// to carry the text matrix past it. When nil, show operators leave the
// matrix unchanged and consumers must position edits with Tm.
type AdvanceFunc func(rec *OperatorRecord) float64

// StateTracker replays a page's operators, maintaining graphics and text
// state, and snapshots every operator into an OperatorRecord. Unknown
// operators pass through as opaque records with no text fragments.
type StateTracker struct {
	Advance AdvanceFunc

	stack          []trackerState
	cur            trackerState
	textMatrix     coords.Matrix
	textLineMatrix coords.Matrix
	textDepth      int
}

func NewStateTracker() *StateTracker {
	return &StateTracker{
		cur: trackerState{
			ctm:  coords.Identity(),
			text: textState{horizScaling: 100},
		},
		textMatrix:     coords.Identity(),
		textLineMatrix: coords.Identity(),
	}
}

// Track replays ops and returns one record per operator.
func (t *StateTracker) Track(ops []Operation) ([]OperatorRecord, error) {
	records := make([]OperatorRecord, 0, len(ops))
	for i, op := range ops {
		if err := t.apply(op); err != nil {
			return nil, fmt.Errorf("operator %d (%s): %w", i, op.Operator, err)
		}
		records = append(records, t.snapshot(i, op))
		rec := &records[len(records)-1]
		if rec.IsShow() && t.Advance != nil {
			if w := t.Advance(rec); w != 0 {
				t.textMatrix = coords.Translate(w, 0).Multiply(t.textMatrix)
			}
		}
	}
	return records, nil
}

func (t *StateTracker) apply(op Operation) error {
	switch op.Operator {
	case "q":
		t.stack = append(t.stack, t.cur)
	case "Q":
		if n := len(t.stack); n > 0 {
			t.cur = t.stack[n-1]
			t.stack = t.stack[:n-1]
		}
	case "cm":
		if len(op.Operands) != 6 {
			return fmt.Errorf("%w: cm wants 6 operands, got %d", ErrMalformedOperand, len(op.Operands))
		}
		t.cur.ctm = operandMatrix(op).Multiply(t.cur.ctm)
	case "BT":
		t.textDepth++
		t.textMatrix = coords.Identity()
		t.textLineMatrix = coords.Identity()
	case "ET":
		if t.textDepth > 0 {
			t.textDepth--
		}
	case "Tf":
		if len(op.Operands) != 2 {
			return fmt.Errorf("%w: Tf wants 2 operands, got %d", ErrMalformedOperand, len(op.Operands))
		}
		name, ok := op.Operands[0].(NameOperand)
		if !ok {
			return fmt.Errorf("%w: Tf font operand is not a name", ErrMalformedOperand)
		}
		t.cur.text.fontRes = name.Value
		t.cur.text.fontSize = op.Num(1)
	case "Tc":
		if len(op.Operands) != 1 {
			return fmt.Errorf("%w: Tc wants 1 operand", ErrMalformedOperand)
		}
		t.cur.text.charSpacing = op.Num(0)
	case "Tw":
		if len(op.Operands) != 1 {
			return fmt.Errorf("%w: Tw wants 1 operand", ErrMalformedOperand)
		}
		t.cur.text.wordSpacing = op.Num(0)
	case "Tz":
		if len(op.Operands) != 1 {
			return fmt.Errorf("%w: Tz wants 1 operand", ErrMalformedOperand)
		}
		t.cur.text.horizScaling = op.Num(0)
	case "TL":
		if len(op.Operands) != 1 {
			return fmt.Errorf("%w: TL wants 1 operand", ErrMalformedOperand)
		}
		t.cur.text.leading = op.Num(0)
	case "Ts":
		if len(op.Operands) != 1 {
			return fmt.Errorf("%w: Ts wants 1 operand", ErrMalformedOperand)
		}
		t.cur.text.rise = op.Num(0)
	case "Tr":
		if len(op.Operands) != 1 {
			return fmt.Errorf("%w: Tr wants 1 operand", ErrMalformedOperand)
		}
		t.cur.text.renderMode = int(op.Num(0))
	case "Td":
		if len(op.Operands) != 2 {
			return fmt.Errorf("%w: Td wants 2 operands", ErrMalformedOperand)
		}
		t.moveLine(op.Num(0), op.Num(1))
	case "TD":
		if len(op.Operands) != 2 {
			return fmt.Errorf("%w: TD wants 2 operands", ErrMalformedOperand)
		}
		t.cur.text.leading = -op.Num(1)
		t.moveLine(op.Num(0), op.Num(1))
	case "Tm":
		if len(op.Operands) != 6 {
			return fmt.Errorf("%w: Tm wants 6 operands", ErrMalformedOperand)
		}
		t.textLineMatrix = operandMatrix(op)
		t.textMatrix = t.textLineMatrix
	case "T*":
		t.moveLine(0, -t.cur.text.leading)
	case "'":
		t.moveLine(0, -t.cur.text.leading)
	case "\"":
		if len(op.Operands) != 3 {
			return fmt.Errorf("%w: \" wants 3 operands", ErrMalformedOperand)
		}
		t.cur.text.wordSpacing = op.Num(0)
		t.cur.text.charSpacing = op.Num(1)
		t.moveLine(0, -t.cur.text.leading)
	}
	return nil
}

func (t *StateTracker) moveLine(tx, ty float64) {
	t.textLineMatrix = coords.Translate(tx, ty).Multiply(t.textLineMatrix)
	t.textMatrix = t.textLineMatrix
}

func (t *StateTracker) snapshot(index int, op Operation) OperatorRecord {
	rec := OperatorRecord{
		Index:          index,
		Op:             op.Operator,
		Operands:       op.Operands,
		GraphicsDepth:  len(t.stack),
		TextDepth:      t.textDepth,
		CTM:            t.cur.ctm,
		TextMatrix:     t.textMatrix,
		TextLineMatrix: t.textLineMatrix,
		FontRes:        t.cur.text.fontRes,
		FontSize:       t.cur.text.fontSize,
		CharSpacing:    t.cur.text.charSpacing,
		WordSpacing:    t.cur.text.wordSpacing,
		HorizScaling:   t.cur.text.horizScaling,
		Leading:        t.cur.text.leading,
		Rise:           t.cur.text.rise,
		RenderMode:     t.cur.text.renderMode,
	}
	switch op.Operator {
	case "Tj", "'":
		if len(op.Operands) > 0 {
			if frag, ok := decodeFragment(op.Operands[len(op.Operands)-1], len(op.Operands)-1); ok {
				rec.Fragments = append(rec.Fragments, frag)
			}
		}
	case "\"":
		if len(op.Operands) == 3 {
			if frag, ok := decodeFragment(op.Operands[2], 2); ok {
				rec.Fragments = append(rec.Fragments, frag)
			}
		}
	case "TJ":
		if len(op.Operands) == 1 {
			if arr, ok := op.Operands[0].(ArrayOperand); ok {
				for pos, item := range arr.Values {
					switch v := item.(type) {
					case StringOperand:
						if frag, ok := decodeFragment(v, pos); ok {
							rec.Fragments = append(rec.Fragments, frag)
						}
					case NumberOperand:
						rec.Adjustments = append(rec.Adjustments, KernAdjust{Value: v.Value, OperandPos: pos})
					}
				}
			}
		}
	}
	return rec
}

func decodeFragment(operand Operand, pos int) (TextFragment, bool) {
	str, ok := operand.(StringOperand)
	if !ok {
		return TextFragment{}, false
	}
	frag := TextFragment{
		Raw:        append([]byte(nil), str.Value...),
		Literal:    str.Literal,
		OperandPos: pos,
	}
	frag.Text = decodeStringBytes(str.Value, str.Literal)
	return frag, true
}

// decodeStringBytes interprets a string operand's bytes as characters.
// UTF-16BE (BOM-prefixed) literals decode through utf16; hex literals
// decode the same way when BOM-prefixed but otherwise pass through as
// one char per byte so byte offsets stay aligned with the raw form.
func decodeStringBytes(data []byte, kind LiteralKind) string {
	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF {
		return decodeUTF16BE(data[2:])
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func decodeUTF16BE(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	buf := make([]uint16, len(data)/2)
	for i := range buf {
		buf[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return string(utf16.Decode(buf))
}

func operandMatrix(op Operation) coords.Matrix {
	return coords.Matrix{op.Num(0), op.Num(1), op.Num(2), op.Num(3), op.Num(4), op.Num(5)}
}
