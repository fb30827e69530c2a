package contentstream

// LiteralKind distinguishes how a string operand was written in the
// stream. Hex (byte) strings carry opaque codepoints and must round-trip
// through byte arrays, never through character decoding.
type LiteralKind int

const (
	LiteralText LiteralKind = iota
	LiteralHex
)

type Operand interface {
	operand()
	Kind() string
}

type NumberOperand struct {
	Value float64
	IsInt bool
}

func (NumberOperand) operand()     {}
func (NumberOperand) Kind() string { return "number" }

type NameOperand struct{ Value string }

func (NameOperand) operand()     {}
func (NameOperand) Kind() string { return "name" }

type StringOperand struct {
	Value   []byte
	Literal LiteralKind
}

func (StringOperand) operand()     {}
func (StringOperand) Kind() string { return "string" }

type ArrayOperand struct{ Values []Operand }

func (ArrayOperand) operand()     {}
func (ArrayOperand) Kind() string { return "array" }

type DictOperand struct{ Values map[string]Operand }

func (DictOperand) operand()     {}
func (DictOperand) Kind() string { return "dict" }

type BoolOperand struct{ Value bool }

func (BoolOperand) operand()     {}
func (BoolOperand) Kind() string { return "bool" }

type NullOperand struct{}

func (NullOperand) operand()     {}
func (NullOperand) Kind() string { return "null" }

// Operation is one content-stream operator with its operands.
// Inline images (BI ... ID ... EI) carry their raw payload separately.
type Operation struct {
	Operator   string
	Operands   []Operand
	InlineData []byte
}

// Num returns a float64 operand at index i, or 0 if absent/mistyped.
func (op Operation) Num(i int) float64 {
	if i < 0 || i >= len(op.Operands) {
		return 0
	}
	if n, ok := op.Operands[i].(NumberOperand); ok {
		return n.Value
	}
	return 0
}

// Name returns a name operand at index i, or "".
func (op Operation) Name(i int) string {
	if i < 0 || i >= len(op.Operands) {
		return ""
	}
	if n, ok := op.Operands[i].(NameOperand); ok {
		return n.Value
	}
	return ""
}
