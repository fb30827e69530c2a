package contentstream

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Serialize writes operations back out as content-stream bytes. Output
// is canonical: minimal decimal numbers, uppercase hex strings, one
// operator per line, dict keys in sorted order, so repeated merges of
// the same input are byte-identical.
func Serialize(ops []Operation) []byte {
	var buf bytes.Buffer
	for _, op := range ops {
		for _, operand := range op.Operands {
			writeOperand(&buf, operand)
			buf.WriteByte(' ')
		}
		buf.WriteString(op.Operator)
		if op.Operator == "BI" {
			buf.WriteString(" ID ")
			buf.Write(op.InlineData)
			buf.WriteString(" EI")
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func writeOperand(buf *bytes.Buffer, operand Operand) {
	switch v := operand.(type) {
	case NumberOperand:
		buf.WriteString(FormatNumber(v.Value))
	case NameOperand:
		buf.WriteByte('/')
		writeName(buf, v.Value)
	case StringOperand:
		if v.Literal == LiteralHex {
			writeHexString(buf, v.Value)
		} else {
			writeLiteralString(buf, v.Value)
		}
	case ArrayOperand:
		buf.WriteByte('[')
		for i, item := range v.Values {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeOperand(buf, item)
		}
		buf.WriteByte(']')
	case DictOperand:
		buf.WriteString("<<")
		keys := make([]string, 0, len(v.Values))
		for k := range v.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString(" /")
			writeName(buf, k)
			buf.WriteByte(' ')
			writeOperand(buf, v.Values[k])
		}
		buf.WriteString(" >>")
	case BoolOperand:
		if v.Value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case NullOperand:
		buf.WriteString("null")
	}
}

// FormatNumber renders a PDF number in minimal decimal form: integers
// without a point, reals trimmed of trailing zeros, at most 6 decimals.
func FormatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = trimTrailingZeros(s)
	return s
}

func trimTrailingZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

func writeName(buf *bytes.Buffer, name string) {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c > 0x7E || isNameDelimiter(c) || c == '#' {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func isNameDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func writeLiteralString(buf *bytes.Buffer, data []byte) {
	buf.WriteByte('(')
	for _, c := range data {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 || c > 0x7E {
				fmt.Fprintf(buf, `\%03o`, c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte(')')
}

const hexDigits = "0123456789ABCDEF"

func writeHexString(buf *bytes.Buffer, data []byte) {
	buf.WriteByte('<')
	for _, c := range data {
		buf.WriteByte(hexDigits[c>>4])
		buf.WriteByte(hexDigits[c&0x0F])
	}
	buf.WriteByte('>')
}
