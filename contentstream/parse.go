package contentstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/examsec/pdfveil/scanner"
)

// Parse tokenizes a decoded content stream into typed operations.
// Operands accumulate until a keyword token closes them into an
// Operation; unknown operators are kept so callers can copy them
// through verbatim.
func Parse(data []byte, cfg scanner.Config) ([]Operation, error) {
	s := scanner.New(data, cfg)
	var ops []Operation
	var operands []Operand
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("tokenize content stream: %w", err)
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil
		case scanner.TokenInlineImage:
			// The image parameters accumulated as operands between BI
			// and ID; fold them and the payload back into the BI op.
			if n := len(ops); n > 0 && ops[n-1].Operator == "BI" {
				ops[n-1].Operands = operands
				ops[n-1].InlineData = tok.Bytes
			}
			operands = nil
		default:
			operand, err := parseOperand(s, tok)
			if err != nil {
				return nil, err
			}
			operands = append(operands, operand)
		}
	}
	if len(operands) > 0 {
		return nil, fmt.Errorf("content stream ends with %d dangling operands", len(operands))
	}
	return ops, nil
}

func parseOperand(s *scanner.Scanner, tok scanner.Token) (Operand, error) {
	switch tok.Type {
	case scanner.TokenNumber:
		return NumberOperand{Value: tok.Num, IsInt: tok.IsInt}, nil
	case scanner.TokenName:
		return NameOperand{Value: tok.Str}, nil
	case scanner.TokenString:
		kind := LiteralText
		if tok.Hex {
			kind = LiteralHex
		}
		return StringOperand{Value: tok.Bytes, Literal: kind}, nil
	case scanner.TokenBoolean:
		return BoolOperand{Value: tok.Bool}, nil
	case scanner.TokenNull:
		return NullOperand{}, nil
	case scanner.TokenArrayStart:
		return parseArray(s)
	case scanner.TokenDictStart:
		return parseDict(s)
	default:
		return nil, fmt.Errorf("unexpected token %v at offset %d", tok.Type, tok.Pos)
	}
}

func parseArray(s *scanner.Scanner) (Operand, error) {
	arr := ArrayOperand{}
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated array: %w", err)
		}
		if tok.Type == scanner.TokenArrayEnd {
			return arr, nil
		}
		item, err := parseOperand(s, tok)
		if err != nil {
			return nil, err
		}
		arr.Values = append(arr.Values, item)
	}
}

func parseDict(s *scanner.Scanner) (Operand, error) {
	dict := DictOperand{Values: make(map[string]Operand)}
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated dict: %w", err)
		}
		if tok.Type == scanner.TokenDictEnd {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("dict key must be a name, got token type %v", tok.Type)
		}
		valTok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("dict missing value for /%s: %w", tok.Str, err)
		}
		val, err := parseOperand(s, valTok)
		if err != nil {
			return nil, err
		}
		dict.Values[tok.Str] = val
	}
}
