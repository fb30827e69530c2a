package attack

import (
	"strings"
	"unicode"
)

// CasePattern classifies the letter casing of a token.
type CasePattern int

const (
	CaseLower CasePattern = iota
	CaseUpper
	CaseTitle
	CaseMixed
)

func (p CasePattern) String() string {
	switch p {
	case CaseLower:
		return "lower"
	case CaseUpper:
		return "upper"
	case CaseTitle:
		return "title"
	case CaseMixed:
		return "mixed"
	}
	return "unknown"
}

// DetectCase classifies a token's casing. Tokens without letters read
// as lower, which applies no transformation.
func DetectCase(token string) CasePattern {
	runes := []rune(token)
	var letters []rune
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return CaseLower
	}
	upper, lower := 0, 0
	for _, r := range letters {
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsLower(r):
			lower++
		}
	}
	switch {
	case lower == 0 && upper > 0:
		return CaseUpper
	case upper == 0:
		return CaseLower
	case upper == 1 && unicode.IsUpper(letters[0]):
		return CaseTitle
	}
	return CaseMixed
}

// MatchCase recases text to the casing pattern of source. Mixed casing
// copies the source's case per character position, falling back to the
// source's last observed case when the text is longer.
func MatchCase(source, text string) string {
	switch DetectCase(source) {
	case CaseUpper:
		return strings.ToUpper(text)
	case CaseLower:
		return strings.ToLower(text)
	case CaseTitle:
		return titleCase(text)
	}
	return perCharCase(source, text)
}

func titleCase(text string) string {
	runes := []rune(strings.ToLower(text))
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
	}
	return string(runes)
}

func perCharCase(source, text string) string {
	src := []rune(source)
	out := []rune(text)
	for i, r := range out {
		// Positions past the source pattern keep their own case.
		if i >= len(src) {
			break
		}
		if unicode.IsUpper(src[i]) {
			out[i] = unicode.ToUpper(r)
		} else {
			out[i] = unicode.ToLower(r)
		}
	}
	return string(out)
}
