// Package textnorm provides the text transforms shared by every text index:
// diacritic stripping, case folding and identifier-aware tokenization.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is a single token carrying both its raw and normalized form.
type Token struct {
	Raw  string `json:"raw"`
	Norm string `json:"norm"`
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize folds case and strips combining marks.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	return stripMarks(strings.ToLower(s))
}

// Tokenize returns the normalized tokens of s.
func Tokenize(s string) []string {
	toks := Tokens(s)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Norm
	}
	return out
}

// Tokens splits s into tokens. Boundaries are inserted at lower→upper
// transitions ("sendEmail"), at the end of an upper-case run followed by a
// lower-case letter ("HTTPServer"), at letter↔digit transitions ("v2api") and
// on any run of non-alphanumeric characters. Never returns nil tokens with
// empty Norm.
func Tokens(s string) []Token {
	s = stripMarks(s)
	if strings.TrimSpace(s) == "" {
		return []Token{}
	}

	rs := []rune(s)
	var out []Token
	start := -1
	flush := func(end int) {
		if start < 0 || end <= start {
			start = -1
			return
		}
		raw := string(rs[start:end])
		out = append(out, Token{Raw: raw, Norm: strings.ToLower(raw)})
		start = -1
	}

	for i, r := range rs {
		if !isAlnum(r) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := rs[i-1]
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(r):
			flush(i)
			start = i
		case unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(rs) && unicode.IsLower(rs[i+1]):
			flush(i)
			start = i
		case unicode.IsLetter(prev) && unicode.IsDigit(r), unicode.IsDigit(prev) && unicode.IsLetter(r):
			flush(i)
			start = i
		}
	}
	flush(len(rs))

	if out == nil {
		return []Token{}
	}
	return out
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
