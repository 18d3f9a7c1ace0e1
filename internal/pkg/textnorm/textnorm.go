// Package textnorm folds names and e-mail addresses into comparison keys for blacklist
// matching: case, accents, punctuation and repeated whitespace are ignored.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldReplacer = strings.NewReplacer("ß", "ss", "æ", "ae", "ø", "o", "œ", "oe", "ł", "l", "đ", "d")

// Name returns the comparison key of a personal name: "Jürgen  O'Neil" -> "jurgen oneil"
func Name(s string) string {
	s = foldReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			space = true
		}
	}
	return b.String()
}

// Email lower-cases and trims an address
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
