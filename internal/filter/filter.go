// Package filter masks profanity in model output.
package filter

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Filter replaces listed words with asterisks. The zero value and a nil
// *Filter pass text through unchanged.
type Filter struct {
	re *regexp.Regexp
}

// New builds a filter for words. Matching is whole-word and case-insensitive.
func New(words []string) *Filter {
	var quoted []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return &Filter{}
	}
	return &Filter{re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)}
}

// Clean returns text with every listed word masked, keeping its length.
func (f *Filter) Clean(text string) string {
	if f == nil || f.re == nil {
		return text
	}
	return f.re.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat("*", utf8.RuneCountInString(m))
	})
}
