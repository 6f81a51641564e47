// Package feeds gathers the material behind /news, /market and /research:
// RSS digests, the CoinGecko market ranking and web search snippets. Every
// result is plain text cut to a character budget so it can be embedded in a
// prompt.
package feeds

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"threadbot/internal/fetch"
)

// DefaultBudget is the default character budget of one feed result.
const DefaultBudget = 4000

var (
	// ErrNoResults means the source answered but had nothing usable.
	ErrNoResults = errors.New("feeds: no results")
	// ErrNoContent means results were found but none had readable text.
	ErrNoContent = errors.New("feeds: results have no content")
)

// Getter fetches a URL. *fetch.Cache implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*fetch.Entry, error)
}

// Truncate cuts s to at most budget characters, preferring a line break.
func Truncate(s string, budget int) string {
	if budget <= 0 {
		budget = DefaultBudget
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= budget {
		return s
	}
	runes := []rune(s)[:budget]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, '\n'); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
