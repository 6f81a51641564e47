package feeds

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"threadbot/internal/logger"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Search researches a topic through the DuckDuckGo HTML endpoint.
type Search struct {
	fetcher    Getter
	endpoint   string
	budget     int
	maxResults int
}

// NewSearch returns a searcher for endpoint (for example
// https://html.duckduckgo.com/html/).
func NewSearch(g Getter, endpoint string, budget int) *Search {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Search{fetcher: g, endpoint: endpoint, budget: budget, maxResults: 2}
}

// Results returns up to two hits for query.
func (s *Search) Results(ctx context.Context, query string) ([]Result, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	e, err := s.fetcher.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	results, err := parseResults(e.Body, s.maxResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return results, nil
}

// Research returns readable text about topic: the first hit's snippet, or
// the second's when the first is empty. A PDF top hit is downloaded and its
// text used instead.
func (s *Search) Research(ctx context.Context, topic string) (string, error) {
	results, err := s.Results(ctx, topic)
	if err != nil {
		return "", err
	}

	if isPDF(results[0].URL) {
		if text, err := s.pdfText(ctx, results[0].URL); err == nil && text != "" {
			return Truncate(results[0].Title+"\n"+text, s.budget), nil
		} else if err != nil {
			logger.Warn("search: pdf extraction failed", map[string]interface{}{"url": results[0].URL, "error": err})
		}
	}

	for _, r := range results {
		if strings.TrimSpace(r.Snippet) == "" {
			continue
		}
		return Truncate(fmt.Sprintf("%s\n%s\nSource: %s", r.Title, r.Snippet, r.URL), s.budget), nil
	}
	return "", ErrNoContent
}

func parseResults(body []byte, limit int) ([]Result, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var results []Result
	walk(doc, func(n *html.Node) {
		if len(results) >= limit || n.Data != "div" || !hasClass(n, "result") || hasClass(n, "result--ad") {
			return
		}
		var r Result
		walk(n, func(c *html.Node) {
			switch {
			case c.Data == "a" && hasClass(c, "result__a") && r.URL == "":
				r.Title = strings.Join(strings.Fields(getTextContent(c)), " ")
				r.URL = resolveRedirect(getAttr(c, "href"))
			case hasClass(c, "result__snippet") && r.Snippet == "":
				r.Snippet = strings.Join(strings.Fields(getTextContent(c)), " ")
			}
		})
		if r.URL != "" {
			results = append(results, r)
		}
	})
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func isPDF(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func (s *Search) pdfText(ctx context.Context, rawURL string) (string, error) {
	e, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if mime := http.DetectContentType(e.Body); mime != "application/pdf" {
		return "", fmt.Errorf("not a pdf: %s", mime)
	}
	return extractPDFText(e.Body, s.budget)
}

// extractPDFText reads plain text page by page until limit characters.
func extractPDFText(data []byte, limit int) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage() && sb.Len() < limit*4; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString(" ")
	}
	return strings.Join(strings.Fields(sb.String()), " "), nil
}
