package feeds

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"threadbot/internal/fetch"
	"threadbot/internal/logger"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
)

// Item is one headline from a feed.
type Item struct {
	Source    string
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

// RSS builds headline digests from RSS 2.0 and Atom feeds.
type RSS struct {
	fetcher  Getter
	breaker  *fetch.Breaker
	budget   int
	maxItems int
}

// NewRSS returns an RSS digester. breaker may be nil.
func NewRSS(g Getter, breaker *fetch.Breaker, budget int) *RSS {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &RSS{fetcher: g, breaker: breaker, budget: budget, maxItems: 15}
}

// Digest fetches every URL concurrently and returns the newest headlines as
// one text block. Failing feeds are skipped; the call fails only when no
// feed produced an item.
func (r *RSS) Digest(ctx context.Context, urls []string) (string, error) {
	items, err := r.Items(ctx, urls)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it.Title)
		sb.WriteString(" (")
		sb.WriteString(it.Source)
		if !it.Published.IsZero() {
			sb.WriteString(", ")
			sb.WriteString(it.Published.UTC().Format("2 Jan 15:04"))
		}
		sb.WriteString(")\n")
		if it.Summary != "" {
			sb.WriteString("  ")
			sb.WriteString(clip(it.Summary, 240))
			sb.WriteString("\n")
		}
	}
	return Truncate(sb.String(), r.budget), nil
}

// Items returns the merged headlines of urls, newest first.
func (r *RSS) Items(ctx context.Context, urls []string) ([]Item, error) {
	results := make([][]Item, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		if r.breaker != nil && !r.breaker.Allow(u) {
			logger.Debug("rss: circuit open, skipping feed", map[string]interface{}{"url": u})
			continue
		}
		g.Go(func() error {
			items, err := r.fetchFeed(gctx, u)
			if err != nil {
				// One broken feed must not sink the digest.
				logger.Warn("rss: feed failed", map[string]interface{}{"url": u, "error": err})
				if r.breaker != nil {
					r.breaker.Failure(u)
				}
				return nil
			}
			if r.breaker != nil {
				r.breaker.Success(u)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []Item
	seen := map[string]bool{}
	for _, items := range results {
		for _, it := range items {
			key := strings.ToLower(it.Title)
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, it)
		}
	}
	if len(all) == 0 {
		return nil, ErrNoResults
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Published.After(all[j].Published)
	})
	if len(all) > r.maxItems {
		all = all[:r.maxItems]
	}
	return all, nil
}

func (r *RSS) fetchFeed(ctx context.Context, feedURL string) ([]Item, error) {
	e, err := r.fetcher.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	return parseFeed(e.Body, sourceName(feedURL))
}

type feedDoc struct {
	XMLName xml.Name
	Title   string `xml:"title"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"http://purl.org/dc/elements/1.1/ date"`
}

type atomEntry struct {
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Content   string `xml:"content"`
	Updated   string `xml:"updated"`
	Published string `xml:"published"`
	Links     []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

func parseFeed(body []byte, source string) ([]Item, error) {
	var doc feedDoc
	d := xml.NewDecoder(bytes.NewReader(body))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false
	if err := d.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var items []Item
	switch strings.ToLower(doc.XMLName.Local) {
	case "rss":
		for _, it := range doc.Channel.Items {
			date := it.PubDate
			if date == "" {
				date = it.Date
			}
			items = append(items, Item{
				Source:    source,
				Title:     htmlText(it.Title),
				Link:      strings.TrimSpace(it.Link),
				Summary:   htmlText(it.Description),
				Published: parseDate(date),
			})
		}
	case "feed":
		for _, e := range doc.Entries {
			summary := e.Summary
			if summary == "" {
				summary = e.Content
			}
			date := e.Published
			if date == "" {
				date = e.Updated
			}
			items = append(items, Item{
				Source:    source,
				Title:     htmlText(e.Title),
				Link:      atomLink(e),
				Summary:   htmlText(summary),
				Published: parseDate(date),
			})
		}
	default:
		return nil, fmt.Errorf("parse feed: unexpected root <%s>", doc.XMLName.Local)
	}

	out := items[:0]
	for _, it := range items {
		if it.Title != "" {
			out = append(out, it)
		}
	}
	return out, nil
}

func atomLink(e atomEntry) string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func sourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
