// Package fetch is the outbound HTTP layer for the secondary feeds: a
// conditional-GET cache with retries, stale fallback and per-domain pacing.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"threadbot/internal/logger"
)

const maxBody = 2 * 1024 * 1024

// Entry stores a cached HTTP response.
type Entry struct {
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
	FetchedAt    time.Time
}

// Stats reports cache performance.
type Stats struct {
	Hits       int `json:"hits"`
	Misses     int `json:"misses"`
	NotChanged int `json:"not_changed"`
	Stale      int `json:"stale"`
	BytesSaved int `json:"bytes_saved"`
	Evicted    int `json:"evicted"`
	Entries    int `json:"entries"`
	Bytes      int `json:"bytes"`
}

// Options tunes a Cache. Zero values pick the defaults.
type Options struct {
	UserAgent   string
	Timeout     time.Duration   // per request, default 15s
	RetryDelays []time.Duration // default 2s, 4s, 8s
	StaleFor    time.Duration   // default 24h
	DomainDelay time.Duration   // minimum gap between calls to one host, default 1.5s
	Backoff     time.Duration   // pause after a 429, default 60s
	MaxEntries  int             // least recently used entries go first, default 256
	MaxBytes    int             // cap on cached bodies, default 32 MiB
}

// Cache is a thread-safe in-memory cache keyed by URL.
type Cache struct {
	opts    Options
	client  *http.Client
	limiter *domainLimiter

	mu      sync.Mutex
	entries *lru.Cache
	bytes   int
	stats   Stats
}

// New returns a Cache with opts applied over the defaults.
func New(opts Options) *Cache {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryDelays == nil {
		opts.RetryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}
	if opts.StaleFor <= 0 {
		opts.StaleFor = 24 * time.Hour
	}
	if opts.DomainDelay < 0 {
		opts.DomainDelay = 0
	} else if opts.DomainDelay == 0 {
		opts.DomainDelay = 1500 * time.Millisecond
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 60 * time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 256
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 32 * 1024 * 1024
	}
	c := &Cache{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: newDomainLimiter(opts.DomainDelay),
		entries: lru.New(opts.MaxEntries),
	}
	c.entries.OnEvicted = func(_ lru.Key, v interface{}) {
		c.bytes -= len(v.(*Entry).Body)
		c.stats.Evicted++
	}
	return c
}

// Stats returns a copy of the current statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Entries = c.entries.Len()
	st.Bytes = c.bytes
	return st
}

// lookup returns the cached entry for rawURL; c.mu must be held.
func (c *Cache) lookup(rawURL string) (*Entry, bool) {
	v, ok := c.entries.Get(rawURL)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// store replaces the entry for rawURL and evicts the least recently used
// entries until the byte cap holds; c.mu must be held.
func (c *Cache) store(rawURL string, e *Entry) {
	if old, ok := c.lookup(rawURL); ok {
		c.bytes -= len(old.Body)
	}
	c.entries.Add(rawURL, e)
	c.bytes += len(e.Body)
	for c.bytes > c.opts.MaxBytes && c.entries.Len() > 1 {
		c.entries.RemoveOldest()
	}
}

// Get fetches rawURL, revalidating a cached copy when there is one. After
// retries are exhausted a cached copy younger than StaleFor is served.
func (c *Cache) Get(ctx context.Context, rawURL string) (*Entry, error) {
	var lastErr error
	for attempt := 0; attempt <= len(c.opts.RetryDelays); attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.opts.RetryDelays[attempt-1]); err != nil {
				return nil, err
			}
		}

		e, err := c.do(ctx, rawURL)
		if err == nil {
			return e, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
		logger.Warn("fetch: retrying", map[string]interface{}{
			"url": rawURL, "attempt": attempt + 1, "error": err,
		})
	}

	c.mu.Lock()
	entry, ok := c.lookup(rawURL)
	if ok && time.Since(entry.FetchedAt) < c.opts.StaleFor {
		c.stats.Stale++
		c.mu.Unlock()
		logger.Warn("fetch: serving stale cache", map[string]interface{}{
			"url": rawURL, "age": time.Since(entry.FetchedAt).String(),
		})
		return entry, nil
	}
	c.mu.Unlock()

	return nil, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

func (c *Cache) do(ctx context.Context, rawURL string) (*Entry, error) {
	if err := c.limiter.wait(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	c.mu.Lock()
	entry, cached := c.lookup(rawURL)
	c.mu.Unlock()
	if cached {
		if entry.ETag != "" {
			req.Header.Set("If-None-Match", entry.ETag)
		}
		if entry.LastModified != "" {
			req.Header.Set("If-Modified-Since", entry.LastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && cached {
		c.mu.Lock()
		c.stats.Hits++
		c.stats.NotChanged++
		c.stats.BytesSaved += len(entry.Body)
		c.mu.Unlock()
		return entry, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 504) {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.backoff(rawURL, c.opts.Backoff)
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	fresh := &Entry{
		Body:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    time.Now(),
	}

	c.mu.Lock()
	if cached {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.store(rawURL, fresh)
	c.mu.Unlock()

	return fresh, nil
}

// StatusError is an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Retryable  bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// --- Per-domain rate limiter ---

type domainLimiter struct {
	delay time.Duration

	mu       sync.Mutex
	lastCall map[string]time.Time
	backoffs map[string]time.Time
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		delay:    delay,
		lastCall: make(map[string]time.Time),
		backoffs: make(map[string]time.Time),
	}
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// wait reserves the next slot for the URL's host and sleeps until it.
func (d *domainLimiter) wait(ctx context.Context, rawURL string) error {
	domain := extractDomain(rawURL)
	if domain == "" {
		return nil
	}

	d.mu.Lock()
	now := time.Now()
	next := now
	if until, ok := d.backoffs[domain]; ok && until.After(next) {
		next = until
	}
	if last, ok := d.lastCall[domain]; ok && last.Add(d.delay).After(next) {
		next = last.Add(d.delay)
	}
	d.lastCall[domain] = next
	d.mu.Unlock()

	return sleep(ctx, next.Sub(now))
}

func (d *domainLimiter) backoff(rawURL string, pause time.Duration) {
	domain := extractDomain(rawURL)
	if domain == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backoffs[domain] = time.Now().Add(pause)
}
