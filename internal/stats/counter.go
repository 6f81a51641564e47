// Package stats keeps the bot's usage counters and persists them to a JSON file.
package stats

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"threadbot/internal/logger"
)

const (
	flushEveryN   = 10
	flushInterval = 30 * time.Second
)

// Snapshot is the persisted form of the counters.
type Snapshot struct {
	Completions int64            `json:"completions"`
	Events      int64            `json:"events"`
	Commands    map[string]int64 `json:"commands,omitempty"`
}

// Counter counts completions, handled events and command usage.
type Counter struct {
	path string

	mu      sync.Mutex
	data    Snapshot
	pending int
}

// Load reads the counters stored at path. A missing or unreadable file
// starts from zero. An empty path disables persistence.
func Load(path string) *Counter {
	c := &Counter{path: path, data: Snapshot{Commands: map[string]int64{}}}
	if path == "" {
		return c
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Info("stats: no counter file, starting from zero", map[string]interface{}{"path": path})
		return c
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Warn("stats: counter file unreadable, starting from zero", map[string]interface{}{"path": path, "error": err})
		return c
	}
	if snap.Commands == nil {
		snap.Commands = map[string]int64{}
	}
	c.data = snap
	logger.Info("stats: counters loaded", map[string]interface{}{"completions": snap.Completions, "events": snap.Events})
	return c
}

// Increment counts one successful completion.
func (c *Counter) Increment() {
	c.bump(func(s *Snapshot) { s.Completions++ })
}

// Event counts one handled chat event; command is empty for plain text.
func (c *Counter) Event(command string) {
	c.bump(func(s *Snapshot) {
		s.Events++
		if command != "" {
			s.Commands[command]++
		}
	})
}

func (c *Counter) bump(fn func(*Snapshot)) {
	c.mu.Lock()
	fn(&c.data)
	c.pending++
	shouldFlush := c.pending >= flushEveryN
	c.mu.Unlock()

	if shouldFlush {
		c.Flush()
	}
}

// Snapshot returns a copy of the counters.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.data
	out.Commands = make(map[string]int64, len(c.data.Commands))
	for k, v := range c.data.Commands {
		out.Commands[k] = v
	}
	return out
}

// TopCommands returns command names ordered by use, most used first.
func (s Snapshot) TopCommands() []string {
	out := make([]string, 0, len(s.Commands))
	for k := range s.Commands {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if s.Commands[out[i]] != s.Commands[out[j]] {
			return s.Commands[out[i]] > s.Commands[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Flush writes pending changes to disk.
func (c *Counter) Flush() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	if c.pending == 0 {
		c.mu.Unlock()
		return
	}
	c.pending = 0
	data, err := json.Marshal(c.data)
	c.mu.Unlock()

	if err != nil {
		logger.Error("stats: marshal failed", map[string]interface{}{"error": err})
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Error("stats: write failed", map[string]interface{}{"path": c.path, "error": err})
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		logger.Error("stats: rename failed", map[string]interface{}{"path": c.path, "error": err})
	}
}

// Run flushes periodically until ctx is done, then flushes once more.
func (c *Counter) Run(ctx context.Context) error {
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Flush()
			return nil
		case <-t.C:
			c.Flush()
		}
	}
}
