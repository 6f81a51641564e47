package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"threadbot/internal/fetch"
	"threadbot/internal/middleware"
	"threadbot/internal/stats"
)

// Status serves the bot's health and usage endpoints.
type Status struct {
	Started  time.Time
	Backend  string
	Counter  *stats.Counter
	Cache    *fetch.Cache
	Breaker  *fetch.Breaker
	Sessions func(ctx context.Context) (int, error)
	Limiter  *RateLimiter
}

// Routes returns the status server handler with its middleware chain.
func (s *Status) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.Health)
	mux.HandleFunc("GET /api/stats", s.Stats)
	mux.HandleFunc("/", NotFoundHandler)

	var h http.Handler = mux
	if s.Limiter != nil {
		h = s.Limiter.Middleware(h)
	}
	h = middleware.Gzip(h)
	h = middleware.SecurityHeaders(h)
	return middleware.Recovery(h)
}

// Health reports liveness, uptime and the completion counter.
func (s *Status) Health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.Started)
	resp := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
		"session_store":  s.Backend,
	}
	if s.Counter != nil {
		resp["completions"] = s.Counter.Snapshot().Completions
	}
	if s.Sessions != nil {
		n, err := s.Sessions(r.Context())
		if err != nil {
			resp["status"] = "degraded"
			resp["session_error"] = err.Error()
		} else {
			resp["sessions"] = n
		}
	}
	writeJSON(w, resp)
}

// Stats reports usage counters, the fetch cache and feed circuits.
func (s *Status) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"uptime_seconds": int(time.Since(s.Started).Seconds()),
	}
	if s.Counter != nil {
		snap := s.Counter.Snapshot()
		resp["completions"] = snap.Completions
		resp["events"] = snap.Events
		resp["commands"] = snap.Commands
		resp["top_commands"] = snap.TopCommands()
	}
	if s.Cache != nil {
		resp["fetch_cache"] = s.Cache.Stats()
	}
	if s.Breaker != nil {
		resp["feed_circuits"] = s.Breaker.Snapshot()
	}
	writeJSON(w, resp)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
