package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestResetFlow_KeepsStyleAndLastResult(t *testing.T) {
	s := &Session{
		State:       StateAwaitingQuantity,
		Topic:       "Solana",
		Tone:        "Trader",
		Quantity:    2,
		Draft:       "gm",
		Choice:      "Shorter",
		CustomStyle: "lowercase, no emojis, short punchy lines",
		LastResult:  "previous thread",
	}
	s.ResetFlow()

	if s.State != StateNone || s.Topic != "" || s.Tone != "" || s.Quantity != 0 || s.Draft != "" || s.Choice != "" {
		t.Errorf("flow fields not cleared: %+v", s)
	}
	if s.CustomStyle == "" || s.LastResult == "" {
		t.Errorf("style and last result must survive: %+v", s)
	}
}

func TestThreadReady(t *testing.T) {
	tests := []struct {
		name string
		s    Session
		want bool
	}{
		{"empty", Session{}, false},
		{"topic only", Session{Topic: "Solana"}, false},
		{"tone no quantity", Session{Topic: "Solana", Tone: "Trader"}, false},
		{"complete", Session{Topic: "Solana", Tone: "Trader", Quantity: 2}, true},
		{"style replaces tone", Session{Topic: "Solana", CustomStyle: "my style", Quantity: 1}, true},
		{"quantity out of range", Session{Topic: "Solana", Tone: "Trader", Quantity: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.ThreadReady(); got != tt.want {
				t.Errorf("ThreadReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseState(t *testing.T) {
	if st, err := ParseState(""); err != nil || st != StateNone {
		t.Errorf("empty tag: got %q, %v", st, err)
	}
	if st, err := ParseState("awaiting_tone"); err != nil || st != StateAwaitingTone {
		t.Errorf("awaiting_tone: got %q, %v", st, err)
	}
	if _, err := ParseState("awaiting_pizza"); !errors.Is(err, ErrUnknownState) {
		t.Errorf("expected ErrUnknownState, got %v", err)
	}
}

func TestFlowOf(t *testing.T) {
	if FlowOf(StateAwaitingTone) != FlowThread {
		t.Error("tone belongs to the thread flow")
	}
	if FlowOf(StateAwaitingRefinementChoice) != FlowRefine {
		t.Error("refinement choice belongs to the refiner flow")
	}
	if FlowOf(StateNone) != FlowNone {
		t.Error("none has no flow")
	}
}

func TestMemoryStore_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	defer store.Close()

	s, _ := store.Get(ctx, 7)
	if s.State != StateNone {
		t.Fatalf("expected fresh session, got %q", s.State)
	}
	s.Topic = "Solana"
	s.State = StateAwaitingTone
	if err := store.Set(ctx, 7, s); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(ctx, 7)
	got.Topic = "mutated"
	again, _ := store.Get(ctx, 7)
	if again.Topic != "Solana" {
		t.Errorf("store leaked a mutable reference: %q", again.Topic)
	}

	if err := store.Clear(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store after clear, got %d", store.Len())
	}
}

func TestMemoryStore_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Set(ctx, 1, &Session{State: StateAwaitingTone, Topic: "Solana"})
	now = now.Add(30 * time.Minute)
	if s, _ := store.Get(ctx, 1); s.Topic != "Solana" {
		t.Fatal("session expired too early")
	}

	now = now.Add(2 * time.Hour)
	if s, _ := store.Get(ctx, 1); s.State != StateNone || s.Topic != "" {
		t.Errorf("expected expired session to read as fresh, got %+v", s)
	}
	if n := store.Sweep(); n != 1 {
		t.Errorf("expected 1 swept session, got %d", n)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	fresh, err := store.Get(ctx, 99)
	if err != nil || fresh.State != StateNone {
		t.Fatalf("expected fresh session, got %+v, %v", fresh, err)
	}

	in := &Session{State: StateAwaitingQuantity, Topic: "Solana", Tone: "Trader", CustomStyle: "dry wit"}
	if err := store.Set(ctx, 99, in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in.State = StateAwaitingTone
	if err := store.Set(ctx, 99, in); err != nil {
		t.Fatalf("Set (update): %v", err)
	}

	out, err := store.Get(ctx, 99)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.State != StateAwaitingTone || out.Topic != "Solana" || out.CustomStyle != "dry wit" {
		t.Errorf("unexpected session: %+v", out)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}

	if err := store.Clear(ctx, 99); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("expected 0 rows, got %d", n)
	}
}

func TestSQLiteStore_UnknownStateResets(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.Set(ctx, 5, &Session{State: State("legacy_state"), Topic: "x", CustomStyle: "keep"}); err != nil {
		t.Fatal(err)
	}
	s, err := store.Get(ctx, 5)
	if !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
	if s.State != StateNone || s.Topic != "" || s.CustomStyle != "keep" {
		t.Errorf("expected reset flow with style kept, got %+v", s)
	}
}
