// Package session holds per-user conversation state and the stores that keep it.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UserID identifies one end user; for Telegram it is the private chat id.
type UserID int64

// Flow names the multi-step conversation a session is in.
type Flow string

const (
	FlowNone   Flow = ""
	FlowThread Flow = "thread"
	FlowRefine Flow = "refine"
)

// State is the closed set of conversation states across both flows.
type State string

const (
	StateNone                     State = "none"
	StateAwaitingTopic            State = "awaiting_topic"
	StateAwaitingTone             State = "awaiting_tone"
	StateAwaitingQuantity         State = "awaiting_quantity"
	StateAwaitingDraft            State = "awaiting_draft"
	StateAwaitingRefinementChoice State = "awaiting_refinement_choice"
)

// ErrUnknownState is returned when a stored state tag is not one of the known values.
var ErrUnknownState = errors.New("session: unknown state")

// ParseState validates a persisted state tag. The empty string maps to StateNone.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case "", StateNone:
		return StateNone, nil
	case StateAwaitingTopic, StateAwaitingTone, StateAwaitingQuantity,
		StateAwaitingDraft, StateAwaitingRefinementChoice:
		return st, nil
	default:
		return StateNone, fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
}

// FlowOf reports which flow a state belongs to.
func FlowOf(s State) Flow {
	switch s {
	case StateAwaitingTopic, StateAwaitingTone, StateAwaitingQuantity:
		return FlowThread
	case StateAwaitingDraft, StateAwaitingRefinementChoice:
		return FlowRefine
	default:
		return FlowNone
	}
}

// Quantity bounds for the thread flow.
const (
	MinQuantity = 1
	MaxQuantity = 3
)

// Session is one user's conversation record.
type Session struct {
	State State `json:"state"`

	// Thread flow.
	Topic    string `json:"topic,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Quantity int    `json:"quantity,omitempty"`

	// Refiner flow.
	Draft  string `json:"draft,omitempty"`
	Choice string `json:"choice,omitempty"`

	// Kept across conversations.
	CustomStyle string `json:"custom_style,omitempty"`
	LastResult  string `json:"last_result,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an idle session.
func New() *Session {
	return &Session{State: StateNone}
}

// Flow reports the flow implied by the current state.
func (s *Session) Flow() Flow {
	return FlowOf(s.State)
}

// HasCustomStyle reports whether a saved style overrides the tone selection.
func (s *Session) HasCustomStyle() bool {
	return s.CustomStyle != ""
}

// ResetFlow clears every flow field and returns to StateNone.
// CustomStyle and LastResult are not part of any flow and survive.
func (s *Session) ResetFlow() {
	s.State = StateNone
	s.Topic = ""
	s.Tone = ""
	s.Quantity = 0
	s.Draft = ""
	s.Choice = ""
}

// ThreadReady reports whether the thread flow has everything a prompt needs.
func (s *Session) ThreadReady() bool {
	if s.Topic == "" {
		return false
	}
	if s.Tone == "" && !s.HasCustomStyle() {
		return false
	}
	return s.Quantity >= MinQuantity && s.Quantity <= MaxQuantity
}

// RefineReady reports whether the refiner flow has everything a prompt needs.
func (s *Session) RefineReady() bool {
	return s.Draft != "" && s.Choice != ""
}

// Clone returns an independent copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return New()
	}
	c := *s
	return &c
}

// Store persists sessions keyed by user. Get returns a fresh idle session when
// none exists; callers own the returned value and must Set it back to persist changes.
type Store interface {
	Get(ctx context.Context, id UserID) (*Session, error)
	Set(ctx context.Context, id UserID, s *Session) error
	Clear(ctx context.Context, id UserID) error
}
