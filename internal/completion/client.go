package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"threadbot/internal/logger"
	sentryutil "threadbot/internal/sentry"
)

// User-facing replies for failed completions.
const (
	MsgMissingKey = "Error: the completion API key is not set. Please contact the bot owner."
	MsgAPIError   = "Sorry, the AI service returned an error (HTTP %d). Please try again later."
	MsgRateLimit  = "The AI service is busy right now. Please try again in a minute."
	MsgMalformed  = "Sorry, I couldn't understand the AI service's response."
	MsgEmpty      = "Sorry, I received an empty response."
	MsgConnection = "Sorry, I had trouble connecting to the Dobby AI."
)

// Counter is told about every successful completion.
type Counter interface {
	Increment()
}

// Client wraps a Provider and never returns an error: failures become
// user-facing text.
type Client struct {
	provider Provider
	counter  Counter
}

// NewClient wraps p. counter may be nil.
func NewClient(p Provider, counter Counter) *Client {
	return &Client{provider: p, counter: counter}
}

// Complete returns the model's answer to prompt or a message explaining why
// there is none.
func (c *Client) Complete(ctx context.Context, prompt string) string {
	start := time.Now()
	text, err := c.provider.Generate(ctx, prompt)
	if err == nil {
		if c.counter != nil {
			c.counter.Increment()
		}
		logger.Info("completion ok", map[string]interface{}{
			"prompt_len": len(prompt), "reply_len": len(text), "ms": time.Since(start).Milliseconds(),
		})
		return text
	}

	logger.Error("completion failed", map[string]interface{}{
		"error": err, "prompt_len": len(prompt), "ms": time.Since(start).Milliseconds(),
	})
	if !errors.Is(err, ErrMissingAPIKey) && !errors.Is(err, context.Canceled) {
		sentryutil.CaptureError(err, map[string]string{"component": "completion"})
	}
	return UserMessage(err)
}

// UserMessage maps a provider error to the text shown in chat.
func UserMessage(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return MsgMissingKey
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return MsgRateLimit
		}
		return fmt.Sprintf(MsgAPIError, apiErr.StatusCode)
	case errors.Is(err, ErrMalformedResponse):
		return MsgMalformed
	case errors.Is(err, ErrEmptyResponse):
		return MsgEmpty
	default:
		return MsgConnection
	}
}
