// Package responder delivers outbound text to a chat, splitting it into
// transport-sized chunks.
package responder

import (
	"context"
	"strconv"
	"strings"

	"threadbot/internal/logger"
	sentryutil "threadbot/internal/sentry"
)

// MaxMessageLen is Telegram's limit for one message, in characters.
const MaxMessageLen = 4096

const (
	defaultNotice = "Sorry, I couldn't deliver the whole answer. Please try again."
	emptyText     = "(empty response)"
)

// Keyboard is an optional reply keyboard attached to a message. Remove hides
// a keyboard shown earlier.
type Keyboard struct {
	Rows   [][]string
	Remove bool
}

// Transport sends single messages. Implementations may fail; the Responder
// absorbs those failures.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, kb *Keyboard) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

// Responder sends chunked messages in order and never returns an error.
type Responder struct {
	transport Transport

	// Limit is the maximum chunk length in characters.
	Limit int
	// Notice is sent once when a send fails mid-delivery.
	Notice string
}

// New returns a Responder with the Telegram limit.
func New(t Transport) *Responder {
	return &Responder{transport: t, Limit: MaxMessageLen, Notice: defaultNotice}
}

// Deliver sends text to chatID. kb is attached to the last chunk only. On a
// transport failure the remaining chunks are dropped and a short notice is
// attempted instead.
func (r *Responder) Deliver(ctx context.Context, chatID int64, text string, kb *Keyboard) {
	if strings.TrimSpace(text) == "" {
		text = emptyText
	}
	chunks := Split(text, r.Limit)
	for i, chunk := range chunks {
		var markup *Keyboard
		if i == len(chunks)-1 {
			markup = kb
		}
		if err := r.transport.SendMessage(ctx, chatID, chunk, markup); err != nil {
			r.fail(ctx, chatID, err, i, len(chunks), kb)
			return
		}
	}
}

// DeliverDocument sends a file with the same best-effort policy as Deliver.
func (r *Responder) DeliverDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) {
	if err := r.transport.SendDocument(ctx, chatID, filename, data, caption); err != nil {
		r.fail(ctx, chatID, err, 0, 1, nil)
	}
}

func (r *Responder) fail(ctx context.Context, chatID int64, err error, chunk, total int, kb *Keyboard) {
	logger.Error("deliver failed", map[string]interface{}{
		"chat_id": chatID, "chunk": chunk + 1, "chunks": total, "error": err,
	})
	sentryutil.CaptureError(err, map[string]string{
		"component": "responder",
		"chat_id":   strconv.FormatInt(chatID, 10),
	})
	if ctx.Err() != nil {
		return
	}
	if nerr := r.transport.SendMessage(ctx, chatID, r.Notice, kb); nerr != nil {
		logger.Warn("failure notice not delivered", map[string]interface{}{"chat_id": chatID, "error": nerr})
	}
}

// Split cuts text into chunks of at most limit characters. Each chunk ends at
// the last newline inside the window, which is consumed; a window without a
// newline is cut hard at limit. Whitespace-only chunks are dropped, since
// Telegram rejects blank messages.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	add := func(rs []rune) {
		if s := string(rs); strings.TrimSpace(s) != "" {
			chunks = append(chunks, s)
		}
	}
	for len(runes) > limit {
		cut := lastNewline(runes[:limit])
		if cut <= 0 {
			add(runes[:limit])
			runes = runes[limit:]
			continue
		}
		add(runes[:cut])
		runes = runes[cut+1:]
	}
	add(runes)
	return chunks
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}
