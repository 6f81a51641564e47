package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"threadbot/internal/logger"
	"threadbot/internal/responder"
	sentryutil "threadbot/internal/sentry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// Handler processes one inbound text for a chat. Calls for the same chat are
// never concurrent and arrive in the order the updates were received.
type Handler func(ctx context.Context, chatID int64, text string)

// Limiter gates events per key; handlers.RateLimiter satisfies it.
type Limiter interface {
	Allow(key string) bool
}

// Options tunes the poll loop. Zero values pick defaults.
type Options struct {
	PollTimeout    time.Duration
	MaxConcurrency int
	QueueSize      int
	IdleTimeout    time.Duration // idle chat workers exit after this
	RetryDelay     time.Duration // pause after a failed getUpdates
	TypingInterval time.Duration

	Limiter     Limiter
	LimitedText string
	FailureText string
}

const (
	defaultLimitedText = "You're sending messages too fast. Please wait a moment."
	defaultFailureText = "Something went wrong on my side. Please try again."
)

// Bot long-polls for updates and runs each chat's messages on its own worker.
type Bot struct {
	api     *API
	handler Handler
	opts    Options

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	workers map[int64]*chatWorker
}

type chatWorker struct {
	jobs chan job
}

type job struct {
	requestID string
	chatID    int64
	userID    int64
	text      string
	queued    time.Time
}

// NewBot wires api and handler together.
func NewBot(api *API, handler Handler, opts Options) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = 4 * time.Second
	}
	if opts.LimitedText == "" {
		opts.LimitedText = defaultLimitedText
	}
	if opts.FailureText == "" {
		opts.FailureText = defaultFailureText
	}
	return &Bot{
		api:     api,
		handler: handler,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxConcurrency),
		workers: make(map[int64]*chatWorker),
	}
}

// SendMessage implements responder.Transport.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string, kb *responder.Keyboard) error {
	return b.api.SendMessage(ctx, chatID, text, kb)
}

// SendDocument implements responder.Transport.
func (b *Bot) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	return b.api.SendDocument(ctx, chatID, filename, data, caption)
}

// Run polls until ctx is cancelled. It returns after every chat worker has
// stopped.
func (b *Bot) Run(ctx context.Context) error {
	logger.Info("telegram: polling", map[string]interface{}{
		"bot": b.api.Self().UserName, "max_concurrency": b.opts.MaxConcurrency, "poll_timeout": b.opts.PollTimeout.String(),
	})
	defer b.wg.Wait()

	offset := 0
	for {
		updates, next, err := b.api.GetUpdates(ctx, offset, b.opts.PollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("telegram: stopped", map[string]interface{}{"reason": "context canceled"})
				return nil
			}
			if isPollTimeout(err) {
				logger.Debug("telegram: getUpdates timeout", map[string]interface{}{"error": err})
			} else {
				logger.Warn("telegram: getUpdates failed", map[string]interface{}{"error": err})
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.opts.RetryDelay):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			b.dispatch(ctx, u)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return
	}

	j := job{
		requestID: uuid.NewString(),
		chatID:    msg.Chat.ID,
		text:      text,
		queued:    time.Now(),
	}
	if msg.From != nil {
		j.userID = msg.From.ID
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.workers[j.chatID]
	if !ok {
		w = &chatWorker{jobs: make(chan job, b.opts.QueueSize)}
		b.workers[j.chatID] = w
		b.wg.Add(1)
		go b.work(ctx, j.chatID, w)
	}
	select {
	case w.jobs <- j:
	default:
		logger.Warn("telegram: chat queue full, dropping message", map[string]interface{}{
			"chat_id": j.chatID, "update_id": u.UpdateID, "queue": b.opts.QueueSize,
		})
	}
}

// work drains one chat's queue. It exits when ctx is done or after the
// chat has been idle for IdleTimeout.
func (b *Bot) work(ctx context.Context, chatID int64, w *chatWorker) {
	defer b.wg.Done()
	idle := time.NewTimer(b.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.jobs:
			b.run(ctx, j)
			idle.Reset(b.opts.IdleTimeout)
		case <-idle.C:
			b.mu.Lock()
			if len(w.jobs) == 0 {
				delete(b.workers, chatID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(b.opts.IdleTimeout)
		}
	}
}

func (b *Bot) run(ctx context.Context, j job) {
	fields := map[string]interface{}{"chat_id": j.chatID, "request_id": j.requestID}

	if b.opts.Limiter != nil && !b.opts.Limiter.Allow(strconv.FormatInt(j.chatID, 10)) {
		logger.Info("telegram: rate limited", fields)
		if err := b.api.SendMessage(ctx, j.chatID, b.opts.LimitedText, nil); err != nil {
			logger.Warn("telegram: rate limit notice not delivered", map[string]interface{}{"chat_id": j.chatID, "error": err})
		}
		return
	}

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-b.sem }()

	stopTyping := b.startTyping(ctx, j.chatID)
	defer stopTyping()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Error("telegram: handler panic", map[string]interface{}{
			"chat_id": j.chatID, "request_id": j.requestID, "panic": fmt.Sprint(r),
		})
		sentryutil.RecoverPanic(r, map[string]string{
			"component":  "telegram",
			"chat_id":    strconv.FormatInt(j.chatID, 10),
			"request_id": j.requestID,
		})
		if err := b.api.SendMessage(ctx, j.chatID, b.opts.FailureText, nil); err != nil {
			logger.Warn("telegram: failure notice not delivered", map[string]interface{}{"chat_id": j.chatID, "error": err})
		}
	}()

	start := time.Now()
	b.handler(WithRequestID(ctx, j.requestID), j.chatID, j.text)
	logger.Debug("telegram: handled", map[string]interface{}{
		"chat_id":    j.chatID,
		"request_id": j.requestID,
		"waited_ms":  start.Sub(j.queued).Milliseconds(),
		"took_ms":    time.Since(start).Milliseconds(),
	})
}

// startTyping refreshes the "typing" indicator until the returned func is called.
func (b *Bot) startTyping(ctx context.Context, chatID int64) func() {
	ticker := time.NewTicker(b.opts.TypingInterval)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		_ = b.api.SendChatAction(ctx, chatID, tgbotapi.ChatTyping)
		for {
			select {
			case <-ticker.C:
				_ = b.api.SendChatAction(ctx, chatID, tgbotapi.ChatTyping)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx with the correlation id of the update being handled.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id set by the poll loop, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
