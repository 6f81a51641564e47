// Package telegram wraps the Bot API client and runs the long-poll loop
// that feeds chat updates to a handler.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"threadbot/internal/responder"
)

// RequestError is a Bot API call that Telegram answered with ok=false.
type RequestError struct {
	Method      string
	ErrorCode   int
	Description string
	RetryAfter  int
}

func (e *RequestError) Error() string {
	if e == nil {
		return "telegram request failed"
	}
	detail := strings.TrimSpace(e.Description)
	switch {
	case e.ErrorCode > 0 && detail != "":
		return fmt.Sprintf("telegram %s: %d %s", e.Method, e.ErrorCode, detail)
	case e.ErrorCode > 0:
		return fmt.Sprintf("telegram %s: error %d", e.Method, e.ErrorCode)
	case detail != "":
		return fmt.Sprintf("telegram %s: %s", e.Method, detail)
	}
	return "telegram " + e.Method + " failed"
}

// API is a verified Bot API client. Every call takes a context; the
// underlying client has none, so a cancelled call returns at once and the
// request finishes in the background within the HTTP client timeout.
type API struct {
	bot *tgbotapi.BotAPI
}

// Dial checks token against baseURL (normally https://api.telegram.org) with
// getMe and returns a client for it.
func Dial(ctx context.Context, httpClient *http.Client, baseURL, token string) (*API, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	endpoint := strings.ReplaceAll(strings.TrimRight(baseURL, "/"), "%", "%%") + "/bot%s/%s"
	bot, err := call(ctx, func() (*tgbotapi.BotAPI, error) {
		return tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	})
	if err != nil {
		return nil, wrap("getMe", err)
	}
	return &API{bot: bot}, nil
}

// Self is the bot account returned by getMe.
func (api *API) Self() tgbotapi.User {
	return api.bot.Self
}

// GetUpdates long-polls for updates after offset and returns them together
// with the next offset to ask for.
func (api *API) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, int, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = secs

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	updates, err := call(reqCtx, func() ([]tgbotapi.Update, error) {
		return api.bot.GetUpdates(cfg)
	})
	if err != nil {
		return nil, offset, wrap("getUpdates", err)
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

// replyMarkup maps a responder keyboard to the Bot API shape; nil stays nil.
func replyMarkup(kb *responder.Keyboard) interface{} {
	if kb == nil {
		return nil
	}
	if kb.Remove {
		return tgbotapi.NewRemoveKeyboard(false)
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

// SendMessage sends plain text. The caller keeps text within the 4096
// character limit.
func (api *API) SendMessage(ctx context.Context, chatID int64, text string, kb *responder.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = replyMarkup(kb)
	_, err := call(ctx, func() (tgbotapi.Message, error) {
		return api.bot.Send(msg)
	})
	return wrap("sendMessage", err)
}

// SendChatAction shows a transient status such as "typing".
func (api *API) SendChatAction(ctx context.Context, chatID int64, action string) error {
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) {
		return api.bot.Request(tgbotapi.NewChatAction(chatID, action))
	})
	return wrap("sendChatAction", err)
}

// SendDocument uploads data as a file attachment.
func (api *API) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "file"
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = strings.TrimSpace(caption)
	_, err := call(ctx, func() (tgbotapi.Message, error) {
		return api.bot.Send(doc)
	})
	return wrap("sendDocument", err)
}

// call runs fn and returns early with ctx's error once ctx is done.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// wrap tags err with the Bot API method. Transport errors carry the request
// URL, which embeds the token, so the URL is replaced before the error can
// reach a log line or Sentry.
func wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &RequestError{
			Method:      method,
			ErrorCode:   apiErr.Code,
			Description: apiErr.Message,
			RetryAfter:  apiErr.RetryAfter,
		}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactedURL(method)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

func redactedURL(method string) string {
	return "/bot<redacted>/" + method
}

// isPollTimeout reports errors that only mean the long poll ran out of time.
func isPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}
