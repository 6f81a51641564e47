package conversation

import (
	"context"

	"threadbot/internal/responder"
)

// Emitter returns an emit func for HandleEvent that delivers each message to
// chatID through r as soon as it is produced.
func Emitter(ctx context.Context, r *responder.Responder, chatID int64) func(OutboundMessage) {
	return func(m OutboundMessage) {
		if m.Document != nil {
			r.DeliverDocument(ctx, chatID, m.Document.Filename, m.Document.Data, m.Text)
			return
		}
		r.Deliver(ctx, chatID, m.Text, m.Keyboard)
	}
}
