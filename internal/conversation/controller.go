// Package conversation is the per-user state machine behind the bot: it turns
// one inbound event and the stored session into outbound messages.
package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"threadbot/internal/filter"
	"threadbot/internal/logger"
	"threadbot/internal/prompt"
	"threadbot/internal/responder"
	sentryutil "threadbot/internal/sentry"
	"threadbot/internal/session"
)

// Completer turns a prompt into text. Failures come back as a user-facing
// string; completion.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string) string
}

// NewsSource renders a digest of the given RSS feeds.
type NewsSource interface {
	Digest(ctx context.Context, urls []string) (string, error)
}

// MarketSource renders the top coins by market cap.
type MarketSource interface {
	TopCoins(ctx context.Context, n int) (string, error)
}

// ResearchSource renders web search material on a topic.
type ResearchSource interface {
	Research(ctx context.Context, topic string) (string, error)
}

// Renderer turns markdown into a document; export.Render satisfies it.
type Renderer func(title, markdown string, generated time.Time) ([]byte, error)

// EventCounter records handled events; stats.Counter satisfies it.
type EventCounter interface {
	Event(command string)
}

// Deps wires the Controller. Store, Catalog and Completer are required; a
// nil feed source answers its command with the feed error text.
type Deps struct {
	Store     session.Store
	Catalog   *prompt.Holder
	Completer Completer

	News     NewsSource
	Market   MarketSource
	Research ResearchSource
	Export   Renderer
	Stats    EventCounter

	// FilterProfanity masks the catalog's profanity list in model output.
	FilterProfanity bool
	// MarketCoins is how many coins /market covers.
	MarketCoins int
	Now         func() time.Time
}

const (
	defaultMarketCoins = 10
	minStyleLen        = 10
	exportTitle        = "Your ThreadBot content"
)

// Controller dispatches events over the session state machine.
type Controller struct {
	d Deps

	mu          sync.Mutex
	filterFor   *prompt.Catalog
	cachedWords *filter.Filter
}

// New returns a Controller over d.
func New(d Deps) *Controller {
	if d.MarketCoins <= 0 {
		d.MarketCoins = defaultMarketCoins
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Controller{d: d}
}

// turn is the working set for one event.
type turn struct {
	ctx  context.Context
	cat  *prompt.Catalog
	sess *session.Session
	emit func(OutboundMessage)
	uid  int64
}

func (t *turn) say(text string, kb *responder.Keyboard) {
	t.emit(OutboundMessage{Text: text, Keyboard: kb})
}

// Handle runs one event and returns every message it produced.
func (c *Controller) Handle(ctx context.Context, ev Event) []OutboundMessage {
	var out []OutboundMessage
	c.HandleEvent(ctx, ev, func(m OutboundMessage) { out = append(out, m) })
	return out
}

// HandleEvent runs one event, passing each message to emit as soon as it is
// produced so acknowledgements go out before slow calls. Events for the same
// user must not run concurrently.
func (c *Controller) HandleEvent(ctx context.Context, ev Event, emit func(OutboundMessage)) {
	cat := c.d.Catalog.Current()
	uid := session.UserID(ev.UserID)
	if c.d.Stats != nil {
		c.d.Stats.Event(ev.Command)
	}

	sess, err := c.d.Store.Get(ctx, uid)
	if err != nil && !errors.Is(err, session.ErrUnknownState) {
		c.report(ev.UserID, "load session", err)
		emit(OutboundMessage{Text: cat.Text("internal_error"), Keyboard: mainMenu(cat)})
		return
	}
	if sess == nil {
		sess = session.New()
	}

	t := &turn{ctx: ctx, cat: cat, sess: sess, emit: emit, uid: ev.UserID}
	switch {
	case err != nil:
		c.recoverState(t, err)
	case ev.Command != "":
		c.command(t, ev)
	default:
		c.input(t, ev.Text)
	}

	sess.UpdatedAt = c.d.Now().UTC()
	if err := c.d.Store.Set(ctx, uid, sess); err != nil {
		c.report(ev.UserID, "save session", err)
	}
}

// input advances the flow with plain text.
func (c *Controller) input(t *turn, text string) {
	text = strings.TrimSpace(text)
	switch t.sess.State {
	case session.StateNone:
		if c.menuAction(t, text) {
			return
		}
		if text == "" {
			return
		}
		c.acceptTopic(t, text)

	case session.StateAwaitingTopic:
		if text == "" {
			t.say(t.cat.Text("ask_topic"), nil)
			return
		}
		c.acceptTopic(t, text)

	case session.StateAwaitingTone:
		tone, ok := t.cat.Tone(text)
		if !ok {
			t.say(t.cat.Text("invalid_tone"), toneKeyboard(t.cat))
			return
		}
		t.sess.Tone = tone.Label
		t.sess.State = session.StateAwaitingQuantity
		t.say(t.cat.Text("ask_quantity"), quantityKeyboard())

	case session.StateAwaitingQuantity:
		n, err := strconv.Atoi(text)
		if err != nil || n < session.MinQuantity || n > session.MaxQuantity {
			t.say(t.cat.Text("invalid_quantity"), quantityKeyboard())
			return
		}
		t.sess.Quantity = n
		c.generateThread(t)

	case session.StateAwaitingDraft:
		if text == "" {
			t.say(t.cat.Text("ask_draft"), nil)
			return
		}
		t.sess.Draft = text
		t.sess.State = session.StateAwaitingRefinementChoice
		t.say(t.cat.Text("ask_choice"), refinementKeyboard(t.cat))

	case session.StateAwaitingRefinementChoice:
		opt, ok := t.cat.Refinement(text)
		if !ok {
			t.say(t.cat.Text("invalid_choice"), refinementKeyboard(t.cat))
			return
		}
		if opt.RequiresStyle && !t.sess.HasCustomStyle() {
			t.sess.ResetFlow()
			t.say(t.cat.Text("need_style"), mainMenu(t.cat))
			return
		}
		t.sess.Choice = opt.Label
		c.generateRefinement(t)

	default:
		c.recoverState(t, session.ErrUnknownState)
	}
}

// acceptTopic stores the topic and asks for the next missing field. A saved
// custom style stands in for the tone.
func (c *Controller) acceptTopic(t *turn, topic string) {
	t.sess.ResetFlow()
	t.sess.Topic = topic
	if t.sess.HasCustomStyle() {
		t.sess.State = session.StateAwaitingQuantity
		t.say(t.cat.Text("ask_quantity"), quantityKeyboard())
		return
	}
	t.sess.State = session.StateAwaitingTone
	t.say(t.cat.Text("ask_tone"), toneKeyboard(t.cat))
}

func (c *Controller) startThread(t *turn) {
	t.sess.ResetFlow()
	t.sess.State = session.StateAwaitingTopic
	t.say(t.cat.Text("ask_topic"), &responder.Keyboard{Remove: true})
}

func (c *Controller) startRefine(t *turn, draft string) {
	t.sess.ResetFlow()
	if draft != "" {
		t.sess.Draft = draft
		t.sess.State = session.StateAwaitingRefinementChoice
		t.say(t.cat.Text("ask_choice"), refinementKeyboard(t.cat))
		return
	}
	t.sess.State = session.StateAwaitingDraft
	t.say(t.cat.Text("ask_draft"), &responder.Keyboard{Remove: true})
}

func (c *Controller) generateThread(t *turn) {
	if t.sess.Tone == "" && !t.sess.HasCustomStyle() {
		// The style was cleared after the tone step was skipped.
		t.sess.State = session.StateAwaitingTone
		t.say(t.cat.Text("ask_tone"), toneKeyboard(t.cat))
		return
	}
	if !t.sess.ThreadReady() {
		c.abort(t, "thread prompt", prompt.ErrIncomplete)
		return
	}
	p, err := t.cat.ThreadPrompt(prompt.ThreadRequest{
		Topic:       t.sess.Topic,
		Tone:        t.sess.Tone,
		CustomStyle: t.sess.CustomStyle,
		Quantity:    t.sess.Quantity,
	})
	if err != nil {
		c.abort(t, "thread prompt", err)
		return
	}
	c.finish(t, p)
}

func (c *Controller) generateRefinement(t *turn) {
	if !t.sess.RefineReady() {
		c.abort(t, "refine prompt", prompt.ErrIncomplete)
		return
	}
	p, err := t.cat.RefinePrompt(prompt.RefineRequest{
		Draft:       t.sess.Draft,
		Option:      t.sess.Choice,
		CustomStyle: t.sess.CustomStyle,
	})
	if err != nil {
		c.abort(t, "refine prompt", err)
		return
	}
	c.finish(t, p)
}

// finish acknowledges, completes p, delivers the answer and ends the flow.
func (c *Controller) finish(t *turn, p string) {
	t.say(t.cat.Text("working"), &responder.Keyboard{Remove: true})
	out := c.complete(t, p)
	t.sess.LastResult = out
	t.sess.ResetFlow()
	t.say(out, mainMenu(t.cat))
}

func (c *Controller) complete(t *turn, p string) string {
	out := c.d.Completer.Complete(t.ctx, p)
	if c.d.FilterProfanity {
		out = c.profanity(t.cat).Clean(out)
	}
	return out
}

// profanity returns the filter for cat, rebuilding it after a catalog reload.
func (c *Controller) profanity(cat *prompt.Catalog) *filter.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filterFor != cat {
		c.cachedWords = filter.New(cat.Profanity)
		c.filterFor = cat
	}
	return c.cachedWords
}

// abort ends the flow after an internal failure.
func (c *Controller) abort(t *turn, op string, err error) {
	c.report(t.uid, op, err)
	t.sess.ResetFlow()
	t.say(t.cat.Text("internal_error"), mainMenu(t.cat))
}

// recoverState handles a session whose state is not one the machine knows.
func (c *Controller) recoverState(t *turn, err error) {
	logger.Warn("conversation: unknown state, resetting", map[string]interface{}{
		"user_id": t.uid, "state": string(t.sess.State), "error": err,
	})
	t.sess.ResetFlow()
	t.say(t.cat.Text("internal_error"), mainMenu(t.cat))
}

func (c *Controller) report(userID int64, op string, err error) {
	logger.Error("conversation: "+op+" failed", map[string]interface{}{"user_id": userID, "error": err})
	sentryutil.CaptureError(err, map[string]string{
		"component": "conversation",
		"op":        op,
	})
}

// keyboardFor returns the main menu when the user is idle; mid-flow the
// current keyboard is left alone.
func keyboardFor(t *turn) *responder.Keyboard {
	if t.sess.State == session.StateNone {
		return mainMenu(t.cat)
	}
	return nil
}

func mainMenu(cat *prompt.Catalog) *responder.Keyboard {
	m := cat.Menu
	return &responder.Keyboard{Rows: [][]string{
		{m.NewThread, m.Refine},
		{m.News, m.Market},
		{m.Style, m.Help},
	}}
}

func toneKeyboard(cat *prompt.Catalog) *responder.Keyboard {
	return &responder.Keyboard{Rows: pairs(cat.ToneLabels())}
}

func refinementKeyboard(cat *prompt.Catalog) *responder.Keyboard {
	return &responder.Keyboard{Rows: pairs(cat.RefinementLabels())}
}

func quantityKeyboard() *responder.Keyboard {
	row := make([]string, 0, session.MaxQuantity)
	for n := session.MinQuantity; n <= session.MaxQuantity; n++ {
		row = append(row, strconv.Itoa(n))
	}
	return &responder.Keyboard{Rows: [][]string{row}}
}

func pairs(labels []string) [][]string {
	var rows [][]string
	for i := 0; i < len(labels); i += 2 {
		end := i + 2
		if end > len(labels) {
			end = len(labels)
		}
		rows = append(rows, labels[i:end])
	}
	return rows
}
