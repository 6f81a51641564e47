package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"threadbot/internal/completion"
	"threadbot/internal/prompt"
	"threadbot/internal/responder"
	"threadbot/internal/session"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uid int64 = 4242

type fakeNews struct {
	urls [][]string
	err  error
}

func (f *fakeNews) Digest(_ context.Context, urls []string) (string, error) {
	f.urls = append(f.urls, urls)
	if f.err != nil {
		return "", f.err
	}
	return "- ETF inflows hit record", nil
}

type fakeMarket struct{ n int }

func (f *fakeMarket) TopCoins(_ context.Context, n int) (string, error) {
	f.n = n
	return "1. Bitcoin (BTC): $97123", nil
}

type fakeResearch struct{ topics []string }

func (f *fakeResearch) Research(_ context.Context, topic string) (string, error) {
	f.topics = append(f.topics, topic)
	return "EigenLayer overview\nSource: https://blog.example/eigen", nil
}

type countEvents struct{ commands []string }

func (c *countEvents) Event(command string) { c.commands = append(c.commands, command) }

type fixture struct {
	t        *testing.T
	c        *Controller
	store    *session.MemoryStore
	provider *completion.StaticProvider
	cat      *prompt.Catalog
	news     *fakeNews
	market   *fakeMarket
	research *fakeResearch
	events   *countEvents
}

var fixedNow = time.Date(2025, 3, 14, 15, 9, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	cat, err := prompt.Default()
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		store:    session.NewMemoryStore(0),
		provider: &completion.StaticProvider{Reply: "Here are your thread ideas"},
		cat:      cat,
		news:     &fakeNews{},
		market:   &fakeMarket{},
		research: &fakeResearch{},
		events:   &countEvents{},
	}
	d := Deps{
		Store:     f.store,
		Catalog:   prompt.NewHolder(cat),
		Completer: completion.NewClient(f.provider, nil),
		News:      f.news,
		Market:    f.market,
		Research:  f.research,
		Export: func(title, markdown string, _ time.Time) ([]byte, error) {
			return []byte("%PDF-" + title + "|" + markdown), nil
		},
		Stats:           f.events,
		FilterProfanity: true,
		Now:             func() time.Time { return fixedNow },
	}
	for _, o := range opts {
		o(&d)
	}
	f.c = New(d)
	return f
}

func (f *fixture) send(text string) []OutboundMessage {
	f.t.Helper()
	return f.c.Handle(context.Background(), ParseEvent(uid, text))
}

func (f *fixture) session() *session.Session {
	f.t.Helper()
	s, err := f.store.Get(context.Background(), session.UserID(uid))
	require.NoError(f.t, err)
	return s
}

func texts(msgs []OutboundMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func last(t *testing.T, msgs []OutboundMessage) OutboundMessage {
	t.Helper()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestTopicMovesToTone(t *testing.T) {
	f := newFixture(t)

	msgs := f.send("Solana")
	s := f.session()
	assert.Equal(t, session.StateAwaitingTone, s.State)
	assert.Equal(t, "Solana", s.Topic)

	reply := last(t, msgs)
	assert.Equal(t, f.cat.Text("ask_tone"), reply.Text)
	require.NotNil(t, reply.Keyboard)
	assert.Contains(t, reply.Keyboard.Rows[0], "Shitposter")
}

func TestToneMovesToQuantity(t *testing.T) {
	f := newFixture(t)
	f.send("Solana")

	msgs := f.send("Shitposter")
	s := f.session()
	assert.Equal(t, session.StateAwaitingQuantity, s.State)
	assert.Equal(t, "Shitposter", s.Tone)
	assert.Equal(t, [][]string{{"1", "2", "3"}}, last(t, msgs).Keyboard.Rows)
}

func TestInvalidToneKeepsState(t *testing.T) {
	f := newFixture(t)
	f.send("Solana")

	msgs := f.send("Pirate")
	assert.Equal(t, session.StateAwaitingTone, f.session().State)
	assert.Equal(t, []string{f.cat.Text("invalid_tone")}, texts(msgs))
}

func TestInvalidQuantityKeepsState(t *testing.T) {
	for _, in := range []string{"5", "0", "-1", "4", "two", "2.5", "1 2"} {
		t.Run(in, func(t *testing.T) {
			f := newFixture(t)
			f.send("Solana")
			f.send("Trader")
			before := f.session()

			msgs := f.send(in)
			after := f.session()
			assert.Equal(t, session.StateAwaitingQuantity, after.State)
			assert.Equal(t, before.Topic, after.Topic)
			assert.Equal(t, before.Tone, after.Tone)
			assert.Equal(t, []string{f.cat.Text("invalid_quantity")}, texts(msgs))
			assert.Empty(t, f.provider.Prompts())
		})
	}
}

func TestQuantityCompletesAndResets(t *testing.T) {
	f := newFixture(t)
	f.send("Solana")
	f.send("Trader")

	msgs := f.send("2")

	prompts := f.provider.Prompts()
	require.Len(t, prompts, 1)
	trader, _ := f.cat.Tone("Trader")
	assert.Contains(t, prompts[0], "Solana")
	assert.Contains(t, prompts[0], trader.Instructions)

	require.Len(t, msgs, 2)
	assert.Equal(t, f.cat.Text("working"), msgs[0].Text)
	assert.Equal(t, "Here are your thread ideas", msgs[1].Text)
	assert.Equal(t, mainMenu(f.cat), msgs[1].Keyboard)

	s := f.session()
	assert.Equal(t, session.StateNone, s.State)
	assert.Empty(t, s.Topic)
	assert.Empty(t, s.Tone)
	assert.Zero(t, s.Quantity)
	assert.Equal(t, "Here are your thread ideas", s.LastResult)
}

func TestCompletionFailureStillResets(t *testing.T) {
	f := newFixture(t)
	f.provider.Err = &completion.APIError{StatusCode: 500, Message: "boom"}
	f.send("Solana")
	f.send("Trader")

	msgs := f.send("2")
	assert.Equal(t, fmt.Sprintf(completion.MsgAPIError, 500), last(t, msgs).Text)
	assert.Equal(t, session.StateNone, f.session().State)
}

func TestCustomStyleSkipsTone(t *testing.T) {
	f := newFixture(t)
	f.send("/setstyle short lines, lowercase, dry humor")

	var seen []session.State
	for _, in := range []string{"Solana", "3"} {
		f.send(in)
		seen = append(seen, f.session().State)
	}
	assert.Equal(t, []session.State{session.StateAwaitingQuantity, session.StateNone}, seen)

	prompts := f.provider.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "short lines, lowercase, dry humor")
	assert.Equal(t, "short lines, lowercase, dry humor", f.session().CustomStyle, "style survives the reset")
}

func TestClearedStyleFallsBackToTone(t *testing.T) {
	f := newFixture(t)
	f.send("/setstyle short lines, lowercase, dry humor")
	f.send("Solana")
	f.send("/clearstyle")

	msgs := f.send("2")
	assert.Equal(t, session.StateAwaitingTone, f.session().State)
	assert.Equal(t, f.cat.Text("ask_tone"), last(t, msgs).Text)
	assert.Empty(t, f.provider.Prompts())
}

func TestCancelMatchesCleanStart(t *testing.T) {
	setups := map[string][]string{
		"awaiting topic":    {"/thread"},
		"awaiting tone":     {"Solana"},
		"awaiting quantity": {"Solana", "Trader"},
		"awaiting draft":    {"/refine"},
		"awaiting choice":   {"/refine", "gm frens"},
	}
	ignore := cmpopts.IgnoreFields(session.Session{}, "UpdatedAt")

	clean := newFixture(t)
	clean.send("/start")
	clean.send("Ethereum")
	want := clean.session()

	for name, steps := range setups {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			for _, s := range steps {
				f.send(s)
			}
			require.NotEqual(t, session.StateNone, f.session().State)

			msgs := f.send("/cancel")
			assert.Equal(t, f.cat.Text("cancelled"), last(t, msgs).Text)
			f.send("Ethereum")

			if diff := cmp.Diff(want, f.session(), ignore); diff != "" {
				t.Errorf("session after /cancel differs from clean start (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStartKeepsCustomStyle(t *testing.T) {
	f := newFixture(t)
	f.send("/setstyle all lowercase, no emojis")
	f.send("Solana")

	msgs := f.send("/start")
	s := f.session()
	assert.Equal(t, session.StateNone, s.State)
	assert.Empty(t, s.Topic)
	assert.Equal(t, "all lowercase, no emojis", s.CustomStyle)
	assert.Equal(t, f.cat.Text("welcome"), last(t, msgs).Text)
}

func TestStyleCommands(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{f.cat.Text("style_none")}, texts(f.send("/mystyle")))
	assert.Equal(t, []string{f.cat.Text("style_too_short")}, texts(f.send("/setstyle too short")))
	assert.False(t, f.session().HasCustomStyle())

	assert.Equal(t, []string{f.cat.Text("style_saved")}, texts(f.send("/setstyle exactly10!")))
	assert.Contains(t, last(t, f.send("/mystyle")).Text, "exactly10!")

	f.send("/clearstyle")
	assert.False(t, f.session().HasCustomStyle())
}

func TestRefineFlow(t *testing.T) {
	f := newFixture(t)

	msgs := f.send(f.cat.Menu.Refine)
	assert.Equal(t, session.StateAwaitingDraft, f.session().State)
	assert.True(t, last(t, msgs).Keyboard.Remove)

	msgs = f.send("gm frens, sol is cooking")
	assert.Equal(t, session.StateAwaitingRefinementChoice, f.session().State)
	assert.Equal(t, f.cat.Text("ask_choice"), last(t, msgs).Text)

	msgs = f.send("Make it rhyme")
	assert.Equal(t, session.StateAwaitingRefinementChoice, f.session().State)
	assert.Equal(t, []string{f.cat.Text("invalid_choice")}, texts(msgs))

	f.send("shorten it")
	prompts := f.provider.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "gm frens, sol is cooking")
	assert.Contains(t, prompts[0], "Shorten it")
	assert.Equal(t, session.StateNone, f.session().State)
}

func TestRefineWithDraftArgument(t *testing.T) {
	f := newFixture(t)
	f.send("/refine gm frens")
	s := f.session()
	assert.Equal(t, session.StateAwaitingRefinementChoice, s.State)
	assert.Equal(t, "gm frens", s.Draft)
}

func TestMatchMyStyleNeedsStyle(t *testing.T) {
	f := newFixture(t)
	f.send("/refine gm frens")

	msgs := f.send("Match my style")
	assert.Equal(t, []string{f.cat.Text("need_style")}, texts(msgs))
	assert.Equal(t, session.StateNone, f.session().State)
	assert.Empty(t, f.provider.Prompts())

	f.send("/setstyle lowercase and punchy, no hashtags")
	f.send("/refine gm frens")
	f.send("Match my style")
	require.Len(t, f.provider.Prompts(), 1)
	assert.Contains(t, f.provider.Prompts()[0], "lowercase and punchy, no hashtags")
}

func TestMenuButtonsOnlyWhenIdle(t *testing.T) {
	f := newFixture(t)

	f.send(f.cat.Menu.NewThread)
	assert.Equal(t, session.StateAwaitingTopic, f.session().State)

	f.send(f.cat.Menu.Market)
	s := f.session()
	assert.Equal(t, session.StateAwaitingTone, s.State)
	assert.Equal(t, f.cat.Menu.Market, s.Topic, "mid-flow a button label is plain input")
	assert.Zero(t, f.market.n)

	f.send("/cancel")
	msgs := f.send(f.cat.Menu.Market)
	assert.Equal(t, 10, f.market.n)
	assert.Equal(t, f.cat.Text("working"), msgs[0].Text)
	assert.Equal(t, session.StateNone, f.session().State)
}

func TestCommandsWorkMidFlow(t *testing.T) {
	f := newFixture(t)
	f.send("Solana")

	msgs := f.send("/help")
	assert.Equal(t, []string{f.cat.Text("help")}, texts(msgs))
	assert.Nil(t, msgs[0].Keyboard, "mid-flow replies keep the current keyboard")
	assert.Equal(t, session.StateAwaitingTone, f.session().State)

	f.send("/news defi")
	assert.Equal(t, session.StateAwaitingTone, f.session().State, "feeds leave the flow alone")
	assert.Equal(t, "Solana", f.session().Topic)
}

func TestNewsCommands(t *testing.T) {
	f := newFixture(t)
	defi, _ := f.cat.Feed("defi")
	ai, _ := f.cat.Feed("ai")

	msgs := f.send("/news defi")
	assert.Equal(t, []string{f.cat.Text("working"), "Here are your thread ideas"}, texts(msgs))
	f.send("/news_ai@threadbot")
	f.send("/news")

	require.Len(t, f.news.urls, 3)
	assert.Equal(t, defi.URLs, f.news.urls[0])
	assert.Equal(t, ai.URLs, f.news.urls[1])
	assert.Equal(t, f.cat.Feeds[0].URLs, f.news.urls[2])

	prompts := f.provider.Prompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[0], "ETF inflows hit record")

	msgs = f.send("/news dogs")
	assert.Equal(t, []string{f.cat.Text("unknown_category")}, texts(msgs))
}

func TestFeedErrorIsFixedMessage(t *testing.T) {
	f := newFixture(t)
	f.news.err = errors.New("all feeds down")

	msgs := f.send("/news crypto")
	assert.Equal(t, []string{f.cat.Text("working"), f.cat.Text("feed_error")}, texts(msgs))
	assert.Empty(t, f.provider.Prompts())
}

func TestMissingFeedSource(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Market = nil })
	assert.Equal(t, []string{f.cat.Text("feed_error")}, texts(f.send("/market")))
}

func TestResearch(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{f.cat.Text("research_usage")}, texts(f.send("/research")))

	f.send("/research restaking risks")
	assert.Equal(t, []string{"restaking risks"}, f.research.topics)
	require.Len(t, f.provider.Prompts(), 1)
	assert.Contains(t, f.provider.Prompts()[0], "EigenLayer overview")
}

func TestExport(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{f.cat.Text("export_empty")}, texts(f.send("/export")))

	f.send("Solana")
	f.send("Hype")
	f.send("1")

	msgs := f.send("/export")
	require.Len(t, msgs, 1)
	doc := msgs[0].Document
	require.NotNil(t, doc)
	assert.Equal(t, "threadbot-20250314-1509.pdf", doc.Filename)
	assert.Equal(t, "%PDF-"+exportTitle+"|Here are your thread ideas", string(doc.Data))
}

func TestExportRenderFailure(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Export = func(string, string, time.Time) ([]byte, error) { return nil, errors.New("font missing") }
	})
	f.send("/market")

	assert.Equal(t, []string{f.cat.Text("export_error")}, texts(f.send("/export")))
}

func TestProfanityMasked(t *testing.T) {
	f := newFixture(t)
	f.provider.Reply = "this take is Shit, ser"
	f.send("/market")
	assert.Equal(t, "this take is ****, ser", f.session().LastResult)

	g := newFixture(t, func(d *Deps) { d.FilterProfanity = false })
	g.provider.Reply = "this take is Shit, ser"
	g.send("/market")
	assert.Equal(t, "this take is Shit, ser", g.session().LastResult)
}

func TestUnknownStateResets(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), session.UserID(uid), &session.Session{
		State: session.State("awaiting_vibes"),
		Topic: "leftover",
	}))

	msgs := f.send("hello")
	assert.Equal(t, []string{f.cat.Text("internal_error")}, texts(msgs))
	assert.Equal(t, mainMenu(f.cat), msgs[0].Keyboard)
	assert.Equal(t, session.StateNone, f.session().State)
	assert.Empty(t, f.session().Topic)
}

type brokenStore struct{ session.Store }

func (brokenStore) Get(context.Context, session.UserID) (*session.Session, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreFailure(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Store = brokenStore{} })
	msgs := f.send("Solana")
	assert.Equal(t, []string{f.cat.Text("internal_error")}, texts(msgs))
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{f.cat.Text("unknown_command")}, texts(f.send("/moon")))
	assert.Equal(t, []string{"moon"}, f.events.commands[len(f.events.commands)-1:])
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		in   string
		want Event
	}{
		{"Solana", Event{UserID: 1, Text: "Solana"}},
		{"  /start  ", Event{UserID: 1, Text: "/start", Command: "start"}},
		{"/News@ThreadBot defi", Event{UserID: 1, Text: "/News@ThreadBot defi", Command: "news", Args: "defi"}},
		{"/setstyle line one\nline two", Event{UserID: 1, Text: "/setstyle line one\nline two", Command: "setstyle", Args: "line one\nline two"}},
		{"/", Event{UserID: 1, Text: "/"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ParseEvent(1, tt.in)); diff != "" {
			t.Errorf("ParseEvent(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}

type recordingTransport struct {
	texts []string
	kbs   []*responder.Keyboard
	docs  []string
}

func (r *recordingTransport) SendMessage(_ context.Context, _ int64, text string, kb *responder.Keyboard) error {
	r.texts = append(r.texts, text)
	r.kbs = append(r.kbs, kb)
	return nil
}

func (r *recordingTransport) SendDocument(_ context.Context, _ int64, filename string, _ []byte, caption string) error {
	r.docs = append(r.docs, filename+"|"+caption)
	return nil
}

func TestEmitterDeliversInOrder(t *testing.T) {
	f := newFixture(t)
	f.provider.Reply = strings.Repeat("x", responder.MaxMessageLen+1)
	tr := &recordingTransport{}
	emit := Emitter(context.Background(), responder.New(tr), uid)

	f.send("Solana")
	f.send("Trader")
	f.c.HandleEvent(context.Background(), ParseEvent(uid, "2"), emit)
	f.c.HandleEvent(context.Background(), ParseEvent(uid, "/export"), emit)

	require.Len(t, tr.texts, 3, "ack plus a reply split in two")
	assert.Equal(t, f.cat.Text("working"), tr.texts[0])
	assert.Nil(t, tr.kbs[1])
	assert.Equal(t, mainMenu(f.cat), tr.kbs[2])
	assert.Equal(t, []string{"threadbot-20250314-1509.pdf|" + exportTitle}, tr.docs)
}
