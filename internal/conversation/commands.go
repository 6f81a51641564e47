package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"threadbot/internal/logger"
	"threadbot/internal/prompt"
)

const newsAliasPrefix = "news_"

var errNoSource = errors.New("conversation: feed source not configured")

// command runs a slash command. Commands work in every state; only the
// ones that start or stop a flow touch it.
func (c *Controller) command(t *turn, ev Event) {
	cat := t.cat
	switch ev.Command {
	case "start":
		t.sess.ResetFlow()
		t.say(cat.Text("welcome"), mainMenu(cat))
	case "help":
		t.say(cat.Text("help"), keyboardFor(t))
	case "about":
		t.say(cat.Text("about"), keyboardFor(t))
	case "cancel":
		t.sess.ResetFlow()
		t.say(cat.Text("cancelled"), mainMenu(cat))

	case "setstyle":
		c.setStyle(t, ev.Args)
	case "clearstyle":
		t.sess.CustomStyle = ""
		t.say(cat.Text("style_cleared"), keyboardFor(t))
	case "mystyle":
		c.showStyle(t)

	case "thread":
		if ev.Args != "" {
			c.acceptTopic(t, ev.Args)
			return
		}
		c.startThread(t)
	case "refine":
		c.startRefine(t, ev.Args)

	case "news":
		c.news(t, ev.Args)
	case "market":
		c.market(t)
	case "research":
		c.research(t, ev.Args)
	case "export":
		c.export(t)

	default:
		if strings.HasPrefix(ev.Command, newsAliasPrefix) {
			c.news(t, strings.TrimPrefix(ev.Command, newsAliasPrefix))
			return
		}
		t.say(cat.Text("unknown_command"), keyboardFor(t))
	}
}

// menuAction runs the main-menu button matching text, if any.
func (c *Controller) menuAction(t *turn, text string) bool {
	m := t.cat.Menu
	switch text {
	case "":
		return false
	case m.NewThread:
		c.startThread(t)
	case m.Refine:
		c.startRefine(t, "")
	case m.News:
		c.news(t, "")
	case m.Market:
		c.market(t)
	case m.Style:
		c.showStyle(t)
	case m.Help:
		t.say(t.cat.Text("help"), mainMenu(t.cat))
	default:
		return false
	}
	return true
}

func (c *Controller) setStyle(t *turn, style string) {
	style = strings.TrimSpace(style)
	if len([]rune(style)) < minStyleLen {
		t.say(t.cat.Text("style_too_short"), keyboardFor(t))
		return
	}
	t.sess.CustomStyle = style
	t.say(t.cat.Text("style_saved"), keyboardFor(t))
}

func (c *Controller) showStyle(t *turn) {
	if !t.sess.HasCustomStyle() {
		t.say(t.cat.Text("style_none"), keyboardFor(t))
		return
	}
	t.say(t.cat.Text("style_current")+"\n\n"+t.sess.CustomStyle, keyboardFor(t))
}

// news summarizes a feed category; an empty category picks the first one.
func (c *Controller) news(t *turn, category string) {
	category = strings.TrimSpace(category)
	var feed prompt.FeedCategory
	switch {
	case category == "" && len(t.cat.Feeds) > 0:
		feed = t.cat.Feeds[0]
	default:
		f, ok := t.cat.Feed(category)
		if !ok {
			t.say(t.cat.Text("unknown_category"), keyboardFor(t))
			return
		}
		feed = f
	}
	if c.d.News == nil {
		c.feedFailed(t, "news", errNoSource)
		return
	}
	subject := feed.Title
	if subject == "" {
		subject = feed.Category
	}
	c.digest(t, prompt.KindNews, subject, func(ctx context.Context) (string, error) {
		return c.d.News.Digest(ctx, feed.URLs)
	})
}

func (c *Controller) market(t *turn) {
	if c.d.Market == nil {
		c.feedFailed(t, "market", errNoSource)
		return
	}
	c.digest(t, prompt.KindMarket, fmt.Sprintf("top %d coins by market cap", c.d.MarketCoins), func(ctx context.Context) (string, error) {
		return c.d.Market.TopCoins(ctx, c.d.MarketCoins)
	})
}

func (c *Controller) research(t *turn, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		t.say(t.cat.Text("research_usage"), keyboardFor(t))
		return
	}
	if c.d.Research == nil {
		c.feedFailed(t, "research", errNoSource)
		return
	}
	c.digest(t, prompt.KindResearch, topic, func(ctx context.Context) (string, error) {
		return c.d.Research.Research(ctx, topic)
	})
}

// digest fetches material, asks the model to summarize it and keeps the
// answer for /export. The flow state is left as it was.
func (c *Controller) digest(t *turn, kind, subject string, fetch func(context.Context) (string, error)) {
	t.say(t.cat.Text("working"), nil)
	material, err := fetch(t.ctx)
	if err != nil {
		c.feedFailed(t, kind, err)
		return
	}
	p, err := t.cat.DigestPrompt(kind, subject, material)
	if err != nil {
		c.feedFailed(t, kind, err)
		return
	}
	out := c.complete(t, p)
	t.sess.LastResult = out
	t.say(out, keyboardFor(t))
}

func (c *Controller) feedFailed(t *turn, kind string, err error) {
	logger.Warn("conversation: feed failed", map[string]interface{}{"user_id": t.uid, "feed": kind, "error": err})
	t.say(t.cat.Text("feed_error"), keyboardFor(t))
}

func (c *Controller) export(t *turn) {
	if strings.TrimSpace(t.sess.LastResult) == "" {
		t.say(t.cat.Text("export_empty"), keyboardFor(t))
		return
	}
	if c.d.Export == nil {
		t.say(t.cat.Text("export_error"), keyboardFor(t))
		return
	}
	now := c.d.Now()
	data, err := c.d.Export(exportTitle, t.sess.LastResult, now)
	if err != nil {
		c.report(t.uid, "export", err)
		t.say(t.cat.Text("export_error"), keyboardFor(t))
		return
	}
	t.emit(OutboundMessage{
		Text: exportTitle,
		Document: &Document{
			Filename: "threadbot-" + now.Format("20060102-1504") + ".pdf",
			Data:     data,
		},
	})
}
