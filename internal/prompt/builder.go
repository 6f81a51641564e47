package prompt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIncomplete is returned when a request lacks a field its flow requires.
	ErrIncomplete = errors.New("prompt: request is incomplete")
	// ErrStyleRequired is returned for a refinement that needs a saved custom style.
	ErrStyleRequired = errors.New("prompt: refinement requires a custom style")
)

// ThreadRequest carries everything the thread prompt needs. CustomStyle,
// when set, replaces Tone.
type ThreadRequest struct {
	Topic       string
	Tone        string
	CustomStyle string
	Quantity    int
}

// RefineRequest carries everything the refinement prompt needs.
type RefineRequest struct {
	Draft       string
	Option      string
	CustomStyle string
}

type threadData struct {
	Topic            string
	Tone             string
	ToneInstructions string
	CustomStyle      string
	Quantity         int
}

type refineData struct {
	Draft              string
	Option             string
	OptionInstructions string
	CustomStyle        string
}

type digestData struct {
	Subject  string
	Material string
}

// ThreadPrompt renders the thread-ideas prompt.
func (c *Catalog) ThreadPrompt(req ThreadRequest) (string, error) {
	topic := strings.TrimSpace(req.Topic)
	style := strings.TrimSpace(req.CustomStyle)
	if topic == "" || req.Quantity <= 0 {
		return "", ErrIncomplete
	}
	d := threadData{Topic: topic, CustomStyle: style, Quantity: req.Quantity}
	if style == "" {
		tone, ok := c.Tone(req.Tone)
		if !ok {
			return "", fmt.Errorf("%w: unknown tone %q", ErrIncomplete, req.Tone)
		}
		d.Tone = tone.Label
		d.ToneInstructions = tone.Instructions
	}
	return c.render(KindThread, d)
}

// RefinePrompt renders the draft-refinement prompt.
func (c *Catalog) RefinePrompt(req RefineRequest) (string, error) {
	draft := strings.TrimSpace(req.Draft)
	if draft == "" {
		return "", ErrIncomplete
	}
	opt, ok := c.Refinement(req.Option)
	if !ok {
		return "", fmt.Errorf("%w: unknown refinement %q", ErrIncomplete, req.Option)
	}
	style := strings.TrimSpace(req.CustomStyle)
	if opt.RequiresStyle && style == "" {
		return "", ErrStyleRequired
	}
	return c.render(KindRefine, refineData{
		Draft:              draft,
		Option:             opt.Label,
		OptionInstructions: opt.Instructions,
		CustomStyle:        style,
	})
}

// DigestPrompt renders one of the feed summary prompts (news, market,
// research) around already-truncated material.
func (c *Catalog) DigestPrompt(kind, subject, material string) (string, error) {
	switch kind {
	case KindNews, KindMarket, KindResearch:
	default:
		return "", fmt.Errorf("prompt: %q is not a digest template", kind)
	}
	if strings.TrimSpace(material) == "" {
		return "", ErrIncomplete
	}
	return c.render(kind, digestData{Subject: subject, Material: material})
}

func (c *Catalog) render(name string, data any) (string, error) {
	t := c.templates[name]
	if t == nil {
		return "", fmt.Errorf("prompt: template %q not loaded", name)
	}
	return t.Execute(data)
}
