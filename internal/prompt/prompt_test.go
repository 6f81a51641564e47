package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Contains(t, c.ToneLabels(), "Shitposter")
	assert.Contains(t, c.ToneLabels(), "Trader")
	assert.NotEmpty(t, c.Text("welcome"))
	assert.Equal(t, []string{"market", "news", "refine", "research", "thread"}, c.Templates())

	_, ok := c.Feed("CRYPTO")
	assert.True(t, ok, "feed lookup ignores case")
	assert.NotContains(t, c.Text("help"), "{{categories}}")
}

func TestThreadPrompt_EmbedsTopicAndTone(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	tone, _ := c.Tone("Trader")

	p, err := c.ThreadPrompt(ThreadRequest{Topic: "Solana", Tone: "trader", Quantity: 2})
	require.NoError(t, err)
	assert.Contains(t, p, "Solana")
	assert.Contains(t, p, "Trader")
	assert.Contains(t, p, tone.Instructions)
	assert.Contains(t, p, "Generate 2 distinct")
}

func TestThreadPrompt_CustomStyleReplacesTone(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	p, err := c.ThreadPrompt(ThreadRequest{Topic: "Solana", CustomStyle: "all lowercase, dry jokes", Quantity: 1})
	require.NoError(t, err)
	assert.Contains(t, p, "all lowercase, dry jokes")
	assert.NotContains(t, p, "Tone:")
}

func TestThreadPrompt_Incomplete(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, req := range []ThreadRequest{
		{Tone: "Trader", Quantity: 1},
		{Topic: "Solana", Tone: "Trader"},
		{Topic: "Solana", Tone: "Pirate", Quantity: 1},
	} {
		_, err := c.ThreadPrompt(req)
		assert.ErrorIs(t, err, ErrIncomplete, "%+v", req)
	}
}

func TestRefinePrompt(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	p, err := c.RefinePrompt(RefineRequest{Draft: "gm frens, sol is cooking", Option: "Shorten it"})
	require.NoError(t, err)
	assert.Contains(t, p, "gm frens, sol is cooking")
	assert.Contains(t, p, "Shorten it")

	_, err = c.RefinePrompt(RefineRequest{Draft: "gm", Option: "Match my style"})
	assert.True(t, errors.Is(err, ErrStyleRequired))

	p, err = c.RefinePrompt(RefineRequest{Draft: "gm", Option: "Match my style", CustomStyle: "short lines, no emojis"})
	require.NoError(t, err)
	assert.Contains(t, p, "short lines, no emojis")
}

func TestDigestPrompt(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	p, err := c.DigestPrompt(KindResearch, "restaking", "EigenLayer lets stakers reuse ETH.")
	require.NoError(t, err)
	assert.Contains(t, p, "restaking")
	assert.Contains(t, p, "EigenLayer")

	_, err = c.DigestPrompt(KindThread, "x", "y")
	assert.Error(t, err)
	_, err = c.DigestPrompt(KindNews, "crypto", "  ")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestLoad_OverlayDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(`
texts:
  welcome: "Custom welcome"
tones:
  - label: Pirate
    instructions: Talk like a pirate.
`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "thread.md"), []byte(`---
name: thread
description: override
---
Ideas about {{.Topic}} ({{.Tone}}) x{{.Quantity}}`), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "Custom welcome", c.Text("welcome"))
	assert.NotEmpty(t, c.Text("help"), "texts not in the overlay keep their defaults")
	assert.Equal(t, []string{"Pirate"}, c.ToneLabels())

	p, err := c.ThreadPrompt(ThreadRequest{Topic: "ETH", Tone: "Pirate", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "Ideas about ETH (Pirate) x3", p)
}

func TestLoad_RejectsBrokenTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "refine.md"), []byte("no front matter here"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestParseTemplate_MissingFieldFails(t *testing.T) {
	tpl, err := parseTemplate([]byte("---\nname: x\n---\n{{.Nope}}"))
	require.NoError(t, err)

	_, err = tpl.Execute(digestData{Subject: "s", Material: "m"})
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "render x"))
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	write := func(welcome string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"),
			[]byte("texts:\n  welcome: \""+welcome+"\"\n"), 0o644))
	}
	write("first")

	c, err := Load(dir)
	require.NoError(t, err)
	h := NewHolder(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, dir, h) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	write("second")

	assert.Eventually(t, func() bool {
		return h.Current().Text("welcome") == "second"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
