package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/catalog.yaml catalog/templates/*.md
var embedded embed.FS

const (
	catalogFile  = "catalog.yaml"
	templatesDir = "templates"
)

// Template names the builder relies on.
const (
	KindThread   = "thread"
	KindRefine   = "refine"
	KindNews     = "news"
	KindMarket   = "market"
	KindResearch = "research"
)

var requiredTemplates = []string{KindThread, KindRefine, KindNews, KindMarket, KindResearch}

var requiredTexts = []string{
	"welcome", "help", "about", "cancelled", "ask_topic", "ask_tone", "ask_quantity",
	"ask_draft", "ask_choice", "invalid_tone", "invalid_quantity", "invalid_choice",
	"need_style", "working", "internal_error",
}

// Tone is one preset writing tone offered on the tone keyboard.
type Tone struct {
	Label        string `yaml:"label"`
	Instructions string `yaml:"instructions"`
}

// Refinement is one option offered to the refiner flow.
type Refinement struct {
	Label         string `yaml:"label"`
	Instructions  string `yaml:"instructions"`
	RequiresStyle bool   `yaml:"requires_style"`
}

// FeedCategory groups the RSS feeds behind one /news category.
type FeedCategory struct {
	Category string   `yaml:"category"`
	Title    string   `yaml:"title"`
	URLs     []string `yaml:"urls"`
}

// Menu holds the main-menu button labels.
type Menu struct {
	NewThread string `yaml:"new_thread"`
	Refine    string `yaml:"refine"`
	News      string `yaml:"news"`
	Market    string `yaml:"market"`
	Style     string `yaml:"style"`
	Help      string `yaml:"help"`
}

// Catalog is the data side of the bot: user-facing texts, tones, refinement
// options, feed categories, the profanity list and the prompt templates.
type Catalog struct {
	Texts       map[string]string `yaml:"texts"`
	Menu        Menu              `yaml:"menu"`
	Tones       []Tone            `yaml:"tones"`
	Refinements []Refinement      `yaml:"refinements"`
	Feeds       []FeedCategory    `yaml:"feeds"`
	Profanity   []string          `yaml:"profanity"`

	templates map[string]*Template
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Load("")
}

// Load reads the embedded catalog and overlays dir on top of it when dir is
// not empty. The overlay may contain catalog.yaml (any subset of keys) and
// templates/*.md; each file found replaces its embedded counterpart.
func Load(dir string) (*Catalog, error) {
	base, err := fs.Sub(embedded, "catalog")
	if err != nil {
		return nil, err
	}
	c, err := readCatalog(base, true)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	if dir != "" {
		overlay, err := readCatalog(os.DirFS(dir), false)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", dir, err)
		}
		c.merge(overlay)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func readCatalog(fsys fs.FS, required bool) (*Catalog, error) {
	c := &Catalog{Texts: map[string]string{}, templates: map[string]*Template{}}

	data, err := fs.ReadFile(fsys, catalogFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("%s: %w", catalogFile, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, templatesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return c, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(templatesDir, e.Name()))
		if err != nil {
			return nil, err
		}
		t, err := parseTemplate(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if t.Name == "" {
			t.Name = strings.TrimSuffix(e.Name(), ".md")
		}
		c.templates[t.Name] = t
	}
	return c, nil
}

func (c *Catalog) merge(o *Catalog) {
	for k, v := range o.Texts {
		c.Texts[k] = v
	}
	mergeString(&c.Menu.NewThread, o.Menu.NewThread)
	mergeString(&c.Menu.Refine, o.Menu.Refine)
	mergeString(&c.Menu.News, o.Menu.News)
	mergeString(&c.Menu.Market, o.Menu.Market)
	mergeString(&c.Menu.Style, o.Menu.Style)
	mergeString(&c.Menu.Help, o.Menu.Help)
	if len(o.Tones) > 0 {
		c.Tones = o.Tones
	}
	if len(o.Refinements) > 0 {
		c.Refinements = o.Refinements
	}
	if len(o.Feeds) > 0 {
		c.Feeds = o.Feeds
	}
	if len(o.Profanity) > 0 {
		c.Profanity = o.Profanity
	}
	for name, t := range o.templates {
		c.templates[name] = t
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Catalog) validate() error {
	var errs []error
	for _, k := range requiredTexts {
		if strings.TrimSpace(c.Texts[k]) == "" {
			errs = append(errs, fmt.Errorf("text %q is missing", k))
		}
	}
	for _, name := range requiredTemplates {
		if c.templates[name] == nil {
			errs = append(errs, fmt.Errorf("template %q is missing", name))
		}
	}
	if len(c.Tones) == 0 {
		errs = append(errs, errors.New("no tones defined"))
	}
	if len(c.Refinements) == 0 {
		errs = append(errs, errors.New("no refinement options defined"))
	}
	seen := map[string]bool{}
	for _, f := range c.Feeds {
		if f.Category == "" || len(f.URLs) == 0 {
			errs = append(errs, fmt.Errorf("feed category %q has no name or URLs", f.Category))
		}
		if seen[f.Category] {
			errs = append(errs, fmt.Errorf("feed category %q defined twice", f.Category))
		}
		seen[f.Category] = true
	}
	return errors.Join(errs...)
}

// Text returns the user-facing text for key. The placeholder {{categories}}
// expands to the configured news categories.
func (c *Catalog) Text(key string) string {
	t := c.Texts[key]
	if strings.Contains(t, "{{categories}}") {
		t = strings.ReplaceAll(t, "{{categories}}", strings.Join(c.Categories(), ", "))
	}
	return strings.TrimSpace(t)
}

// Tone looks up a preset tone by label, ignoring case and surrounding space.
func (c *Catalog) Tone(label string) (Tone, bool) {
	label = strings.TrimSpace(label)
	for _, t := range c.Tones {
		if strings.EqualFold(t.Label, label) {
			return t, true
		}
	}
	return Tone{}, false
}

// Refinement looks up a refinement option by label.
func (c *Catalog) Refinement(label string) (Refinement, bool) {
	label = strings.TrimSpace(label)
	for _, r := range c.Refinements {
		if strings.EqualFold(r.Label, label) {
			return r, true
		}
	}
	return Refinement{}, false
}

// Feed returns the feed category by name.
func (c *Catalog) Feed(category string) (FeedCategory, bool) {
	category = strings.ToLower(strings.TrimSpace(category))
	for _, f := range c.Feeds {
		if strings.ToLower(f.Category) == category {
			return f, true
		}
	}
	return FeedCategory{}, false
}

// Categories lists the news categories, sorted.
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		out = append(out, f.Category)
	}
	sort.Strings(out)
	return out
}

// ToneLabels returns the tone labels in catalog order.
func (c *Catalog) ToneLabels() []string {
	out := make([]string, len(c.Tones))
	for i, t := range c.Tones {
		out[i] = t.Label
	}
	return out
}

// RefinementLabels returns the refinement labels in catalog order.
func (c *Catalog) RefinementLabels() []string {
	out := make([]string, len(c.Refinements))
	for i, r := range c.Refinements {
		out[i] = r.Label
	}
	return out
}

// Templates returns the loaded template names, sorted.
func (c *Catalog) Templates() []string {
	out := make([]string, 0, len(c.templates))
	for name := range c.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Holder gives concurrent readers the current catalog while a watcher swaps
// in reloaded versions.
type Holder struct {
	cur atomic.Pointer[Catalog]
}

// NewHolder returns a Holder serving c.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.cur.Store(c)
	return h
}

// Current returns the catalog in use.
func (h *Holder) Current() *Catalog {
	return h.cur.Load()
}

// Store replaces the catalog in use.
func (h *Holder) Store(c *Catalog) {
	h.cur.Store(c)
}
