package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template is a prompt file: YAML front matter followed by a text/template body.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	body *template.Template
}

func parseTemplate(data []byte) (*Template, error) {
	content := string(data)

	// Strip leading BOM if present
	content = strings.TrimPrefix(content, "\xef\xbb\xbf")

	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 || strings.TrimSpace(parts[0]) != "" {
		return nil, fmt.Errorf("invalid frontmatter")
	}

	var t Template
	if err := yaml.Unmarshal([]byte(parts[1]), &t); err != nil {
		return nil, err
	}

	name := t.Name
	if name == "" {
		name = "prompt"
	}
	body, err := template.New(name).Option("missingkey=error").Parse(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, err
	}
	t.body = body
	return &t, nil
}

// Execute renders the template body with data.
func (t *Template) Execute(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
