package export

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type blockKind int

const (
	kindParagraph blockKind = iota
	kindHeading
	kindItem
	kindCode
	kindQuote
	kindRule
)

// block is one laid-out unit of the document.
type block struct {
	Kind   blockKind
	Level  int    // heading level or list depth
	Marker string // list bullet or number
	Text   string
}

// flatten parses markdown and returns its blocks in reading order.
func flatten(src []byte) []block {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	var out []block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		out = appendBlock(out, n, src, 0)
	}
	return out
}

func appendBlock(out []block, n ast.Node, src []byte, depth int) []block {
	switch t := n.(type) {
	case *ast.Heading:
		return append(out, block{Kind: kindHeading, Level: t.Level, Text: inlineText(t, src)})
	case *ast.Paragraph, *ast.TextBlock:
		if s := inlineText(t, src); s != "" {
			return append(out, block{Kind: kindParagraph, Text: s})
		}
	case *ast.List:
		i := t.Start
		for item := t.FirstChild(); item != nil; item = item.NextSibling() {
			marker := "•"
			if t.IsOrdered() {
				marker = strconv.Itoa(i) + "."
				i++
			}
			var parts []string
			var nested []block
			for c := item.FirstChild(); c != nil; c = c.NextSibling() {
				if _, ok := c.(*ast.List); ok {
					nested = appendBlock(nested, c, src, depth+1)
					continue
				}
				if s := inlineText(c, src); s != "" {
					parts = append(parts, s)
				}
			}
			out = append(out, block{Kind: kindItem, Level: depth, Marker: marker, Text: strings.Join(parts, " ")})
			out = append(out, nested...)
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var sb strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(src))
		}
		return append(out, block{Kind: kindCode, Text: strings.TrimRight(sb.String(), "\n")})
	case *ast.Blockquote:
		var parts []string
		for c := t.FirstChild(); c != nil; c = c.NextSibling() {
			if s := inlineText(c, src); s != "" {
				parts = append(parts, s)
			}
		}
		return append(out, block{Kind: kindQuote, Text: strings.Join(parts, " ")})
	case *ast.ThematicBreak:
		return append(out, block{Kind: kindRule})
	}
	return out
}

func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.URL(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}
