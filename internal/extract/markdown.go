package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Markdown renders markdown to speakable text: markup is dropped, headings
// become sentences and code or raw HTML blocks are skipped.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a markdown extractor
func NewMarkdown() *Markdown {
	return &Markdown{md: goldmark.New()}
}

// Extract implements Provider
func (m *Markdown) Extract(_ context.Context, file File) (string, error) {
	return m.Render(file.Content)
}

// Render converts markdown source to plain text.
func (m *Markdown) Render(source []byte) (string, error) {
	doc := m.md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil

		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				switch {
				case node.HardLineBreak():
					b.WriteByte('\n')
				case node.SoftLineBreak():
					b.WriteByte(' ')
				}
			}

		case *ast.String:
			if entering {
				b.Write(node.Value)
			}

		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(source))
			}

		case *ast.Heading:
			if !entering {
				terminateSentence(&b)
				b.WriteString("\n\n")
			}

		case *ast.Paragraph, *ast.List, *ast.Blockquote, *ast.ThematicBreak:
			if !entering {
				b.WriteString("\n\n")
			}

		case *ast.TextBlock:
			if !entering {
				terminateSentence(&b)
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk markdown AST: %w", err)
	}

	return b.String(), nil
}

// terminateSentence ends the text written so far with a period unless it
// already ends in punctuation, so the chunker treats it as a sentence.
func terminateSentence(b *strings.Builder) {
	s := strings.TrimRightFunc(b.String(), unicode.IsSpace)
	if s == "" {
		return
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	if unicode.IsPunct(last) {
		return
	}
	if len(s) != b.Len() {
		b.Reset()
		b.WriteString(s)
	}
	b.WriteByte('.')
}
