// Package extract turns uploaded documents into plain text suitable for
// speech synthesis.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rustingibbsfight/hume-document-reader/internal/chunker"
)

// ErrUnsupported is returned for file types no provider handles.
var ErrUnsupported = errors.New("Unsupported file type. Supported: .txt, .md, .pdf, .docx, .html")

// File is an uploaded document
type File struct {
	Name        string
	Content     []byte
	ContentType string
}

// Document is the extracted, cleaned text of a file
type Document struct {
	Text      string `json:"text"`
	FileName  string `json:"fileName"`
	CharCount int    `json:"charCount"`
	WordCount int    `json:"wordCount"`
}

// Provider extracts raw text from one kind of file
type Provider interface {
	Extract(ctx context.Context, file File) (string, error)
}

// ParseError wraps a provider failure with the human name of the format.
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return "Failed to parse " + e.Format
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type route struct {
	format   string
	provider Provider
}

// Multi dispatches to a provider by file extension
type Multi struct {
	routes map[string]route
}

// New builds the default extractor set. PDF and Word documents need an Apache
// Tika server; without tikaURL they fail with a ParseError.
func New(tikaURL string) *Multi {
	m := &Multi{routes: map[string]route{}}

	m.Register("Text file", &Text{}, ".txt")
	m.Register("Markdown file", NewMarkdown(), ".md", ".markdown")
	m.Register("HTML file", &HTML{}, ".html", ".htm")

	var binary Provider = unavailable{}
	if tikaURL != "" {
		binary = NewTika(tikaURL)
	}
	m.Register("PDF", binary, ".pdf")
	m.Register("Word document", binary, ".docx")

	return m
}

// Register routes the given extensions to p.
func (m *Multi) Register(format string, p Provider, extensions ...string) {
	for _, ext := range extensions {
		m.routes[strings.ToLower(ext)] = route{format: format, provider: p}
	}
}

// Supports reports whether name has a registered extension.
func (m *Multi) Supports(name string) bool {
	_, ok := m.routes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extract selects a provider by extension, extracts and cleans the text.
func (m *Multi) Extract(ctx context.Context, file File) (*Document, error) {
	r, ok := m.routes[strings.ToLower(filepath.Ext(file.Name))]
	if !ok {
		return nil, ErrUnsupported
	}

	raw, err := r.provider.Extract(ctx, file)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ParseError{Format: r.format, Err: err}
	}

	return NewDocument(file.Name, raw), nil
}

// NewDocument cleans text and fills in the counts.
func NewDocument(name, text string) *Document {
	text = Clean(text)
	return &Document{
		Text:      text,
		FileName:  name,
		CharCount: utf8.RuneCountInString(text),
		WordCount: len(strings.Fields(text)),
	}
}

// Clean normalizes line endings, collapses long runs of blank lines and trims.
func Clean(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	return chunker.Normalize(text)
}

type unavailable struct{}

func (unavailable) Extract(context.Context, File) (string, error) {
	return "", fmt.Errorf("no document converter configured (set TIKA_URL)")
}

// Text passes UTF-8 text through unchanged
type Text struct{}

// Extract implements Provider
func (*Text) Extract(_ context.Context, file File) (string, error) {
	return string(file.Content), nil
}
