// Package chunker splits long text into provider-sized segments, preferring
// sentence boundaries and falling back to word boundaries.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxSize is the largest chunk the synthesis provider accepts.
const DefaultMaxSize = 4500

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// Normalize converts carriage returns to newlines, collapses runs of three or
// more newlines into a single blank line and trims the result.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Chunk splits text into ordered, non-empty chunks of at most maxSize
// characters. A single word longer than maxSize is emitted on its own.
// maxSize <= 0 selects DefaultMaxSize.
func Chunk(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	text = Normalize(text)
	if text == "" {
		return nil
	}

	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var b builder
	b.max = maxSize
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if b.fits(s) {
			b.add(s)
			continue
		}

		b.flush()
		if length(s) <= maxSize {
			b.add(s)
			continue
		}
		for _, w := range strings.Fields(s) {
			if !b.fits(w) {
				b.flush()
			}
			b.add(w)
		}
	}
	b.flush()

	return b.chunks
}

type builder struct {
	max    int
	cur    strings.Builder
	curLen int
	chunks []string
}

// fits mirrors the accumulation rule: the running length plus the candidate
// plus one separator must stay within max.
func (b *builder) fits(s string) bool {
	return b.curLen+length(s)+1 <= b.max
}

func (b *builder) add(s string) {
	if b.curLen > 0 {
		b.cur.WriteByte(' ')
		b.curLen++
	}
	b.cur.WriteString(s)
	b.curLen += length(s)
}

func (b *builder) flush() {
	if b.curLen == 0 {
		return
	}
	b.chunks = append(b.chunks, b.cur.String())
	b.cur.Reset()
	b.curLen = 0
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
