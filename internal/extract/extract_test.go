package extract

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "a\n\nb", Clean("  a\r\n\r\n\r\n\r\nb  "))
	assert.Equal(t, "x", Clean("\uFEFFx"))
	assert.Equal(t, "", Clean(" \n\n "))
}

func TestNewDocument_Counts(t *testing.T) {
	doc := NewDocument("a.txt", "  Héllo  wörld.\r\n\r\n\r\nBye \n")

	assert.Equal(t, "Héllo  wörld.\n\nBye", doc.Text)
	assert.Equal(t, "a.txt", doc.FileName)
	assert.Equal(t, 18, doc.CharCount)
	assert.Equal(t, 3, doc.WordCount)
}

func TestMulti_Text(t *testing.T) {
	m := New("")

	doc, err := m.Extract(context.Background(), File{Name: "Notes.TXT", Content: []byte("Hello world.\n")})
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", doc.Text)
	assert.Equal(t, 2, doc.WordCount)
}

func TestMulti_Unsupported(t *testing.T) {
	m := New("")

	_, err := m.Extract(context.Background(), File{Name: "image.png", Content: []byte{0x89}})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, m.Supports("archive.zip"))
	assert.True(t, m.Supports("page.HTM"))
}

func TestMulti_PDFWithoutTika(t *testing.T) {
	m := New("")

	_, err := m.Extract(context.Background(), File{Name: "doc.pdf", Content: []byte("%PDF-1.4")})

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Failed to parse PDF", perr.Error())
}

type failingProvider struct{}

func (failingProvider) Extract(context.Context, File) (string, error) {
	return "", errors.New("corrupt")
}

func TestMulti_ProviderErrorWrapped(t *testing.T) {
	m := New("")
	m.Register("Word document", failingProvider{}, ".docx")

	_, err := m.Extract(context.Background(), File{Name: "doc.docx"})

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Failed to parse Word document", perr.Error())
	assert.EqualError(t, perr.Unwrap(), "corrupt")
}

func TestMarkdown_Render(t *testing.T) {
	src := "# Chapter One\n\nSome *emphasis* and a [link](http://x.test) here.\nStill the same paragraph.\n\n" +
		"```go\nfmt.Println(\"skip\")\n```\n\n" +
		"- first item\n- second item!\n\n" +
		"> quoted words.\n\n" +
		"Use `code` inline.\n"

	out, err := NewMarkdown().Render([]byte(src))
	require.NoError(t, err)

	text := Clean(out)
	assert.Equal(t,
		"Chapter One.\n\nSome emphasis and a link here. Still the same paragraph.\n\n"+
			"first item.\nsecond item!\n\nquoted words.\n\nUse code inline.",
		text)
	assert.NotContains(t, text, "Println")
}

func TestMarkdown_HeadingWithPunctuationKept(t *testing.T) {
	out, err := NewMarkdown().Render([]byte("## Why?\n\nBecause."))
	require.NoError(t, err)
	assert.Equal(t, "Why?\n\nBecause.", Clean(out))
}

func TestHTML_StripsScriptsAndTags(t *testing.T) {
	src := `<html><head><title>Doc</title><style>p { color: red }</style>
<script>alert("no")</script></head>
<body><h1>Heading</h1><p>First &amp; <b>bold</b> text.</p><p>Line<br>break</p></body></html>`

	out, err := (&HTML{}).Extract(context.Background(), File{Name: "a.html", Content: []byte(src)})
	require.NoError(t, err)

	text := Clean(out)
	assert.Equal(t, "Doc\n\nHeading\n\nFirst & bold text.\n\nLine\nbreak", text)
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color")
}

func TestTika_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-1.4", string(body))
		_, _ = w.Write([]byte("\n\nExtracted text.\n\n\n\n"))
	}))
	defer server.Close()

	m := New(server.URL + "/")
	doc, err := m.Extract(context.Background(), File{Name: "doc.pdf", Content: []byte("%PDF-1.4"), ContentType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, "Extracted text.", doc.Text)
}

func TestTika_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unprocessable", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := NewTika(server.URL).Extract(context.Background(), File{Name: "x.docx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
