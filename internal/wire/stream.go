package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// RecordWriter emits one record per call, in order.
type RecordWriter interface {
	WriteRecord(v any) error
}

// SetStreamHeaders prepares an HTTP response for a record stream. Proxies must
// not buffer the body.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

// NDJSONWriter writes newline-delimited JSON and flushes after every record
// when the underlying writer supports it.
type NDJSONWriter struct {
	enc   *json.Encoder
	flush func() error
}

// NewNDJSONWriter wraps w. If w is an http.ResponseWriter, each record is
// flushed to the client as soon as it is written.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	nw := &NDJSONWriter{enc: enc}
	if rw, ok := w.(http.ResponseWriter); ok {
		nw.flush = http.NewResponseController(rw).Flush
	}
	return nw
}

// WriteRecord encodes v as one line.
func (w *NDJSONWriter) WriteRecord(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	if w.flush == nil {
		return nil
	}
	if err := w.flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Decoder reads records line by line. Blank lines are ignored and lines that
// are not JSON objects with a string "type" are skipped and counted.
type Decoder struct {
	r           *bufio.Reader
	skipped     int
	onSkip      func(line []byte, err error)
	defaultType string
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// OnSkip registers a callback invoked for every skipped line.
func (d *Decoder) OnSkip(fn func(line []byte, err error)) {
	d.onSkip = fn
}

// SetDefaultType makes objects without a "type" field decode as type t
// instead of being skipped.
func (d *Decoder) SetDefaultType(t string) {
	d.defaultType = t
}

// Next returns the next well-formed record, or io.EOF at end of stream.
func (d *Decoder) Next() (Record, error) {
	for {
		line, readErr := d.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			rec, err := parseRecord(line, d.defaultType)
			if err == nil {
				return rec, nil
			}
			d.skipped++
			if d.onSkip != nil {
				d.onSkip(line, err)
			}
		}

		if readErr != nil {
			return Record{}, readErr
		}
	}
}

// Skipped returns how many malformed lines have been dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func parseRecord(line []byte, defaultType string) (Record, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return Record{}, fmt.Errorf("malformed record: %w", err)
	}
	if line[0] != '{' {
		return Record{}, errors.New("record is not an object")
	}

	typ := defaultType
	if head.Type != nil {
		typ = *head.Type
	}
	if typ == "" {
		return Record{}, errors.New("record has no type")
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	return Record{Type: typ, Raw: raw}, nil
}
