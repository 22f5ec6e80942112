// Package wire defines the line-delimited JSON records streamed from the
// synthesis proxy to players.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Record types
const (
	TypeMetadata = "metadata"
	TypeAudio    = "audio"
	TypeError    = "error"
)

// ContentType is the media type of a record stream.
const ContentType = "application/x-ndjson"

// Metadata is always the first record of a chunk stream.
type Metadata struct {
	Type        string  `json:"type"`
	ChunkIndex  int     `json:"chunkIndex"`
	TotalChunks int     `json:"totalChunks"`
	HasMore     bool    `json:"hasMore"`
	VoiceName   *string `json:"voiceName"`
	Speed       float64 `json:"speed"`
}

// NewMetadata builds the metadata record for chunk index of total.
func NewMetadata(index, total int, voiceName *string, speed float64) Metadata {
	return Metadata{
		Type:        TypeMetadata,
		ChunkIndex:  index,
		TotalChunks: total,
		HasMore:     index < total-1,
		VoiceName:   voiceName,
		Speed:       speed,
	}
}

// ErrorRecord reports a failure on transports that cannot change status
// codes once open.
type ErrorRecord struct {
	Type        string `json:"type"`
	Status      int    `json:"status"`
	Error       string `json:"error"`
	Details     string `json:"details,omitempty"`
	TotalChunks *int   `json:"totalChunks,omitempty"`
}

// Record is one decoded line of a stream.
type Record struct {
	Type string
	Raw  json.RawMessage
}

// ErrNoAudio is returned when an audio record carries no payload.
var ErrNoAudio = errors.New("audio record has no payload")

// Metadata decodes r as a metadata record.
func (r Record) Metadata() (Metadata, error) {
	var m Metadata
	if r.Type != TypeMetadata {
		return m, fmt.Errorf("record type %q is not metadata", r.Type)
	}
	if err := json.Unmarshal(r.Raw, &m); err != nil {
		return m, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

// AsError decodes r as an error record.
func (r Record) AsError() (ErrorRecord, error) {
	var e ErrorRecord
	if err := json.Unmarshal(r.Raw, &e); err != nil {
		return e, fmt.Errorf("failed to decode error record: %w", err)
	}
	return e, nil
}

// Audio decodes the base64 "audio" payload of r.
func (r Record) Audio() ([]byte, error) {
	var payload struct {
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal(r.Raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode audio record: %w", err)
	}
	if payload.Audio == "" {
		return nil, ErrNoAudio
	}
	data, err := base64.StdEncoding.DecodeString(payload.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return data, nil
}

// TagAudio returns raw with its "type" field set to "audio". Every other field
// is carried over unchanged.
func TagAudio(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode upstream frame: %w", err)
	}
	if fields == nil {
		return nil, errors.New("upstream frame is not an object")
	}
	fields["type"] = json.RawMessage(`"audio"`)

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio record: %w", err)
	}
	return out, nil
}

// PayloadSize returns the decoded size of the base64 "audio" field in raw
// without decoding it.
func PayloadSize(raw json.RawMessage) int {
	var payload struct {
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0
	}
	n := len(payload.Audio)
	if n == 0 {
		return 0
	}
	size := n / 4 * 3
	if payload.Audio[n-1] == '=' {
		size--
		if n > 1 && payload.Audio[n-2] == '=' {
			size--
		}
	}
	return size
}
