package wire

import "math"

// Parameter bounds for synthesis requests
const (
	MinSpeed               = 0.25
	MaxSpeed               = 3.0
	DefaultSpeed           = 1.0
	MinTrailingSilence     = 0.0
	MaxTrailingSilence     = 5.0
	DefaultTrailingSilence = 0.35
)

// SynthesisRequest asks the proxy for one chunk of the full text. Pointer
// fields distinguish "absent" from zero.
type SynthesisRequest struct {
	Text            string   `json:"text"`
	VoiceName       *string  `json:"voiceName"`
	VoiceProvider   string   `json:"voiceProvider,omitempty"`
	Instant         *bool    `json:"instant,omitempty"`
	ChunkIndex      int      `json:"chunkIndex"`
	Speed           *float64 `json:"speed,omitempty"`
	TrailingSilence *float64 `json:"trailingSilence,omitempty"`
}

// ClampSpeed returns speed limited to [MinSpeed, MaxSpeed]. Missing, zero and
// NaN values fall back to DefaultSpeed.
func ClampSpeed(speed *float64) float64 {
	if speed == nil || *speed == 0 || math.IsNaN(*speed) {
		return DefaultSpeed
	}
	return math.Max(MinSpeed, math.Min(MaxSpeed, *speed))
}

// ClampTrailingSilence returns seconds limited to [0, MaxTrailingSilence].
// Missing and NaN values fall back to DefaultTrailingSilence.
func ClampTrailingSilence(seconds *float64) float64 {
	if seconds == nil || math.IsNaN(*seconds) {
		return DefaultTrailingSilence
	}
	return math.Max(MinTrailingSilence, math.Min(MaxTrailingSilence, *seconds))
}

// InstantRequested reports the requested instant mode; absent means requested.
func (r SynthesisRequest) InstantRequested() bool {
	return r.Instant == nil || *r.Instant
}
