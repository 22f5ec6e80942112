package player

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustingibbsfight/hume-document-reader/internal/playback"
)

// FilterToken in a player command is replaced with an ffmpeg audio filter
// that starts playback at the current position with the current rate.
const FilterToken = "{filter}"

// Rate bounds for SetRate
const (
	MinRate = 0.25
	MaxRate = 4.0
)

// supportsRate reports whether command can be restarted at another rate.
func supportsRate(command []string) bool {
	for _, arg := range command {
		if strings.Contains(arg, FilterToken) {
			return true
		}
	}
	return false
}

// expand substitutes the filter for offset and rate into command.
func expand(command []string, offset time.Duration, rate float64) []string {
	filter := audioFilter(offset, rate)

	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = strings.ReplaceAll(arg, FilterToken, filter)
	}
	return out
}

// audioFilter skips offset of decoded audio and applies rate. atempo only
// accepts factors in [0.5, 100], so slower rates are chained.
func audioFilter(offset time.Duration, rate float64) string {
	var parts []string

	if offset > 0 {
		parts = append(parts,
			"atrim=start="+strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
			"asetpts=PTS-STARTPTS")
	}

	if rate != 1 {
		for rate < 0.5 {
			parts = append(parts, "atempo=0.5")
			rate /= 0.5
		}
		parts = append(parts, "atempo="+strconv.FormatFloat(rate, 'f', -1, 64))
	}

	if len(parts) == 0 {
		return "anull"
	}
	return strings.Join(parts, ",")
}

func validateRate(rate float64) error {
	if math.IsNaN(rate) || rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: rate %g outside [%g, %g]", playback.ErrRateUnsupported, rate, MinRate, MaxRate)
	}
	return nil
}

// clock tracks the media position of a player: wall time spent playing,
// scaled by the rate, on top of the offset the player was started at.
type clock struct {
	mu       sync.Mutex
	now      func() time.Time
	offset   time.Duration
	rate     float64
	started  time.Time
	running  bool
	pausedAt time.Time
	paused   bool
}

func newClock() *clock {
	return &clock{now: time.Now, rate: 1}
}

// start begins counting from offset at rate; a paused clock stays paused.
func (c *clock) start(offset time.Duration, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.offset, c.rate = offset, rate
	c.started, c.running = now, true
	if c.paused {
		c.pausedAt = now
	}
}

func (c *clock) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		c.paused, c.pausedAt = true, c.now()
	}
}

func (c *clock) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		c.paused = false
		if c.running {
			c.started = c.started.Add(c.now().Sub(c.pausedAt))
		}
	}
}

func (c *clock) position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return c.offset
	}

	end := c.now()
	if c.paused {
		end = c.pausedAt
	}
	return c.offset + time.Duration(float64(end.Sub(c.started))*c.rate)
}

func (c *clock) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *clock) currentRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}
