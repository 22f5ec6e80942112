package tts

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type limitedSynthesizer struct {
	limiter  *rate.Limiter
	provider Synthesizer
}

// NewLimitedSynthesizer throttles how often upstream calls are opened. A nil
// limiter returns p unchanged.
func NewLimitedSynthesizer(l *rate.Limiter, p Synthesizer) Synthesizer {
	if l == nil {
		return p
	}
	return &limitedSynthesizer{
		limiter:  l,
		provider: p,
	}
}

// NewRateLimiter builds a limiter for perSecond calls; zero or less disables it.
func NewRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (p *limitedSynthesizer) SynthesizeStream(ctx context.Context, req Request) (Stream, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	return p.provider.SynthesizeStream(ctx, req)
}
