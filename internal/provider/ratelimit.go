package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outgoing requests ahead of withRetry's own
// backoff, the way the teacher's internal/http.ratelimit guards inbound
// channel traffic — here applied to outbound provider calls so a
// misbehaving agent loop can't hammer a provider faster than its
// published rate limit even before the provider has a chance to return
// a 429 for ClassifyError to act on.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter allowing ratePerSecond sustained
// requests with a burst of burst. ratePerSecond <= 0 disables limiting
// (Wait always returns immediately).
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a request is permitted or ctx is cancelled.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
