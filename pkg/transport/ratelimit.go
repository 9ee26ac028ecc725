package transport

import (
	"sync"
	"time"

	"github.com/fluffypony/universe/pkg/config"
)

// tokenBucket limits the request rate of one connection. A nil bucket
// allows everything.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

// newTokenBucket returns nil when rate limiting is disabled
func newTokenBucket(rl config.RateLimitConfig, now func() time.Time) *tokenBucket {
	if !rl.Enabled || rl.RequestsPerMinute <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	burst := float64(rl.BurstSize)
	if burst < 1 {
		burst = 1
	}
	return &tokenBucket{
		tokens:     burst,
		burst:      burst,
		perSecond:  float64(rl.RequestsPerMinute) / 60.0,
		lastRefill: now(),
		now:        now,
	}
}

// allow consumes a token if one is available
func (b *tokenBucket) allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	b.tokens = min(b.tokens+elapsed.Seconds()*b.perSecond, b.burst)
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}
