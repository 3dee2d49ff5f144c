package signal

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type offerBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// OfferLimiter is a token bucket per identity shared by all of its sessions.
// Buckets outlive connections; a bucket is dropped only after it has been
// idle long enough to refill completely, so eviction never grants tokens.
type OfferLimiter struct {
	mu      sync.Mutex
	buckets map[domain.UserID]*offerBucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func NewOfferLimiter(perSecond float64, burst int) *OfferLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &OfferLimiter{
		buckets: make(map[domain.UserID]*offerBucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *OfferLimiter) Allow(uid domain.UserID) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[uid]
	if !ok {
		b = &offerBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[uid] = b
	}
	b.lastUsed = now
	return b.limiter.AllowN(now, 1)
}

// refillTime is how long an untouched bucket takes to become full again.
func (rl *OfferLimiter) refillTime() time.Duration {
	if rl.limit <= 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(float64(rl.burst) / float64(rl.limit) * float64(time.Second))
}

// Prune drops buckets idle for at least the refill time and returns how many
// were dropped.
func (rl *OfferLimiter) Prune() int {
	cutoff := rl.now().Add(-rl.refillTime())
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for uid, b := range rl.buckets {
		if !b.lastUsed.After(cutoff) {
			delete(rl.buckets, uid)
			n++
		}
	}
	return n
}

func (rl *OfferLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Run prunes every interval until ctx is done.
func (rl *OfferLimiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := rl.Prune(); n > 0 {
				log.Debug().Str("module", "signal").Int("evicted", n).Msg("offer buckets pruned")
			}
		}
	}
}
