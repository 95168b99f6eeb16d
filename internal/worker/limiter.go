package worker

import (
	"context"
	"math"
	netUrl "net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter caps the request rate per host across the whole pool, so a
// large worker count does not hammer a single site.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHostLimiter returns nil when rps is not positive; a nil limiter
// means unlimited.
func NewHostLimiter(rps float64) *HostLimiter {
	if rps <= 0 {
		return nil
	}
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (h *HostLimiter) Wait(ctx context.Context, rawURL string) {
	if h == nil {
		return
	}
	host := rawURL
	if u, err := netUrl.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	_ = limiter.Wait(ctx) // a canceled context just lets the caller see it
}
