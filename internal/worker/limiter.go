package worker

import (
	"context"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Limiter implements per-endpoint rate limiting. A rate of zero or less
// disables limiting.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a new rate limiter
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait waits for rate limit clearance for the given endpoint URI
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	key, err := endpointKey(endpoint)
	if err != nil {
		return err
	}

	return l.getLimiter(key).Wait(ctx)
}

// getLimiter returns the rate limiter for an endpoint
func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[key] = limiter

	return limiter
}

// endpointKey reduces a bolt or neo4j URI to host:port
func endpointKey(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "parse endpoint %q", endpoint)
	}
	if parsed.Host == "" {
		return endpoint, nil
	}
	return parsed.Host, nil
}
