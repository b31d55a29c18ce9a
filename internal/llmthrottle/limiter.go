// Package llmthrottle rate-limits calls into an llm.Provider with a
// per-provider token bucket: every distinct provider name gets its own
// bucket so a slow/throttled provider never starves another.
package llmthrottle

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ppiankov/aesop/internal/llm"
)

// Limiter is a token-bucket rate limiter keyed by provider name.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a Limiter with the given default rate/burst, applied
// the first time a new provider name is seen.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
	}
}

// Wait blocks until the named provider's bucket allows another call.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	return l.getLimiter(provider).Wait(ctx)
}

// SetProviderRate overrides the rate/burst for a specific provider, e.g. a
// self-hosted Ollama instance that can sustain more throughput than a
// metered cloud API.
func (l *Limiter) SetProviderRate(provider string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if burst <= 0 {
		burst = l.defaultBurst
	}
	l.limiters[provider] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (l *Limiter) getLimiter(provider string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[provider]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[provider]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[provider] = lim
	return lim
}

// ThrottledProvider wraps an llm.Provider so every Complete call first
// clears the provider's token bucket.
type ThrottledProvider struct {
	llm.Provider
	limiter *Limiter
}

// Wrap returns a Provider that rate-limits Complete calls through limiter,
// keyed by the wrapped provider's Name().
func Wrap(provider llm.Provider, limiter *Limiter) llm.Provider {
	if provider == nil || limiter == nil {
		return provider
	}
	return &ThrottledProvider{Provider: provider, limiter: limiter}
}

// Complete waits for rate-limit clearance before delegating to the
// wrapped provider.
func (t *ThrottledProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := t.limiter.Wait(ctx, t.Provider.Name()); err != nil {
		return nil, err
	}
	return t.Provider.Complete(ctx, req)
}
