// Package session implements the per-session cache: a process-wide,
// TTL-bounded key-value store holding SessionContext, plus the per-session
// serialization lock needed for concurrent follow-ups.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ppiankov/aesop/internal/model"
)

const keyPrefix = "aesop:session:"

// Store is the session cache. Zero value is not usable; use New.
type Store struct {
	cache *cache.Cache
	ttl   time.Duration
	locks sync.Map // session_id -> *sync.Mutex
}

// New creates a Store with the given sliding TTL (spec default 60 minutes).
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	return &Store{
		cache: cache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

func cacheKey(sessionID string) string {
	return fmt.Sprintf("%s%s", keyPrefix, sessionID)
}

// Get returns the SessionContext for sessionID, or nil if absent/expired.
func (s *Store) Get(sessionID string) *model.SessionContext {
	v, found := s.cache.Get(cacheKey(sessionID))
	if !found {
		return nil
	}
	ctx, ok := v.(*model.SessionContext)
	if !ok {
		return nil
	}
	return ctx
}

// Put writes/refreshes ctx under its SessionID, resetting the sliding TTL.
func (s *Store) Put(ctx *model.SessionContext) {
	if ctx == nil {
		return
	}
	ctx.UpdatedAt = nowFunc()
	s.cache.Set(cacheKey(ctx.SessionID), ctx, s.ttl)
}

// Delete removes a session. Idempotent: deleting an absent session is a no-op.
func (s *Store) Delete(sessionID string) {
	s.cache.Delete(cacheKey(sessionID))
}

// Lock acquires the per-session serialization lock, returning an unlock
// func. Distinct sessions never block each other; requests on the same
// session_id serialize for the duration each holds the lock.
func (s *Store) Lock(sessionID string) func() {
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// nowFunc is overridable in tests.
var nowFunc = time.Now
