package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrRejected is returned when the in-process cache refuses a write.
var ErrRejected = errors.New("otp: cache rejected entry")

type entry struct {
	code     string
	attempts int
}

// MemoryCache is a single-process backend on ristretto. Writes are flushed
// with Wait so a code is readable as soon as Put returns.
type MemoryCache struct {
	mu          sync.Mutex
	cache       *ristretto.Cache[string, *entry]
	maxAttempts int
}

// NewMemoryCache sizes the cache for roughly maxEntries outstanding codes.
func NewMemoryCache(maxEntries int64) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *entry]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("otp: ristretto: %w", err)
	}
	return &MemoryCache{cache: c, maxAttempts: DefaultMaxAttempts}, nil
}

// WithMaxAttempts sets how many wrong codes an entry survives.
func (m *MemoryCache) WithMaxAttempts(n int) *MemoryCache {
	m.maxAttempts = maxAttemptsOr(n)
	return m
}

func (m *MemoryCache) Put(_ context.Context, id, code string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("otp: ttl must be positive, got %s", ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// drop the previous code first so a rejected write never leaves it live
	m.cache.Del(id)
	if !m.cache.SetWithTTL(id, &entry{code: code}, 1, ttl) {
		return ErrRejected
	}
	m.cache.Wait()
	if _, ok := m.cache.Get(id); !ok {
		return ErrRejected
	}
	return nil
}

func (m *MemoryCache) Get(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache.Get(id)
	if !ok {
		return "", ErrMiss
	}
	return e.code, nil
}

func (m *MemoryCache) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	m.cache.Del(id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) CompareAndDelete(_ context.Context, id, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache.Get(id)
	if !ok {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) == 1 {
		m.cache.Del(id)
		return true, nil
	}
	e.attempts++
	if e.attempts >= m.maxAttempts {
		m.cache.Del(id)
		return false, ErrAttemptsExceeded
	}
	return false, nil
}

func (m *MemoryCache) Revoke(_ context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.cache.Get(id); ok && e.code == code {
		m.cache.Del(id)
	}
	return nil
}

// Close stops the cache's background goroutines.
func (m *MemoryCache) Close() { m.cache.Close() }
