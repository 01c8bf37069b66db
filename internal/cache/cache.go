package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Query kinds used in cache keys.
const (
	KindReconciliationStatus = "recon_status"
	KindOpenPositions        = "open_positions"
	KindGuardStatus          = "guard_status"
)

// Cache is a short-TTL key/value store fronting read queries. It is
// best-effort: readers tolerate brief staleness and it is never consulted
// by the close decision path.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidateAccount(ctx context.Context, accountID string) error
}

// Key builds the cache key for an account query. Instrument may be empty.
func Key(accountID, kind, instrument string) string {
	parts := []string{"query", accountID, kind}
	if instrument != "" {
		parts = append(parts, instrument)
	}
	return strings.Join(parts, ":")
}

func accountPrefix(accountID string) string {
	return "query:" + accountID + ":"
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process Cache used in tests and deployments without a
// Redis address configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *Memory) InvalidateAccount(_ context.Context, accountID string) error {
	prefix := accountPrefix(accountID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}
