package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultNonceTTL is the default nonce retention period. It exceeds the
// default timestamp tolerance so a nonce always outlives the window in
// which its timestamp would still be accepted.
const DefaultNonceTTL = 10 * time.Minute

// NonceStore records seen nonces for replay detection. Implementations
// must make Add atomic per nonce: two concurrent Add calls for the same
// nonce must not both succeed.
type NonceStore interface {
	// Add records a nonce with its timestamp. It returns false if the
	// nonce was already present.
	Add(ctx context.Context, nonce string, timestamp int64) (bool, error)

	// Contains reports whether a nonce has been seen.
	Contains(ctx context.Context, nonce string) (bool, error)

	// Get returns the timestamp recorded for a nonce, if present.
	Get(ctx context.Context, nonce string) (int64, bool, error)

	// Close releases the store's resources.
	Close() error
}

// nonceEntry is a recorded nonce with its expiry.
type nonceEntry struct {
	timestamp int64
	expiresAt time.Time
}

// MemoryNonceStore is a volatile in-process nonce store. It is suitable
// only for single-instance deployments: replay protection does not span
// instances. Entries expire after the TTL to bound memory.
type MemoryNonceStore struct {
	mu       sync.Mutex
	entries  map[string]nonceEntry
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// Ensure MemoryNonceStore implements NonceStore.
var _ NonceStore = (*MemoryNonceStore)(nil)

// NewMemoryNonceStore creates an in-process nonce store with the given TTL.
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	s := &MemoryNonceStore{
		entries:  make(map[string]nonceEntry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Add records a nonce, returning false if it was already present.
func (s *MemoryNonceStore) Add(_ context.Context, nonce string, timestamp int64) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[nonce]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	s.entries[nonce] = nonceEntry{timestamp: timestamp, expiresAt: now.Add(s.ttl)}
	return true, nil
}

// Contains reports whether a nonce has been seen and not yet expired.
func (s *MemoryNonceStore) Contains(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[nonce]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, nil
	}
	return true, nil
}

// Get returns the timestamp recorded for a nonce.
func (s *MemoryNonceStore) Get(_ context.Context, nonce string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[nonce]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, false, nil
	}
	return entry.timestamp, true, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryNonceStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	return nil
}

// cleanupLoop periodically removes expired entries.
func (s *MemoryNonceStore) cleanupLoop() {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.stopChan:
			return
		}
	}
}

// removeExpired deletes entries past their expiry.
func (s *MemoryNonceStore) removeExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for nonce, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, nonce)
		}
	}
}
