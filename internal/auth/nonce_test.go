package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNonceStore_AddAndContains(t *testing.T) {
	s := NewMemoryNonceStore(time.Minute)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	seen, err := s.Contains(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, seen)

	added, err := s.Add(ctx, "n-1", 1700000000)
	require.NoError(t, err)
	assert.True(t, added)

	seen, err = s.Contains(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, seen)

	added, err = s.Add(ctx, "n-1", 1700000001)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestMemoryNonceStore_Get(t *testing.T) {
	s := NewMemoryNonceStore(time.Minute)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Add(ctx, "n-1", 1700000000)
	require.NoError(t, err)

	timestamp, ok, err := s.Get(ctx, "n-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), timestamp)
}

func TestMemoryNonceStore_Expiry(t *testing.T) {
	s := NewMemoryNonceStore(50 * time.Millisecond)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, err := s.Add(ctx, "n-1", 1700000000)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	seen, err := s.Contains(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// An expired nonce may be re-added.
	added, err := s.Add(ctx, "n-1", 1700000100)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestMemoryNonceStore_ConcurrentAddSingleWinner(t *testing.T) {
	s := NewMemoryNonceStore(time.Minute)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := s.Add(ctx, "contested", 1700000000)
			require.NoError(t, err)
			if added {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestMemoryNonceStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryNonceStore(time.Minute)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
