// ABOUTME: Tests for the session store over memory and Redis backends
// ABOUTME: Uses a controllable clock and miniredis to exercise TTL expiry

package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryStore(t *testing.T) (*Store, *fakeClock, *MemoryBackend) {
	t.Helper()
	clock := newFakeClock()
	backend := newMemoryBackend(0, clock.Now)
	t.Cleanup(backend.Close)
	return NewStore(backend, WithClock(clock.Now)), clock, backend
}

func samplePayload() Payload {
	return Payload{Identity: &Identity{ID: "id-1", OrganizationID: "org-1", Email: "a@example.com"}}
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newMemoryStore(t)

	id := s.Create(ctx, samplePayload())
	require.NotEmpty(t, id)

	got, ok := s.Get(ctx, id)
	require.True(t, ok)
	require.NotNil(t, got.Identity)
	assert.Equal(t, "a@example.com", got.Identity.Email)
	assert.Nil(t, got.Wallet)
}

func TestStore_GetUnknownAndEmpty(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newMemoryStore(t)

	_, ok := s.Get(ctx, "")
	assert.False(t, ok)

	_, ok = s.Get(ctx, "never-issued")
	assert.False(t, ok)
}

func TestStore_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	s, clock, _ := newMemoryStore(t)

	id := s.Create(ctx, samplePayload())

	clock.Advance(DefaultTTL - time.Second)
	_, ok := s.Get(ctx, id)
	assert.True(t, ok, "session should be live just before expiry")

	clock.Advance(2 * time.Second)
	_, ok = s.Get(ctx, id)
	assert.False(t, ok, "session should be absent after expiry")
}

func TestStore_MergeKeepsOtherKeysAndRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	s, clock, _ := newMemoryStore(t)

	id := s.Create(ctx, samplePayload())
	clock.Advance(30 * time.Minute)

	err := s.Merge(ctx, id, Payload{Wallet: &Wallet{ID: "w-1", SolanaAddress: "So1"}})
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	got, ok := s.Get(ctx, id)
	require.True(t, ok, "merge should have refreshed the TTL")
	require.NotNil(t, got.Identity)
	require.NotNil(t, got.Wallet)
	assert.Equal(t, "id-1", got.Identity.ID)
	assert.Equal(t, "So1", got.Wallet.SolanaAddress)
}

func TestStore_MergeUnknownSession(t *testing.T) {
	s, _, _ := newMemoryStore(t)

	err := s.Merge(context.Background(), "missing", Payload{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newMemoryStore(t)

	id := s.Create(ctx, samplePayload())
	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id))

	_, ok := s.Get(ctx, id)
	assert.False(t, ok)
}

func TestStore_BackendKeysDoNotContainToken(t *testing.T) {
	id := "plain-token"
	key := backendKey(id)

	assert.True(t, strings.HasPrefix(key, keyPrefix))
	assert.NotContains(t, key, id)
	assert.Equal(t, key, backendKey(id))
}

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID()
		require.NoError(t, err)
		assert.Len(t, id, 43)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestMemoryBackend_Sweep(t *testing.T) {
	clock := newFakeClock()
	m := newMemoryBackend(0, clock.Now)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Put(ctx, "b", []byte("2"), time.Hour))

	clock.Advance(2 * time.Minute)
	m.sweep()

	assert.Equal(t, 1, m.Len())
	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_CloseTwice(t *testing.T) {
	m := NewMemoryBackend(time.Hour)
	m.Close()
	m.Close()
}

func TestRedisBackend_RoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	s := NewStore(NewRedisBackend(client))

	id := s.Create(ctx, samplePayload())
	got, ok := s.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, "org-1", got.Identity.OrganizationID)

	assert.True(t, mr.Exists(backendKey(id)))
	mr.FastForward(DefaultTTL + time.Second)

	_, ok = s.Get(ctx, id)
	assert.False(t, ok)
}

func TestDialRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := DialRedis(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
