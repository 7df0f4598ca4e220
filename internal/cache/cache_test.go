package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"audience-sync/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "audience:Customers", AudienceKey("Customers"))
	assert.Equal(t, "lookalike:Customers LAL:RU:0.01", LookalikeKey("Customers LAL", "ru", 0.01))
	assert.Equal(t, "lookalike:Customers LAL:RU:0.2", LookalikeKey("Customers LAL", "RU", 0.20))
	assert.NotEqual(t, LookalikeKey("x", "RU", 0.01), LookalikeKey("x", "KZ", 0.01))
	assert.Equal(t, "lock:123:sync", LockKey("123", "sync"))
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, "a", "1", time.Minute))
	require.NoError(t, m.Put(ctx, "b", "2", 0))
	assert.Equal(t, 2, m.Len())

	val, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", val)

	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, m.Len(), "expired entry is evicted on read")

	val, err = m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", val)

	require.NoError(t, m.Delete(ctx, "b"))
	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, m.Len())
}

func TestResourcesRoundTrip(t *testing.T) {
	ctx := context.Background()
	res := NewResources(NewMemory(), logging.Discard(), nil)

	_, ok := res.Get(ctx, AudienceKey("x"))
	assert.False(t, ok)

	assert.True(t, res.Put(ctx, AudienceKey("x"), "23850000000001", 0))
	val, ok := res.Get(ctx, AudienceKey("x"))
	require.True(t, ok)
	assert.Equal(t, "23850000000001", val)

	assert.True(t, res.Delete(ctx, AudienceKey("x")))
	_, ok = res.Get(ctx, AudienceKey("x"))
	assert.False(t, ok)
}

func TestResourcesFailClosed(t *testing.T) {
	ctx := context.Background()
	res := NewResources(brokenStore{}, logging.Discard(), nil)

	_, ok := res.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, res.Put(ctx, "k", "v", 0))
	assert.False(t, res.Delete(ctx, "k"))

	var dest map[string]any
	assert.False(t, res.GetJSON(ctx, "k", &dest))
}

func TestResourcesJSON(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	res := NewResources(store, logging.Discard(), nil)

	assert.True(t, res.PutJSON(ctx, KeyActiveCampaigns, []string{"1", "2"}, 0))
	var ids []string
	require.True(t, res.GetJSON(ctx, KeyActiveCampaigns, &ids))
	assert.Equal(t, []string{"1", "2"}, ids)

	require.NoError(t, store.Put(ctx, KeyLastMetrics, "{not json", 0))
	var snap map[string]any
	assert.False(t, res.GetJSON(ctx, KeyLastMetrics, &snap))
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, err := l.Acquire(ctx, "lock:1:sync", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "lock:1:sync", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := l.Acquire(ctx, "lock:1:metrics", time.Minute)
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := l.Acquire(ctx, "lock:1:sync", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLocalLockerExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	stale, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// releasing the expired holder must not drop the new lock
	stale()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	fresh()
}
