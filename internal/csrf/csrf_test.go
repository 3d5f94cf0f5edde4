package csrf

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Token helpers
// =============================================================================

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, TokenLength*2)
	assert.NotEqual(t, a, b)

	_, err = hex.DecodeString(a)
	assert.NoError(t, err, "token should be hex encoded")
}

func TestGenerateSessionID(t *testing.T) {
	at := time.Unix(1700000000, 0)

	id := GenerateSessionID("203.0.113.7", "Mozilla/5.0", at)
	assert.Len(t, id, 64)
	assert.Equal(t, id, GenerateSessionID("203.0.113.7", "Mozilla/5.0", at), "same inputs derive the same id")
	assert.NotEqual(t, id, GenerateSessionID("203.0.113.8", "Mozilla/5.0", at))
	assert.NotEqual(t, id, GenerateSessionID("203.0.113.7", "Mozilla/5.0", at.Add(time.Millisecond)))
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name      string
		stored    string
		presented string
		want      bool
	}{
		{"match", "abc123", "abc123", true},
		{"mismatch", "abc123", "abc124", false},
		{"prefix", "abc123", "abc", false},
		{"empty presented", "abc123", "", false},
		{"empty stored", "", "abc123", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateToken(tt.stored, tt.presented))
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh...", ShortID("abcdefghijklmnop"))
	assert.Equal(t, "abc", ShortID("abc"))
}

// =============================================================================
// MemoryStore
// =============================================================================

func TestMemoryStore_GetRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Record{SessionID: "s1", Token: "t1", ExpiresAt: clock.Now().Add(time.Minute)}))

	_, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Minute)

	_, ok, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "record is invalid once now reaches expiry")

	n, _ := store.Count(ctx)
	assert.Equal(t, 0, n, "expired record should be removed on read")
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	now := clock.Now()
	_ = store.Put(ctx, Record{SessionID: "old", Token: "a", ExpiresAt: now.Add(-time.Second)})
	_ = store.Put(ctx, Record{SessionID: "edge", Token: "b", ExpiresAt: now})
	_ = store.Put(ctx, Record{SessionID: "fresh", Token: "c", ExpiresAt: now.Add(time.Hour)})

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, _ := store.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_Replace(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()
	now := clock.Now()

	_ = store.Put(ctx, Record{SessionID: "s1", Token: "old", ExpiresAt: now.Add(time.Hour)})

	ok, err := store.Replace(ctx, "s1", "wrong", Record{Token: "new", ExpiresAt: now.Add(time.Hour)}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Replace(ctx, "s1", "old", Record{Token: "new", ExpiresAt: now.Add(time.Hour)}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, found, _ := store.Get(ctx, "s1")
	require.True(t, found)
	assert.Equal(t, "new", rec.Token)
	assert.Equal(t, "s1", rec.SessionID)

	ok, _ = store.Replace(ctx, "s1", "old", Record{Token: "newer", ExpiresAt: now.Add(time.Hour)}, now)
	assert.False(t, ok, "a rotated token cannot be swapped again")
}

func TestMemoryStore_PutIfAbsent(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()
	exp := clock.Now().Add(time.Minute)

	stored, inserted, err := store.PutIfAbsent(ctx, Record{SessionID: "s", Token: "first", ExpiresAt: exp}, clock.Now())
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "first", stored.Token)

	stored, inserted, err = store.PutIfAbsent(ctx, Record{SessionID: "s", Token: "second", ExpiresAt: exp}, clock.Now())
	require.NoError(t, err)
	assert.False(t, inserted, "a live record is kept")
	assert.Equal(t, "first", stored.Token)

	clock.Advance(time.Minute)
	stored, inserted, err = store.PutIfAbsent(ctx, Record{SessionID: "s", Token: "third", ExpiresAt: clock.Now().Add(time.Minute)}, clock.Now())
	require.NoError(t, err)
	assert.True(t, inserted, "an expired record is overwritten")
	assert.Equal(t, "third", stored.Token)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			_ = store.Put(ctx, Record{SessionID: id, Token: "t", ExpiresAt: exp})
			_, _, _ = store.Get(ctx, id)
			_, _ = store.DeleteExpired(ctx, time.Now())
		}(i)
	}
	wg.Wait()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 26, n)
}
