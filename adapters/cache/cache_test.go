package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"notechart/domain/core"
	"notechart/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.ResultCache = (*Memory)(nil)
	_ ports.ResultCache = (*Redis)(nil)
)

func TestMemoryGetPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	data := []byte(`{"a":1}`)
	require.NoError(t, m.Put(ctx, "fp", data, time.Minute))
	data[0] = 'x'

	got, ok, err := m.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, m.Put(ctx, "forever", []byte("2"), 0))

	now = now.Add(2 * time.Second)

	_, ok, _ := m.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, m.Put(ctx, "b", []byte("2"), time.Hour))
	now = now.Add(time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryLastWriterWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Put(ctx, "fp", []byte{byte('a' + i)}, time.Minute)
		}(i)
	}
	wg.Wait()

	got, ok, err := m.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, got, 1)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "notechart:analysis:abc", key(core.Fingerprint("abc")))
}

func TestNewRedisRequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), "")
	assert.Error(t, err)
}

// Runs against a real server when REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, addr)
	require.NoError(t, err)
	defer r.Close()

	fp := core.Fingerprint("test-" + time.Now().Format(time.RFC3339Nano))
	require.NoError(t, r.Put(ctx, fp, []byte("payload"), time.Minute))

	got, ok, err := r.Get(ctx, fp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", string(got))

	_, ok, err = r.Get(ctx, "missing-"+fp)
	require.NoError(t, err)
	assert.False(t, ok)
}
