package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/thumbnailer/internal/config"
)

func newTestLedger(t *testing.T, ttl time.Duration) (Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedger(client, ttl, ""), mr
}

func TestRedisLedgerMarkAndSeen(t *testing.T) {
	l, _ := newTestLedger(t, time.Hour)
	ctx := context.Background()

	seen, err := l.Seen(ctx, "photos-incoming/cat.jpg#1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Mark(ctx, "photos-incoming/cat.jpg#1"))

	seen, err = l.Seen(ctx, "photos-incoming/cat.jpg#1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.Seen(ctx, "photos-incoming/cat.jpg#2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisLedgerExpires(t *testing.T) {
	l, mr := newTestLedger(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Mark(ctx, "e"))
	mr.FastForward(2 * time.Minute)

	seen, err := l.Seen(ctx, "e")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisLedgerKeysAreHashed(t *testing.T) {
	l, mr := newTestLedger(t, time.Minute)
	require.NoError(t, l.Mark(context.Background(), "bucket/a key with spaces.jpg"))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Regexp(t, `^thumbnailer:done:[0-9a-f]{40}$`, keys[0])
}

func TestRedisLedgerReset(t *testing.T) {
	l, mr := newTestLedger(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, mr.Set("unrelated", "keep"))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Mark(ctx, id))
	}
	require.NoError(t, l.Reset(ctx))

	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestRedisLedgerSurfacesErrors(t *testing.T) {
	l, mr := newTestLedger(t, time.Minute)
	mr.Close()

	_, err := l.Seen(context.Background(), "e")
	assert.Error(t, err)
}

func TestNewDisabledIsNoop(t *testing.T) {
	l, err := New(config.LedgerConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Mark(ctx, "e"))
	seen, err := l.Seen(ctx, "e")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, l.Close())
}

func TestNewConnectsWithURL(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := New(config.LedgerConfig{Enabled: true, RedisURL: "redis://" + mr.Addr(), TTLSeconds: 60})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	require.NoError(t, l.Mark(context.Background(), "e"))
	assert.Len(t, mr.Keys(), 1)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(config.LedgerConfig{Enabled: true, RedisURL: "ftp://nope"})
	assert.Error(t, err)
}
