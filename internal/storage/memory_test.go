package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := domain.NewObjectAddress("photos-processed", "a/b.jpg")

	require.NoError(t, store.Store(ctx, addr, []byte("png"), "image/png"))

	data, err := store.Fetch(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	obj, ok := store.Get(addr)
	require.True(t, ok)
	assert.Equal(t, "image/png", obj.ContentType)

	assert.Equal(t, []string{OpStore, OpFetch}, store.Ops())
}

func TestMemoryStoreCopyPreservesMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	src := domain.NewObjectAddress("photos-incoming", "cat.jpg")
	dst := domain.NewObjectAddress("photos-raw", "cat.jpg")
	store.Put(src, Object{
		Data:        []byte("jpeg"),
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"owner": "alice"},
	})

	require.NoError(t, store.Copy(ctx, src, dst))

	copied, ok := store.Get(dst)
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), copied.Data)
	assert.Equal(t, "image/jpeg", copied.ContentType)
	assert.Equal(t, map[string]string{"owner": "alice"}, copied.Metadata)

	_, stillThere := store.Get(src)
	assert.True(t, stillThere)

	calls := store.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Call{Op: OpCopy, Src: src, Dst: dst}, calls[0])
}

func TestMemoryStoreMissingObjects(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	missing := domain.NewObjectAddress("b", "nope")

	_, err := store.Fetch(ctx, missing)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	assert.ErrorIs(t, err, ErrObjectNotFound)

	err = store.Copy(ctx, missing, domain.NewObjectAddress("c", "nope"))
	assert.True(t, domain.IsKind(err, domain.KindNotFound))

	err = store.Delete(ctx, missing)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))

	assert.Len(t, store.Calls(), 3)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := domain.NewObjectAddress("b", "k")
	store.Put(addr, Object{Data: []byte("x")})

	require.NoError(t, store.Delete(ctx, addr))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreInjectedFaults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := domain.NewObjectAddress("b", "k")
	store.Put(addr, Object{Data: []byte("x")})

	store.FailOn(OpFetch, errors.New("connection reset"))
	_, err := store.Fetch(ctx, addr)
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))

	store.FailOn(OpFetch, domain.NewError(domain.KindNotFound, "fetch", "gone"))
	_, err = store.Fetch(ctx, addr)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	store.FailOn(OpFetch, nil)
	_, err = store.Fetch(ctx, addr)
	assert.NoError(t, err)

	assert.Equal(t, []string{OpFetch, OpFetch, OpFetch}, store.Ops())
}

func TestMemoryStoreLatencyHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	store.SetLatency(time.Second)
	addr := domain.NewObjectAddress("b", "k")
	store.Put(addr, Object{Data: []byte("x")})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := store.Fetch(ctx, addr)
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := domain.NewObjectAddress("b", "k")
	store.Put(addr, Object{Data: []byte("abc")})

	data, err := store.Fetch(ctx, addr)
	require.NoError(t, err)
	data[0] = 'z'

	obj, _ := store.Get(addr)
	assert.Equal(t, []byte("abc"), obj.Data)
}

func TestNewSelectsDriver(t *testing.T) {
	store, err := New(context.Background(), Config{Driver: "Memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = New(context.Background(), Config{Driver: "ftp"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Driver: DriverMinio})
	assert.Error(t, err)
}
