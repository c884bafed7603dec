package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cuckoodb/internal/event"
)

func newTestCache(t *testing.T, maxSize uint64) (*Cache, *event.Manager) {
	t.Helper()
	events := event.NewManager()
	c := New(zap.NewNop().Sugar(), events, maxSize)
	t.Cleanup(func() {
		// No data file manager runs here; closing the pipeline events lets
		// Close's final flush of any buffered entries return.
		events.FlushCache.Close()
		events.ClearCache.Close()
		c.Close()
	})
	return c, events
}

func TestCacheGetMissReturnsLookupMiss(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	_, result := c.Get([]byte("absent"))
	require.Equal(t, LookupMiss, result)
}

func TestCacheGetReturnsMostRecentWrite(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	c.Put([]byte("k"), []byte("v1"), false)
	c.Put([]byte("k"), []byte("v2"), false)

	value, result := c.Get([]byte("k"))
	require.Equal(t, LookupHit, result)
	require.Equal(t, []byte("v2"), value)
}

func TestCacheGetReturnsTombstoneForDeletedKey(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	c.Put([]byte("k"), []byte("v1"), false)
	c.Delete([]byte("k"), false)

	_, result := c.Get([]byte("k"))
	require.Equal(t, LookupTombstone, result)
}

func TestCacheFlushesWhenMaxSizeExceeded(t *testing.T) {
	c, events := newTestCache(t, 4)
	flushed := make(chan struct{})

	// Stand in for the data file manager + index: receive the flushed
	// batch, acknowledge it, then tell the cache it may clear the copy
	// buffer.
	go func() {
		batch := events.FlushCache.Wait()
		require.NotEmpty(t, batch)
		events.FlushCache.Done()
		events.ClearCache.NotifyAndWait(struct{}{})
		close(flushed)
	}()

	c.Put([]byte("key"), []byte("value-bigger-than-four-bytes"), false)

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("cache never flushed its live buffer")
	}
}

func TestCachePutCarriesSyncFlagIntoFlushedEntry(t *testing.T) {
	c, events := newTestCache(t, 4)
	flushed := make(chan struct{})

	var gotSync bool
	go func() {
		batch := events.FlushCache.Wait()
		if len(batch) > 0 {
			gotSync = batch[0].Sync
		}
		events.FlushCache.Done()
		events.ClearCache.NotifyAndWait(struct{}{})
		close(flushed)
	}()

	c.Put([]byte("key"), []byte("value-bigger-than-four-bytes"), true)

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("cache never flushed its live buffer")
	}

	require.True(t, gotSync, "WriteOptions.Sync must reach the flushed entry")
}
