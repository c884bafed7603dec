package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cuckoodb/internal/event"
	"github.com/iamNilotpal/cuckoodb/pkg/options"
)

func newTestEngine(t *testing.T) (*Engine, *event.Manager) {
	t.Helper()

	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.HeaderSize = 256
	opts.SegmentOptions.Size = options.MinSegmentSize

	events := event.NewManager()
	eng, err := New(context.Background(), &Config{
		Options: &opts,
		Logger:  zap.NewNop().Sugar(),
		Events:  events,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = eng.Close() })

	return eng, events
}

// driveBatch pushes a batch of cache entries through the same
// FlushCache -> write -> UpdateIndex -> ClearCache handoff the real
// Cache flusher uses, and waits for the round trip to complete.
func driveBatch(t *testing.T, events *event.Manager, batch []event.Entry) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		events.FlushCache.NotifyAndWait(batch)
		// Stand in for the Cache: the clear signal follows the index
		// update, so acknowledging it completes the round trip.
		events.ClearCache.Wait()
		events.ClearCache.Done()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch to flush")
	}
}

func TestEngineGetAfterFlushFindsValue(t *testing.T) {
	eng, events := newTestEngine(t)

	driveBatch(t, events, []event.Entry{
		{Op: event.OpPutOrGet, Key: []byte("alpha"), Value: []byte("one")},
	})

	value, err := eng.Get([]byte("alpha"), options.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)
}

func TestEngineGetWithChecksumVerifiesCleanEntry(t *testing.T) {
	eng, events := newTestEngine(t)

	driveBatch(t, events, []event.Entry{
		{Op: event.OpPutOrGet, Key: []byte("alpha"), Value: []byte("one")},
	})

	value, err := eng.Get([]byte("alpha"), options.ReadOptions{Checksum: true})
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)
}

func TestEngineGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Get([]byte("nope"), options.ReadOptions{})
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngineDeleteShadowsEarlierPut(t *testing.T) {
	eng, events := newTestEngine(t)

	driveBatch(t, events, []event.Entry{
		{Op: event.OpPutOrGet, Key: []byte("beta"), Value: []byte("first")},
	})
	driveBatch(t, events, []event.Entry{
		{Op: event.OpDelete, Key: []byte("beta")},
	})

	_, err := eng.Get([]byte("beta"), options.ReadOptions{})
	require.ErrorIs(t, err, ErrKeyNotFound)
}

// TestEngineDeleteWinsAcrossFileRotation guards against a delete that
// only appeared to work because its tombstone happened to land in the
// same data file as the put it was shadowing. A tiny segment size
// forces the put and the delete into two different files, so the
// tombstone's FileID/Offset never coincides with the put's.
func TestEngineDeleteWinsAcrossFileRotation(t *testing.T) {
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.HeaderSize = 256
	opts.SegmentOptions.Size = 1

	events := event.NewManager()
	eng, err := New(context.Background(), &Config{
		Options: &opts,
		Logger:  zap.NewNop().Sugar(),
		Events:  events,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	driveBatch(t, events, []event.Entry{
		{Op: event.OpPutOrGet, Key: []byte("delta"), Value: []byte("first")},
	})
	driveBatch(t, events, []event.Entry{
		{Op: event.OpDelete, Key: []byte("delta")},
	})

	_, err = eng.Get([]byte("delta"), options.ReadOptions{})
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngineLaterPutShadowsEarlierOne(t *testing.T) {
	eng, events := newTestEngine(t)

	driveBatch(t, events, []event.Entry{
		{Op: event.OpPutOrGet, Key: []byte("gamma"), Value: []byte("old")},
	})
	driveBatch(t, events, []event.Entry{
		{Op: event.OpPutOrGet, Key: []byte("gamma"), Value: []byte("new")},
	})

	value, err := eng.Get([]byte("gamma"), options.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("new"), value)
}

func TestEngineRecoversAcrossReopen(t *testing.T) {
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	opts.HeaderSize = 256
	opts.SegmentOptions.Size = options.MinSegmentSize

	events := event.NewManager()
	eng, err := New(context.Background(), &Config{
		Options: &opts,
		Logger:  zap.NewNop().Sugar(),
		Events:  events,
	})
	require.NoError(t, err)

	driveBatch(t, events, []event.Entry{
		{Op: event.OpPutOrGet, Key: []byte("durable"), Value: []byte("survives restart")},
	})
	require.NoError(t, eng.Close())

	events2 := event.NewManager()
	eng2, err := New(context.Background(), &Config{
		Options: &opts,
		Logger:  zap.NewNop().Sugar(),
		Events:  events2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng2.Close() })

	value, err := eng2.Get([]byte("durable"), options.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("survives restart"), value)
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.Close())
	require.ErrorIs(t, eng.Close(), ErrEngineClosed)

	_, err := eng.Get([]byte("anything"), options.ReadOptions{})
	require.ErrorIs(t, err, ErrEngineClosed)
}
