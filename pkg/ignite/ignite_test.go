package ignite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/cuckoodb/pkg/options"
)

func openTestInstance(t *testing.T, opts ...options.OptionFunc) *Instance {
	t.Helper()

	base := []options.OptionFunc{
		options.WithDataDir(t.TempDir()),
		options.WithHeaderSize(256),
		options.WithSegmentSize(options.MinSegmentSize + 1024*1024),
	}
	base = append(base, opts...)

	inst, err := Open(context.Background(), "cuckoodb-test", base...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(context.Background()) })

	return inst
}

// waitOnDisk polls the engine directly (bypassing the cache) until key
// shows up, so a test can be sure a write has cleared the cache's
// flush pipeline before exercising a behavior — like a reopen — that
// depends on durability rather than the in-memory cache.
func waitOnDisk(t *testing.T, inst *Instance, key []byte) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := inst.engine.Get(key, options.ReadOptions{}); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for key %q to reach the engine", key)
}

func TestPutThenGetReadsYourOwnWrite(t *testing.T) {
	inst := openTestInstance(t)

	require.NoError(t, inst.Put(context.Background(), []byte("k1"), []byte("v1"), options.WriteOptions{}))

	value, err := inst.Get(context.Background(), []byte("k1"), options.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	inst := openTestInstance(t)

	_, err := inst.Get(context.Background(), []byte("absent"), options.ReadOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteWinsOverPriorPutEvenBeforeFlush(t *testing.T) {
	inst := openTestInstance(t)

	require.NoError(t, inst.Put(context.Background(), []byte("k2"), []byte("v2"), options.WriteOptions{}))
	require.NoError(t, inst.Delete(context.Background(), []byte("k2"), options.WriteOptions{}))

	_, err := inst.Get(context.Background(), []byte("k2"), options.ReadOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOperationsFailAfterClose(t *testing.T) {
	inst := openTestInstance(t)
	require.NoError(t, inst.Close(context.Background()))

	require.ErrorIs(t, inst.Close(context.Background()), ErrClosed)
	require.ErrorIs(
		t, inst.Put(context.Background(), []byte("k"), []byte("v"), options.WriteOptions{}), ErrClosed,
	)
	_, err := inst.Get(context.Background(), []byte("k"), options.ReadOptions{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestRestartRecoversWritesThatReachedDisk(t *testing.T) {
	dataDir := t.TempDir()
	openOpts := []options.OptionFunc{
		options.WithDataDir(dataDir),
		options.WithHeaderSize(256),
		options.WithSegmentSize(options.MinSegmentSize + 1024*1024),
		// A single small key/value pair already exceeds this threshold,
		// forcing the cache to flush it to the engine almost immediately
		// rather than waiting on MaxCacheSize's default 32MiB.
		options.WithMaxCacheSize(1),
	}

	inst, err := Open(context.Background(), "cuckoodb-test", openOpts...)
	require.NoError(t, err)

	require.NoError(t, inst.Put(context.Background(), []byte("durable"), []byte("after restart"), options.WriteOptions{}))
	waitOnDisk(t, inst, []byte("durable"))
	require.NoError(t, inst.Close(context.Background()))

	reopened, err := Open(context.Background(), "cuckoodb-test", openOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close(context.Background()) })

	value, err := reopened.Get(context.Background(), []byte("durable"), options.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("after restart"), value)
}

func TestOpenErrorIfExistsRejectsExistingDirectory(t *testing.T) {
	dataDir := t.TempDir()

	first, err := Open(
		context.Background(), "cuckoodb-test",
		options.WithDataDir(dataDir), options.WithHeaderSize(256),
		options.WithSegmentSize(options.MinSegmentSize+1024*1024),
	)
	require.NoError(t, err)
	require.NoError(t, first.Close(context.Background()))

	_, err = Open(
		context.Background(), "cuckoodb-test",
		options.WithDataDir(dataDir), options.WithErrorIfExists(true),
		options.WithHeaderSize(256), options.WithSegmentSize(options.MinSegmentSize+1024*1024),
	)
	require.Error(t, err)
}

func TestOpenFailsWhenDataDirMissingAndCreateDisallowed(t *testing.T) {
	dataDir := t.TempDir() + "/does-not-exist"

	_, err := Open(
		context.Background(), "cuckoodb-test",
		options.WithDataDir(dataDir), options.WithCreateIfMissing(false),
	)
	require.Error(t, err)
}
