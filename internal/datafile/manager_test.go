package datafile

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cuckoodb/internal/event"
	"github.com/iamNilotpal/cuckoodb/pkg/filepool"
)

func newTestManager(t *testing.T, maxFileSize uint64) (*Manager, *event.Manager) {
	t.Helper()

	dir := t.TempDir()
	events := event.NewManager()
	pool, err := filepool.New(16)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	m, err := New(zap.NewNop().Sugar(), events, pool, dir, 64, maxFileSize)
	require.NoError(t, err)

	return m, events
}

// driveOneBatch feeds batch through the manager's pipeline handoff as
// the Cache and index would: hand it off, wait for the write to land,
// then acknowledge the index update and let the manager signal the
// cache it may clear its copy buffer.
func driveOneBatch(t *testing.T, events *event.Manager, batch []event.Entry) []event.IndexUpdate {
	t.Helper()

	resultCh := make(chan []event.IndexUpdate, 1)
	go func() {
		events.FlushCache.NotifyAndWait(batch)
	}()

	go func() {
		updates := events.UpdateIndex.Wait()
		events.UpdateIndex.Done()
		resultCh <- updates
	}()

	go func() {
		events.ClearCache.Wait()
		events.ClearCache.Done()
	}()

	select {
	case updates := <-resultCh:
		return updates
	case <-time.After(time.Second):
		t.Fatal("batch never reached the index")
		return nil
	}
}

func TestManagerWritesAndReadsBackEntry(t *testing.T) {
	m, events := newTestManager(t, 1<<20)
	go m.Run()
	t.Cleanup(func() { _ = m.Close() })

	batch := []event.Entry{{Op: event.OpPutOrGet, Key: []byte("hello"), Value: []byte("world")}}
	updates := driveOneBatch(t, events, batch)

	require.Len(t, updates, 1)
	require.False(t, updates[0].Op == event.OpDelete)

	key, value, isDelete, err := m.ReadEntry(updates[0].FileID, updates[0].Offset, true)
	require.NoError(t, err)
	require.False(t, isDelete)
	require.Equal(t, []byte("hello"), key)
	require.Equal(t, []byte("world"), value)
}

func TestManagerWritesTombstone(t *testing.T) {
	m, events := newTestManager(t, 1<<20)
	go m.Run()
	t.Cleanup(func() { _ = m.Close() })

	batch := []event.Entry{{Op: event.OpDelete, Key: []byte("gone")}}
	updates := driveOneBatch(t, events, batch)

	require.Len(t, updates, 1)
	key, _, isDelete, err := m.ReadEntry(updates[0].FileID, updates[0].Offset, true)
	require.NoError(t, err)
	require.True(t, isDelete)
	require.Equal(t, []byte("gone"), key)
}

func TestManagerReadEntryDetectsChecksumCorruption(t *testing.T) {
	m, events := newTestManager(t, 1<<20)
	go m.Run()
	t.Cleanup(func() { _ = m.Close() })

	batch := []event.Entry{{Op: event.OpPutOrGet, Key: []byte("hello"), Value: []byte("world")}}
	updates := driveOneBatch(t, events, batch)
	require.Len(t, updates, 1)

	m.mu.Lock()
	headerBuf := make([]byte, maxEntryHeaderBytes)
	n, err := m.activeFile.ReadAt(headerBuf, int64(updates[0].Offset))
	require.True(t, err == nil || err == io.EOF)
	header, consumed, err := DecodeEntryHeader(headerBuf[:n])
	require.NoError(t, err)

	// Flip a byte inside the value payload of the just-written entry.
	corruptAt := int64(updates[0].Offset) + int64(consumed) + int64(header.SizeKey)
	orig := make([]byte, 1)
	_, err = m.activeFile.ReadAt(orig, corruptAt)
	require.NoError(t, err)
	_, err = m.activeFile.WriteAt([]byte{orig[0] ^ 0xFF}, corruptAt)
	m.mu.Unlock()
	require.NoError(t, err)

	_, _, _, err = m.ReadEntry(updates[0].FileID, updates[0].Offset, true)
	require.Error(t, err)

	_, _, _, err = m.ReadEntry(updates[0].FileID, updates[0].Offset, false)
	require.NoError(t, err, "checksum verification must be opt-in")
}

func TestManagerRotatesWhenFileExceedsMaxSize(t *testing.T) {
	m, events := newTestManager(t, 1)
	go m.Run()
	t.Cleanup(func() { _ = m.Close() })

	first := driveOneBatch(t, events, []event.Entry{{Op: event.OpPutOrGet, Key: []byte("a"), Value: []byte("1")}})
	second := driveOneBatch(t, events, []event.Entry{{Op: event.OpPutOrGet, Key: []byte("b"), Value: []byte("2")}})

	require.NotEqual(t, first[0].FileID, second[0].FileID, "second batch should land in a rotated file")
}
