// Package engine implements CuckooDB's storage engine: the component
// that couples the cache's flush events to data-file writes and
// in-memory index updates under a writer-priority reader/writer
// discipline, and serves Get against the resulting index.
//
// Grounded on the teacher's internal/engine package for its
// Config-driven New/Close lifecycle shape, generalized from a single
// storage+index pairing into the two-worker (RunData/RunIndex)
// pipeline original_source/storage_engine/storage_engine.h describes.
package engine

import (
	"context"
	stdErrors "errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cuckoodb/internal/compaction"
	"github.com/iamNilotpal/cuckoodb/internal/datafile"
	"github.com/iamNilotpal/cuckoodb/internal/event"
	"github.com/iamNilotpal/cuckoodb/internal/index"
	"github.com/iamNilotpal/cuckoodb/internal/lockfile"
	"github.com/iamNilotpal/cuckoodb/pkg/errors"
	"github.com/iamNilotpal/cuckoodb/pkg/filepool"
	"github.com/iamNilotpal/cuckoodb/pkg/options"
	"github.com/iamNilotpal/cuckoodb/pkg/seginfo"
)

var ErrEngineClosed = stdErrors.New("operation failed: cannot access closed engine")

// ErrKeyNotFound is returned by Get when a key has no live entry in
// either index, distinguishing "not found" from a decode/IO failure.
var ErrKeyNotFound = stdErrors.New("key not found")

// filePoolSoftCap bounds how many sealed-file mmaps the engine keeps
// resident before the LRU in filepool.FilePool starts evicting.
const filePoolSoftCap = 2048

// Engine is the storage engine proper: the DataFileManager, the
// primary index, the reserved compaction index, the shared file pool,
// and the two background workers that connect them to the Cache's
// flush events.
//
// The index latch is a sync.RWMutex rather than the source's
// hand-rolled mutex-pair-plus-condvar: Go's RWMutex already blocks new
// RLock callers once a Lock call is waiting, which is exactly the
// writer-priority behavior the source built by hand.
type Engine struct {
	options *options.Options
	log     *zap.SugaredLogger
	events  *event.Manager

	pool            *filepool.FilePool
	dataFileManager *datafile.Manager
	primaryIndex    *index.Index
	compaction      *compaction.Compaction

	latch sync.RWMutex

	numIterationsPerLock int

	closed    atomic.Bool
	stopCh    chan struct{}
	doneData  chan struct{}
	doneIndex chan struct{}
}

// Config holds all the parameters needed to initialize a new Engine instance.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
	Events  *event.Manager
}

// New creates and initializes a new Engine instance, recovering the
// index from any data files already present in Options.DataDir before
// starting the RunData/RunIndex workers.
func New(ctx context.Context, config *Config) (*Engine, error) {
	if config == nil || config.Options == nil || config.Logger == nil || config.Events == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "engine configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	opts := config.Options
	dataDir := filepath.Join(opts.DataDir, opts.SegmentOptions.Directory)
	locksDir := filepath.Join(opts.DataDir, "locks")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create data directory").
			WithPath(dataDir)
	}
	if err := os.MkdirAll(locksDir, 0755); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create locks directory").
			WithPath(locksDir)
	}
	if err := cleanStaleFiles(locksDir); err != nil {
		config.Logger.Warnw("failed to clean stale lock files", "error", err)
	}

	pool, err := filepool.New(filePoolSoftCap)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create file pool")
	}

	idx, err := index.New(ctx, &index.Config{DataDir: dataDir, Logger: config.Logger})
	if err != nil {
		return nil, err
	}

	dfm, err := datafile.New(config.Logger, config.Events, pool, dataDir, opts.HeaderSize, opts.SegmentOptions.Size)
	if err != nil {
		return nil, err
	}

	numIterationsPerLock := opts.NumIterationsPerLock
	if numIterationsPerLock <= 0 {
		numIterationsPerLock = options.DefaultNumIterationsPerLock
	}

	e := &Engine{
		options:              opts,
		log:                  config.Logger,
		events:               config.Events,
		pool:                 pool,
		dataFileManager:      dfm,
		primaryIndex:         idx,
		compaction:           compaction.New(),
		numIterationsPerLock: numIterationsPerLock,
		stopCh:               make(chan struct{}),
		doneData:             make(chan struct{}),
		doneIndex:            make(chan struct{}),
	}

	if err := e.recover(dataDir, dfm.ActiveFileID()); err != nil {
		return nil, err
	}

	// RunData's body (wait for a flushed batch, write it, hand locations
	// to update_index) lives on the DataFileManager itself; the engine
	// only needs to launch and stop it. RunIndex's chunked writer-lock
	// acquisition is the engine's concern, since only the engine holds
	// the latch Get reads against.
	go func() {
		defer close(e.doneData)
		e.dataFileManager.Run()
	}()
	go e.runIndex()

	return e, nil
}

// recover rebuilds the primary index from every data file already on
// disk, in (timestamp, fileid) ascending order per I6. The file the
// DataFileManager has already claimed as its active file is not read
// again here; its hints come from the manager's own scan (ActiveHints).
func (e *Engine) recover(dataDir string, activeFileID uint32) error {
	entries, err := seginfo.ListDataFiles(dataDir)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to list data files for recovery").
			WithPath(dataDir)
	}

	type recovered struct {
		file datafile.RecoveredFile
	}
	recs := make([]recovered, 0, len(entries))

	for _, entry := range entries {
		if entry.FileID == activeFileID {
			// The DataFileManager already rescanned this file (it was
			// either brand new or an unsealed crash survivor); use the
			// hints it collected instead of re-reading the file here.
			if hints := e.dataFileManager.ActiveHints(); len(hints) > 0 {
				recs = append(recs, recovered{file: datafile.RecoveredFile{
					FileID:    entry.FileID,
					Timestamp: e.dataFileManager.ActiveTimestamp(),
					Hints:     hints,
					Sealed:    false,
				}})
			}
			continue
		}

		rf, err := datafile.Recover(entry.Path, entry.FileID, e.options.HeaderSize)
		if err != nil {
			e.log.Warnw("skipping unloadable data file during recovery", "fileID", entry.FileID, "error", err)
			continue
		}
		recs = append(recs, recovered{file: rf})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].file.Timestamp != recs[j].file.Timestamp {
			return recs[i].file.Timestamp < recs[j].file.Timestamp
		}
		return recs[i].file.FileID < recs[j].file.FileID
	})

	for _, r := range recs {
		updates := make([]event.IndexUpdate, 0, len(r.file.Hints))
		for _, hint := range r.file.Hints {
			_, _, isDelete, err := e.dataFileManager.ReadEntry(r.file.FileID, hint.Offset, false)
			if err != nil {
				e.log.Warnw("failed to read hinted entry during recovery",
					"fileID", r.file.FileID, "offset", hint.Offset, "error", err)
				continue
			}

			op := event.OpPutOrGet
			if isDelete {
				op = event.OpDelete
			}
			updates = append(updates, event.IndexUpdate{
				HashedKey: hint.HashedKey,
				FileID:    r.file.FileID,
				Offset:    hint.Offset,
				Op:        op,
			})
		}

		if err := e.primaryIndex.LoadRecovered(updates); err != nil {
			return err
		}
	}

	return nil
}

// cleanStaleFiles removes lock files left behind by a previous owner.
// A file that some open handle still holds an exclusive lock on is kept.
func cleanStaleFiles(locksDir string) error {
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		path := filepath.Join(locksDir, de.Name())
		l, err := lockfile.Acquire(path)
		if err != nil {
			continue
		}
		_ = os.Remove(path)
		_ = l.Release()
	}
	return nil
}

// runIndex drives RunIndex: receive a batch of locations from
// RunData, merge them into the primary index in chunks of at most
// numIterationsPerLock insertions per writer-lock acquisition so a
// large batch publish cannot starve readers, then acknowledge the batch
// so the data file manager can signal the Cache it may clear its copy
// buffer.
func (e *Engine) runIndex() {
	defer close(e.doneIndex)

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		updates := e.events.UpdateIndex.Wait()

		select {
		case <-e.stopCh:
			return
		default:
		}

		for start := 0; start < len(updates); start += e.numIterationsPerLock {
			end := start + e.numIterationsPerLock
			if end > len(updates) {
				end = len(updates)
			}

			e.latch.Lock()
			if err := e.primaryIndex.Apply(updates[start:end]); err != nil {
				e.log.Errorw("failed to apply index updates", "error", err)
			}
			e.latch.Unlock()
		}

		e.events.UpdateIndex.Done()
	}
}

// Get resolves key against the index (primary, or the reserved
// compaction index first if a compaction pass has populated one),
// walking candidates newest-first and verifying each one's on-disk
// key before trusting its value — the defense against a hashed-key
// collision between two distinct keys.
func (e *Engine) Get(key []byte, ro options.ReadOptions) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	e.latch.RLock()
	defer e.latch.RUnlock()

	hashedKey := xxhash.Sum64(key)

	if e.compaction.InProgress() {
		if value, found, err := e.getFromIndex(e.compaction.Index(), hashedKey, key, ro.Checksum); err != nil {
			return nil, err
		} else if found {
			return value, nil
		}
	}

	value, found, err := e.getFromIndex(e.primaryIndex, hashedKey, key, ro.Checksum)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// getFromIndex walks idx's candidates for hashedKey from newest to
// oldest, returning the first one whose on-disk key matches. A
// tombstone match reports found=false without error, matching the
// public Get→NotFound translation the spec requires for Delete. When
// verifyChecksum is set, a candidate that ReadEntry reports with an
// ErrorCodeSegmentCorrupted StorageError (such as a CRC32 mismatch) is
// returned as that error; any other unreadable candidate is logged and
// skipped in favor of an older one.
func (e *Engine) getFromIndex(idx *index.Index, hashedKey uint64, key []byte, verifyChecksum bool) (value []byte, found bool, err error) {
	if idx == nil {
		return nil, false, nil
	}

	candidates, ok := idx.Get(hashedKey)
	if !ok {
		return nil, false, nil
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		diskKey, diskValue, isDelete, rerr := e.dataFileManager.ReadEntry(c.FileID, c.Offset, verifyChecksum)
		if rerr != nil {
			if se, ok := errors.AsStorageError(rerr); ok && verifyChecksum && se.Code() == errors.ErrorCodeSegmentCorrupted {
				return nil, false, rerr
			}
			e.log.Warnw("failed to read candidate entry", "fileID", c.FileID, "offset", c.Offset, "error", rerr)
			continue
		}
		if string(diskKey) != string(key) {
			continue
		}
		if isDelete {
			return nil, false, nil
		}
		return diskValue, true, nil
	}

	return nil, false, nil
}

// Close stops the RunData and RunIndex workers (closing the FlushCache
// and UpdateIndex events they wait on), seals the active data file so a
// later Open can recover from its footer/hints, closes the index, and
// releases the file pool's mmaps. The Cache is not touched: close it
// first so its final flush still reaches a running pipeline.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	close(e.stopCh)

	closeErr := e.dataFileManager.Close()
	<-e.doneData

	e.events.UpdateIndex.Close()
	<-e.doneIndex

	if err := e.primaryIndex.Close(); err != nil && !stdErrors.Is(err, index.ErrIndexClosed) {
		e.log.Errorw("failed to close index", "error", err)
	}

	if err := e.pool.Close(); err != nil {
		e.log.Errorw("failed to close file pool", "error", err)
	}

	return closeErr
}
