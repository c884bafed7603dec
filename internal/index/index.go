// Package index provides CuckooDB's in-memory hash index: a map from
// a key's XXH64 hash to the locations of every write that has ever
// landed in that bucket. The index embodies the core Bitcask
// principle of keeping lookups in memory while values stay on disk,
// and deliberately omits plaintext keys from its records — lookups
// verify a candidate by reading its entry back from the data file
// rather than by storing the key twice.
//
// Grounded on the teacher's internal/index package for its
// lifecycle shape (Config-driven New, CAS-guarded Close) and on
// original_source/util/event_manager.h's update_index event for the
// multimap-shaped (hashed_key -> locations) structure it receives
// batches through.
package index

import (
	"context"
	stdErrors "errors"

	"github.com/iamNilotpal/cuckoodb/internal/event"
	"github.com/iamNilotpal/cuckoodb/pkg/errors"
)

var ErrIndexClosed = stdErrors.New("operation failed: cannot access closed index")

// New creates and initializes a new Index instance configured according to the
// provided parameters. The returned Index is immediately ready for concurrent
// use and includes optimizations like pre-allocated map capacity.
func New(ctx context.Context, config *Config) (*Index, error) {
	if config == nil || config.DataDir == "" || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Index configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	return &Index{
		log:     config.Logger,
		dataDir: config.DataDir,
		buckets: make(map[uint64][]RecordPointer, 2046),
	}, nil
}

// Get returns every candidate location currently recorded for a
// hashed key, oldest first. More than one comes from repeated writes
// or deletes of the same key, or from distinct keys hashed to the same
// bucket, and the caller must read each candidate's entry from disk to
// find the newest one whose stored key actually matches.
func (idx *Index) Get(hashedKey uint64) ([]RecordPointer, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates, ok := idx.buckets[hashedKey]
	if !ok || len(candidates) == 0 {
		return nil, false
	}

	out := make([]RecordPointer, len(candidates))
	copy(out, candidates)
	return out, true
}

// Apply replays a batch of index updates produced by the data file
// manager after a write batch has landed on disk. Every update — put
// or delete alike — is appended to its bucket as a new candidate
// rather than replacing or removing one in place. The index stores no
// plaintext keys, so it has no way to tell, without reading the entry
// back from disk, whether an existing single candidate belongs to the
// same key as an incoming write or to a different key that merely
// hashed into the same bucket; appending unconditionally is the only
// choice that never silently drops a colliding key's pointer. A
// delete's own location is appended the same way, as the tombstone it
// is — a Delete is itself an index entry, not the erasure of one —
// so Get's newest-first walk finds it and reports the key removed.
// Stale candidates left behind a later write or a delete are expected
// to be reclaimed by a future compaction pass, not by Apply.
func (idx *Index) Apply(updates []event.IndexUpdate) error {
	if idx.closed.Load() {
		return ErrIndexClosed
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, u := range updates {
		idx.buckets[u.HashedKey] = append(idx.buckets[u.HashedKey], RecordPointer{
			FileID: u.FileID,
			Offset: u.Offset,
		})
	}

	return nil
}

// LoadRecovered seeds the index from a fully-ordered replay of
// recovered entries (built by the engine's recovery path from each
// data file's footer hints or, for an unsealed tail file, a full
// scan), applying them in the same (timestamp, fileid) ascending order
// they were written so later writes correctly shadow earlier ones.
func (idx *Index) LoadRecovered(updates []event.IndexUpdate) error {
	return idx.Apply(updates)
}

// Run drives the index's side of the pipeline: receive a batch of
// locations from the data file manager, apply it, and signal back so
// the data file manager can tell the cache it may clear its copy
// buffer.
func (idx *Index) Run(events *event.Manager) {
	for {
		updates := events.UpdateIndex.Wait()
		if idx.closed.Load() {
			events.UpdateIndex.Done()
			return
		}

		if err := idx.Apply(updates); err != nil {
			idx.log.Errorw("failed to apply index updates", "error", err)
		}
		events.UpdateIndex.Done()
	}
}

// SetCompactionInProgress flips the reserved compaction flag. Get and
// Apply do not currently change behavior based on it; it exists so a
// future compaction pass has a place to signal "don't trust stale
// locations right now" without an index schema change.
func (idx *Index) SetCompactionInProgress(v bool) {
	idx.compactionInProgress.Store(v)
}

// CompactionInProgress reports the reserved compaction flag's state.
func (idx *Index) CompactionInProgress() bool {
	return idx.compactionInProgress.Load()
}

// Len returns the number of distinct hashed-key buckets currently
// tracked, used by tests and diagnostics rather than the hot path.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.buckets)
}

// Close gracefully shuts down the Index, cleaning up resources and ensuring
// that the index cannot be used after closure.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return ErrIndexClosed
	}

	idx.log.Infow("closing index")

	idx.mu.Lock()
	defer idx.mu.Unlock()

	clear(idx.buckets)
	idx.buckets = nil

	idx.log.Infow("index closed")
	return nil
}
