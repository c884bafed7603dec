// Package compaction reserves the second index and in-progress flag
// that a future merge pass would populate. No merge algorithm lives
// here; Get's branching is wired against this package today so that
// enabling a real merge later needs no change to the read path.
package compaction

import (
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/cuckoodb/internal/index"
)

// Compaction tracks the reserved compaction-side index and the flag
// that tells a read whether to consult it before the primary index.
type Compaction struct {
	mu            sync.RWMutex
	compactedView *index.Index
	inProgress    atomic.Bool
}

// New returns an inert Compaction with no merge work scheduled.
func New() *Compaction {
	return &Compaction{}
}

// InProgress reports whether a compaction pass currently has a
// populated second index a reader should prefer.
func (c *Compaction) InProgress() bool {
	return c.inProgress.Load()
}

// Index returns the reserved compaction index, or nil if no pass has
// ever populated one.
func (c *Compaction) Index() *index.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compactedView
}

// Begin installs idx as the compaction index and marks a pass as in
// progress. There is no caller in this codebase yet; a future merge
// worker would call this before starting and End after swapping the
// primary index to idx's contents.
func (c *Compaction) Begin(idx *index.Index) {
	c.mu.Lock()
	c.compactedView = idx
	c.mu.Unlock()
	c.inProgress.Store(true)
}

// End clears the in-progress flag and drops the reserved index.
func (c *Compaction) End() {
	c.inProgress.Store(false)
	c.mu.Lock()
	c.compactedView = nil
	c.mu.Unlock()
}
