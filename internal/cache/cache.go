// Package cache implements CuckooDB's double-buffered write cache
// (the "live"/"copy" buffer pair), the first stop for every write and
// the fastest path for a read of recently written data.
//
// Writes always land in the live buffer. Once its size crosses
// MaxCacheSize, the flusher goroutine swaps live and copy (so new
// writes keep landing in what is now the live buffer, uninterrupted)
// and hands the old live buffer — now the copy buffer — to the data
// file manager over the FlushCache event. Readers of the copy buffer
// are tracked with a count so the flusher can wait for them to drain
// before truncating it back to empty, the same rule the original
// engine's cache.cc enforces with num_readers_ and cond_reader.
//
// Grounded on original_source/cache/cache.h and cache.cc.
package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/iamNilotpal/cuckoodb/internal/event"
)

// LookupResult classifies what a Get found in the cache.
type LookupResult int

const (
	// LookupMiss means the key was not present in either buffer; the
	// caller must fall through to the index.
	LookupMiss LookupResult = iota
	// LookupHit means the most recent write found was a Put; Get's
	// value return is populated.
	LookupHit
	// LookupTombstone means the most recent write found was a Delete;
	// the key is definitively absent regardless of what the index or
	// data files say, since the cache is always more recent.
	LookupTombstone
)

const (
	bufferLive = 0
	bufferCopy = 1
)

// Cache is CuckooDB's double-buffered write cache.
type Cache struct {
	log     *zap.SugaredLogger
	events  *event.Manager
	maxSize uint64

	// index of the buffer new writes land in / the buffer being
	// flushed, swapped under muSize each time a flush begins.
	indexLive int
	indexCopy int

	buffers [2][]event.Entry
	sizes   [2]uint64

	numReaders int
	stopped    bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	muLive      sync.Mutex // serializes Additem against the flusher reading cache_live
	muFlush     sync.Mutex // guards the flush condition and wakes the flusher
	muSize      sync.Mutex // guards sizes[] and the live/copy index swap
	muSwapWrite sync.Mutex // held by the flusher while truncating the copy buffer
	muSwapRead  sync.Mutex // guards numReaders

	condFlush  *sync.Cond
	condReader *sync.Cond
}

// New constructs a Cache and starts its background flusher goroutine.
// maxSize is the summed key+value byte threshold (Options.MaxCacheSize)
// that triggers a live/copy swap.
func New(log *zap.SugaredLogger, events *event.Manager, maxSize uint64) *Cache {
	c := &Cache{
		log:       log,
		events:    events,
		maxSize:   maxSize,
		indexLive: bufferLive,
		indexCopy: bufferCopy,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	c.condFlush = sync.NewCond(&c.muFlush)
	c.condReader = sync.NewCond(&c.muSwapRead)

	go c.run()

	return c
}

// Get scans the live buffer, then the copy buffer, returning the
// last-matching entry found in each — a later write always shadows an
// earlier one, and the live buffer is always more recent than the
// copy buffer, so live is checked first and short-circuits the copy
// buffer scan entirely on a match.
func (c *Cache) Get(key []byte) ([]byte, LookupResult) {
	c.muLive.Lock()
	c.muSize.Lock()
	live := c.buffers[c.indexLive]
	c.muSize.Unlock()
	c.muLive.Unlock()

	if value, result, ok := scanLatest(live, key); ok {
		return value, result
	}

	c.muSwapWrite.Lock()
	c.muSwapRead.Lock()
	c.numReaders++
	copyBuf := c.buffers[c.indexCopy]
	c.muSwapWrite.Unlock()
	c.muSwapRead.Unlock()

	value, result, ok := scanLatest(copyBuf, key)

	c.muSwapRead.Lock()
	c.numReaders--
	c.muSwapRead.Unlock()
	c.condReader.Signal()

	if !ok {
		return nil, LookupMiss
	}
	return value, result
}

func scanLatest(entries []event.Entry, key []byte) (value []byte, result LookupResult, found bool) {
	for _, e := range entries {
		if string(e.Key) != string(key) {
			continue
		}
		found = true
		if e.Op == event.OpDelete {
			result = LookupTombstone
			value = nil
		} else {
			result = LookupHit
			value = e.Value
		}
		// no break: a later entry for the same key must win.
	}
	return value, result, found
}

// Put appends a put entry to the live buffer. sync carries
// WriteOptions.Sync through to the data file manager's flush.
func (c *Cache) Put(key, value []byte, sync bool) {
	c.addItem(event.OpPutOrGet, key, value, sync)
}

// Delete appends a tombstone entry to the live buffer. sync carries
// WriteOptions.Sync through to the data file manager's flush.
func (c *Cache) Delete(key []byte, sync bool) {
	c.addItem(event.OpDelete, key, nil, sync)
}

func (c *Cache) addItem(op event.OpType, key, value []byte, sync bool) {
	kvSize := uint64(len(key) + len(value))

	c.muLive.Lock()
	c.buffers[c.indexLive] = append(c.buffers[c.indexLive], event.Entry{
		Op:    op,
		Key:   key,
		Value: value,
		Sync:  sync,
	})

	c.muSize.Lock()
	c.sizes[c.indexLive] += kvSize
	liveSize := c.sizes[c.indexLive]
	c.muSize.Unlock()
	c.muLive.Unlock()

	if liveSize > c.maxSize {
		c.muFlush.Lock()
		c.condFlush.Signal()
		c.muFlush.Unlock()
	}
}

// run is the flusher's event loop: wait for the live buffer to cross
// the size threshold, swap live and copy, hand the copy buffer to the
// data file manager, wait for the index to be updated, then wait out
// any readers still scanning the copy buffer before truncating it.
func (c *Cache) run() {
	defer close(c.doneCh)

	for {
		c.muFlush.Lock()
		for !c.stopped && c.liveSize() == 0 {
			c.condFlush.Wait()
		}
		if c.stopped && c.liveSize() == 0 {
			c.muFlush.Unlock()
			return
		}
		c.muFlush.Unlock()

		c.muSize.Lock()
		if c.sizes[c.indexCopy] == 0 {
			c.indexLive, c.indexCopy = c.indexCopy, c.indexLive
		}
		c.muSize.Unlock()

		c.log.Debugw("flushing copy buffer to data file manager", "entries", len(c.buffers[c.indexCopy]))
		c.events.FlushCache.NotifyAndWait(c.buffers[c.indexCopy])

		c.events.ClearCache.Wait()
		c.events.ClearCache.Done()

		c.muSwapWrite.Lock()
		for {
			c.muSwapRead.Lock()
			if c.numReaders == 0 {
				c.muSwapRead.Unlock()
				break
			}
			c.condReader.Wait()
			c.muSwapRead.Unlock()
		}

		c.muSize.Lock()
		c.sizes[c.indexCopy] = 0
		c.muSize.Unlock()
		c.buffers[c.indexCopy] = nil
		c.muSwapWrite.Unlock()
	}
}

func (c *Cache) liveSize() uint64 {
	c.muSize.Lock()
	defer c.muSize.Unlock()
	return c.sizes[c.indexLive]
}

// Close stops the flusher goroutine and waits for it to exit. Entries
// still in the live buffer are flushed over FlushCache first, so Close
// returns only once the pipeline has taken them and sent ClearCache (or
// those events have been closed).
func (c *Cache) Close() {
	c.muFlush.Lock()
	c.stopped = true
	c.condFlush.Broadcast()
	c.muFlush.Unlock()

	<-c.doneCh
}
