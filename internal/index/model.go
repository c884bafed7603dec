package index

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// RecordPointer is the minimum metadata needed to locate an entry on
// disk: which data file holds it and at what byte offset. It carries
// no plaintext key and no value size, because the index itself is
// keyed by the key's XXH64 hash rather than the key bytes, mirroring
// the original engine's hint file (hashed_key, offset_entry) pairs. A
// lookup's candidate RecordPointer is provisional: the caller must
// read the entry at (FileID, Offset) and compare its stored key
// before trusting the value, guarding against the vanishingly rare
// case of two different keys hashing into the same bucket.
type RecordPointer struct {
	// Timestamp is not set by Apply or by recovery and stays zero;
	// recovery orders data files by their header timestamp instead.
	Timestamp int64

	// Offset is the byte position of the entry's header within its
	// data file.
	Offset uint64

	// FileID identifies which data file holds the entry.
	FileID uint32
}

// Index is the in-memory map from a key's hashed form to the
// locations of every write (put or delete) that has hashed into that
// bucket. Each write appends a RecordPointer, so a bucket grows with
// repeated writes of the same key as well as on a hash collision.
type Index struct {
	dataDir string             // Contains the filesystem path where data files are stored.
	log     *zap.SugaredLogger // Provides structured logging capabilities.

	mu      sync.RWMutex
	buckets map[uint64][]RecordPointer // Maps a hashed key to its candidate locations.

	// compactionInProgress is reserved for the (currently inert)
	// compaction worker. Get and Apply do not read it; it is only
	// stored and reported.
	compactionInProgress atomic.Bool

	closed atomic.Bool // Indicates whether the index has been closed.
}

// Config encapsulates the configuration parameters required to initialize an Index.
type Config struct {
	DataDir string             // Specifies the filesystem directory containing data files.
	Logger  *zap.SugaredLogger // Provides structured logging capabilities for Index operations.
}
