package event

// OpType distinguishes a put from a delete inside a flushed batch.
// Deletes still travel through the write path as an entry (a
// "tombstone") so recovery can replay them in order.
type OpType uint8

const (
	// OpPutOrGet marks an entry carrying a live value.
	OpPutOrGet OpType = iota
	// OpDelete marks a tombstone: Value is empty, and the tombstone's
	// own location is appended to the index like any other write.
	OpDelete
)

// Entry is one write handed from the Cache's flusher to the data file
// manager. Offset and FileID are zero when the cache produces it and
// are filled in on the batch's entries by the data file manager once
// each entry has been written; the index receives the locations as
// separate IndexUpdate values over UpdateIndex.
type Entry struct {
	Timestamp int64
	Op        OpType
	Key       []byte
	Value     []byte
	IsLarge   bool

	// Sync carries WriteOptions.Sync from the call that produced this
	// entry. If any entry in a flushed batch has Sync set, the data
	// file manager syncs the active file once after writing the whole
	// batch, rather than once per entry.
	Sync bool

	FileID uint32
	Offset uint64
}

// IndexUpdate is one hashed-key location handed from the data file
// manager to the index after its batch has been written to the active
// file (and synced only if an entry in the batch requested Sync).
type IndexUpdate struct {
	HashedKey uint64
	FileID    uint32
	Offset    uint64
	Op        OpType
}

// Manager bundles the four rendezvous points that connect CuckooDB's
// background pipeline stages, mirroring the original engine's
// EventManager: the cache's flusher hands a batch to the data file
// manager over FlushCache, the data file manager hands the resulting
// locations to the index over UpdateIndex, and ClearCache tells the
// flusher it may now drop its copy buffer. CompactionStatus is
// reserved for the (currently inert) compaction worker.
type Manager struct {
	FlushCache       *Event[[]Entry]
	UpdateIndex      *Event[[]IndexUpdate]
	ClearCache       *Event[struct{}]
	CompactionStatus *Event[int]
}

// NewManager constructs a Manager with all four events ready to use.
func NewManager() *Manager {
	return &Manager{
		FlushCache:       New[[]Entry](),
		UpdateIndex:      New[[]IndexUpdate](),
		ClearCache:       New[struct{}](),
		CompactionStatus: New[int](),
	}
}
