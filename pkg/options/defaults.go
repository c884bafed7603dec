package options

import "time"

const (
	// Specifies the default base directory where CuckooDB will store its data files.
	// If no other directory is specified during initialization, this path will be used.
	DefaultDataDir = "/var/lib/cuckoodb"

	// Defines the default time duration between automatic compaction operations.
	// By default, compaction will run every 5 hours. Compaction itself is not
	// implemented by the core engine (reserved for future work); the interval
	// is carried so the option plumbing already exists when it is.
	DefaultCompactInterval = time.Hour * 5

	// Represents the minimum allowed size for a data file in bytes (512MB).
	MinSegmentSize uint64 = 512 * 1024 * 1024

	// Represents the maximum allowed size for a data file in bytes (4GB).
	MaxSegmentSize uint64 = 4 * 1024 * 1024 * 1024

	// Specifies the default target size for a new data file in bytes (1GB).
	// Before each entry is written, a file whose write offset has grown past
	// this threshold is sealed and a new file is opened (the rotation
	// described in storage_engine §4.3).
	DefaultSegmentSize uint64 = 1 * 1024 * 1024 * 1024

	// Specifies the default subdirectory within the main data directory
	// where data files will be stored.
	DefaultSegmentDirectory = "/segments"

	// Defines the default SegmentOptions.Prefix. No file name is built
	// from it; data files are named by their fileid.
	DefaultSegmentPrefix = "segment"

	// DefaultHeaderSize is the number of bytes reserved at the start of
	// every data file for the DataFileHeader, padded out to this size.
	DefaultHeaderSize uint32 = 4096

	// DefaultWriteBufferSize is the default write-buffer sizing hint. The
	// data file manager does not read it; it writes each entry directly
	// to the active file.
	DefaultWriteBufferSize uint64 = 4096

	// DefaultNumIterationsPerLock bounds how many index insertions RunIndex
	// performs per acquisition of the writer-priority lock, so readers can
	// make progress during a large batch publish.
	DefaultNumIterationsPerLock = 20

	// DefaultCloseTimeout is the default for Options.CloseTimeout. Close
	// does not read it; it waits for the cache's final flush without a
	// time bound.
	DefaultCloseTimeout = 500 * time.Millisecond

	// DefaultMaxCacheSize is the byte threshold (summed key+value sizes)
	// that triggers a live/copy buffer swap in the Cache.
	DefaultMaxCacheSize = 32 * 1024 * 1024
)

// Holds the default configuration settings for a CuckooDB instance.
var defaultOptions = Options{
	DataDir:              DefaultDataDir,
	CreateIfMissing:      true,
	ErrorIfExists:        false,
	CompactInterval:      DefaultCompactInterval,
	HeaderSize:           DefaultHeaderSize,
	WriteBufferSize:      DefaultWriteBufferSize,
	NumIterationsPerLock: DefaultNumIterationsPerLock,
	CloseTimeout:         DefaultCloseTimeout,
	MaxCacheSize:         DefaultMaxCacheSize,
	SegmentOptions: &segmentOptions{
		Size:      DefaultSegmentSize,
		Prefix:    DefaultSegmentPrefix,
		Directory: DefaultSegmentDirectory,
	},
}

// NewDefaultOptions returns a fresh Options value with its own copy of
// SegmentOptions, so callers can't mutate shared defaults through the
// returned pointer.
func NewDefaultOptions() Options {
	opts := defaultOptions
	segCopy := *defaultOptions.SegmentOptions
	opts.SegmentOptions = &segCopy
	return opts
}
