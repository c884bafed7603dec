// Package options provides data structures and functions for configuring
// the CuckooDB database. It defines various parameters that control
// CuckooDB's storage behavior, performance, and maintenance operations,
// such as directory paths, data-file characteristics, and compaction
// intervals, plus the per-call WriteOptions/ReadOptions pair.
package options

import (
	"strings"
	"time"
)

// Defines configurable parameters for each data file.
// It provides fine-grained control over rotation behavior, performance,
// and resource utilization.
type segmentOptions struct {
	// Defines the maximum size a data file can grow to before rotation.
	// Before each entry is written, a file whose write offset has grown
	// past this size is sealed (footer written) and a new file is opened.
	//
	//  - Default: 1GB
	//  - Maximum: 4GB
	//  - Minimum: 512MB
	Size uint64 `json:"maxSegmentSize"`

	// Specifies where data files are stored, relative to DataDir.
	//
	// Default: "/segments"
	Directory string `json:"directory"`

	// Filename prefix carried in the options. No file name is built from
	// it; data files are named by their 8-hex-digit fileid.
	//
	// Default: "segment"
	Prefix string `json:"prefix"`
}

// Defines the configuration parameters for CuckooDB.
// It provides control over storage, performance and maintenance aspects.
type Options struct {
	// Specifies the base path where files will be stored.
	//
	// Default: "/var/lib/cuckoodb"
	DataDir string `json:"dataDir"`

	// Creates DataDir (and its segments/locks subdirectories) if it does
	// not already exist.
	//
	// Default: true
	CreateIfMissing bool `json:"createIfMissing"`

	// Fails Open if DataDir already exists, whether empty or not.
	//
	// Default: false
	ErrorIfExists bool `json:"errorIfExists"`

	// Bytes reserved at the start of every data file for the
	// DataFileHeader, padded out to this size.
	//
	// Default: 4096
	HeaderSize uint32 `json:"datafileHeaderSize"`

	// Write-buffer sizing hint. The data file manager does not read it;
	// it writes each entry directly to the active file.
	//
	// Default: 4096
	WriteBufferSize uint64 `json:"writeBufferSize"`

	// Bounds how many index insertions RunIndex performs per acquisition
	// of the writer-priority lock before dropping and reacquiring it, so
	// readers can make progress during a large batch publish.
	//
	// Default: 20
	NumIterationsPerLock int `json:"numIterationsPerLock"`

	// Per-flush-cycle wait carried in the options. Close does not read
	// it: it waits for the cache's final flush without a time bound.
	//
	// Default: 500ms
	CloseTimeout time.Duration `json:"closeTimeout"`

	// Byte threshold (summed key+value sizes) that triggers a live/copy
	// buffer swap in the Cache.
	//
	// Default: 32MiB
	MaxCacheSize uint64 `json:"maxCacheSize"`

	// Defines how often the compaction process runs to merge old data
	// files. Compaction itself is reserved future work; this interval is
	// carried for forward compatibility.
	//
	// Default: 5h
	CompactInterval time.Duration `json:"compactInterval"`

	// Configures data-file management including size limits and naming convention.
	SegmentOptions *segmentOptions `json:"segmentOptions"`
}

// WriteOptions controls the durability behavior of a single Put/Delete call.
type WriteOptions struct {
	// Sync requests that, once this entry's batch reaches a data file, the
	// manager issue an fdatasync (F_FULLFSYNC on Darwin) before considering
	// the batch durable. If any entry in a flushed batch has Sync set, the
	// whole batch is synced once.
	//
	// Default: false
	Sync bool
}

// DefaultWriteOptions returns the zero-value WriteOptions (Sync: false).
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{}
}

// ReadOptions controls the verification behavior of a single Get call.
type ReadOptions struct {
	// Checksum verifies the entry's CRC32 (computed over key||value at
	// write time) before returning its value. A mismatch surfaces as a
	// StorageError with ErrorCodeSegmentCorrupted instead of the value.
	//
	// Default: false
	Checksum bool
}

// DefaultReadOptions returns the zero-value ReadOptions (Checksum: false).
func DefaultReadOptions() ReadOptions {
	return ReadOptions{}
}

// OptionFunc is a function type that modifies the CuckooDB system's configuration.
type OptionFunc func(*Options)

// Applies a predefined set of default configuration values to the Options struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// Sets the primary data directory for CuckooDB.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// Sets whether Open creates DataDir when it doesn't already exist.
func WithCreateIfMissing(create bool) OptionFunc {
	return func(o *Options) {
		o.CreateIfMissing = create
	}
}

// Sets whether Open fails when DataDir already exists.
func WithErrorIfExists(errorIfExists bool) OptionFunc {
	return func(o *Options) {
		o.ErrorIfExists = errorIfExists
	}
}

// Sets the number of bytes reserved for the DataFileHeader at the start
// of every data file.
func WithHeaderSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.HeaderSize = size
		}
	}
}

// Sets the write-buffer sizing hint.
func WithWriteBufferSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.WriteBufferSize = size
		}
	}
}

// Sets how many index insertions RunIndex performs per writer-lock acquisition.
func WithNumIterationsPerLock(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.NumIterationsPerLock = n
		}
	}
}

// Sets Options.CloseTimeout, which Close does not read.
func WithCloseTimeout(d time.Duration) OptionFunc {
	return func(o *Options) {
		if d > 0 {
			o.CloseTimeout = d
		}
	}
}

// Sets the byte threshold that triggers a Cache live/copy buffer swap.
func WithMaxCacheSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.MaxCacheSize = size
		}
	}
}

// Sets the interval at which CuckooDB performs compaction operations.
func WithCompactInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CompactInterval = interval
		}
	}
}

// Sets the directory specifically for storing data files.
func WithSegmentDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.SegmentOptions.Directory = directory
		}
	}
}

// Sets SegmentOptions.Prefix; no file name is built from it.
func WithSegmentPrefix(prefix string) OptionFunc {
	return func(o *Options) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			o.SegmentOptions.Prefix = prefix
		}
	}
}

// Sets the maximum size of individual data files before rotation.
func WithSegmentSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinSegmentSize && size <= MaxSegmentSize {
			o.SegmentOptions.Size = size
		}
	}
}
