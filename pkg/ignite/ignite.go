// Package ignite provides CuckooDB's top-level façade: a
// high-performance, embeddable key/value store built on the Bitcask
// model. It combines an in-memory hash index with an append-only log
// structure on disk, absorbing writes through a double-buffered cache
// before a background pipeline persists them and publishes index
// updates. It threads Options, directory lifecycle, and a close
// barrier through the Cache, the shared event Manager, and the
// storage engine.
package ignite

import (
	"context"
	stdErrors "errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/iamNilotpal/cuckoodb/internal/cache"
	"github.com/iamNilotpal/cuckoodb/internal/engine"
	"github.com/iamNilotpal/cuckoodb/internal/event"
	"github.com/iamNilotpal/cuckoodb/internal/lockfile"
	"github.com/iamNilotpal/cuckoodb/pkg/errors"
	"github.com/iamNilotpal/cuckoodb/pkg/filesys"
	"github.com/iamNilotpal/cuckoodb/pkg/logger"
	"github.com/iamNilotpal/cuckoodb/pkg/options"
)

// ErrNotFound is returned by Get when the key has no live value,
// whether because it was never written, was deleted, or its batch
// never reached a sealed file before a crash.
var ErrNotFound = stdErrors.New("key not found")

// Instance is the primary entry point for interacting with CuckooDB.
// It owns the Cache, the shared event Manager connecting Cache to the
// storage engine's background workers, the engine itself, and the
// directory lock that keeps a second process from opening the same
// database concurrently.
type Instance struct {
	log     *zap.SugaredLogger
	options *options.Options

	events *event.Manager
	cache  *cache.Cache
	engine *engine.Engine
	lock   *lockfile.Lock

	closed bool
}

// Open creates and initializes a new CuckooDB instance rooted at the
// directory named in opts (or the functional options' overrides of
// the defaults). Recovery of the in-memory index from any data files
// already on disk happens synchronously before Open returns.
func Open(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	resolved := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}

	if err := prepareDataDir(&resolved); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(resolved.DataDir, "locks", "cuckoodb.lock")
	if err := filesys.CreateDir(filepath.Dir(lockPath), 0755, true); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create locks directory").
			WithPath(filepath.Dir(lockPath))
	}
	lock, err := lockfile.Acquire(lockPath)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to acquire database lock").
			WithPath(lockPath)
	}

	events := event.NewManager()
	eng, err := engine.New(ctx, &engine.Config{Options: &resolved, Logger: log, Events: events})
	if err != nil {
		lock.Release()
		return nil, err
	}

	c := cache.New(log, events, resolved.MaxCacheSize)

	return &Instance{
		log:     log,
		options: &resolved,
		events:  events,
		cache:   c,
		engine:  eng,
		lock:    lock,
	}, nil
}

// prepareDataDir implements the create_if_missing/error_if_exists
// directory lifecycle the public API documents. The data file
// subdirectory is created by the engine and the locks subdirectory by
// Open; this only concerns the top-level database directory's existence.
func prepareDataDir(opts *options.Options) error {
	exists, err := filesys.Exists(opts.DataDir)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to check data directory").
			WithPath(opts.DataDir)
	}

	if exists && opts.ErrorIfExists {
		return errors.NewStorageError(
			nil, errors.ErrorCodeIO, "data directory already exists",
		).WithPath(opts.DataDir)
	}

	if !exists {
		if !opts.CreateIfMissing {
			return errors.NewStorageError(
				nil, errors.ErrorCodeIO, "data directory does not exist and create_if_missing is false",
			).WithPath(opts.DataDir)
		}
		if err := filesys.CreateDir(opts.DataDir, 0755, true); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create data directory").
				WithPath(opts.DataDir)
		}
	}

	return nil
}

// Put stores a key-value pair in the database. The write lands in the
// in-memory cache synchronously; it is not yet durable on disk until
// the cache flushes it to the data file manager. If wo.Sync is set,
// the manager fsyncs the active file once that flush's whole batch
// has been written; otherwise the batch is synced only when its data
// file is sealed.
func (i *Instance) Put(ctx context.Context, key, value []byte, wo options.WriteOptions) error {
	if i.closed {
		return ErrClosed
	}
	i.cache.Put(key, value, wo.Sync)
	return nil
}

// Delete marks key as removed. Get(key) returns ErrNotFound
// immediately afterward even before the tombstone reaches disk, since
// the cache is always checked before the index. wo.Sync carries the
// same per-flush fsync request as Put.
func (i *Instance) Delete(ctx context.Context, key []byte, wo options.WriteOptions) error {
	if i.closed {
		return ErrClosed
	}
	i.cache.Delete(key, wo.Sync)
	return nil
}

// Get retrieves the value associated with key, checking the cache
// (live buffer, then copy buffer) before falling through to the
// engine's index-backed lookup — whichever the cache or index says is
// most recent wins, per I5.
func (i *Instance) Get(ctx context.Context, key []byte, ro options.ReadOptions) ([]byte, error) {
	if i.closed {
		return nil, ErrClosed
	}

	if value, result := i.cache.Get(key); result != cache.LookupMiss {
		if result == cache.LookupTombstone {
			return nil, ErrNotFound
		}
		return value, nil
	}

	value, err := i.engine.Get(key, ro)
	if err != nil {
		if stdErrors.Is(err, engine.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// ErrClosed is returned by Put/Delete/Get once Close has been called.
var ErrClosed = stdErrors.New("operation failed: instance is closed")

// Close gracefully shuts down the instance: stops the cache's flusher
// after draining any buffered writes, stops the engine's background
// workers and seals the active data file, then releases the database
// lock. Close is not safe to call concurrently with Put/Delete/Get.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return ErrClosed
	}
	i.closed = true

	// Stop the cache first so its final flush (if any writes are still
	// buffered) is handled by a still-running engine pipeline.
	i.cache.Close()

	engineErr := i.engine.Close()

	lockErr := i.lock.Release()
	if engineErr != nil {
		return engineErr
	}
	return lockErr
}
