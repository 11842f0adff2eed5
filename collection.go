// Collection core: locking, loading and persisting.
//
// Every read runs under the collection's in-process read lock and reads
// the file from disk. Every mutation runs under the in-process write lock
// and the cross-process lock file, loads the current file, builds a new
// snapshot and persists it whole through the atomic writer. The lock file
// is released on every path, including errors.
//
// Reads reuse the last parsed snapshot when the file's fingerprint has not
// changed; a mutation whose encoded result fingerprints the same as the
// file skips the write entirely.
package jsondb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

type collection struct {
	db     *Database
	name   string
	path   string
	alg    int
	ids    *IDGenerator
	log    *zap.Logger
	lock   rwLock
	file   *LockFile
	writer *atomicWriter

	cacheMu sync.Mutex
	cache   *snapshot
}

func newCollection(db *Database, name string) *collection {
	path := filepath.Join(db.dir, name+".json")
	log := db.log.With(zap.String("collection", name))
	return &collection{
		db:     db,
		name:   name,
		path:   path,
		alg:    db.config.Fingerprint,
		ids:    db.config.IDs,
		log:    log,
		file:   NewLockFile(path, db.config.Lock, log),
		writer: newAtomicWriter(db.config.FileMode, log),
	}
}

// load reads the collection file. A missing file is an empty collection;
// an unparsable one is ErrCorruptCollection and is left untouched.
func (c *collection) load() (*snapshot, error) {
	data, err := readFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.path, err)
	}
	if data == nil {
		return emptySnapshot(), nil
	}

	sum := fingerprint(data, c.alg)
	c.cacheMu.Lock()
	cached := c.cache
	c.cacheMu.Unlock()
	if cached != nil && cached.sum == sum {
		return cached, nil
	}

	snap, err := parseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.path, err)
	}
	snap.sum = sum
	c.remember(snap)
	return snap, nil
}

func (c *collection) remember(s *snapshot) {
	c.cacheMu.Lock()
	c.cache = s
	c.cacheMu.Unlock()
}

// read runs fn on the current snapshot under the read lock.
func (c *collection) read(ctx context.Context, fn func(*snapshot) error) error {
	if ctx == nil {
		return errNilContext
	}
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	return c.lock.withRead(ctx, func() error {
		snap, err := c.load()
		if err != nil {
			return err
		}
		return fn(snap)
	})
}

// mutate runs fn under both locks. fn returns the replacement snapshot,
// or nil to leave the file alone.
func (c *collection) mutate(ctx context.Context, fn func(*snapshot) (*snapshot, error)) error {
	return c.exclusive(ctx, func() error {
		cur, err := c.load()
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil || next == nil {
			return err
		}
		return c.persist(cur, next)
	})
}

// exclusive runs fn holding the write lock and the lock file. The file is
// not loaded, so fn may run against a collection that no longer parses.
func (c *collection) exclusive(ctx context.Context, fn func() error) error {
	if ctx == nil {
		return errNilContext
	}
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	return c.lock.withWrite(ctx, func() error {
		if err := c.file.Acquire(ctx); err != nil {
			return err
		}
		defer func() {
			if err := c.file.Release(); err != nil {
				c.log.Warn("lock release failed", zap.Error(err))
			}
		}()
		return fn()
	})
}

func (c *collection) persist(cur, next *snapshot) error {
	data, err := next.encode()
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, c.path, err)
	}
	next.sum = fingerprint(data, c.alg)
	next.size = int64(len(data))
	if cur.sum != "" && next.sum == cur.sum {
		return nil
	}
	if err := c.writer.write(c.path, data); err != nil {
		return err
	}
	c.remember(next)
	c.log.Debug("persisted",
		zap.Int("docs", len(next.docs)),
		zap.Int64("bytes", next.size),
		zap.String("fingerprint", next.sum))
	return nil
}

func (c *collection) drop(ctx context.Context) error {
	return c.exclusive(ctx, func() error {
		if err := c.writer.remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("drop %s: %w", c.path, err)
		}
		c.remember(nil)
		return nil
	})
}

// replace writes next over whatever the file holds, even if it is corrupt.
func (c *collection) replace(ctx context.Context, next *snapshot) error {
	return c.exclusive(ctx, func() error {
		return c.persist(emptySnapshot(), next)
	})
}

func (c *collection) stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.read(ctx, func(s *snapshot) error {
		st = Stats{
			Name:        c.name,
			Path:        c.path,
			Documents:   len(s.docs),
			Size:        s.size,
			Fingerprint: s.sum,
		}
		return nil
	})
	return st, err
}

// Collection is a typed handle on one collection. Handles are cheap; all
// handles for a name share one core, whatever their T.
type Collection[T any] struct {
	c      *collection
	schema schema
}

// CollectionOf returns a handle on the named collection of db, creating
// the registry entry on first use. The file itself is created by the
// first write. When T is a struct, field names used in conditions, sorts,
// projections and updates must be JSON keys of T.
func CollectionOf[T any](db *Database, name string) (*Collection[T], error) {
	c, err := db.collection(name)
	if err != nil {
		return nil, err
	}
	return &Collection[T]{c: c, schema: schemaOf[T]()}, nil
}

// Name returns the collection name.
func (col *Collection[T]) Name() string { return col.c.name }

// Path returns the collection file path.
func (col *Collection[T]) Path() string { return col.c.path }

// Stats reports the collection's size and fingerprint.
func (col *Collection[T]) Stats(ctx context.Context) (Stats, error) {
	return col.c.stats(ctx)
}
