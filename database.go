// Database lifecycle and the collection registry.
//
// A Database owns a data directory and a registry of collections created
// lazily on first use and kept for the Database's lifetime. Two Database
// values opened on the same directory in one process have separate
// registries; their writers still serialise on the collection lock files,
// so sharing one Database per directory is recommended, not required.
package jsondb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config holds database configuration options.
type Config struct {
	Logger      *zap.Logger  // nil disables logging
	Lock        LockOptions  // cross-process lock tuning
	Fingerprint int          // 1=xxHash3 (default), 2=FNV1a, 3=Blake2b
	IDs         *IDGenerator // nil uses the process-wide generator
	FileMode    os.FileMode  // mode of collection files (default 0644)
}

// Database is a directory of collections.
type Database struct {
	dir    string
	config Config
	log    *zap.Logger
	closed atomic.Bool

	mu    sync.Mutex
	colls map[string]*collection
}

// Open opens the database rooted at dir, creating the directory tree if
// it does not exist.
func Open(dir string, config Config) (*Database, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Fingerprint == 0 {
		config.Fingerprint = AlgXXHash3
	}
	if config.IDs == nil {
		config.IDs = defaultIDs
	}
	if config.FileMode == 0 {
		config.FileMode = 0o644
	}
	config.Lock = config.Lock.withDefaults()

	if fingerprint(nil, config.Fingerprint) == "" {
		return nil, fmt.Errorf("open %s: unknown fingerprint algorithm %d", dir, config.Fingerprint)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}

	return &Database{
		dir:    abs,
		config: config,
		log:    config.Logger.With(zap.String("db", abs)),
		colls:  make(map[string]*collection),
	}, nil
}

// Path returns the absolute data directory.
func (db *Database) Path() string { return db.dir }

// Close marks the database closed. Operations started afterwards fail
// with ErrClosed; operations already running complete normally.
func (db *Database) Close() error {
	db.closed.Store(true)
	return nil
}

// Names lists the collections present on disk, sorted.
func (db *Database) Names() ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return nil, fmt.Errorf("names: %w", err)
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if ok && e.Type().IsRegular() && validName(name) == nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Drop deletes a collection's file under the same locks a write takes.
// Dropping a collection that has no file is not an error, and a file
// that no longer parses is removed all the same.
func (db *Database) Drop(ctx context.Context, name string) error {
	c, err := db.collection(name)
	if err != nil {
		return err
	}
	return c.drop(ctx)
}

// collection returns the memoised core for name, creating it on first use.
func (db *Database) collection(name string) (*collection, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if err := validName(name); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.colls[name]; ok {
		return c, nil
	}
	c := newCollection(db, name)
	db.colls[name] = c
	return c, nil
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.HasSuffix(name, ".lock"), strings.HasSuffix(name, ".tmp"):
		return fmt.Errorf("%w: %q uses a reserved suffix", ErrInvalidName, name)
	}
	return nil
}

// checkOpen is called at the start of every collection operation.
func (db *Database) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

var errNilContext = errors.New("context is nil")
