// Package jsondb is an embedded, file-backed JSON document store. Each
// collection lives in a single pretty-printed JSON array at
// <dataDir>/<name>.json and is read and written wholesale.
//
// Readers and writers inside one process are arbitrated by a FIFO
// reader/writer lock per collection. Writers in different processes
// sharing a data directory are serialised by a <name>.json.lock sidecar
// created with O_EXCL and reclaimed when its owner is provably gone.
// Every write goes through a temp file, fsync and rename, so a reader
// never observes a partially written collection.
package jsondb

import "errors"

// Sentinel errors for programmatic handling. Callers use errors.Is; the
// wrapped message carries the operation and the offending path or id.
// ErrLockBusy is retryable. ErrCorruptCollection is not: the file is
// left untouched so nothing is silently discarded.
var (
	ErrInvalidID         = errors.New("invalid id format")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrLockBusy          = errors.New("lock busy")
	ErrLockLost          = errors.New("lock file no longer owned")
	ErrCorruptCollection = errors.New("corrupt collection file")
	ErrPersistence       = errors.New("persistence failure")
	ErrClosed            = errors.New("database is closed")
	ErrInvalidName       = errors.New("invalid collection name")
	ErrImmutableID       = errors.New("_id cannot be modified")
	ErrUnknownField      = errors.New("unknown field")
	ErrInvalidProjection = errors.New("invalid projection")
	ErrInvalidCondition  = errors.New("invalid condition")
	ErrInvalidDocument   = errors.New("invalid document")
	ErrNotFound          = errors.New("document not found")
)
