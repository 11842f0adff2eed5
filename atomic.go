// Durable atomic replacement of a file's contents.
//
// The payload goes to <path>.tmp (exclusive create), is fsynced and
// closed, then renamed over path. Readers see either the old file or the
// complete new one. A crash before the rename leaves the destination as
// it was and <path>.tmp orphaned; because writers hold the collection's
// lock file, an existing .tmp at the start of a write can only be such an
// orphan, so it is removed and the create retried once.
//
// On Windows a rename onto a file another handle has open can fail
// transiently; that case is retried once after removing the destination.
// The directory fsync after the rename is best effort.
package jsondb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// atomicWriter writes files via temp file, fsync and rename. The function
// fields exist so tests can interrupt a write at a chosen step.
type atomicWriter struct {
	perm   os.FileMode
	log    *zap.Logger
	rename func(oldpath, newpath string) error
	remove func(path string) error

	// transient reports rename errors worth one retry after the
	// destination is removed.
	transient func(error) bool
}

func newAtomicWriter(perm os.FileMode, log *zap.Logger) *atomicWriter {
	if perm == 0 {
		perm = 0o644
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &atomicWriter{perm: perm, log: log, rename: os.Rename, remove: os.Remove, transient: transientRenameError}
}

// encodeJSON renders v the way collection files are stored: two-space
// indentation and a trailing newline.
func encodeJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// write replaces path with data atomically. Failures wrap ErrPersistence.
func (w *atomicWriter) write(path string, data []byte) error {
	tmp, err := w.writeTemp(path, data)
	if err != nil {
		return err
	}

	if err := w.rename(tmp, path); err != nil {
		if !w.transient(err) {
			w.remove(tmp)
			return fmt.Errorf("%w: rename %s: %w", ErrPersistence, path, err)
		}
		w.log.Info("retrying rename after removing destination", zap.String("path", path), zap.Error(err))
		if rmErr := w.remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			w.remove(tmp)
			return fmt.Errorf("%w: rename %s: %w", ErrPersistence, path, errors.Join(err, rmErr))
		}
		if err := w.rename(tmp, path); err != nil {
			w.remove(tmp)
			return fmt.Errorf("%w: rename %s: %w", ErrPersistence, path, err)
		}
	}

	if err := syncDir(filepath.Dir(path)); err != nil {
		w.log.Debug("directory fsync failed", zap.String("path", path), zap.Error(err))
	}
	return nil
}

// writeTemp writes data to <path>.tmp and fsyncs it. On error nothing is
// left behind.
func (w *atomicWriter) writeTemp(path string, data []byte) (string, error) {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, w.perm)
	if errors.Is(err, os.ErrExist) {
		w.log.Warn("removing orphaned temp file", zap.String("path", tmp))
		if rmErr := w.remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return "", fmt.Errorf("%w: remove orphan %s: %w", ErrPersistence, tmp, rmErr)
		}
		f, err = os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, w.perm)
	}
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %w", ErrPersistence, tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		w.remove(tmp)
		return "", fmt.Errorf("%w: write %s: %w", ErrPersistence, tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		w.remove(tmp)
		return "", fmt.Errorf("%w: fsync %s: %w", ErrPersistence, tmp, err)
	}
	if err := f.Close(); err != nil {
		w.remove(tmp)
		return "", fmt.Errorf("%w: close %s: %w", ErrPersistence, tmp, err)
	}
	return tmp, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	syncErr := d.Sync()
	closeErr := d.Close()
	return errors.Join(syncErr, closeErr)
}
