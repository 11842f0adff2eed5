// Compressed collection backups.
//
// A backup is the collection file's exact bytes, zstd-compressed. Restore
// decompresses and validates the payload as a collection file before it is
// written, so a damaged backup never replaces good data.
package jsondb

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Shared encoder/decoder; both are documented as safe for concurrent use
// and expensive to construct.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compressTo(w io.Writer, data []byte) error {
	_, err := w.Write(zstdEncoder.EncodeAll(data, nil))
	return err
}

func decompressFrom(r io.Reader) ([]byte, error) {
	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrCorruptCollection, err)
	}
	return out, nil
}

// Backup writes a zstd-compressed copy of the collection file to w. A
// collection with no file backs up as an empty array.
func (col *Collection[T]) Backup(ctx context.Context, w io.Writer) error {
	var data []byte
	err := col.c.read(ctx, func(s *snapshot) error {
		raw, err := readFile(col.c.path)
		if err != nil {
			return fmt.Errorf("backup %s: %w", col.c.path, err)
		}
		if raw == nil {
			if raw, err = s.encode(); err != nil {
				return fmt.Errorf("backup %s: %w", col.c.path, err)
			}
		}
		data = raw
		return nil
	})
	if err != nil {
		return err
	}
	if err := compressTo(w, data); err != nil {
		return fmt.Errorf("backup %s: %w", col.c.path, err)
	}
	return nil
}

// Restore replaces the collection's contents with a backup read from r.
// The payload must be a valid collection file; ids are validated and
// duplicates rejected before anything is written. The current file is
// not read, so Restore also recovers a corrupt collection.
func (col *Collection[T]) Restore(ctx context.Context, r io.Reader) (int, error) {
	data, err := decompressFrom(r)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", col.c.path, err)
	}
	snap, err := parseSnapshot(data)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", col.c.path, err)
	}
	for _, doc := range snap.docs {
		if _, err := fromDocument[T](doc); err != nil {
			return 0, fmt.Errorf("restore %s: document %v: %w", col.c.path, doc["_id"], err)
		}
	}
	if err := col.c.replace(ctx, snap); err != nil {
		return 0, err
	}
	return len(snap.docs), nil
}
