// Read operations. None of these touch the lock file or write to disk.
package jsondb

import (
	"context"
	"fmt"
)

// FindMany returns the documents matching opts.Where, sorted, skipped,
// limited and projected as opts asks. No match is an empty slice.
func (col *Collection[T]) FindMany(ctx context.Context, opts FindOptions) ([]Document[T], error) {
	if err := col.schema.checkFind("find", opts); err != nil {
		return nil, err
	}
	var out []Document[T]
	err := col.c.read(ctx, func(s *snapshot) error {
		docs := s.find(opts)
		var err error
		out, err = toResults[T](docs, opts.Projection)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns the first document FindMany would return, or nil.
func (col *Collection[T]) FindOne(ctx context.Context, opts FindOptions) (*Document[T], error) {
	opts.Limit = 1
	docs, err := col.FindMany(ctx, opts)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// Count returns the number of documents matching where.
func (col *Collection[T]) Count(ctx context.Context, where Condition) (int, error) {
	if err := col.schema.check("count", where.Fields()...); err != nil {
		return 0, err
	}
	var n int
	err := col.c.read(ctx, func(s *snapshot) error {
		n = len(s.selectIndexes(where, false))
		return nil
	})
	return n, err
}

// find selects, sorts and pages documents. The returned maps are the
// snapshot's own and must not be modified.
func (s *snapshot) find(opts FindOptions) []map[string]any {
	// An unsorted FindOne can stop at the first match.
	first := len(opts.Sort) == 0 && opts.Skip == 0 && opts.Limit == 1
	idx := s.selectIndexes(opts.Where, first)

	docs := make([]map[string]any, len(idx))
	for i, n := range idx {
		docs[i] = s.docs[n]
	}
	sortDocs(docs, opts.Sort)

	if opts.Skip >= len(docs) {
		return docs[:0]
	}
	docs = docs[opts.Skip:]
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	return docs
}

// Get returns the document with the given id, or ErrNotFound.
func (col *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	canon, err := ValidateID(id)
	if err != nil {
		return Document[T]{}, fmt.Errorf("get: %w", err)
	}
	var doc map[string]any
	err = col.c.read(ctx, func(s *snapshot) error {
		if i, ok := s.byID[canon]; ok {
			doc = s.docs[i]
		}
		return nil
	})
	if err != nil {
		return Document[T]{}, err
	}
	if doc == nil {
		return Document[T]{}, fmt.Errorf("get %s: %w", canon, ErrNotFound)
	}
	return toResult[T](doc, nil)
}
