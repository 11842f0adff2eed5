// Update operations.
//
// An update is a shallow merge: each key of UpdateOptions.Update replaces
// the top-level field of that name. Nested objects are replaced whole.
// _id may appear only with the document's current value. Each merged
// document must still decode into T, otherwise nothing is written.
package jsondb

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// UpdateOne merges the update into the first matching document in file
// order.
func (col *Collection[T]) UpdateOne(ctx context.Context, opts UpdateOptions) (UpdateResult, error) {
	res, _, err := col.update(ctx, "update", opts, true, false)
	return res, err
}

// UpdateMany merges the update into every matching document.
func (col *Collection[T]) UpdateMany(ctx context.Context, opts UpdateOptions) (UpdateResult, error) {
	res, _, err := col.update(ctx, "update", opts, false, false)
	return res, err
}

// FindOneAndUpdate is UpdateOne returning the document before the update,
// or after it when opts.ReturnNew is set. It returns nil when nothing
// matched.
func (col *Collection[T]) FindOneAndUpdate(ctx context.Context, opts UpdateOptions) (*Document[T], error) {
	_, docs, err := col.update(ctx, "find-and-update", opts, true, true)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// FindManyAndUpdate is UpdateMany returning the matched documents.
func (col *Collection[T]) FindManyAndUpdate(ctx context.Context, opts UpdateOptions) ([]Document[T], error) {
	_, docs, err := col.update(ctx, "find-and-update", opts, false, true)
	return docs, err
}

// update merges opts.Update into the matches. Documents are decoded for
// the result only when wantDocs is set, and then only the image returned.
func (col *Collection[T]) update(ctx context.Context, op string, opts UpdateOptions, one, wantDocs bool) (UpdateResult, []Document[T], error) {
	if err := col.schema.check(op, opts.Where.Fields()...); err != nil {
		return UpdateResult{}, nil, err
	}
	fields := slices.Sorted(maps.Keys(opts.Update))
	if err := col.schema.check(op, fields...); err != nil {
		return UpdateResult{}, nil, err
	}
	var patch map[string]any
	if len(opts.Update) > 0 {
		var err error
		if patch, err = toDocument(opts.Update); err != nil {
			return UpdateResult{}, nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	var (
		res UpdateResult
		out []Document[T]
	)
	err := col.c.mutate(ctx, func(cur *snapshot) (*snapshot, error) {
		idx := cur.selectIndexes(opts.Where, one)
		res = UpdateResult{MatchedCount: len(idx)}
		if len(idx) == 0 {
			return nil, nil
		}

		next := slices.Clone(cur.docs)
		results := make([]Document[T], 0, len(idx))
		for _, i := range idx {
			old := cur.docs[i]
			merged, changed, err := mergeDoc(old, patch)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			// Every merged document must stay readable as T.
			data, err := fromDocument[T](merged)
			if err != nil {
				return nil, fmt.Errorf("%s: document %v: %w", op, old["_id"], err)
			}
			if changed {
				res.ModifiedCount++
				next[i] = merged
			}
			if !wantDocs {
				continue
			}

			id, _ := old["_id"].(string)
			if opts.ReturnNew {
				results = append(results, Document[T]{ID: id, Data: data})
				continue
			}
			r, err := toResult[T](old, nil)
			if err != nil {
				return nil, fmt.Errorf("%s: document %v: %w", op, old["_id"], err)
			}
			results = append(results, r)
		}
		out = results
		if res.ModifiedCount == 0 {
			return nil, nil
		}
		return newSnapshot(next), nil
	})
	if err != nil {
		return UpdateResult{}, nil, err
	}
	if out == nil {
		out = []Document[T]{}
	}
	return res, out, nil
}

// mergeDoc applies patch to a copy of doc and reports whether any field
// actually changed.
func mergeDoc(doc, patch map[string]any) (map[string]any, bool, error) {
	merged := cloneDoc(doc)
	changed := false
	for k, v := range patch {
		cur, present := doc[k]
		if k == "_id" {
			if !sameValue(cur, v) {
				return nil, false, fmt.Errorf("%w: %v", ErrImmutableID, cur)
			}
			continue
		}
		if !present || !sameValue(cur, v) {
			merged[k] = v
			changed = true
		}
	}
	return merged, changed, nil
}
