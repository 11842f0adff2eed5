// Delete operations.
package jsondb

import "context"

// DeleteOne removes the first matching document in file order.
func (col *Collection[T]) DeleteOne(ctx context.Context, opts DeleteOptions) (DeleteResult, error) {
	docs, err := col.delete(ctx, "delete", opts.Where, true)
	return DeleteResult{DeletedCount: len(docs)}, err
}

// DeleteMany removes every matching document.
func (col *Collection[T]) DeleteMany(ctx context.Context, opts DeleteOptions) (DeleteResult, error) {
	docs, err := col.delete(ctx, "delete", opts.Where, false)
	return DeleteResult{DeletedCount: len(docs)}, err
}

// FindOneAndDelete removes the first matching document and returns it, or
// nil when nothing matched.
func (col *Collection[T]) FindOneAndDelete(ctx context.Context, opts DeleteOptions) (*Document[T], error) {
	docs, err := col.delete(ctx, "find-and-delete", opts.Where, true)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// FindManyAndDelete removes every matching document and returns them in
// file order.
func (col *Collection[T]) FindManyAndDelete(ctx context.Context, opts DeleteOptions) ([]Document[T], error) {
	return col.delete(ctx, "find-and-delete", opts.Where, false)
}

func (col *Collection[T]) delete(ctx context.Context, op string, where Condition, one bool) ([]Document[T], error) {
	if err := col.schema.check(op, where.Fields()...); err != nil {
		return nil, err
	}

	var removed []map[string]any
	err := col.c.mutate(ctx, func(cur *snapshot) (*snapshot, error) {
		idx := cur.selectIndexes(where, one)
		if len(idx) == 0 {
			return nil, nil
		}
		gone := make(map[int]bool, len(idx))
		for _, i := range idx {
			gone[i] = true
			removed = append(removed, cur.docs[i])
		}
		next := make([]map[string]any, 0, len(cur.docs)-len(idx))
		for i, doc := range cur.docs {
			if !gone[i] {
				next = append(next, doc)
			}
		}
		return newSnapshot(next), nil
	})
	if err != nil {
		return nil, err
	}

	// Removed documents are returned even if they no longer decode into T.
	out := make([]Document[T], 0, len(removed))
	for _, doc := range removed {
		id, _ := doc["_id"].(string)
		data, _ := fromDocument[T](doc)
		out = append(out, Document[T]{ID: id, Data: data})
	}
	return out, nil
}
