// Insert operations.
package jsondb

import (
	"context"
	"fmt"
)

// InsertOne stores doc and returns its id. A doc without an _id gets one
// from the database's generator; a supplied _id is validated and must not
// already exist.
func (col *Collection[T]) InsertOne(ctx context.Context, doc T) (string, error) {
	res, err := col.InsertMany(ctx, []T{doc})
	if err != nil {
		return "", err
	}
	return res.InsertedIDs[0], nil
}

// InsertMany stores docs in order as one write. Either every document is
// inserted or none is.
func (col *Collection[T]) InsertMany(ctx context.Context, docs []T) (InsertResult, error) {
	prepared := make([]map[string]any, 0, len(docs))
	for i, d := range docs {
		doc, err := toDocument(d)
		if err != nil {
			return InsertResult{}, fmt.Errorf("insert: document %d: %w", i, err)
		}
		prepared = append(prepared, doc)
	}
	if len(prepared) == 0 {
		return InsertResult{InsertedIDs: []string{}}, nil
	}

	var res InsertResult
	err := col.c.mutate(ctx, func(cur *snapshot) (*snapshot, error) {
		ids, err := col.c.assignIDs(cur, prepared)
		if err != nil {
			return nil, err
		}
		next := make([]map[string]any, 0, len(cur.docs)+len(prepared))
		next = append(next, cur.docs...)
		next = append(next, prepared...)
		res = InsertResult{InsertedCount: len(ids), InsertedIDs: ids}
		return newSnapshot(next), nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return res, nil
}

// assignIDs fills or validates the _id of each new document against cur
// and the batch itself.
func (c *collection) assignIDs(cur *snapshot, docs []map[string]any) ([]string, error) {
	ids := make([]string, len(docs))
	batch := make(map[string]bool, len(docs))
	for i, doc := range docs {
		var id string
		switch raw := doc["_id"].(type) {
		case nil:
			id = c.ids.Next()
		case string:
			if raw == "" {
				id = c.ids.Next()
				break
			}
			v, err := ValidateID(raw)
			if err != nil {
				return nil, fmt.Errorf("insert: document %d: %w", i, err)
			}
			id = v
		default:
			return nil, fmt.Errorf("insert: document %d: %w: _id is %T", i, ErrInvalidID, raw)
		}
		if _, exists := cur.byID[id]; exists || batch[id] {
			return nil, fmt.Errorf("insert: %w: %s", ErrDuplicateID, id)
		}
		batch[id] = true
		doc["_id"] = id
		ids[i] = id
	}
	return ids, nil
}
