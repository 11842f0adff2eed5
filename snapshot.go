// Collection snapshots.
//
// A snapshot is the parsed, validated content of one collection file:
// documents in file order, normalised, plus an _id index. Snapshots are
// never modified after construction. Mutations build a new snapshot and
// persist it whole, so a cached snapshot can be shared by any number of
// concurrent readers.
package jsondb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

type snapshot struct {
	docs []map[string]any
	byID map[string]int
	sum  string // fingerprint of the bytes this snapshot was read from or written as
	size int64
}

func emptySnapshot() *snapshot {
	return &snapshot{byID: map[string]int{}}
}

// parseSnapshot decodes a collection file. The top level must be an array
// of objects, each with a valid, unique _id.
func parseSnapshot(data []byte) (*snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrCorruptCollection)
	}
	v, err := decodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptCollection, err)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is not an array", ErrCorruptCollection)
	}

	s := &snapshot{
		docs: make([]map[string]any, 0, len(arr)),
		byID: make(map[string]int, len(arr)),
		size: int64(len(data)),
	}
	for i, e := range arr {
		doc, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrCorruptCollection, i)
		}
		raw, _ := doc["_id"].(string)
		id, err := ValidateID(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", ErrCorruptCollection, i, err)
		}
		if _, dup := s.byID[id]; dup {
			return nil, fmt.Errorf("%w: element %d: %w: %s", ErrCorruptCollection, i, ErrDuplicateID, id)
		}
		doc["_id"] = id
		s.byID[id] = len(s.docs)
		s.docs = append(s.docs, doc)
	}
	return s, nil
}

// newSnapshot indexes docs, which must already carry valid unique ids.
func newSnapshot(docs []map[string]any) *snapshot {
	s := &snapshot{docs: docs, byID: make(map[string]int, len(docs))}
	for i, d := range docs {
		s.byID[d["_id"].(string)] = i
	}
	return s
}

func (s *snapshot) encode() ([]byte, error) {
	docs := s.docs
	if docs == nil {
		docs = []map[string]any{}
	}
	return encodeJSON(docs)
}

// readFile returns the collection file's bytes, or nil when it does not
// exist yet.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// selectIndexes returns the positions of documents matching where, in
// file order, stopping after the first when first is set. Conditions that
// reduce to an equality map skip tree evaluation; one that pins _id is a
// single index lookup.
func (s *snapshot) selectIndexes(where Condition, first bool) []int {
	var out []int

	eq, dropped, ok := equalityConstraints(where)
	if ok && len(dropped) == 0 {
		if raw, pinned := eq["_id"]; pinned {
			id, isString := raw.(string)
			if !isString {
				return nil
			}
			i, found := s.byID[id]
			if found && matchEquality(s.docs[i], eq) {
				out = append(out, i)
			}
			return out
		}
		for i, doc := range s.docs {
			if matchEquality(doc, eq) {
				out = append(out, i)
				if first {
					break
				}
			}
		}
		return out
	}

	for i, doc := range s.docs {
		if where.match(doc, true) {
			out = append(out, i)
			if first {
				break
			}
		}
	}
	return out
}
