// Conversion between caller types and stored documents.
//
// Stored documents are normalised maps. Caller values go in through their
// JSON encoding and come out by decoding that same encoding into T, so
// struct tags, omitempty and custom marshalers behave exactly as they do
// in the file.
package jsondb

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// toDocument encodes v and requires the result to be a JSON object.
func toDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	decoded, err := decodeValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: encodes to %T, not an object", ErrInvalidDocument, decoded)
	}
	return doc, nil
}

// fromDocument decodes a stored document into T.
func fromDocument[T any](doc map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return out, nil
}

// toResult builds the caller-facing form of a stored document, applying
// p first.
func toResult[T any](doc map[string]any, p *Projection) (Document[T], error) {
	data, err := fromDocument[T](p.apply(doc))
	if err != nil {
		return Document[T]{}, err
	}
	id, _ := doc["_id"].(string)
	return Document[T]{ID: id, Data: data}, nil
}

func toResults[T any](docs []map[string]any, p *Projection) ([]Document[T], error) {
	out := make([]Document[T], 0, len(docs))
	for _, doc := range docs {
		r, err := toResult[T](doc, p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
