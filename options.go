// Query options, results and field checking.
package jsondb

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// SortField orders results by one field. Later fields break ties of
// earlier ones; documents that still tie keep file order.
type SortField struct {
	Field string
	Desc  bool
}

// Projection trims the fields decoded into results. Include keeps only
// the named fields, Exclude drops them; they cannot be combined. The
// document's ID is always reported in Document.ID regardless.
type Projection struct {
	Include []string
	Exclude []string
}

// FindOptions selects, orders and trims documents. The zero value
// returns every document in file order.
type FindOptions struct {
	Where      Condition
	Sort       []SortField
	Projection *Projection
	Skip       int
	Limit      int // 0 means no limit
}

// UpdateOptions selects documents and the fields to merge into them.
// Update keys are top-level JSON field names; values replace the stored
// ones. ReturnNew makes the find-and-update calls return documents as
// they are after the update instead of before.
type UpdateOptions struct {
	Where     Condition
	Update    map[string]any
	ReturnNew bool
}

// DeleteOptions selects documents to remove.
type DeleteOptions struct {
	Where Condition
}

// Document is one stored record with its identifier.
type Document[T any] struct {
	ID   string
	Data T
}

// InsertResult reports the ids assigned by an insert, in input order.
type InsertResult struct {
	InsertedCount int
	InsertedIDs   []string
}

// UpdateResult counts documents matched and actually changed. A match
// whose merge changes nothing is not modified.
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
}

// DeleteResult counts removed documents.
type DeleteResult struct {
	DeletedCount int
}

// Stats describes a collection file.
type Stats struct {
	Name        string
	Path        string
	Documents   int
	Size        int64
	Fingerprint string
}

// schema is the set of top-level JSON keys a struct type encodes to. A
// nil schema (maps, interfaces) accepts any field.
type schema map[string]bool

func schemaOf[T any]() schema {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	s := schema{"_id": true}
	collectFields(t, s, 0)
	return s
}

func collectFields(t reflect.Type, s schema, depth int) {
	if depth > 8 {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, s, depth+1)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		s[name] = true
	}
}

func (s schema) check(op string, fields ...string) error {
	if s == nil {
		return nil
	}
	for _, f := range fields {
		if !s[f] {
			return fmt.Errorf("%s: %w: %q", op, ErrUnknownField, f)
		}
	}
	return nil
}

// checkFind validates every field named by opts.
func (s schema) checkFind(op string, opts FindOptions) error {
	if err := s.check(op, opts.Where.Fields()...); err != nil {
		return err
	}
	for _, sf := range opts.Sort {
		if err := s.check(op, sf.Field); err != nil {
			return err
		}
	}
	if p := opts.Projection; p != nil {
		if err := s.check(op, p.Include...); err != nil {
			return err
		}
		if err := s.check(op, p.Exclude...); err != nil {
			return err
		}
		if len(p.Include) > 0 && len(p.Exclude) > 0 {
			return fmt.Errorf("%s: %w: include and exclude combined", op, ErrInvalidProjection)
		}
	}
	if opts.Skip < 0 || opts.Limit < 0 {
		return fmt.Errorf("%s: negative skip or limit", op)
	}
	return nil
}

// apply returns a trimmed copy of doc.
func (p *Projection) apply(doc map[string]any) map[string]any {
	if p == nil {
		return doc
	}
	if len(p.Include) > 0 {
		out := make(map[string]any, len(p.Include))
		for _, f := range p.Include {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
		return out
	}
	out := cloneDoc(doc)
	for _, f := range p.Exclude {
		delete(out, f)
	}
	return out
}

// sortDocs orders docs in place, stably, by fields.
func sortDocs(docs []map[string]any, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	slices.SortStableFunc(docs, func(a, b map[string]any) int {
		for _, sf := range fields {
			av, aok := a[sf.Field]
			bv, bok := b[sf.Field]
			c := sortCompare(av, aok, bv, bok)
			if sf.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}
