package jsondb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

type person struct {
	ID    string   `json:"_id,omitempty"`
	Name  string   `json:"name"`
	Age   int      `json:"age,omitempty"`
	Tags  []string `json:"tags,omitempty"`
	Email *string  `json:"email,omitempty"`
}

func readArray(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var docs []map[string]any
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatalf("decode %s: %v\n%s", path, err, data)
	}
	return docs
}

func names(docs []Document[person]) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Data.Name)
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")

	res, err := col.InsertMany(ctx, []person{{Name: "a"}, {Name: "b"}})
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if res.InsertedCount != 2 || len(res.InsertedIDs) != 2 {
		t.Fatalf("InsertMany = %+v", res)
	}

	found, err := col.FindMany(ctx, FindOptions{Where: Eq("name", "a")})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("FindMany returned %d documents, want 1", len(found))
	}
	if found[0].ID != res.InsertedIDs[0] || found[0].Data.ID != res.InsertedIDs[0] {
		t.Errorf("found id %q / %q, want %q", found[0].ID, found[0].Data.ID, res.InsertedIDs[0])
	}

	upd, err := col.UpdateOne(ctx, UpdateOptions{Where: Eq("name", "a"), Update: map[string]any{"name": "a2"}})
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if upd != (UpdateResult{MatchedCount: 1, ModifiedCount: 1}) {
		t.Errorf("UpdateOne = %+v, want 1/1", upd)
	}

	one, err := col.FindOne(ctx, FindOptions{Where: Eq("name", "a")})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if one != nil {
		t.Errorf("FindOne = %+v, want nil", one)
	}

	del, err := col.DeleteMany(ctx, DeleteOptions{Where: Exists("name", true)})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if del.DeletedCount != 2 {
		t.Errorf("DeletedCount = %d, want 2", del.DeletedCount)
	}

	data, _ := os.ReadFile(col.Path())
	if string(data) != "[]\n" {
		t.Errorf("file after deleting everything = %q, want %q", data, "[]\n")
	}
}

func TestFileFormat(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "fmt")
	id, err := col.InsertOne(ctx, person{Name: "x", Age: 3})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(col.Path())
	want := "[\n  {\n    \"_id\": \"" + id + "\",\n    \"age\": 3,\n    \"name\": \"x\"\n  }\n]\n"
	if string(data) != want {
		t.Errorf("file =\n%s\nwant\n%s", data, want)
	}
}

func TestInsertIDs(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "ids")

	supplied := "65A1B2C3D4E5F60718293A4B"
	id, err := col.InsertOne(ctx, person{ID: supplied, Name: "x"})
	if err != nil {
		t.Fatalf("InsertOne with id: %v", err)
	}
	if id != strings.ToLower(supplied) {
		t.Errorf("InsertOne = %q, want canonical %q", id, strings.ToLower(supplied))
	}

	if _, err := col.InsertOne(ctx, person{ID: strings.ToLower(supplied), Name: "dup"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate insert = %v, want ErrDuplicateID", err)
	}
	if _, err := col.InsertOne(ctx, person{ID: "bogus", Name: "bad"}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("invalid id insert = %v, want ErrInvalidID", err)
	}

	batch := []person{{ID: "000000000000000000000001"}, {ID: "000000000000000000000001"}}
	if _, err := col.InsertMany(ctx, batch); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate within batch = %v, want ErrDuplicateID", err)
	}

	// Failed inserts write nothing.
	if docs := readArray(t, col.Path()); len(docs) != 1 {
		t.Errorf("file holds %d documents, want 1", len(docs))
	}
}

func TestInsertInvalidDocument(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	ints := mustCollection[int](t, db, "ints")
	if _, err := ints.InsertOne(ctx, 5); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("insert of a non-object = %v, want ErrInvalidDocument", err)
	}

	raw := mustCollection[map[string]any](t, db, "raw")
	if _, err := raw.InsertOne(ctx, map[string]any{"_id": 7}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("numeric _id = %v, want ErrInvalidID", err)
	}
	if res, err := raw.InsertMany(ctx, nil); err != nil || res.InsertedCount != 0 {
		t.Errorf("empty InsertMany = %+v, %v", res, err)
	}
	if _, err := os.Stat(raw.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Error("empty insert created the file")
	}
}

func seedPeople(t *testing.T, col *Collection[person]) {
	t.Helper()
	people := []person{
		{Name: "carol", Age: 35, Tags: []string{"ops"}},
		{Name: "alice", Age: 30, Tags: []string{"dev", "ops"}},
		{Name: "bob", Age: 25},
		{Name: "dave"},
		{Name: "erin", Age: 30},
	}
	if _, err := col.InsertMany(context.Background(), people); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestFindOptions(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")
	seedPeople(t, col)

	tests := []struct {
		name string
		opts FindOptions
		want []string
	}{
		{"all in file order", FindOptions{}, []string{"carol", "alice", "bob", "dave", "erin"}},
		{"range", FindOptions{Where: Gte("age", 30)}, []string{"carol", "alice", "erin"}},
		{"sort asc absent first", FindOptions{Sort: []SortField{{Field: "age"}}}, []string{"dave", "bob", "alice", "erin", "carol"}},
		{"sort desc", FindOptions{Sort: []SortField{{Field: "age", Desc: true}}}, []string{"carol", "alice", "erin", "bob", "dave"}},
		{"sort tiebreak", FindOptions{Sort: []SortField{{Field: "age", Desc: true}, {Field: "name", Desc: true}}}, []string{"carol", "erin", "alice", "bob", "dave"}},
		{"skip limit", FindOptions{Sort: []SortField{{Field: "name"}}, Skip: 1, Limit: 2}, []string{"bob", "carol"}},
		{"skip past end", FindOptions{Skip: 10}, []string{}},
		{"or", FindOptions{Where: Or(Eq("name", "bob"), Not(Exists("age", true)))}, []string{"bob", "dave"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := col.FindMany(ctx, tt.opts)
			if err != nil {
				t.Fatalf("FindMany: %v", err)
			}
			if diff := cmp.Diff(tt.want, names(docs)); diff != "" {
				t.Errorf("names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindProjection(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")
	seedPeople(t, col)

	docs, err := col.FindMany(ctx, FindOptions{Where: Eq("name", "alice"), Projection: &Projection{Include: []string{"name"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs", len(docs))
	}
	got := docs[0]
	if d := got.Data; d.Name != "alice" || d.Age != 0 || d.Tags != nil || d.ID != "" {
		t.Errorf("include projection = %+v", got.Data)
	}
	if got.ID == "" {
		t.Error("Document.ID empty under projection")
	}

	docs, err = col.FindMany(ctx, FindOptions{Where: Eq("name", "alice"), Projection: &Projection{Exclude: []string{"tags"}}})
	if err != nil {
		t.Fatal(err)
	}
	if d := docs[0].Data; d.Tags != nil || d.Age != 30 || d.ID == "" {
		t.Errorf("exclude projection = %+v", d)
	}

	_, err = col.FindMany(ctx, FindOptions{Projection: &Projection{Include: []string{"name"}, Exclude: []string{"age"}}})
	if !errors.Is(err, ErrInvalidProjection) {
		t.Errorf("mixed projection = %v, want ErrInvalidProjection", err)
	}
}

func TestUnknownField(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")

	checks := map[string]error{}
	_, checks["where"] = col.FindMany(ctx, FindOptions{Where: Eq("nmae", "x")})
	_, checks["sort"] = col.FindMany(ctx, FindOptions{Sort: []SortField{{Field: "Age"}}})
	_, checks["projection"] = col.FindMany(ctx, FindOptions{Projection: &Projection{Exclude: []string{"zzz"}}})
	_, checks["count"] = col.Count(ctx, Exists("zzz", true))
	_, checks["update"] = col.UpdateMany(ctx, UpdateOptions{Update: map[string]any{"zzz": 1}})
	_, checks["delete"] = col.DeleteMany(ctx, DeleteOptions{Where: IsNull("zzz")})
	for name, err := range checks {
		if !errors.Is(err, ErrUnknownField) {
			t.Errorf("%s: error = %v, want ErrUnknownField", name, err)
		}
	}

	// Maps have no fixed shape.
	raw := mustCollection[map[string]any](t, openTestDB(t), "raw")
	if _, err := raw.FindMany(ctx, FindOptions{Where: Eq("anything", 1)}); err != nil {
		t.Errorf("map collection rejected field: %v", err)
	}
}

func TestUpdateSemantics(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")
	seedPeople(t, col)
	before, _ := os.ReadFile(col.Path())

	// Merging values already present modifies nothing and writes nothing.
	res, err := col.UpdateMany(ctx, UpdateOptions{Where: Eq("age", 30), Update: map[string]any{"age": 30}})
	if err != nil {
		t.Fatal(err)
	}
	if res != (UpdateResult{MatchedCount: 2, ModifiedCount: 0}) {
		t.Errorf("no-op update = %+v, want 2/0", res)
	}
	after, _ := os.ReadFile(col.Path())
	if string(before) != string(after) {
		t.Error("no-op update rewrote the file")
	}

	// Only some matches change.
	res, err = col.UpdateMany(ctx, UpdateOptions{Where: Gte("age", 30), Update: map[string]any{"age": 35}})
	if err != nil {
		t.Fatal(err)
	}
	if res != (UpdateResult{MatchedCount: 3, ModifiedCount: 2}) {
		t.Errorf("partial update = %+v, want 3/2", res)
	}

	// UpdateOne touches only the first match in file order.
	res, err = col.UpdateOne(ctx, UpdateOptions{Where: Eq("age", 35), Update: map[string]any{"tags": []string{"lead"}}})
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Errorf("UpdateOne = %+v", res)
	}
	docs, _ := col.FindMany(ctx, FindOptions{Where: Eq("tags", []string{"lead"})})
	if diff := cmp.Diff([]string{"carol"}, names(docs)); diff != "" {
		t.Errorf("UpdateOne hit (-want +got):\n%s", diff)
	}

	// Nothing matched.
	res, err = col.UpdateMany(ctx, UpdateOptions{Where: Eq("name", "nobody"), Update: map[string]any{"age": 1}})
	if err != nil || res != (UpdateResult{}) {
		t.Errorf("unmatched update = %+v, %v", res, err)
	}
}

func TestUpdateRejects(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")
	id, err := col.InsertOne(ctx, person{Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(col.Path())

	_, err = col.UpdateOne(ctx, UpdateOptions{Update: map[string]any{"_id": "000000000000000000000001"}})
	if !errors.Is(err, ErrImmutableID) {
		t.Errorf("changing _id = %v, want ErrImmutableID", err)
	}
	res, err := col.UpdateOne(ctx, UpdateOptions{Update: map[string]any{"_id": id, "name": "y"}})
	if err != nil || res.ModifiedCount != 1 {
		t.Errorf("restating _id = %+v, %v", res, err)
	}

	before, _ = os.ReadFile(col.Path())
	_, err = col.UpdateOne(ctx, UpdateOptions{Update: map[string]any{"age": "not a number"}})
	if !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("type-breaking update = %v, want ErrInvalidDocument", err)
	}
	after, _ := os.ReadFile(col.Path())
	if string(before) != string(after) {
		t.Error("rejected update modified the file")
	}
}

func TestFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")
	seedPeople(t, col)

	old, err := col.FindOneAndUpdate(ctx, UpdateOptions{Where: Eq("name", "bob"), Update: map[string]any{"age": 26}})
	if err != nil {
		t.Fatal(err)
	}
	if old == nil || old.Data.Age != 25 {
		t.Errorf("FindOneAndUpdate returned %+v, want the pre-update document", old)
	}

	updated, err := col.FindOneAndUpdate(ctx, UpdateOptions{Where: Eq("name", "bob"), Update: map[string]any{"age": 27}, ReturnNew: true})
	if err != nil {
		t.Fatal(err)
	}
	if updated == nil || updated.Data.Age != 27 || updated.ID != old.ID {
		t.Errorf("FindOneAndUpdate ReturnNew = %+v", updated)
	}

	none, err := col.FindOneAndUpdate(ctx, UpdateOptions{Where: Eq("name", "nobody"), Update: map[string]any{"age": 1}})
	if err != nil || none != nil {
		t.Errorf("unmatched FindOneAndUpdate = %+v, %v", none, err)
	}

	many, err := col.FindManyAndUpdate(ctx, UpdateOptions{Where: Eq("age", 30), Update: map[string]any{"tags": []string{"x"}}, ReturnNew: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alice", "erin"}, names(many)); diff != "" {
		t.Errorf("FindManyAndUpdate (-want +got):\n%s", diff)
	}
	for _, d := range many {
		if len(d.Data.Tags) != 1 || d.Data.Tags[0] != "x" {
			t.Errorf("%s tags = %v", d.Data.Name, d.Data.Tags)
		}
	}
}

func TestDeleteVariants(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")
	seedPeople(t, col)

	res, err := col.DeleteOne(ctx, DeleteOptions{Where: Eq("age", 30)})
	if err != nil || res.DeletedCount != 1 {
		t.Fatalf("DeleteOne = %+v, %v", res, err)
	}
	gone, err := col.FindOneAndDelete(ctx, DeleteOptions{Where: Eq("age", 30)})
	if err != nil || gone == nil || gone.Data.Name != "erin" {
		t.Fatalf("FindOneAndDelete = %+v, %v", gone, err)
	}
	none, err := col.FindOneAndDelete(ctx, DeleteOptions{Where: Eq("age", 30)})
	if err != nil || none != nil {
		t.Errorf("FindOneAndDelete without match = %+v, %v", none, err)
	}

	removed, err := col.FindManyAndDelete(ctx, DeleteOptions{Where: Lt("age", 40)})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"carol", "bob"}, names(removed)); diff != "" {
		t.Errorf("FindManyAndDelete (-want +got):\n%s", diff)
	}

	left, _ := col.FindMany(ctx, FindOptions{})
	if diff := cmp.Diff([]string{"dave"}, names(left)); diff != "" {
		t.Errorf("remaining (-want +got):\n%s", diff)
	}
	if n, _ := col.Count(ctx, And()); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")
	id, _ := col.InsertOne(ctx, person{Name: "x"})

	got, err := col.Get(ctx, strings.ToUpper(id))
	if err != nil || got.ID != id || got.Data.Name != "x" {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if _, err := col.Get(ctx, "000000000000000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
	if _, err := col.Get(ctx, "zz"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Get invalid = %v, want ErrInvalidID", err)
	}
}

func TestStatsAndCache(t *testing.T) {
	ctx := context.Background()
	col := mustCollection[person](t, openTestDB(t), "people")

	st, err := col.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 0 || st.Size != 0 || st.Fingerprint != "" {
		t.Errorf("Stats of missing file = %+v", st)
	}

	seedPeople(t, col)
	st, _ = col.Stats(ctx)
	data, _ := os.ReadFile(col.Path())
	if st.Documents != 5 || st.Size != int64(len(data)) || st.Name != "people" || st.Path != col.Path() {
		t.Errorf("Stats = %+v", st)
	}

	// Reads reuse the parsed snapshot while the file is unchanged.
	first, _ := col.c.load()
	second, _ := col.c.load()
	if first != second {
		t.Error("unchanged file was parsed again")
	}

	// An edit made outside the collection is picked up on the next read.
	docs := readArray(t, col.Path())
	docs = docs[:1]
	edited, _ := encodeJSON(docs)
	if err := os.WriteFile(col.Path(), edited, 0o644); err != nil {
		t.Fatal(err)
	}
	if n, _ := col.Count(ctx, And()); n != 1 {
		t.Errorf("Count after external edit = %d, want 1", n)
	}
}

// A file that is not a valid collection fails every operation with
// ErrCorruptCollection and is never replaced.
func TestCorruptCollection(t *testing.T) {
	ctx := context.Background()
	payloads := map[string]string{
		"truncated":  `[{"_id":"65a1b2c3d4e5f60718293a4b"`,
		"object":     `{"a":1}`,
		"scalar":     `[1,2]`,
		"empty":      ``,
		"bad id":     `[{"_id":"xyz"}]`,
		"missing id": `[{"name":"x"}]`,
		"duplicate":  `[{"_id":"65a1b2c3d4e5f60718293a4b"},{"_id":"65a1b2c3d4e5f60718293a4b"}]`,
		"trailing":   `[] []`,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			col := mustCollection[person](t, openTestDB(t), "c")
			if err := os.WriteFile(col.Path(), []byte(payload), 0o644); err != nil {
				t.Fatal(err)
			}

			if _, err := col.FindMany(ctx, FindOptions{}); !errors.Is(err, ErrCorruptCollection) {
				t.Errorf("FindMany = %v, want ErrCorruptCollection", err)
			}
			if _, err := col.InsertOne(ctx, person{Name: "x"}); !errors.Is(err, ErrCorruptCollection) {
				t.Errorf("InsertOne = %v, want ErrCorruptCollection", err)
			}
			if _, err := col.DeleteMany(ctx, DeleteOptions{}); !errors.Is(err, ErrCorruptCollection) {
				t.Errorf("DeleteMany = %v, want ErrCorruptCollection", err)
			}

			data, _ := os.ReadFile(col.Path())
			if string(data) != payload {
				t.Errorf("corrupt file was modified: %q", data)
			}
			if _, err := os.Stat(col.Path() + ".lock"); !errors.Is(err, os.ErrNotExist) {
				t.Error("lock file left behind after failed write")
			}
		})
	}
}

// A writer blocked by another process's lock gives up with ErrLockBusy
// and leaves the file alone.
func TestWriteLockBusy(t *testing.T) {
	ctx := context.Background()
	db, err := Open(t.TempDir(), Config{Lock: LockOptions{AcquireTimeout: 50 * time.Millisecond, RetryDelay: 5 * time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}
	col := mustCollection[person](t, db, "c")

	other := NewLockFile(col.Path(), LockOptions{}, nil)
	if err := other.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	defer other.Release()

	if _, err := col.InsertOne(ctx, person{Name: "x"}); !errors.Is(err, ErrLockBusy) {
		t.Errorf("InsertOne = %v, want ErrLockBusy", err)
	}
	// Readers do not take the lock file.
	if _, err := col.FindMany(ctx, FindOptions{}); err != nil {
		t.Errorf("FindMany while locked: %v", err)
	}
}
