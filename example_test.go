package jsondb_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jpl-au/jsondb"
)

type Task struct {
	ID       string `json:"_id,omitempty"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
	Done     bool   `json:"done"`
}

func Example() {
	dir, _ := os.MkdirTemp("", "jsondb-example")
	defer os.RemoveAll(dir)
	ctx := context.Background()

	// Open or create a database
	db, err := jsondb.Open(dir, jsondb.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tasks, err := jsondb.CollectionOf[Task](db, "tasks")
	if err != nil {
		log.Fatal(err)
	}

	// Store some documents
	tasks.InsertMany(ctx, []Task{
		{Title: "write docs", Priority: 2},
		{Title: "fix bug", Priority: 1},
		{Title: "release", Priority: 3},
	})

	// Query them back
	open, _ := tasks.FindMany(ctx, jsondb.FindOptions{
		Where: jsondb.And(jsondb.Eq("done", false), jsondb.Lte("priority", 2)),
		Sort:  []jsondb.SortField{{Field: "priority"}},
	})
	for _, t := range open {
		fmt.Println(t.Data.Priority, t.Data.Title)
	}
	// Output:
	// 1 fix bug
	// 2 write docs
}

func ExampleCollection_UpdateOne() {
	dir, _ := os.MkdirTemp("", "jsondb-example")
	defer os.RemoveAll(dir)
	ctx := context.Background()

	db, _ := jsondb.Open(dir, jsondb.Config{})
	defer db.Close()
	tasks, _ := jsondb.CollectionOf[Task](db, "tasks")
	tasks.InsertOne(ctx, Task{Title: "fix bug", Priority: 1})

	res, err := tasks.UpdateOne(ctx, jsondb.UpdateOptions{
		Where:  jsondb.Eq("title", "fix bug"),
		Update: map[string]any{"done": true},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("matched %d, modified %d\n", res.MatchedCount, res.ModifiedCount)

	// Merging the same value again changes nothing.
	res, _ = tasks.UpdateOne(ctx, jsondb.UpdateOptions{
		Where:  jsondb.Eq("title", "fix bug"),
		Update: map[string]any{"done": true},
	})
	fmt.Printf("matched %d, modified %d\n", res.MatchedCount, res.ModifiedCount)
	// Output:
	// matched 1, modified 1
	// matched 1, modified 0
}

func ExampleCollection_FindOneAndDelete() {
	dir, _ := os.MkdirTemp("", "jsondb-example")
	defer os.RemoveAll(dir)
	ctx := context.Background()

	db, _ := jsondb.Open(dir, jsondb.Config{})
	defer db.Close()
	tasks, _ := jsondb.CollectionOf[Task](db, "tasks")
	tasks.InsertOne(ctx, Task{Title: "release", Priority: 3})

	gone, _ := tasks.FindOneAndDelete(ctx, jsondb.DeleteOptions{Where: jsondb.Eq("title", "release")})
	fmt.Println(gone.Data.Title)

	n, _ := tasks.Count(ctx, jsondb.And())
	fmt.Println(n)
	// Output:
	// release
	// 0
}

func ExampleParseCondition() {
	c, err := jsondb.ParseCondition([]byte(`{"op":"or","conditions":[
		{"op":"eq","field":"title","value":"release"},
		{"op":"gt","field":"priority","value":2}
	]}`))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(c)
	fmt.Println(jsondb.Match(map[string]any{"title": "x", "priority": 5}, c))
	// Output:
	// or(eq(title,"release"),gt(priority,2))
	// true
}

func ExampleExtractEqualityConstraints() {
	m, ok := jsondb.ExtractEqualityConstraints(jsondb.And(
		jsondb.Eq("a", 1),
		jsondb.Eq("a", 2),
		jsondb.Eq("b", "x"),
	))
	fmt.Println(m, ok)
	// Output: map[b:x] true
}

func ExampleValidateID() {
	id, err := jsondb.ValidateID("65A1B2C3D4E5F60718293A4B")
	fmt.Println(id, err)

	_, err = jsondb.ValidateID("not-an-id")
	fmt.Println(err)
	// Output:
	// 65a1b2c3d4e5f60718293a4b <nil>
	// invalid id format: "not-an-id"
}

func ExampleConfig() {
	dir, _ := os.MkdirTemp("", "jsondb-example")
	defer os.RemoveAll(dir)

	// Custom configuration
	cfg := jsondb.Config{
		Fingerprint: jsondb.AlgBlake2b, // Best distribution
		FileMode:    0o600,             // Owner-only collection files
		Lock: jsondb.LockOptions{
			TTL:            10 * time.Second,      // Reclaim after 10s unrefreshed
			AcquireTimeout: 2 * time.Second,       // ErrLockBusy after 2s
			RetryDelay:     50 * time.Millisecond, // Between attempts
		},
	}

	db, _ := jsondb.Open(dir, cfg)
	defer db.Close()
}
