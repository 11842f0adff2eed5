// Command jsondb inspects and edits jsondb data directories.
//
// Usage:
//
//	jsondb [--data DIR] [--config FILE] [--verbose] <command> [flags]
//
//	names                                   List collections
//	find <coll> [--where JSON] [--sort f,-g] [--skip N] [--limit N] [--fields a,b]
//	count <coll> [--where JSON]
//	insert <coll> [JSON]                    Insert an object or array (stdin if omitted)
//	update <coll> --set JSON [--where JSON] [--one]
//	delete <coll> [--where JSON] [--one]
//	stats <coll>
//	backup <coll> [--out FILE]              zstd backup (stdout if omitted)
//	restore <coll> [--in FILE]              Restore a backup (stdin if omitted)
//	drop <coll>
//	shell                                   Interactive prompt
//
// Conditions use the JSON wire form, e.g.
// {"op":"and","conditions":[{"op":"eq","field":"name","value":"a"}]}.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jpl-au/jsondb"
)

type doc = map[string]any

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env carries the open database and standard streams to a command.
type env struct {
	db     *jsondb.Database
	stdin  io.Reader
	stdout io.Writer
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"names":   cmdNames,
	"find":    cmdFind,
	"count":   cmdCount,
	"insert":  cmdInsert,
	"update":  cmdUpdate,
	"delete":  cmdDelete,
	"stats":   cmdStats,
	"backup":  cmdBackup,
	"restore": cmdRestore,
	"drop":    cmdDrop,
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("jsondb", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(stderr)
	dataFlag := global.StringP("data", "d", "", "data directory (default ./data)")
	configFlag := global.StringP("config", "c", "", "JSONC config file")
	verbose := global.BoolP("verbose", "v", false, "development logging")
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		return errors.New("missing command; see jsondb --help")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", rest[0])
	}

	fc, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}
	cfg, err := fc.dbConfig()
	if err != nil {
		return err
	}
	dir := fc.Data
	if *dataFlag != "" {
		dir = *dataFlag
	}
	if dir == "" {
		dir = "data"
	}

	var log *zap.Logger
	if *verbose {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	cfg.Logger = log

	db, err := jsondb.Open(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return cmd(ctx, &env{db: db, stdin: stdin, stdout: stdout}, rest[1:])
}

// parse parses a subcommand's flags and requires exactly one positional
// collection name, plus up to extra further arguments.
func parse(fs *flag.FlagSet, args []string, extra int) (string, []string, error) {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return "", nil, fmt.Errorf("%s: %w", fs.Name(), err)
	}
	pos := fs.Args()
	if len(pos) == 0 {
		return "", nil, fmt.Errorf("%s: missing collection name", fs.Name())
	}
	if len(pos)-1 > extra {
		return "", nil, fmt.Errorf("%s: unexpected arguments: %s", fs.Name(), strings.Join(pos[1:], " "))
	}
	return pos[0], pos[1:], nil
}

func open(e *env, name string) (*jsondb.Collection[doc], error) {
	return jsondb.CollectionOf[doc](e.db, name)
}

func parseWhere(raw string) (jsondb.Condition, error) {
	if raw == "" {
		return jsondb.And(), nil
	}
	return jsondb.ParseCondition([]byte(raw))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdNames(_ context.Context, e *env, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("names: unexpected arguments: %s", strings.Join(args, " "))
	}
	names, err := e.db.Names()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(e.stdout, n)
	}
	return nil
}

func cmdFind(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	where := fs.String("where", "", "condition (JSON)")
	sortBy := fs.StringSlice("sort", nil, "sort fields, prefix - for descending")
	skip := fs.Int("skip", 0, "documents to skip")
	limit := fs.Int("limit", 0, "maximum documents (0 = all)")
	fields := fs.StringSlice("fields", nil, "fields to include")
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}

	cond, err := parseWhere(*where)
	if err != nil {
		return err
	}
	opts := jsondb.FindOptions{Where: cond, Skip: *skip, Limit: *limit}
	for _, s := range *sortBy {
		field, desc := strings.CutPrefix(s, "-")
		opts.Sort = append(opts.Sort, jsondb.SortField{Field: field, Desc: desc})
	}
	if len(*fields) > 0 {
		opts.Projection = &jsondb.Projection{Include: *fields}
	}

	col, err := open(e, name)
	if err != nil {
		return err
	}
	docs, err := col.FindMany(ctx, opts)
	if err != nil {
		return err
	}
	out := make([]doc, 0, len(docs))
	for _, d := range docs {
		d.Data["_id"] = d.ID
		out = append(out, d.Data)
	}
	return printJSON(e.stdout, out)
}

func cmdCount(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	where := fs.String("where", "", "condition (JSON)")
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}
	cond, err := parseWhere(*where)
	if err != nil {
		return err
	}
	col, err := open(e, name)
	if err != nil {
		return err
	}
	n, err := col.Count(ctx, cond)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, n)
	return nil
}

func cmdInsert(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("insert", flag.ContinueOnError)
	name, rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}

	var raw []byte
	if len(rest) == 1 {
		raw = []byte(rest[0])
	} else if raw, err = io.ReadAll(e.stdin); err != nil {
		return fmt.Errorf("insert: read stdin: %w", err)
	}

	var docs []doc
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(raw, &docs)
	} else {
		var d doc
		err = json.Unmarshal(raw, &d)
		docs = []doc{d}
	}
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	col, err := open(e, name)
	if err != nil {
		return err
	}
	res, err := col.InsertMany(ctx, docs)
	if err != nil {
		return err
	}
	for _, id := range res.InsertedIDs {
		fmt.Fprintln(e.stdout, id)
	}
	return nil
}

func cmdUpdate(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	where := fs.String("where", "", "condition (JSON)")
	set := fs.String("set", "", "fields to merge (JSON object)")
	one := fs.Bool("one", false, "update only the first match")
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}
	if *set == "" {
		return errors.New("update: --set is required")
	}

	cond, err := parseWhere(*where)
	if err != nil {
		return err
	}
	var patch map[string]any
	if err := json.Unmarshal([]byte(*set), &patch); err != nil {
		return fmt.Errorf("update: --set: %w", err)
	}

	col, err := open(e, name)
	if err != nil {
		return err
	}
	opts := jsondb.UpdateOptions{Where: cond, Update: patch}
	var res jsondb.UpdateResult
	if *one {
		res, err = col.UpdateOne(ctx, opts)
	} else {
		res, err = col.UpdateMany(ctx, opts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "matched %d, modified %d\n", res.MatchedCount, res.ModifiedCount)
	return nil
}

func cmdDelete(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	where := fs.String("where", "", "condition (JSON)")
	one := fs.Bool("one", false, "delete only the first match")
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}
	cond, err := parseWhere(*where)
	if err != nil {
		return err
	}

	col, err := open(e, name)
	if err != nil {
		return err
	}
	opts := jsondb.DeleteOptions{Where: cond}
	var res jsondb.DeleteResult
	if *one {
		res, err = col.DeleteOne(ctx, opts)
	} else {
		res, err = col.DeleteMany(ctx, opts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "deleted %d\n", res.DeletedCount)
	return nil
}

func cmdStats(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}
	col, err := open(e, name)
	if err != nil {
		return err
	}
	st, err := col.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, st)
}

func cmdBackup(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	outPath := fs.String("out", "", "output file (default stdout)")
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}
	col, err := open(e, name)
	if err != nil {
		return err
	}

	if *outPath == "" {
		return col.Backup(ctx, e.stdout)
	}
	// Buffer so a failed backup never replaces an earlier file.
	var buf bytes.Buffer
	if err := col.Backup(ctx, &buf); err != nil {
		return err
	}
	if err := atomic.WriteFile(*outPath, &buf); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

func cmdRestore(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	inPath := fs.String("in", "", "backup file (default stdin)")
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}
	col, err := open(e, name)
	if err != nil {
		return err
	}

	r := e.stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		defer f.Close()
		r = f
	}
	n, err := col.Restore(ctx, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "restored %d\n", n)
	return nil
}

func cmdDrop(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("drop", flag.ContinueOnError)
	name, _, err := parse(fs, args, 0)
	if err != nil {
		return err
	}
	return e.db.Drop(ctx, name)
}
