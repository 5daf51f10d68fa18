// Package main is the bookmarkdb inspection tool: it reads and writes the
// per-bookmark metadata database the desktop front-ends use, without needing
// either of them running.
//
// Usage:
//
//	bookmarkdb --server //aka --job big_job --root shots get <source> <key>
//	bookmarkdb ... set <source> <key> <value>
//	bookmarkdb ... row <source>
//	bookmarkdb ... rows
//	bookmarkdb ... flag <source> on|off archived|favourite|active|persistent
//	bookmarkdb ... info
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/vfxpipe/bookmarkdb/internal/bookmarkdb"
	"github.com/vfxpipe/bookmarkdb/internal/config"
	"github.com/vfxpipe/bookmarkdb/internal/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bookmarkdb: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fl := pflag.NewFlagSet("bookmarkdb", pflag.ContinueOnError)
	server := fl.String("server", "", "Server path segment of the bookmark root")
	job := fl.String("job", "", "Job path segment of the bookmark root")
	root := fl.String("root", "", "Root path segment of the bookmark root")
	tableName := fl.String("table", schema.AssetTable.Name, "Table to operate on")
	configPath := fl.String("config", "", "YAML config file with registered servers")
	logLevel := fl.String("log-level", "warn", "Log level (debug, info, warn, error)")

	if err := fl.Parse(os.Args[1:]); err != nil {
		return err
	}

	setupLogger(*logLevel)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	if *server == "" || *job == "" || *root == "" {
		return fmt.Errorf("--server, --job and --root are required")
	}
	table, ok := schema.Lookup(*tableName)
	if !ok {
		return fmt.Errorf("unknown table %q", *tableName)
	}

	registry := bookmarkdb.NewRegistry(cfg, bookmarkdb.Options{})
	defer registry.RemoveAll()

	db := registry.Get(*server, *job, *root)
	if !db.IsValid() {
		slog.Warn("database is not file-backed; changes will not persist",
			"path", db.DatabasePath())
	}

	args := fl.Args()
	if len(args) == 0 {
		return fmt.Errorf("missing command (get, set, row, rows, flag, info)")
	}

	switch args[0] {
	case "get":
		if len(args) != 3 {
			return fmt.Errorf("usage: get <source> <key>")
		}
		v, err := db.Value(args[1], args[2], table)
		if err != nil {
			return err
		}
		printValue(v)
		return nil

	case "set":
		if len(args) != 4 {
			return fmt.Errorf("usage: set <source> <key> <value>")
		}
		value, err := parseValue(table, args[2], args[3])
		if err != nil {
			return err
		}
		return db.SetValue(args[1], args[2], value, table)

	case "row":
		if len(args) != 2 {
			return fmt.Errorf("usage: row <source>")
		}
		printRow(db.Row(args[1], table))
		return nil

	case "rows":
		for row := range db.Rows(table) {
			printRow(row)
			fmt.Println()
		}
		return nil

	case "flag":
		if len(args) != 4 {
			return fmt.Errorf("usage: flag <source> on|off <name>")
		}
		flag, err := parseFlag(args[3])
		if err != nil {
			return err
		}
		db.SetFlag(args[1], args[2] == "on", flag)
		return nil

	case "info":
		printRow(db.Info())
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func setupLogger(level string) {
	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(level)); err != nil {
		ll.Set(slog.LevelWarn)
	}
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:   ll,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}

// parseValue converts a CLI argument into the runtime type the column
// expects. Dicts are given as JSON, bytes read from the named file.
func parseValue(table schema.Table, key, raw string) (any, error) {
	col, ok := table.Column(key)
	if !ok {
		return nil, fmt.Errorf("unknown column %q in %s", key, table.Name)
	}
	switch col.Type {
	case schema.String:
		return raw, nil
	case schema.Int:
		return strconv.ParseInt(raw, 10, 64)
	case schema.Float:
		return strconv.ParseFloat(raw, 64)
	case schema.Dict:
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("invalid dict value: %w", err)
		}
		return m, nil
	case schema.Bytes:
		return os.ReadFile(raw)
	}
	return nil, fmt.Errorf("unhandled column type %s", col.Type)
}

func parseFlag(name string) (bookmarkdb.Flag, error) {
	switch strings.ToLower(name) {
	case "archived":
		return bookmarkdb.MarkedAsArchived, nil
	case "favourite":
		return bookmarkdb.MarkedAsFavourite, nil
	case "active":
		return bookmarkdb.MarkedAsActive, nil
	case "persistent":
		return bookmarkdb.MarkedAsPersistent, nil
	}
	return 0, fmt.Errorf("unknown flag %q", name)
}

func printValue(v any) {
	switch t := v.(type) {
	case nil:
		fmt.Println("<unset>")
	case map[string]any:
		raw, _ := json.MarshalIndent(t, "", "  ")
		fmt.Println(string(raw))
	case []byte:
		os.Stdout.Write(t)
	default:
		fmt.Println(t)
	}
}

func printRow(row map[string]any) {
	for _, k := range sortedKeys(row) {
		fmt.Printf("%s: ", k)
		printValue(row[k])
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
