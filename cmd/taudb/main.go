// Package main is the entry point for taudb, a read-only inspector for
// taucmdr record store files.
//
// taudb never mutates a store; all writes go through the record controller
// in the owning application. It exists to answer "what is in this store"
// questions during debugging: listing tables, dumping records, and
// following a store file as another process rewrites it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/nchaimov/taucmdr/internal/storage"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "taudb: %v\n", err)
		os.Exit(1)
	}
}

// config is the optional YAML configuration file.
type config struct {
	Database string `yaml:"database"`
	LogLevel string `yaml:"log_level"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func mainImpl() error {
	dbPath := flag.String("db", "taucmdr.json", "Path to the record store file")
	configPath := flag.String("config", "", "Optional YAML config file (database, log_level)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	path := *dbPath
	if cfg.Database != "" {
		path = cfg.Database
	}
	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}

	ll := &slog.LevelVar{}
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	case "", "info":
		ll.Set(slog.LevelInfo)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	command := "dump"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "tables":
		db, err := storage.Open(path)
		if err != nil {
			return err
		}
		for _, name := range db.Tables() {
			fmt.Printf("%s\t%d\n", name, db.Count(name))
		}
		return nil
	case "count":
		if len(args) != 1 {
			return errors.New("count takes exactly one table name")
		}
		db, err := storage.Open(path)
		if err != nil {
			return err
		}
		fmt.Println(db.Count(args[0]))
		return nil
	case "dump":
		db, err := storage.Open(path)
		if err != nil {
			return err
		}
		return dump(db, args)
	case "watch":
		return watch(ctx, path, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// dump prints the selected tables (or all of them) as one JSON document,
// the same shape the store persists.
func dump(db *storage.Database, tables []string) error {
	if len(tables) == 0 {
		tables = db.Tables()
	}
	out := map[string]map[storage.EID]map[string]any{}
	for _, name := range tables {
		records := map[storage.EID]map[string]any{}
		for _, rec := range db.Search(name, storage.All()) {
			records[rec.EID] = rec.Fields
		}
		out[name] = records
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(data))
	return err
}

// watch re-dumps the store every time another process rewrites the file,
// until interrupted.
func watch(ctx context.Context, path string, tables []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	// Watch the directory, not the file: atomic replaces swap the inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	redump := func() {
		db, err := storage.Open(path)
		if err != nil {
			slog.Warn("store unreadable", "path", path, "err", err)
			return
		}
		if err := dump(db, tables); err != nil {
			slog.Warn("dump failed", "path", path, "err", err)
		}
	}
	redump()
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				slog.Debug("store changed", "event", event.Op.String())
				redump()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "err", err)
		}
	}
}
