// Package spool feeds files dropped into a directory to a handler, in name
// order for files already present and in arrival order afterwards.
//
// Producers write "<name>.tmp" and rename it to "<name>.json" once
// complete; only *.json names are picked up.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// RejectedDir is the subdirectory that receives files the handler refused.
const RejectedDir = "rejected"

// Handler processes one spooled file.
type Handler func(ctx context.Context, name string, data []byte) error

// Watch processes every *.json file in dir, then every one created later,
// until ctx is done. Handled files are removed; files the handler fails on
// are moved to dir/rejected. Watch returns nil when ctx is cancelled.
func Watch(ctx context.Context, dir string, handle Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, RejectedDir), 0o755); err != nil {
		return fmt.Errorf("spool: mkdir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: watcher: %w", err)
	}
	defer watcher.Close()
	// Watch before scanning so nothing created in between is missed.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("spool: watch %s: %w", dir, err)
	}

	existing, err := pending(dir)
	if err != nil {
		return err
	}
	for _, path := range existing {
		if ctx.Err() != nil {
			return nil
		}
		process(ctx, dir, path, handle, logger)
	}
	logger.Info("spool: watching", "dir", dir, "backlog", len(existing))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isSpoolFile(event.Name) {
				continue
			}
			process(ctx, dir, event.Name, handle, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("spool: watcher error", "dir", dir, "error", err)
		}
	}
}

func pending(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("spool: read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && isSpoolFile(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func isSpoolFile(name string) bool {
	return strings.HasSuffix(filepath.Base(name), ".json")
}

func process(ctx context.Context, dir, path string, handle Handler, logger *slog.Logger) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		// Already consumed by the backlog scan.
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("spool: read failed", "file", name, "error", err)
		}
		return
	}

	if err := handle(ctx, name, data); err != nil {
		logger.Warn("spool: file rejected", "file", name, "error", err)
		if err := os.Rename(path, filepath.Join(dir, RejectedDir, name)); err != nil {
			logger.Error("spool: move to rejected failed", "file", name, "error", err)
		}
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("spool: remove failed", "file", name, "error", err)
	}
}
