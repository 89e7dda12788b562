// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads a corpus file when it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file so editors that
// save via rename are handled. Bursts of events are debounced. A file that
// fails to parse is logged and ignored; the previous corpus stays in effect.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. onChange is called
// from the debounce timer goroutine, one call at a time.
type Watcher struct {
	path     string
	onChange func(context.Context, *Corpus)
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	reloadMu sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for path. onChange receives each successfully
// parsed corpus.
func NewWatcher(path string, onChange func(context.Context, *Corpus), logger *slog.Logger) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("corpus watcher: path required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("corpus watcher: onChange required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logger,
		debounce: defaultWatchDebounce,
		stopCh:   make(chan struct{}),
	}, nil
}

// SetDebounce overrides the debounce window. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start begins watching. The watcher stops when ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("corpus watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Unlock()
		_ = fsw.Close()
		return fmt.Errorf("corpus watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fsw
	w.mu.Unlock()

	go w.loop(fsw)
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	}()

	w.logger.Info("corpus watcher: started", slog.String("path", w.path))
	return nil
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("corpus watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	ctx := context.Background()
	c, err := LoadFile(ctx, w.path)
	if err != nil {
		w.logger.Warn("corpus watcher: reload failed, keeping previous corpus",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("corpus watcher: reloaded",
		slog.Int("exemplars", c.ExemplarCount()),
		slog.Int("negatives", len(c.Negatives)))
	w.onChange(ctx, c)
}
