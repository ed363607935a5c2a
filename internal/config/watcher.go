// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// DefaultDebounce is the quiet period after the last write before a reload.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes each
// successfully validated result to fn. Invalid edits are logged and skipped,
// leaving the previous configuration in place.
//
// The parent directory is watched rather than the file itself so that editors
// which replace the file by rename are still observed. Watch returns once the
// watcher is installed; events are processed until ctx is canceled.
func Watch(ctx context.Context, path string, debounce time.Duration, fn func(*Config)) error {
	if path == "" {
		return ErrNoConfig
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go processConfigEvents(ctx, w, abs, debounce, fn)
	return nil
}

// processConfigEvents runs until ctx is done, coalescing bursts of events
// into a single reload.
func processConfigEvents(ctx context.Context, w *fsnotify.Watcher, path string, debounce time.Duration, fn func(*Config)) {
	defer w.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CONFIG_WATCH_PANIC | path=%s panic=%v", path, r)
		}
	}()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG_WATCH_ERROR | path=%s error=%v", path, err)

		case <-timer.C:
			cfg, err := ReloadFrom(path)
			if err != nil {
				log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", path, err)
				continue
			}
			log.Printf("CONFIG_RELOADED | path=%s addr=%s typing=%t", path, cfg.Server.Addr, cfg.Stream.Typing)
			if fn != nil {
				fn(cfg)
			}
		}
	}
}
