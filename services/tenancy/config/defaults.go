// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/retention"
)

// LoadRetentionDefaults parses a platform defaults file.
//
// # Description
//
// The file has a fallback policy and an optional per-category map:
//
//	fallback: {retention_days: 365, grace_days: 30, hard_delete_enforced: true}
//	categories:
//	  log: {retention_days: 90, grace_days: 7, hard_delete_enforced: true}
//
// Categories missing from the file keep the built-in defaults. Every
// policy is validated; unknown categories are rejected.
func LoadRetentionDefaults(path string) (retention.Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return retention.Defaults{}, fmt.Errorf("failed to read retention defaults %s: %w", path, err)
	}
	var file retention.Defaults
	if err := yaml.Unmarshal(data, &file); err != nil {
		return retention.Defaults{}, fmt.Errorf("failed to parse retention defaults %s: %w", path, err)
	}

	out := retention.DefaultPlatformDefaults()
	if file.Fallback.RetentionDays != 0 {
		if err := validate.Struct(file.Fallback); err != nil {
			return retention.Defaults{}, fmt.Errorf("retention defaults fallback: %w", err)
		}
		out.Fallback = file.Fallback
	}
	for category, policy := range file.Categories {
		if !category.Valid() {
			return retention.Defaults{}, fmt.Errorf("retention defaults: unknown category %q", category)
		}
		if err := validate.Struct(policy); err != nil {
			return retention.Defaults{}, fmt.Errorf("retention defaults %s: %w", category, err)
		}
		policy.Category = category
		out.Categories[category] = policy
	}
	return out, nil
}

// DefaultsApplier receives reloaded defaults.
type DefaultsApplier interface {
	SetDefaults(d retention.Defaults)
}

// DefaultsWatcher reloads the retention defaults file when it changes.
//
// # Description
//
// The parent directory is watched so editors that replace the file by
// rename are seen. Bursts of events are debounced. A file that fails to
// parse or validate is logged and ignored; the previous defaults stay in
// effect.
type DefaultsWatcher struct {
	path     string
	applier  DefaultsApplier
	watcher  *fsnotify.Watcher
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	reloads int
}

// NewDefaultsWatcher creates a watcher for path.
func NewDefaultsWatcher(path string, applier DefaultsApplier) (*DefaultsWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &DefaultsWatcher{
		path:     abs,
		applier:  applier,
		watcher:  w,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx is cancelled or Stop is called.
func (w *DefaultsWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop ends the event loop and closes the watcher.
func (w *DefaultsWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

// Reloads returns how many reloads were applied.
func (w *DefaultsWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *DefaultsWatcher) loop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("tenancy.config.watch_error", "path", w.path, "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *DefaultsWatcher) reload() {
	d, err := LoadRetentionDefaults(w.path)
	if err != nil {
		slog.Error("tenancy.config.defaults_reload_failed", "path", w.path, "error", err)
		return
	}
	w.applier.SetDefaults(d)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	slog.Info("tenancy.config.defaults_reloaded",
		"path", w.path,
		"fallback_days", d.Fallback.RetentionDays,
		"categories", len(d.Categories),
		"log_days", d.For(datatypes.CategoryLog).RetentionDays,
	)
}
