/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
		"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// InvalidationHandler is told about every asset the watcher invalidated.
type InvalidationHandler func(assetPath string)

// AssetWatcher watches the content root and invalidates cache entries of
// modified assets. File events arrive on a watcher goroutine; they are
// queued and applied on the frame loop by Tick.
type AssetWatcher struct {
	resolver *FileResolver
	manager  *Manager
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	queued   map[string]struct{}
	handlers []InvalidationHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAssetWatcher creates a watcher for the resolver's root.
func NewAssetWatcher(resolver *FileResolver, manager *Manager, logger zerolog.Logger) *AssetWatcher {
	return &AssetWatcher{
		resolver: resolver,
		manager:  manager,
		logger:   logger.With().Str("component", "asset_watcher").Logger(),
		queued:   make(map[string]struct{}),
	}
}

// OnInvalidated registers a handler called from Tick.
func (w *AssetWatcher) OnInvalidated(h InvalidationHandler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
}

// Start adds watches on the root and its subdirectories and begins the event loop.
func (w *AssetWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	w.watcher = watcher

	watched := 0
	err = filepath.WalkDir(w.resolver.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(p); err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("failed to watch directory")
			return nil
		}
		watched++
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("walk content root: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info().Str("root", w.resolver.Root).Int("watched_directories", watched).Msg("asset watcher started")
	return nil
}

// Stop ends the event loop and releases the watcher.
func (w *AssetWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

// Queue marks a file under the content root as changed.
func (w *AssetWatcher) Queue(file string) {
	w.mu.Lock()
	w.queued[filepath.Clean(file)] = struct{}{}
	w.mu.Unlock()
}

// Tick invalidates every cached asset whose file changed, in asset path
// order. Asset paths are matched through the resolver, so "/Game/a.gfx" and
// "Game/a.gfx" both match the same file.
func (w *AssetWatcher) Tick(frame uint64) {
	w.mu.Lock()
	if len(w.queued) == 0 {
		w.mu.Unlock()
		return
	}
	changed := w.queued
	w.queued = make(map[string]struct{})
	handlers := append([]InvalidationHandler(nil), w.handlers...)
	w.mu.Unlock()

	for _, assetPath := range w.manager.Assets() {
		full, ok := w.resolver.Path(assetPath)
		if !ok {
			continue
		}
		if _, hit := changed[filepath.Clean(full)]; !hit {
			continue
		}
		w.manager.InvalidateAsset(assetPath)
		for _, h := range handlers {
			h(assetPath)
		}
	}
}

func (w *AssetWatcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("file watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (w *AssetWatcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	assetPath, ok := w.resolver.AssetPathFor(event.Name)
	if !ok {
		return
	}
	w.logger.Debug().Str("asset_path", assetPath).Str("op", event.Op.String()).Msg("asset changed on disk")
	w.Queue(event.Name)
}
