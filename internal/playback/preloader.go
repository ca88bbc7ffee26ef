/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sync"

	"github.com/rs/zerolog"
)

// Preloader resolves assets referenced by remote-control values on a
// background goroutine. An asset counts as resident once its lookup has
// finished, found or not, so a missing reference never blocks a transition.
type Preloader struct {
	resolver AssetResolver
	logger   zerolog.Logger

	mu       sync.Mutex
	resident map[string]bool
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewPreloader creates a preloader. A nil resolver makes every asset resident.
func NewPreloader(resolver AssetResolver, logger zerolog.Logger) *Preloader {
	return &Preloader{
		resolver: resolver,
		logger:   logger.With().Str("component", "asset_preloader").Logger(),
		resident: make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

// IsResident reports whether the asset lookup completed.
func (p *Preloader) IsResident(assetPath string) bool {
	if p.resolver == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resident[assetPath]
}

// Preload starts lookups for assets not yet resident or in flight.
func (p *Preloader) Preload(assetPaths []string) {
	p.mu.Lock()
	var todo []string
	for _, path := range assetPaths {
		if p.resident[path] || p.inflight[path] {
			continue
		}
		p.inflight[path] = true
		todo = append(todo, path)
	}
	p.mu.Unlock()
	if len(todo) == 0 {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, path := range todo {
			found := p.resolver == nil || p.resolver.Exists(path)
			if !found {
				p.logger.Warn().Str("asset_path", path).Msg("referenced asset not found")
			}
			p.mu.Lock()
			delete(p.inflight, path)
			p.resident[path] = true
			p.mu.Unlock()
		}
	}()
}

// Wait blocks until every started lookup finished.
func (p *Preloader) Wait() {
	p.wg.Wait()
}

// Forget drops an asset from the resident set, typically after invalidation.
func (p *Preloader) Forget(assetPath string) {
	p.mu.Lock()
	delete(p.resident, assetPath)
	p.mu.Unlock()
}
