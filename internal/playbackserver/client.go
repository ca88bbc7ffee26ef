/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playbackserver

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/protocol"
)

// defaultPingInterval applies when a client announces no interval.
const defaultPingInterval = time.Second

// ClientInfo tracks one playback client.
type ClientInfo struct {
	Name         string
	NodeID       string
	ComputerName string
	ContentPath  string
	ProcessID    int
	Settings     map[string]string
	UserData     map[string]string

	timeout      time.Time
	infoReceived bool
	sync         *SyncManager
}

func newClientInfo(name, nodeID string, logger zerolog.Logger) *ClientInfo {
	return &ClientInfo{
		Name:     name,
		NodeID:   nodeID,
		Settings: make(map[string]string),
		UserData: make(map[string]string),
		sync:     newSyncManager(name, logger),
	}
}

// resetTimeout extends the deadline to three ping intervals from now.
func (c *ClientInfo) resetTimeout(now time.Time, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	c.timeout = now.Add(3 * interval)
}

// IsTimedOut reports whether the client missed its pings.
func (c *ClientInfo) IsTimedOut(now time.Time) bool {
	return now.After(c.timeout)
}

// Deadline returns the current timeout deadline.
func (c *ClientInfo) Deadline() time.Time { return c.timeout }

// InfoReceived reports whether UpdateClientInfo arrived.
func (c *ClientInfo) InfoReceived() bool { return c.infoReceived }

// SyncEnabled reports whether asset changes from this client are applied.
func (c *ClientInfo) SyncEnabled() bool { return c.sync.enabled }

// SyncManager applies a remote client's asset changes to the local
// playback manager. Clients sharing this node's content need no sync and
// stay disabled.
type SyncManager struct {
	client  string
	enabled bool
	queue   []protocol.AssetChanged
	logger  zerolog.Logger
}

func newSyncManager(client string, logger zerolog.Logger) *SyncManager {
	return &SyncManager{
		client: client,
		logger: logger.With().Str("component", "media_sync").Str("client", client).Logger(),
	}
}

// SetEnabled toggles the sync. Disabling drops queued changes.
func (m *SyncManager) SetEnabled(enabled bool) {
	m.enabled = enabled
	if !enabled {
		m.queue = nil
	}
}

// Push queues a change notification.
func (m *SyncManager) Push(change protocol.AssetChanged) {
	if !m.enabled {
		m.logger.Debug().Str("asset_path", change.AssetPath).Msg("sync disabled, ignoring asset change")
		return
	}
	m.queue = append(m.queue, change)
}

// Pending returns the number of queued changes.
func (m *SyncManager) Pending() int { return len(m.queue) }

// Tick invalidates every queued asset and reports its new status.
func (m *SyncManager) Tick(mgr *playback.Manager, report func(path string, status playback.Status)) {
	if len(m.queue) == 0 {
		return
	}
	queue := m.queue
	m.queue = nil
	for _, change := range queue {
		mgr.InvalidateAsset(change.AssetPath)
		status := mgr.UnloadedStatus(change.AssetPath)
		if change.Removed {
			status = playback.StatusMissing
		}
		m.logger.Info().Str("asset_path", change.AssetPath).Str("status", status.String()).Msg("asset synchronized")
		report(change.AssetPath, status)
	}
}
