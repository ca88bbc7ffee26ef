/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

var (
	// ErrAssetNotFound indicates the asset path does not resolve to content.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrLoadFailed indicates the playback graph could not be created.
	ErrLoadFailed = errors.New("playback graph load failed")
)

// AnimationAction enumerates animation commands understood by a graph.
type AnimationAction string

const (
	AnimationPlay         AnimationAction = "play"
	AnimationContinue     AnimationAction = "continue"
	AnimationStop         AnimationAction = "stop"
	AnimationPreviewFrame AnimationAction = "preview_frame"
	AnimationCameraCut    AnimationAction = "camera_cut"
)

// AnimationCommand targets a named sequence of a graph.
type AnimationCommand struct {
	Action   AnimationAction `json:"action"`
	Sequence string          `json:"sequence,omitempty"`
}

// LoadOptions are passed through to the loader.
type LoadOptions struct {
	// Preview loads the graph for a preview channel.
	Preview bool
	// Arguments is an opaque loader argument string from the request.
	Arguments string
}

// Graph is the opaque playback graph behind an instance. Implementations
// must not block; loading progress is observed through PlayableStatus.
type Graph interface {
	PlayableStatus() PlayableStatus
	IsRunning() bool
	Start()
	Stop(force bool)
	Unload()
	ApplyAnimation(cmd AnimationCommand)
	ApplyRemoteControl(values rcvalues.Values)
	// IsRemoteProxy is true when the graph renders on another node and only
	// mirrors its status locally.
	IsRemoteProxy() bool
	Tick(frame uint64)
}

// Loader creates playback graphs.
type Loader interface {
	Load(assetPath, channel string, opts LoadOptions) (Graph, error)
}

// AssetResolver answers whether an asset path can be loaded locally.
type AssetResolver interface {
	Exists(assetPath string) bool
}

// FileResolver resolves asset paths against a content root on disk.
type FileResolver struct {
	Root string
}

// NewFileResolver creates a resolver rooted at root.
func NewFileResolver(root string) *FileResolver {
	return &FileResolver{Root: root}
}

// Exists reports whether the asset file is present under the content root.
func (r *FileResolver) Exists(assetPath string) bool {
	full, ok := r.Path(assetPath)
	if !ok {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// Path maps an asset path to a file path. Paths escaping the root are rejected.
func (r *FileResolver) Path(assetPath string) (string, bool) {
	if assetPath == "" {
		return "", false
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(assetPath, "\\", "/"))
	full := filepath.Join(r.Root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	rel, err := filepath.Rel(r.Root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return full, true
}

// AssetPathFor maps a file path under the root back to an asset path.
func (r *FileResolver) AssetPathFor(file string) (string, bool) {
	rel, err := filepath.Rel(r.Root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
