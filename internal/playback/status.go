/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "fmt"

// Status is the lifecycle state of a playback instance as reported to clients.
type Status int

const (
	StatusUnknown Status = iota
	StatusMissing
	StatusAvailable
	StatusLoading
	StatusLoaded
	StatusStarting
	StatusStarted
	StatusStopping
	StatusUnloading
	StatusError
)

var statusNames = map[Status]string{
	StatusUnknown:   "unknown",
	StatusMissing:   "missing",
	StatusAvailable: "available",
	StatusLoading:   "loading",
	StatusLoaded:    "loaded",
	StatusStarting:  "starting",
	StatusStarted:   "started",
	StatusStopping:  "stopping",
	StatusUnloading: "unloading",
	StatusError:     "error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus converts a status name back to a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown playback status %q", name)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// IsLoaded reports whether an instance with this status holds a loaded graph.
func (s Status) IsLoaded() bool {
	switch s {
	case StatusLoaded, StatusStarting, StatusStarted, StatusStopping:
		return true
	}
	return false
}

// IsPlaying reports whether an instance with this status is on air.
func (s Status) IsPlaying() bool {
	return s == StatusStarting || s == StatusStarted
}

// PlayableStatus is the state of the rendered object behind an instance.
type PlayableStatus int

const (
	PlayableUnknown PlayableStatus = iota
	PlayableUnloaded
	PlayableLoading
	PlayableLoaded
	PlayableVisible
	PlayableError
)

func (s PlayableStatus) String() string {
	switch s {
	case PlayableUnknown:
		return "unknown"
	case PlayableUnloaded:
		return "unloaded"
	case PlayableLoading:
		return "loading"
	case PlayableLoaded:
		return "loaded"
	case PlayableVisible:
		return "visible"
	case PlayableError:
		return "error"
	}
	return fmt.Sprintf("playable_status(%d)", int(s))
}

// deriveStatus advances an instance status from what its graph reports.
func deriveStatus(current Status, ps PlayableStatus, running bool) Status {
	if ps == PlayableError {
		return StatusError
	}
	switch current {
	case StatusUnknown, StatusLoading:
		switch ps {
		case PlayableLoaded:
			return StatusLoaded
		case PlayableVisible:
			return StatusStarted
		}
	case StatusLoaded:
		if ps == PlayableVisible {
			return StatusStarted
		}
	case StatusStarting:
		if ps == PlayableVisible {
			return StatusStarted
		}
	case StatusStarted:
		if !running && ps == PlayableLoaded {
			return StatusLoaded
		}
	case StatusStopping:
		if !running {
			return StatusLoaded
		}
	}
	return current
}
