/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package protocol defines the messages exchanged between playback clients
// (rundown controllers) and playback servers (render nodes).
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

// ErrUnknownAction is returned when an action name is not recognised.
var ErrUnknownAction = errors.New("unknown playback action")

// Action is a playback command verb.
type Action string

const (
	ActionNone        Action = "none"
	ActionLoad        Action = "load"
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionUnload      Action = "unload"
	ActionSetUserData Action = "set_user_data"
	ActionGetUserData Action = "get_user_data"
	ActionStatus      Action = "status"
)

var actionPriority = map[Action]int{
	ActionLoad:        1,
	ActionStart:       2,
	ActionSetUserData: 3,
	ActionGetUserData: 4,
	ActionStop:        5,
	ActionUnload:      6,
	ActionStatus:      7,
}

// Priority is the execution order of the action within one tick. Lower runs
// first; status queries run last so they observe the tick's outcome.
func (a Action) Priority() int {
	if p, ok := actionPriority[a]; ok {
		return p
	}
	return 10
}

// Delayable reports whether the configured random delay applies to the action.
func (a Action) Delayable() bool {
	return a == ActionLoad || a == ActionStart
}

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	a := Action(name)
	if _, ok := actionPriority[a]; ok || a == ActionNone {
		return a, nil
	}
	return ActionNone, fmt.Errorf("%w %q", ErrUnknownAction, name)
}

// MessageType tags an envelope payload.
type MessageType string

const (
	TypePing                 MessageType = "ping"
	TypePong                 MessageType = "pong"
	TypeUpdateClientInfo     MessageType = "update_client_info"
	TypeUpdateClientUserData MessageType = "update_client_user_data"
	TypeUpdateServerUserData MessageType = "update_server_user_data"
	TypePlaybackRequest      MessageType = "playback_request"
	TypePlaybackStatus       MessageType = "playback_status"
	TypePlaybackStatuses     MessageType = "playback_statuses"
	TypeAssetStatus          MessageType = "asset_status"
	TypeAssetChanged         MessageType = "asset_changed"
	TypeRemoteControlUpdate  MessageType = "remote_control_update"
	TypeAnimationRequest     MessageType = "animation_request"
	TypeTransitionStart      MessageType = "transition_start"
	TypeTransitionStop       MessageType = "transition_stop"
	TypeTransitionEvent      MessageType = "transition_event"
	TypeSequenceEvent        MessageType = "sequence_event"
	TypeBroadcastRequest     MessageType = "broadcast_request"
	TypeBroadcastStatus      MessageType = "broadcast_status"
)

// Command is one entry of a playback request.
type Command struct {
	InstanceID uuid.UUID `json:"instance_id"`
	Action     Action    `json:"action"`
	Channel    string    `json:"channel,omitempty"`
	AssetPath  string    `json:"asset_path,omitempty"`
	Arguments  string    `json:"arguments,omitempty"`
}

// Ping announces a client and keeps it alive.
type Ping struct {
	ClientName          string  `json:"client_name"`
	PingIntervalSeconds float64 `json:"ping_interval_seconds"`
	AutoPing            bool    `json:"auto_ping"`
}

// Interval returns the announced ping interval.
func (p Ping) Interval() time.Duration {
	return time.Duration(p.PingIntervalSeconds * float64(time.Second))
}

// Pong answers a ping.
type Pong struct {
	ServerName        string `json:"server_name"`
	AutoPong          bool   `json:"auto_pong"`
	RequestClientInfo bool   `json:"request_client_info"`
	ProcessID         int    `json:"process_id"`
	ContentPath       string `json:"content_path"`
}

// UpdateClientInfo carries the client's host details and settings.
type UpdateClientInfo struct {
	ClientName   string            `json:"client_name"`
	ComputerName string            `json:"computer_name"`
	ContentPath  string            `json:"content_path"`
	ProcessID    int               `json:"process_id"`
	Settings     map[string]string `json:"settings,omitempty"`
}

// UserDataUpdate sets or clears one user data key. Used in both directions.
type UserDataUpdate struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Remove bool   `json:"remove,omitempty"`
}

// ServerUserData is the full server user data table sent to a new client.
type ServerUserData struct {
	Entries map[string]string `json:"entries"`
}

// PlaybackRequest is a batch of commands. Replies arrive as statuses.
type PlaybackRequest struct {
	Commands []Command `json:"commands"`
}

// PlaybackStatus reports one instance.
type PlaybackStatus struct {
	InstanceID    uuid.UUID       `json:"instance_id"`
	Channel       string          `json:"channel"`
	AssetPath     string          `json:"asset_path"`
	Status        playback.Status `json:"status"`
	UserData      string          `json:"user_data,omitempty"`
	ValidUserData bool            `json:"valid_user_data"`
}

// PlaybackStatuses reports several instances sharing a channel and status.
type PlaybackStatuses struct {
	Channel     string          `json:"channel"`
	Status      playback.Status `json:"status"`
	InstanceIDs []uuid.UUID     `json:"instance_ids"`
	AssetPaths  []string        `json:"asset_paths"`
}

// AssetStatus reports an asset that is not tied to an instance.
type AssetStatus struct {
	AssetPath string          `json:"asset_path"`
	Status    playback.Status `json:"status"`
}

// AssetChanged tells a server that a client modified an asset.
type AssetChanged struct {
	AssetPath string `json:"asset_path"`
	Removed   bool   `json:"removed,omitempty"`
}

// RemoteControlUpdate pushes values to an instance.
type RemoteControlUpdate struct {
	InstanceID uuid.UUID       `json:"instance_id"`
	Channel    string          `json:"channel"`
	AssetPath  string          `json:"asset_path"`
	Values     rcvalues.Values `json:"values"`
}

// AnimationRequest pushes animation commands to an instance.
type AnimationRequest struct {
	InstanceID uuid.UUID                   `json:"instance_id"`
	Channel    string                      `json:"channel"`
	AssetPath  string                      `json:"asset_path"`
	Commands   []playback.AnimationCommand `json:"commands"`
}

// TransitionStartRequest replicates a page transition to a server.
type TransitionStartRequest struct {
	TransitionID             uuid.UUID         `json:"transition_id"`
	Channel                  string            `json:"channel"`
	EnterInstanceIDs         []uuid.UUID       `json:"enter_instance_ids"`
	EnterValues              []rcvalues.Values `json:"enter_values,omitempty"`
	PlayingInstanceIDs       []uuid.UUID       `json:"playing_instance_ids,omitempty"`
	ExitInstanceIDs          []uuid.UUID       `json:"exit_instance_ids,omitempty"`
	ExitLayers               []string          `json:"exit_layers,omitempty"`
	UnloadDiscardedInstances bool              `json:"unload_discarded_instances"`
	Flags                    uint8             `json:"flags"`
}

// ValuesFor returns the entering values for the i-th enter instance.
func (r TransitionStartRequest) ValuesFor(i int) rcvalues.Values {
	if i < len(r.EnterValues) {
		return r.EnterValues[i]
	}
	return rcvalues.New()
}

// TransitionStopRequest stops a replicated transition.
type TransitionStopRequest struct {
	TransitionID uuid.UUID `json:"transition_id"`
	Channel      string    `json:"channel"`
}

// TransitionEvent is sent back to the client for every role step.
type TransitionEvent struct {
	TransitionID uuid.UUID `json:"transition_id"`
	InstanceID   uuid.UUID `json:"instance_id"`
	EventFlags   uint8     `json:"event_flags"`
	Frame        uint64    `json:"frame"`
}

// SequenceEvent replicates an animation sequence event of an instance.
type SequenceEvent struct {
	InstanceID uuid.UUID `json:"instance_id"`
	Channel    string    `json:"channel"`
	AssetPath  string    `json:"asset_path"`
	Sequence   string    `json:"sequence"`
	EventType  string    `json:"event_type"`
	Frame      uint64    `json:"frame"`
}

// BroadcastAction is a channel-level verb.
type BroadcastAction string

const (
	BroadcastStart         BroadcastAction = "start"
	BroadcastStop          BroadcastAction = "stop"
	BroadcastUpdateConfig  BroadcastAction = "update_config"
	BroadcastDeleteChannel BroadcastAction = "delete_channel"
)

// BroadcastRequest controls broadcast channels on a server.
type BroadcastRequest struct {
	Action  BroadcastAction         `json:"action"`
	Channel string                  `json:"channel,omitempty"`
	Outputs []broadcast.MediaOutput `json:"outputs,omitempty"`
}

// BroadcastStatus reports one channel.
type BroadcastStatus struct {
	Channel     string                  `json:"channel"`
	Index       int                     `json:"channel_index"`
	NumChannels int                     `json:"num_channels"`
	State       broadcast.ChannelState  `json:"state"`
	Outputs     []broadcast.MediaOutput `json:"outputs,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// FromChannelStatus converts a registry status.
func FromChannelStatus(name string, s broadcast.Status) BroadcastStatus {
	return BroadcastStatus{
		Channel:     name,
		Index:       s.ChannelIndex,
		NumChannels: s.NumChannels,
		State:       s.State,
		Outputs:     s.Outputs,
	}
}
