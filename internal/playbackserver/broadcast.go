/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playbackserver

import (
	"github.com/friendsincode/grimnir_graphics/internal/protocol"
)

func (s *Server) handleBroadcastRequest(client string, req protocol.BroadcastRequest) {
	if s.registry == nil {
		s.logger.Warn().Str("action", string(req.Action)).Msg("broadcast request without a channel registry")
		return
	}

	channels := []string{req.Channel}
	if req.Channel == "" {
		channels = s.registry.ChannelNames()
	}

	switch req.Action {
	case protocol.BroadcastStart:
		for _, name := range channels {
			var err error
			if req.Channel != "" && len(req.Outputs) > 0 {
				err = s.registry.UpdateConfig(name, req.Outputs)
			}
			if err == nil {
				err = s.registry.Start(name)
			}
			s.replyBroadcast(client, name, err)
		}
	case protocol.BroadcastStop:
		for _, name := range channels {
			s.replyBroadcast(client, name, s.registry.Stop(name))
		}
	case protocol.BroadcastUpdateConfig:
		if req.Channel == "" {
			s.logger.Warn().Msg("update config requires a channel")
			return
		}
		s.replyBroadcast(client, req.Channel, s.registry.UpdateConfig(req.Channel, req.Outputs))
	case protocol.BroadcastDeleteChannel:
		if err := s.registry.Delete(req.Channel); err != nil {
			s.logger.Error().Err(err).Str("channel", req.Channel).Msg("delete channel failed")
			s.replyBroadcast(client, req.Channel, err)
			return
		}
		// Indexes shift, so every channel is reported again.
		for _, name := range s.registry.ChannelNames() {
			s.replyBroadcast(client, name, nil)
		}
	default:
		s.logger.Warn().Str("action", string(req.Action)).Msg("unknown broadcast action")
	}
}

func (s *Server) replyBroadcast(client, channel string, err error) {
	status := protocol.FromChannelStatus(channel, s.registry.Status(channel))
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", channel).Msg("broadcast request failed")
		status.Error = err.Error()
	}
	s.send(client, protocol.TypeBroadcastStatus, status)
}
