/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the on-disk channel layout.
type Profile struct {
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig describes one channel in a profile file.
type ChannelConfig struct {
	Name    string        `yaml:"name"`
	Type    ChannelType   `yaml:"type"`
	Outputs []MediaOutput `yaml:"outputs"`
}

// DefaultProfile is used when no channels file is configured: one program
// channel and the preview channel.
func DefaultProfile(previewChannel string) Profile {
	return Profile{Channels: []ChannelConfig{
		{Name: "Program", Type: ChannelProgram},
		{Name: previewChannel, Type: ChannelPreview},
	}}
}

// LoadProfile reads a YAML channels file.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read channels file: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse channels file %s: %w", path, err)
	}
	for i, ch := range p.Channels {
		if ch.Type == "" {
			p.Channels[i].Type = ChannelProgram
		}
	}
	return p, nil
}

// Apply registers every channel of the profile.
func (r *Registry) Apply(p Profile) error {
	for _, ch := range p.Channels {
		if err := r.AddChannel(ch.Name, ch.Type, ch.Outputs); err != nil {
			return err
		}
	}
	return nil
}
