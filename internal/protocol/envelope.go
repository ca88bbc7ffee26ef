/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTypeMismatch is returned when decoding an envelope into the wrong payload.
var ErrTypeMismatch = errors.New("envelope type mismatch")

// Envelope wraps one message on the bus.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      MessageType     `json:"type"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient,omitempty"`
	NodeID    string          `json:"node_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope encodes a payload.
func NewEnvelope(t MessageType, sender string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Envelope{
		ID:        uuid.New(),
		Type:      t,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Decode unmarshals the payload into v, checking the message type.
func (e Envelope) Decode(t MessageType, v any) error {
	if e.Type != t {
		return fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, e.Type, t)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", t, err)
	}
	return nil
}

// Marshal encodes an envelope for the wire.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope from the wire.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return e, nil
}
