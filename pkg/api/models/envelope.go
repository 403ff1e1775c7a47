// HeartLink Core
// Copyright (c) 2025 The HeartLink Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of HeartLink Core.
//
// HeartLink Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// HeartLink Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with HeartLink Core.  If not, see <http://www.gnu.org/licenses/>.

package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EnvelopeJSON     = "json"
	EnvelopeSocketIO = "socketio"
)

// socketIOPrefix is the engine.io "message" + socket.io "event" packet type.
const socketIOPrefix = "42"

var ErrInvalidEnvelope = errors.New("invalid event envelope")

type jsonEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type rawEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeEvent frames data as a named event. The json envelope is
// {"event":...,"data":...}; the socketio envelope is 42["event",data].
func EncodeEvent(envelope, event string, data any) ([]byte, error) {
	switch envelope {
	case EnvelopeJSON, "":
		b, err := json.Marshal(jsonEnvelope{Event: event, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s event: %w", event, err)
		}
		return b, nil
	case EnvelopeSocketIO:
		b, err := json.Marshal([]any{event, data})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s event: %w", event, err)
		}
		return append([]byte(socketIOPrefix), b...), nil
	default:
		return nil, fmt.Errorf("%w: unknown envelope %q", ErrInvalidEnvelope, envelope)
	}
}

// DecodeEvent parses a frame produced by EncodeEvent in either envelope.
func DecodeEvent(frame []byte) (event string, data json.RawMessage, err error) {
	frame = bytes.TrimSpace(frame)

	if bytes.HasPrefix(frame, []byte(socketIOPrefix+"[")) {
		var parts []json.RawMessage
		if err := json.Unmarshal(frame[len(socketIOPrefix):], &parts); err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		}
		if len(parts) != 2 {
			return "", nil, fmt.Errorf("%w: expected 2 elements, got %d", ErrInvalidEnvelope, len(parts))
		}
		if err := json.Unmarshal(parts[0], &event); err != nil {
			return "", nil, fmt.Errorf("%w: event name: %w", ErrInvalidEnvelope, err)
		}
		return event, parts[1], nil
	}

	var env rawEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("%w: missing event name", ErrInvalidEnvelope)
	}
	return env.Event, env.Data, nil
}
