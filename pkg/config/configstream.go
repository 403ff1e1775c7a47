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

package config

import "time"

const (
	EnvelopeJSON     = "json"
	EnvelopeSocketIO = "socketio"

	DefaultHistorySize      = 1000
	DefaultSubscriberBuffer = 64
	DefaultEventName        = "ecg_data"
	DefaultGreeting         = "Connected to HeartLink ECG stream"
)

type Stream struct {
	HistorySize      *int    `toml:"history_size,omitempty" validate:"omitempty,min=1,max=1000000"`
	ThrottleMs       *int    `toml:"throttle_ms,omitempty" validate:"omitempty,min=0"`
	SubscriberBuffer *int    `toml:"subscriber_buffer,omitempty" validate:"omitempty,min=1,max=65536"`
	Greeting         *string `toml:"greeting,omitempty"`
	Envelope         string  `toml:"envelope,omitempty" validate:"omitempty,oneof=json socketio"`
	EventName        string  `toml:"event_name,omitempty" validate:"omitempty,printascii"`
}

func (c *Instance) StreamHistorySize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return intOr(c.vals.Stream.HistorySize, DefaultHistorySize)
}

// StreamThrottle returns the minimum interval between broadcast readings.
// Zero means every accepted reading is broadcast.
func (c *Instance) StreamThrottle() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Stream.ThrottleMs, 0)
}

func (c *Instance) SetStreamThrottle(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := int(d / time.Millisecond)
	c.vals.Stream.ThrottleMs = &ms
}

func (c *Instance) StreamSubscriberBuffer() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return intOr(c.vals.Stream.SubscriberBuffer, DefaultSubscriberBuffer)
}

// StreamGreeting returns the message sent to a client right after it
// connects. An explicitly empty string disables the greeting.
func (c *Instance) StreamGreeting() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Stream.Greeting == nil {
		return DefaultGreeting
	}
	return *c.vals.Stream.Greeting
}

func (c *Instance) StreamEnvelope() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Stream.Envelope == "" {
		return EnvelopeJSON
	}
	return c.vals.Stream.Envelope
}

func (c *Instance) StreamEventName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Stream.EventName == "" {
		return DefaultEventName
	}
	return c.vals.Stream.EventName
}
