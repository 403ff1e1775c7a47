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

import (
	"runtime"
	"slices"
	"time"
)

const (
	DefaultBaudRate         = 115200
	DefaultReadTimeoutMs    = 1000
	DefaultIdleTimeoutMs    = 10000
	DefaultSettleDelayMs    = 2000
	DefaultRetryDelayMs     = 2000
	DefaultMaxRetryDelayMs  = 30000
	DefaultReconnectDelayMs = 5000
	DefaultConnectAttempts  = 3
)

// DefaultMatchTokens are substrings of USB-serial bridge descriptions used
// by common microcontroller boards. 1a86:7523 is the CH340 VID:PID, for
// boards that report a generic product string.
var DefaultMatchTokens = []string{"Arduino", "CH340", "1a86:7523"}

type Serial struct {
	BaudRate           *int     `toml:"baud_rate,omitempty" validate:"omitempty,min=300,max=4000000"`
	ReadTimeoutMs      *int     `toml:"read_timeout_ms,omitempty" validate:"omitempty,min=1"`
	IdleTimeoutMs      *int     `toml:"idle_timeout_ms,omitempty" validate:"omitempty,min=0"`
	SettleDelayMs      *int     `toml:"settle_delay_ms,omitempty" validate:"omitempty,min=0"`
	RetryDelayMs       *int     `toml:"retry_delay_ms,omitempty" validate:"omitempty,min=0"`
	MaxRetryDelayMs    *int     `toml:"max_retry_delay_ms,omitempty" validate:"omitempty,min=0"`
	ReconnectDelayMs   *int     `toml:"reconnect_delay_ms,omitempty" validate:"omitempty,min=0"`
	ConnectAttempts    *int     `toml:"connect_attempts,omitempty" validate:"omitempty,min=1"`
	ReleaseStaleLock   *bool    `toml:"release_stale_lock,omitempty"`
	FallbackPath       string   `toml:"fallback_path,omitempty"`
	Match              []string `toml:"match,omitempty"`
	ExponentialBackoff bool     `toml:"exponential_backoff,omitempty"`
}

// SerialMatchTokens returns the description substrings used to pick a
// serial device, falling back to DefaultMatchTokens.
func (c *Instance) SerialMatchTokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vals.Serial.Match) == 0 {
		return slices.Clone(DefaultMatchTokens)
	}
	return slices.Clone(c.vals.Serial.Match)
}

// SerialFallbackPath returns the configured device path used when no
// enumerated port matches.
func (c *Instance) SerialFallbackPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.FallbackPath != "" {
		return c.vals.Serial.FallbackPath
	}
	if runtime.GOOS == "windows" {
		return "COM3"
	}
	return "/dev/ttyUSB0"
}

func (c *Instance) SetSerialFallbackPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.FallbackPath = path
}

func (c *Instance) SerialBaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return intOr(c.vals.Serial.BaudRate, DefaultBaudRate)
}

func (c *Instance) SerialReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Serial.ReadTimeoutMs, DefaultReadTimeoutMs)
}

// SerialIdleTimeout is how long a connected link may go without receiving
// any byte before it is considered down. Zero disables the check.
func (c *Instance) SerialIdleTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Serial.IdleTimeoutMs, DefaultIdleTimeoutMs)
}

func (c *Instance) SerialSettleDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Serial.SettleDelayMs, DefaultSettleDelayMs)
}

func (c *Instance) SerialRetryDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Serial.RetryDelayMs, DefaultRetryDelayMs)
}

func (c *Instance) SerialMaxRetryDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Serial.MaxRetryDelayMs, DefaultMaxRetryDelayMs)
}

func (c *Instance) SerialReconnectDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Serial.ReconnectDelayMs, DefaultReconnectDelayMs)
}

func (c *Instance) SerialConnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return intOr(c.vals.Serial.ConnectAttempts, DefaultConnectAttempts)
}

func (c *Instance) SerialExponentialBackoff() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.ExponentialBackoff
}

func (c *Instance) SerialReleaseStaleLock() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.ReleaseStaleLock == nil {
		return true
	}
	return *c.vals.Serial.ReleaseStaleLock
}
