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

package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "no username in path",
			input:    "/usr/local/bin/heartlink",
			expected: "/usr/local/bin/heartlink",
		},
		{
			name:     "linux home path",
			input:    "/home/pat/dev/heartlink-core/pkg/link/manager.go",
			expected: "/home/<user>/dev/heartlink-core/pkg/link/manager.go",
		},
		{
			name:     "linux home path uppercase",
			input:    "/Home/Pat/dev/heartlink-core/pkg/link/manager.go",
			expected: "/home/<user>/dev/heartlink-core/pkg/link/manager.go",
		},
		{
			name:     "macos users path",
			input:    "/Users/pat/Library/heartlink/heartlink.toml",
			expected: "/Users/<user>/Library/heartlink/heartlink.toml",
		},
		{
			name:     "windows users path",
			input:    `C:\Users\pat\AppData\Roaming\heartlink\heartlink.toml`,
			expected: `C:\Users\<user>\AppData\Roaming\heartlink\heartlink.toml`,
		},
		{
			name:     "client address",
			input:    "stream client 192.168.1.20:53122 disconnected",
			expected: "stream client <ip>:53122 disconnected",
		},
		{
			name:     "serial device path untouched",
			input:    "failed to open /dev/ttyACM0",
			expected: "failed to open /dev/ttyACM0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, sanitize(tt.input))
		})
	}
}

func TestSanitizeEvent(t *testing.T) {
	t.Parallel()

	event := &sentry.Event{
		ServerName: "ecg-pi",
		Message:    "config at /home/pat/.config/heartlink/heartlink.toml",
		Extra:      map[string]any{"addr": "10.0.0.4:1000", "count": 3},
		Exception: []sentry.Exception{{
			Value: "dial 10.0.0.9:1883 refused",
			Stacktrace: &sentry.Stacktrace{Frames: []sentry.Frame{{
				AbsPath:  "/home/pat/src/heartlink-core/pkg/link/manager.go",
				Filename: "pkg/link/manager.go",
			}}},
		}},
	}

	got := sanitizeEvent(event)
	require.NotNil(t, got)
	assert.Empty(t, got.ServerName)
	assert.Equal(t, "config at /home/<user>/.config/heartlink/heartlink.toml", got.Message)
	assert.Equal(t, "<ip>:1000", got.Extra["addr"])
	assert.Equal(t, 3, got.Extra["count"])
	assert.Equal(t, "dial <ip>:1883 refused", got.Exception[0].Value)
	assert.Equal(t, "/home/<user>/src/heartlink-core/pkg/link/manager.go", got.Exception[0].Stacktrace.Frames[0].AbsPath)
}

func TestInitWithoutDSN(t *testing.T) {
	t.Parallel()

	require.NoError(t, Init("", "device", "test"))
	assert.False(t, Enabled())
}

func TestCloseAndFlushWhenDisabled(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, Close)
	assert.NotPanics(t, Flush)
}
