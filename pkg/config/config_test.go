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
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, fs afero.Fs, dir, data string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(dir, 0o750))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, CfgFile), []byte(data), 0o600))
}

func TestNewConfig_WritesDefaults(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg, err := NewConfigWithFs(fs, "/etc/heartlink", BaseDefaults)
	require.NoError(t, err)

	exists, err := afero.Exists(fs, filepath.Join("/etc/heartlink", CfgFile))
	require.NoError(t, err)
	assert.True(t, exists, "default config should be saved on first run")
	assert.NotEmpty(t, cfg.DeviceID(), "device id should be generated")
	assert.Equal(t, filepath.Join("/etc/heartlink", CfgFile), cfg.Path())
}

func TestNewConfig_DeviceIDStable(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	first, err := NewConfigWithFs(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	second, err := NewConfigWithFs(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, first.DeviceID(), second.DeviceID())
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigWithFs(afero.NewMemMapFs(), "/cfg", BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, DefaultMatchTokens, cfg.SerialMatchTokens())
	assert.Equal(t, 115200, cfg.SerialBaudRate())
	assert.Equal(t, time.Second, cfg.SerialReadTimeout())
	assert.Equal(t, 10*time.Second, cfg.SerialIdleTimeout())
	assert.Equal(t, 2*time.Second, cfg.SerialSettleDelay())
	assert.Equal(t, 2*time.Second, cfg.SerialRetryDelay())
	assert.Equal(t, 30*time.Second, cfg.SerialMaxRetryDelay())
	assert.Equal(t, 5*time.Second, cfg.SerialReconnectDelay())
	assert.Equal(t, 3, cfg.SerialConnectAttempts())

	tokens := cfg.SerialMatchTokens()
	tokens[0] = "changed"
	assert.Equal(t, "Arduino", DefaultMatchTokens[0], "callers get a copy of the defaults")
	assert.Equal(t, "Arduino", cfg.SerialMatchTokens()[0])
	assert.False(t, cfg.SerialExponentialBackoff())
	assert.True(t, cfg.SerialReleaseStaleLock())

	if runtime.GOOS == "windows" {
		assert.Equal(t, "COM3", cfg.SerialFallbackPath())
	} else {
		assert.Equal(t, "/dev/ttyUSB0", cfg.SerialFallbackPath())
	}

	assert.Equal(t, 1000, cfg.StreamHistorySize())
	assert.Equal(t, time.Duration(0), cfg.StreamThrottle())
	assert.Equal(t, DefaultSubscriberBuffer, cfg.StreamSubscriberBuffer())
	assert.Equal(t, DefaultGreeting, cfg.StreamGreeting())
	assert.Equal(t, EnvelopeJSON, cfg.StreamEnvelope())
	assert.Equal(t, "ecg_data", cfg.StreamEventName())

	assert.Equal(t, DefaultAPIPort, cfg.APIPort())
	assert.Equal(t, ":5000", cfg.APIListen())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
	assert.True(t, cfg.DiscoveryEnabled())
	assert.Empty(t, cfg.GetMQTTPublishers())
	assert.Empty(t, cfg.GetKafkaPublishers())
	assert.Empty(t, cfg.SentryDSN())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/cfg", `
config_schema = 1
debug_logging = true

[serial]
match = ["FTDI"]
fallback_path = "/dev/ttyACM0"
baud_rate = 9600
connect_attempts = 5
exponential_backoff = true
release_stale_lock = false
reconnect_delay_ms = 250

[stream]
history_size = 10
throttle_ms = 5000
envelope = "socketio"
greeting = ""

[service]
api_port = 8080
device_id = "abc"

[[service.publishers.mqtt]]
broker = "localhost:1883"
topic = "heartlink/readings"

[[service.publishers.kafka]]
brokers = ["localhost:9092"]
topic = "readings"
`)

	cfg, err := NewConfigWithFs(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	assert.True(t, cfg.DebugLogging())
	assert.Equal(t, []string{"FTDI"}, cfg.SerialMatchTokens())
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialFallbackPath())
	assert.Equal(t, 9600, cfg.SerialBaudRate())
	assert.Equal(t, 5, cfg.SerialConnectAttempts())
	assert.True(t, cfg.SerialExponentialBackoff())
	assert.False(t, cfg.SerialReleaseStaleLock())
	assert.Equal(t, 250*time.Millisecond, cfg.SerialReconnectDelay())

	assert.Equal(t, 10, cfg.StreamHistorySize())
	assert.Equal(t, 5*time.Second, cfg.StreamThrottle())
	assert.Equal(t, EnvelopeSocketIO, cfg.StreamEnvelope())
	assert.Empty(t, cfg.StreamGreeting(), "explicit empty greeting disables it")

	assert.Equal(t, 8080, cfg.APIPort())
	assert.Equal(t, ":8080", cfg.APIListen())
	assert.Equal(t, "abc", cfg.DeviceID())

	require.Len(t, cfg.GetMQTTPublishers(), 1)
	assert.Equal(t, "heartlink/readings", cfg.GetMQTTPublishers()[0].Topic)
	require.Len(t, cfg.GetKafkaPublishers(), 1)
	assert.Equal(t, []string{"localhost:9092"}, cfg.GetKafkaPublishers()[0].Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		data          string
		errorContains string
	}{
		{
			name:          "schema mismatch",
			data:          "config_schema = 2\n",
			errorContains: "schema version mismatch",
		},
		{
			name:          "bad toml",
			data:          "config_schema = [",
			errorContains: "failed to unmarshal config",
		},
		{
			name:          "unknown envelope",
			data:          "config_schema = 1\n[stream]\nenvelope = \"xml\"\n",
			errorContains: "invalid config",
		},
		{
			name:          "zero history",
			data:          "config_schema = 1\n[stream]\nhistory_size = 0\n",
			errorContains: "invalid config",
		},
		{
			name:          "zero connect attempts",
			data:          "config_schema = 1\n[serial]\nconnect_attempts = 0\n",
			errorContains: "invalid config",
		},
		{
			name:          "mqtt publisher without topic",
			data:          "config_schema = 1\n[[service.publishers.mqtt]]\nbroker = \"localhost:1883\"\n",
			errorContains: "invalid config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			writeConfig(t, fs, "/cfg", tt.data)

			_, err := NewConfigWithFs(fs, "/cfg", BaseDefaults)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestSetters(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg, err := NewConfigWithFs(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	cfg.SetAPIPort(9000)
	cfg.SetStreamThrottle(1500 * time.Millisecond)
	cfg.SetSerialFallbackPath("/dev/ttyS1")
	require.NoError(t, cfg.Save())

	reloaded, err := NewConfigWithFs(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, 9000, reloaded.APIPort())
	assert.Equal(t, 1500*time.Millisecond, reloaded.StreamThrottle())
	assert.Equal(t, "/dev/ttyS1", reloaded.SerialFallbackPath())
}

func TestSerialMatchTokens_ReturnsCopy(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/cfg", "config_schema = 1\n[serial]\nmatch = [\"FTDI\"]\n")

	cfg, err := NewConfigWithFs(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	tokens := cfg.SerialMatchTokens()
	tokens[0] = "changed"
	assert.Equal(t, []string{"FTDI"}, cfg.SerialMatchTokens())
}
