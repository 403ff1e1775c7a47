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

// Package cli holds the command line flags and the startup sequence shared
// by every heartlink binary.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heartlink/heartlink-core/internal/telemetry"
	"github.com/heartlink/heartlink-core/pkg/config"
	"github.com/heartlink/heartlink-core/pkg/helpers"
	"github.com/heartlink/heartlink-core/pkg/service"
	"github.com/rs/zerolog/log"
)

type Flags struct {
	Version    *bool
	Debug      *bool
	Foreground *bool
	Device     *string
	Port       *int
	ThrottleMs *int
	ShowConfig *bool
}

// SetupFlags defines the flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		Debug: fs.Bool(
			"debug",
			false,
			"enable debug logging for this run",
		),
		Foreground: fs.Bool(
			"foreground",
			false,
			"also write logs to stderr",
		),
		Device: fs.String(
			"device",
			"",
			"serial device to use when no known board is detected",
		),
		Port: fs.Int(
			"port",
			0,
			"API port, overrides the config file",
		),
		ThrottleMs: fs.Int(
			"throttle-ms",
			0,
			"minimum interval between broadcast readings in milliseconds (0 sends every reading)",
		),
		ShowConfig: fs.Bool(
			"show-config",
			false,
			"print the config file path and exit",
		),
	}
}

func isFlagPassed(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and handles the flags that exit before any setup.
// Returns true when the process should exit.
func (f *Flags) Pre(fs *flag.FlagSet, args []string, out io.Writer) (bool, error) {
	if err := fs.Parse(args); err != nil {
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *f.Version {
		_, _ = fmt.Fprintf(out, "HeartLink v%s\n", config.AppVersion)
		return true, nil
	}
	return false, nil
}

// Post applies flag overrides on top of the loaded config. Overrides live
// for this run only and are never saved.
func (f *Flags) Post(fs *flag.FlagSet, cfg *config.Instance, out io.Writer) bool {
	if *f.ShowConfig {
		_, _ = fmt.Fprintln(out, cfg.Path())
		return true
	}

	if isFlagPassed(fs, "device") && *f.Device != "" {
		log.Info().Str("device", *f.Device).Msg("serial device set from flag")
		cfg.SetSerialFallbackPath(*f.Device)
	}
	if isFlagPassed(fs, "port") {
		log.Info().Int("port", *f.Port).Msg("api port set from flag")
		cfg.SetAPIPort(*f.Port)
	}
	if isFlagPassed(fs, "throttle-ms") && *f.ThrottleMs >= 0 {
		log.Info().Int("throttle_ms", *f.ThrottleMs).Msg("stream throttle set from flag")
		cfg.SetStreamThrottle(time.Duration(*f.ThrottleMs) * time.Millisecond)
	}
	if *f.Debug {
		cfg.SetDebugLogging(true)
		helpers.SetDebugLogging(true)
	}
	return false
}

// LogWriters returns the extra log writers for this run.
func (f *Flags) LogWriters() []io.Writer {
	if *f.Foreground {
		return []io.Writer{os.Stderr}
	}
	return nil
}

// Setup initializes logging, the user config and error reporting.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	defaultConfig config.Values,
	writers []io.Writer,
) (*config.Instance, error) {
	err := helpers.InitLogging(helpers.LogDir(), writers)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(helpers.ConfigDir(), defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	helpers.SetDebugLogging(cfg.DebugLogging())

	if err := telemetry.Init(
		cfg.SentryDSN(),
		cfg.DeviceID(),
		config.AppVersion,
	); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}

// RunService runs the relay until SIGINT or SIGTERM, or until the service
// stops on its own.
func RunService(cfg *config.Instance, opts ...service.Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", config.AppVersion).Msg("starting HeartLink")
	err := service.Run(ctx, cfg, opts...)
	if err != nil {
		log.Error().Err(err).Msg("service exited with error")
		return fmt.Errorf("service failed: %w", err)
	}
	log.Info().Msg("HeartLink stopped")
	return nil
}
