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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/heartlink/heartlink-core/internal/telemetry"
	"github.com/heartlink/heartlink-core/pkg/cli"
	"github.com/heartlink/heartlink-core/pkg/config"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		telemetry.Flush()
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet(config.AppName, flag.ContinueOnError)
	flags := cli.SetupFlags(fs)

	exit, err := flags.Pre(fs, os.Args[1:], os.Stdout)
	if err != nil {
		return err
	} else if exit {
		return nil
	}

	cfg, err := cli.Setup(config.BaseDefaults, flags.LogWriters())
	if err != nil {
		return err
	}
	defer telemetry.Close()

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			telemetry.Flush()
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	if flags.Post(fs, cfg, os.Stdout) {
		return nil
	}

	return cli.RunService(cfg)
}
