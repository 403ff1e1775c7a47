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

// Package helpers has shared fixtures for tests across packages.
package helpers

import (
	"testing"

	"github.com/heartlink/heartlink-core/pkg/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// TestConfigDir is the config directory used on the in-memory filesystem.
const TestConfigDir = "/cfg"

// NewTestConfig loads a config from an in-memory filesystem whose file holds
// the schema line followed by extra TOML.
func NewTestConfig(t testing.TB, extra string) *config.Instance {
	t.Helper()
	cfg, _ := NewTestConfigWithFs(t, extra)
	return cfg
}

// NewTestConfigWithFs is NewTestConfig that also returns the filesystem, for
// tests that inspect what was saved.
func NewTestConfigWithFs(t testing.TB, extra string) (*config.Instance, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	data := []byte("config_schema = 1\n" + extra)
	require.NoError(t, afero.WriteFile(fs, TestConfigDir+"/"+config.CfgFile, data, 0o600))

	cfg, err := config.NewConfigWithFs(fs, TestConfigDir, config.BaseDefaults)
	require.NoError(t, err)
	return cfg, fs
}
