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

// Package helpers holds process-wide plumbing: log setup and the default
// directories the relay keeps its files in.
package helpers

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/heartlink/heartlink-core/pkg/config"
)

var (
	userDirOnce        sync.Once
	userDirCache       string
	userDirCacheExists bool
)

// HasUserDir reports whether a portable "user" directory sits next to the
// binary. When it does every file lives there.
func HasUserDir() (string, bool) {
	userDirOnce.Do(func() {
		userDirCache, userDirCacheExists = findUserDir(os.Getenv(config.AppEnv))
	})
	return userDirCache, userDirCacheExists
}

func findUserDir(exePath string) (string, bool) {
	if exePath == "" {
		var err error
		exePath, err = os.Executable()
		if err != nil {
			return "", false
		}
	}

	userDir := filepath.Join(filepath.Dir(exePath), config.UserDir)
	info, err := os.Stat(userDir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return userDir, true
}

// ConfigDir is where heartlink.toml is read from.
func ConfigDir() string {
	return configDir(HasUserDir())
}

// LogDir is where the rotating log file is written.
func LogDir() string {
	return logDir(HasUserDir())
}

func configDir(userDir string, portable bool) string {
	if portable {
		return userDir
	}
	return filepath.Join(xdg.ConfigHome, config.AppName)
}

func logDir(userDir string, portable bool) string {
	if portable {
		return filepath.Join(userDir, config.LogsDir)
	}
	return filepath.Join(xdg.StateHome, config.AppName, config.LogsDir)
}
