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

package link

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.bug.st/serial"
)

var (
	ErrDeviceNotFound = errors.New("serial device not found")
	ErrPortBusy       = errors.New("serial port busy")
	ErrConnectFailed  = errors.New("serial connect failed")
	ErrLinkError      = errors.New("serial link error")
	ErrReadTimeout    = errors.New("no data within idle timeout")
	ErrShutdown       = errors.New("serial link shut down")
)

// portErrorCode extracts the go.bug.st/serial error code from err, if any.
func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}

// classifyOpenError maps a failed open onto the link error taxonomy.
func classifyOpenError(path string, err error) error {
	if errors.Is(err, ErrPortBusy) || errors.Is(err, ErrDeviceNotFound) {
		return err
	}

	if code, ok := portErrorCode(err); ok {
		switch code {
		case serial.PortBusy:
			return fmt.Errorf("%w: %s: %w", ErrPortBusy, path, err)
		case serial.PortNotFound, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %s: %w", ErrDeviceNotFound, path, err)
		default:
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
	}

	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrDeviceNotFound, path, err)
	}

	// Fallback to string matching for OS-level errors that aren't wrapped
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "resource busy") || strings.Contains(errStr, "access is denied") {
		return fmt.Errorf("%w: %s: %w", ErrPortBusy, path, err)
	}

	return fmt.Errorf("failed to open %s: %w", path, err)
}
