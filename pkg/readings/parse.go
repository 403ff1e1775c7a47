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

package readings

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedLine = errors.New("malformed line")

	// ErrHeartRateOutOfRange is returned alongside a usable Reading: the
	// sample is kept and carries the previous heart rate.
	ErrHeartRateOutOfRange = errors.New("heart rate out of range")
)

// Parse decodes a "raw_value,bpm" frame. lastHeartRate is the most recently
// accepted heart rate and is reused when bpm falls outside the valid range.
//
// When the returned error wraps ErrHeartRateOutOfRange the Reading is still
// valid and should be stored. Any other error means the frame was rejected
// and the Reading is the zero value.
func Parse(line string, lastHeartRate float64, ts time.Time) (Reading, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 2 {
		return Reading{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformedLine, len(fields))
	}

	raw, err := parseField(fields[0])
	if err != nil {
		return Reading{}, fmt.Errorf("%w: raw value: %w", ErrMalformedLine, err)
	}

	bpm, err := parseField(fields[1])
	if err != nil {
		return Reading{}, fmt.Errorf("%w: heart rate: %w", ErrMalformedLine, err)
	}

	r := Reading{
		Timestamp:       ts,
		RawValue:        raw,
		NormalizedValue: Normalize(raw),
		HeartRate:       bpm,
	}

	if !ValidHeartRate(bpm) {
		r.HeartRate = lastHeartRate
		return r, fmt.Errorf("%w: %g bpm", ErrHeartRateOutOfRange, bpm)
	}

	return r, nil
}

func parseField(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse number: %w", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number: %q", s)
	}
	return v, nil
}
