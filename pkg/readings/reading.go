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

// Package readings holds the ECG sample type, the serial frame parser and the
// bounded in-memory history that pull queries are served from.
package readings

import "time"

const (
	// ADCMidScale is the zero point of the 12-bit ADC feeding the frames.
	ADCMidScale = 2048.0

	MinHeartRate = 40.0
	MaxHeartRate = 200.0
)

// Reading is one parsed sample. It is a plain value and is copied wherever
// it goes, so holders never share mutable state.
type Reading struct {
	Timestamp       time.Time
	RawValue        float64
	NormalizedValue float64
	HeartRate       float64
}

// Normalize maps a raw ADC count onto roughly [-1, 1].
func Normalize(raw float64) float64 {
	return (raw - ADCMidScale) / ADCMidScale
}

// ValidHeartRate reports whether bpm is inside the accepted physiological range.
func ValidHeartRate(bpm float64) bool {
	return bpm >= MinHeartRate && bpm <= MaxHeartRate
}
