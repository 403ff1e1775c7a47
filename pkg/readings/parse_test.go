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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		wantErr         error
		name            string
		line            string
		lastHeartRate   float64
		wantRaw         float64
		wantNormalized  float64
		wantHeartRate   float64
		expectRejection bool
	}{
		{
			name:           "valid frame",
			line:           "2048,72",
			wantRaw:        2048,
			wantNormalized: 0,
			wantHeartRate:  72,
		},
		{
			name:           "surrounding whitespace",
			line:           "  4096 , 60.5 \r\n",
			wantRaw:        4096,
			wantNormalized: 1,
			wantHeartRate:  60.5,
		},
		{
			name:           "zero raw value",
			line:           "0,100",
			wantRaw:        0,
			wantNormalized: -1,
			wantHeartRate:  100,
		},
		{
			name:           "lower bound inclusive",
			line:           "1024,40",
			wantRaw:        1024,
			wantNormalized: -0.5,
			wantHeartRate:  40,
		},
		{
			name:           "upper bound inclusive",
			line:           "3072,200",
			wantRaw:        3072,
			wantNormalized: 0.5,
			wantHeartRate:  200,
		},
		{
			name:           "heart rate too high keeps previous",
			line:           "2048,999",
			lastHeartRate:  70,
			wantRaw:        2048,
			wantNormalized: 0,
			wantHeartRate:  70,
			wantErr:        ErrHeartRateOutOfRange,
		},
		{
			name:           "heart rate too low keeps previous",
			line:           "2048,39.9",
			lastHeartRate:  65,
			wantRaw:        2048,
			wantNormalized: 0,
			wantHeartRate:  65,
			wantErr:        ErrHeartRateOutOfRange,
		},
		{
			name:           "out of range before any valid rate",
			line:           "2048,0",
			wantRaw:        2048,
			wantNormalized: 0,
			wantHeartRate:  0,
			wantErr:        ErrHeartRateOutOfRange,
		},
		{
			name:            "non numeric raw",
			line:            "abc,70",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
		{
			name:            "non numeric bpm",
			line:            "2048,fast",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
		{
			name:            "single field",
			line:            "2048",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
		{
			name:            "three fields",
			line:            "2048,70,1",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
		{
			name:            "empty line",
			line:            "",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
		{
			name:            "empty field",
			line:            "2048,",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
		{
			name:            "nan",
			line:            "NaN,70",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
		{
			name:            "infinity",
			line:            "2048,+Inf",
			wantErr:         ErrMalformedLine,
			expectRejection: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := Parse(tt.line, tt.lastHeartRate, ts)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			if tt.expectRejection {
				assert.Equal(t, Reading{}, r, "rejected frames yield the zero reading")
				return
			}

			assert.Equal(t, ts, r.Timestamp)
			assert.InDelta(t, tt.wantRaw, r.RawValue, 1e-9)
			assert.InDelta(t, tt.wantNormalized, r.NormalizedValue, 1e-9)
			assert.InDelta(t, tt.wantHeartRate, r.HeartRate, 1e-9)
		})
	}
}

func TestParse_HeartRateStickiness(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	lines := []string{"2048,70", "2048,999", "2048,65"}

	for _, line := range lines {
		r, err := Parse(line, store.LastHeartRate(), time.Now())
		if err != nil {
			require.ErrorIs(t, err, ErrHeartRateOutOfRange)
		}
		store.Append(r)
	}

	snap := store.Snapshot()
	require.Len(t, snap, 3)

	rates := make([]float64, 0, len(snap))
	for _, r := range snap {
		rates = append(rates, r.HeartRate)
	}
	assert.Equal(t, []float64{70, 70, 65}, rates)
	assert.InDelta(t, 65.0, store.LastHeartRate(), 1e-9)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, -1.0, Normalize(0), 1e-9)
	assert.InDelta(t, 0.0, Normalize(2048), 1e-9)
	assert.InDelta(t, 0.999511, Normalize(4095), 1e-6)
}

func TestValidHeartRate(t *testing.T) {
	t.Parallel()

	assert.False(t, ValidHeartRate(39.99))
	assert.True(t, ValidHeartRate(40))
	assert.True(t, ValidHeartRate(120))
	assert.True(t, ValidHeartRate(200))
	assert.False(t, ValidHeartRate(200.01))
}
