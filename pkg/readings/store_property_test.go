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
	"strconv"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestPropertyStoreRetainsLastN verifies the store always holds exactly the
// most recent min(n, capacity) readings in insertion order.
func TestPropertyStoreRetainsLastN(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 50).Draw(t, "capacity")
		values := rapid.SliceOfN(rapid.Float64Range(0, 4095), 0, 200).Draw(t, "values")

		s := NewStore(capacity)
		for _, v := range values {
			s.Append(Reading{RawValue: v})
		}

		want := values
		if len(values) > capacity {
			want = values[len(values)-capacity:]
		}

		snap := s.Snapshot()
		if len(snap) != len(want) {
			t.Fatalf("len = %d, want %d", len(snap), len(want))
		}
		if s.Len() > capacity {
			t.Fatalf("len %d exceeds capacity %d", s.Len(), capacity)
		}
		for i := range want {
			if snap[i].RawValue != want[i] {
				t.Fatalf("index %d = %v, want %v", i, snap[i].RawValue, want[i])
			}
		}
	})
}

// TestPropertyLastHeartRateSticky verifies the last heart rate is always the
// most recent in-range value, regardless of rejected frames in between.
func TestPropertyLastHeartRateSticky(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		rates := rapid.SliceOfN(rapid.Float64Range(-100, 400), 1, 100).Draw(t, "rates")

		s := NewStore(8)
		want := 0.0
		for _, bpm := range rates {
			r, _ := Parse("2048,"+strconv.FormatFloat(bpm, 'f', -1, 64), s.LastHeartRate(), time.Time{})
			s.Append(r)
			if ValidHeartRate(bpm) {
				want = bpm
			}
		}

		if got := s.LastHeartRate(); got != want {
			t.Fatalf("last heart rate = %v, want %v", got, want)
		}
	})
}
