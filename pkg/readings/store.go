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
	"github.com/heartlink/heartlink-core/pkg/helpers/syncutil"
)

// Store is a fixed-capacity ring of the most recent readings. Once full, each
// append evicts the oldest entry. A single writer and any number of readers
// may use it concurrently.
type Store struct {
	buf           []Reading
	head          int // index of the oldest entry
	size          int
	lastHeartRate float64
	mu            syncutil.RWMutex
}

// NewStore creates a store holding at most capacity readings. Capacities
// below 1 are raised to 1.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		buf: make([]Reading, capacity),
	}
}

// Append adds r as the newest entry. A positive heart rate on r becomes the
// store's last known heart rate; zero leaves the previous value in place.
func (s *Store) Append(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < len(s.buf) {
		s.buf[(s.head+s.size)%len(s.buf)] = r
		s.size++
	} else {
		s.buf[s.head] = r
		s.head = (s.head + 1) % len(s.buf)
	}

	if r.HeartRate > 0 {
		s.lastHeartRate = r.HeartRate
	}
}

// Snapshot returns a copy of the stored readings, oldest first.
func (s *Store) Snapshot() []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Reading, s.size)
	for i := range s.size {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	return out
}

// Latest returns the newest reading, if any.
func (s *Store) Latest() (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size == 0 {
		return Reading{}, false
	}
	return s.buf[(s.head+s.size-1)%len(s.buf)], true
}

// LastHeartRate returns the most recent accepted heart rate, or 0 if none
// has been seen yet.
func (s *Store) LastHeartRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartRate
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Store) Cap() int {
	return len(s.buf)
}
