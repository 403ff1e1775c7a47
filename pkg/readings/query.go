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
	"time"
)

var ErrNotAvailable = errors.New("no data available yet")

// Snapshot is a consistent point-in-time view of the store.
type Snapshot struct {
	LastUpdated time.Time
	Readings    []Reading
}

// QueryService serves pull requests for the stored history. It only reads
// from the store and is safe to call from any goroutine.
type QueryService struct {
	store *Store
}

func NewQueryService(store *Store) *QueryService {
	return &QueryService{store: store}
}

// GetSnapshot returns every stored reading, oldest first, stamped with the
// timestamp of the newest one. ErrNotAvailable is returned until the first
// reading is stored.
func (q *QueryService) GetSnapshot() (Snapshot, error) {
	rs := q.store.Snapshot()
	if len(rs) == 0 {
		return Snapshot{}, ErrNotAvailable
	}
	return Snapshot{
		LastUpdated: rs[len(rs)-1].Timestamp,
		Readings:    rs,
	}, nil
}

// LastHeartRate exposes the store's sticky heart rate for status reports.
func (q *QueryService) LastHeartRate() float64 {
	return q.store.LastHeartRate()
}

func (q *QueryService) Count() int {
	return q.store.Len()
}

func (q *QueryService) Capacity() int {
	return q.store.Cap()
}

// LastUpdated returns the timestamp of the newest stored reading, or false
// when nothing was stored yet.
func (q *QueryService) LastUpdated() (time.Time, bool) {
	r, ok := q.store.Latest()
	if !ok {
		return time.Time{}, false
	}
	return r.Timestamp, true
}
