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

package models

import (
	"time"

	"github.com/heartlink/heartlink-core/pkg/readings"
)

const (
	EventConnected = "connected"
	EventError     = "error"
)

// TimeFormat is used for every timestamp on the wire.
const TimeFormat = time.RFC3339Nano

type ReadingResponse struct {
	Timestamp string  `json:"timestamp" csv:"timestamp"`
	Value     float64 `json:"value" csv:"value"`
	HeartRate float64 `json:"heart_rate" csv:"heart_rate"`
}

type DataResponse struct {
	LastUpdated string            `json:"last_updated"`
	Readings    []ReadingResponse `json:"readings"`
}

type StatusResponse struct {
	LinkState     string  `json:"link_state"`
	Device        string  `json:"device"`
	Version       string  `json:"version"`
	Subscribers   int     `json:"subscribers"`
	LastUpdated   string  `json:"last_updated,omitempty"`
	Readings      int     `json:"readings"`
	HistorySize   int     `json:"history_size"`
	LastHeartRate float64 `json:"last_heart_rate"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamData is the payload of a live reading event.
type StreamData struct {
	Value     float64 `json:"value"`
	HeartRate float64 `json:"heart_rate"`
}

type ConnectedData struct {
	Message string `json:"message"`
}

// ReadingPayload is what the broker sinks publish for every reading.
type ReadingPayload struct {
	Timestamp string  `json:"timestamp"`
	DeviceID  string  `json:"device_id,omitempty"`
	Value     float64 `json:"value"`
	HeartRate float64 `json:"heart_rate"`
}

func NewReadingResponse(r readings.Reading) ReadingResponse {
	return ReadingResponse{
		Timestamp: r.Timestamp.UTC().Format(TimeFormat),
		Value:     r.NormalizedValue,
		HeartRate: r.HeartRate,
	}
}

func NewDataResponse(snap readings.Snapshot) DataResponse {
	resp := DataResponse{
		LastUpdated: snap.LastUpdated.UTC().Format(TimeFormat),
		Readings:    make([]ReadingResponse, 0, len(snap.Readings)),
	}
	for _, r := range snap.Readings {
		resp.Readings = append(resp.Readings, NewReadingResponse(r))
	}
	return resp
}

func NewStreamData(r readings.Reading) StreamData {
	return StreamData{
		Value:     r.NormalizedValue,
		HeartRate: r.HeartRate,
	}
}

func NewReadingPayload(deviceID string, r readings.Reading) ReadingPayload {
	return ReadingPayload{
		Timestamp: r.Timestamp.UTC().Format(TimeFormat),
		DeviceID:  deviceID,
		Value:     r.NormalizedValue,
		HeartRate: r.HeartRate,
	}
}
