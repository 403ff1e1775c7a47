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

// Package publishers forwards live readings to external message brokers.
// Each sink drains its own broker subscription, so a slow or unreachable
// broker only ever loses its own events.
package publishers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heartlink/heartlink-core/pkg/api/models"
	"github.com/heartlink/heartlink-core/pkg/service/broker"
	"github.com/rs/zerolog/log"
)

// Publisher is an external sink for readings.
type Publisher interface {
	Name() string
	Start(ctx context.Context, sub *broker.Subscription) error
	Stop()
}

// ErrorHook is told about every failed send, labelled with the sink name.
type ErrorHook func(sink string)

func encodePayload(deviceID string, ev broker.Event) ([]byte, error) {
	b, err := json.Marshal(models.NewReadingPayload(deviceID, ev.Reading))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reading: %w", err)
	}
	return b, nil
}

// consume calls send for every reading on sub until it closes or stop fires.
func consume(name string, sub *broker.Subscription, stop <-chan struct{}, send func(broker.Event) error, onErr ErrorHook) {
	log.Debug().Str("sink", name).Msg("publisher loop started")
	for {
		select {
		case <-stop:
			log.Debug().Str("sink", name).Msg("publisher loop stopped")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				log.Debug().Str("sink", name).Msg("publisher subscription closed")
				return
			}
			if ev.Kind != broker.EventReading {
				continue
			}
			if err := send(ev); err != nil {
				log.Error().Err(err).Str("sink", name).Msg("failed to publish reading")
				if onErr != nil {
					onErr(name)
				}
			}
		}
	}
}
