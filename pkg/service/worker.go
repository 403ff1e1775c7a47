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

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heartlink/heartlink-core/internal/metrics"
	"github.com/heartlink/heartlink-core/pkg/link"
	"github.com/heartlink/heartlink-core/pkg/readings"
	"github.com/heartlink/heartlink-core/pkg/service/broker"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// serialLink is the part of link.Manager the reader loop drives.
type serialLink interface {
	Connect(ctx context.Context) error
	ReadLine() (string, error)
	Close() error
	Shutdown() error
}

// worker is the single reader of the serial link. It is the only writer of
// the store and the only publisher on the broker.
type worker struct {
	clock          clockwork.Clock
	link           serialLink
	store          *readings.Store
	broker         *broker.Broker
	metrics        *metrics.Metrics
	reconnectDelay time.Duration
}

// run connects, reads and reconnects until ctx is done. The link is shut
// down before it returns.
func (w *worker) run(ctx context.Context) error {
	stopWatch := context.AfterFunc(ctx, func() {
		// unblocks a ReadLine stuck on the port
		if err := w.link.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("error shutting down serial link")
		}
	})
	defer func() {
		if stopWatch() {
			if err := w.link.Shutdown(); err != nil {
				log.Warn().Err(err).Msg("error shutting down serial link")
			}
		}
	}()

	for {
		err := w.link.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, link.ErrShutdown) {
				return nil
			}
			w.metrics.ConnectFailed()
			log.Error().Err(err).Dur("retry_in", w.reconnectDelay).Msg("could not connect to ECG device")
			if werr := w.wait(ctx); werr != nil {
				return nil
			}
			continue
		}

		err = w.readLoop()
		if ctx.Err() != nil || errors.Is(err, link.ErrShutdown) {
			return nil
		}

		w.metrics.LinkError()
		log.Warn().Err(err).Dur("retry_in", w.reconnectDelay).Msg("serial link lost")
		if cerr := w.link.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("error closing serial link")
		}
		if werr := w.wait(ctx); werr != nil {
			return nil
		}
	}
}

func (w *worker) wait(ctx context.Context) error {
	if w.reconnectDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("reconnect wait cancelled: %w", ctx.Err())
	case <-w.clock.After(w.reconnectDelay):
		return nil
	}
}

func (w *worker) readLoop() error {
	for {
		line, err := w.link.ReadLine()
		if err != nil {
			return err
		}
		w.handleLine(line)
	}
}

// handleLine parses one frame and, if it is usable, stores and publishes it.
// Rejected frames leave the store and the subscribers untouched.
func (w *worker) handleLine(line string) {
	if line == "" {
		return
	}

	r, err := readings.Parse(line, w.store.LastHeartRate(), w.clock.Now())
	switch {
	case errors.Is(err, readings.ErrHeartRateOutOfRange):
		w.metrics.HeartRateRejected()
		log.Debug().Err(err).Float64("heart_rate", r.HeartRate).Msg("keeping previous heart rate")
	case err != nil:
		w.metrics.MalformedLine()
		log.Debug().Err(err).Str("line", line).Msg("dropping malformed frame")
		return
	}

	w.store.Append(r)
	w.metrics.ReadingAccepted(r.HeartRate)

	if err := w.broker.Publish(r); errors.Is(err, broker.ErrThrottled) {
		w.metrics.Throttled()
	}
}
