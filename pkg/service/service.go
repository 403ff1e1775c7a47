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

// Package service wires the serial reader, the reading history, the
// broadcaster and every outward surface into one running relay.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/heartlink/heartlink-core/internal/metrics"
	"github.com/heartlink/heartlink-core/pkg/api"
	"github.com/heartlink/heartlink-core/pkg/config"
	"github.com/heartlink/heartlink-core/pkg/link"
	"github.com/heartlink/heartlink-core/pkg/readings"
	"github.com/heartlink/heartlink-core/pkg/service/broker"
	"github.com/heartlink/heartlink-core/pkg/service/discovery"
	"github.com/heartlink/heartlink-core/pkg/service/publishers"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var linkStates = []string{
	link.StateDisconnected.String(),
	link.StateConnecting.String(),
	link.StateConnected.String(),
	link.StateBackoff.String(),
}

type options struct {
	clock       clockwork.Clock
	portFactory link.PortFactory
	enumerator  link.Enumerator
	listener    net.Listener
	metrics     *metrics.Metrics
	discovery   []discovery.Option
}

type Option func(*options)

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithPortFactory replaces the function used to open serial ports, for
// both the stale lock release and the link itself.
func WithPortFactory(f link.PortFactory) Option {
	return func(o *options) {
		o.portFactory = f
	}
}

func WithEnumerator(e link.Enumerator) Option {
	return func(o *options) {
		o.enumerator = e
	}
}

// WithListener serves the API on ln instead of binding the configured
// address. The service takes ownership of ln.
func WithListener(ln net.Listener) Option {
	return func(o *options) {
		o.listener = ln
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func WithDiscoveryOptions(opts ...discovery.Option) Option {
	return func(o *options) {
		o.discovery = append(o.discovery, opts...)
	}
}

// Start brings the relay up. The returned stop function shuts everything
// down and reports the first fatal error, if any; done is closed once the
// service has fully stopped, either through stop or a fatal error.
func Start(cfg *config.Instance, opts ...Option) (stop func() error, done <-chan struct{}, err error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	m := o.metrics

	ctx, cancel := context.WithCancel(context.Background())

	ln := o.listener
	if ln == nil {
		log.Info().Str("addr", cfg.APIListen()).Msg("binding API listener")
		ln, err = api.Listen(ctx, cfg)
		if err != nil {
			cancel()
			return nil, nil, err
		}
	}

	store := readings.NewStore(cfg.StreamHistorySize())
	query := readings.NewQueryService(store)

	var b *broker.Broker
	countSubscribers := func(int) {
		m.SetSubscribers(b.Count())
	}
	b = broker.NewBroker(
		broker.WithClock(o.clock),
		broker.WithThrottle(cfg.StreamThrottle()),
		broker.WithGreeting(cfg.StreamGreeting()),
		broker.WithJoinHook(countSubscribers),
		broker.WithLeaveHook(countSubscribers),
	)

	mgr := newLinkManager(cfg, &o, m)

	w := &worker{
		clock:          o.clock,
		link:           mgr,
		store:          store,
		broker:         b,
		metrics:        m,
		reconnectDelay: cfg.SerialReconnectDelay(),
	}

	srv := api.NewServer(cfg, query, b, mgr, api.WithMetrics(m))

	log.Info().Msg("starting publishers")
	active := startPublishers(ctx, b, cfg.StreamSubscriberBuffer(), buildPublishers(cfg, m.PublishError))

	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	log.Info().Msg("starting mDNS discovery service")
	disc := discovery.New(cfg, port, o.discovery...)
	if derr := disc.Start(ctx); derr != nil {
		log.Error().Err(derr).Msg("mDNS discovery failed to start (continuing without discovery)")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		return w.run(gctx)
	})

	var runErr error
	doneCh := make(chan struct{})
	go func() {
		runErr = g.Wait()
		if runErr != nil {
			log.Error().Err(runErr).Msg("service stopped with error")
		}
		// a fatal error lands here without stop being called
		cancel()

		log.Info().Msg("service context cancelled, running cleanup")
		disc.Stop()
		for _, p := range active {
			p.Stop()
		}
		b.Stop()

		log.Info().Msg("service cleanup completed")
		close(doneCh)
	}()

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("version", config.AppVersion).
		Msg("service fully initialized")

	stop = func() error {
		cancel()
		<-doneCh
		return runErr
	}
	return stop, doneCh, nil
}

func newLinkManager(cfg *config.Instance, o *options, m *metrics.Metrics) *link.Manager {
	locator := link.NewLocator(link.LocatorOptions{
		Enumerator:       o.enumerator,
		PortFactory:      o.portFactory,
		FallbackPath:     cfg.SerialFallbackPath(),
		MatchTokens:      cfg.SerialMatchTokens(),
		BaudRate:         cfg.SerialBaudRate(),
		ReleaseStaleLock: cfg.SerialReleaseStaleLock(),
	})

	managerOpts := []link.ManagerOption{
		link.WithClock(o.clock),
		link.WithStateHook(func(_, to link.State) {
			m.SetLinkState(to.String(), linkStates...)
		}),
	}
	if o.portFactory != nil {
		managerOpts = append(managerOpts, link.WithPortFactory(o.portFactory))
	}

	m.SetLinkState(link.StateDisconnected.String(), linkStates...)
	return link.NewManager(locator, link.OptionsFromConfig(cfg), managerOpts...)
}

// buildPublishers creates a sink for every enabled publisher entry. Entries
// without an explicit enabled flag are on.
func buildPublishers(cfg *config.Instance, onErr publishers.ErrorHook) []publishers.Publisher {
	var out []publishers.Publisher
	deviceID := cfg.DeviceID()

	for _, c := range cfg.GetMQTTPublishers() {
		if c.Enabled != nil && !*c.Enabled {
			continue
		}
		out = append(out, publishers.NewMQTTPublisher(c.Broker, c.Topic, deviceID, onErr))
	}
	for _, c := range cfg.GetKafkaPublishers() {
		if c.Enabled != nil && !*c.Enabled {
			continue
		}
		out = append(out, publishers.NewKafkaPublisher(c.Brokers, c.Topic, deviceID, onErr))
	}
	return out
}

// startPublishers gives each sink its own subscription. A sink that fails
// to start is skipped and its subscription released.
func startPublishers(
	ctx context.Context,
	b *broker.Broker,
	bufferSize int,
	pubs []publishers.Publisher,
) []publishers.Publisher {
	active := make([]publishers.Publisher, 0, len(pubs))
	for _, p := range pubs {
		sub := b.Subscribe(bufferSize)
		if err := p.Start(ctx, sub); err != nil {
			log.Error().Err(err).Str("sink", p.Name()).Msg("failed to start publisher")
			b.Unsubscribe(sub.ID())
			continue
		}
		log.Info().Str("sink", p.Name()).Msg("publisher started")
		active = append(active, p)
	}
	if len(active) > 0 {
		log.Info().Msgf("started %d publisher(s)", len(active))
	}
	return active
}

// ErrNotStarted is returned by Run when the service cannot start.
var ErrNotStarted = errors.New("service not started")

// Run starts the service and blocks until ctx is done or the service fails.
func Run(ctx context.Context, cfg *config.Instance, opts ...Option) error {
	stop, done, err := Start(cfg, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotStarted, err)
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
	return stop()
}
