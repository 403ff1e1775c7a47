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

// Package api serves the ECG relay over HTTP: the JSON snapshot, a status
// endpoint, Prometheus metrics and the live websocket stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gocarina/gocsv"
	"github.com/heartlink/heartlink-core/internal/metrics"
	"github.com/heartlink/heartlink-core/pkg/api/middleware"
	"github.com/heartlink/heartlink-core/pkg/api/models"
	"github.com/heartlink/heartlink-core/pkg/config"
	"github.com/heartlink/heartlink-core/pkg/link"
	"github.com/heartlink/heartlink-core/pkg/readings"
	"github.com/heartlink/heartlink-core/pkg/service/broker"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	sessionSubKey   = "subscription"
	shutdownTimeout = 5 * time.Second
	rootMessage     = "HeartLink ECG relay running"
	noDataMessage   = "No data available yet"
)

// LinkStatus is the read side of the serial link shown on /api/status.
type LinkStatus interface {
	State() link.State
	Device() string
}

type Server struct {
	cfg      *config.Instance
	query    *readings.QueryService
	broker   *broker.Broker
	link     LinkStatus
	metrics  *metrics.Metrics
	melody   *melody.Melody
	limiter  *middleware.IPRateLimiter
	handler  http.Handler
	envelope string
	event    string
}

type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithRateLimiter(l *middleware.IPRateLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

func NewServer(
	cfg *config.Instance,
	query *readings.QueryService,
	b *broker.Broker,
	ls LinkStatus,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:      cfg,
		query:    query,
		broker:   b,
		link:     ls,
		envelope: cfg.StreamEnvelope(),
		event:    cfg.StreamEventName(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.limiter == nil {
		s.limiter = middleware.NewIPRateLimiter(
			middleware.DefaultRequestsPerMinute,
			middleware.DefaultBurstSize,
			nil,
		)
	}

	s.melody = melody.New()
	origins := cfg.AllowedOrigins()
	s.melody.Upgrader.CheckOrigin = func(r *http.Request) bool {
		return originAllowed(origins, r.Header.Get("Origin"))
	}
	s.melody.HandleConnect(s.handleConnect)
	s.melody.HandleDisconnect(s.handleDisconnect)
	s.melody.HandleMessage(middleware.WebSocketRateLimitHandler(s.limiter, s.envelope, handleWSMessage))
	s.melody.HandleError(func(session *melody.Session, err error) {
		log.Debug().Err(err).Str("addr", session.Request.RemoteAddr).Msg("websocket session error")
	})

	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{},
	}))
	r.Use(middleware.HTTPIPFilterMiddleware(middleware.NewIPFilter(s.cfg.AllowedIPs())))

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.APIRequestTimeout))

		r.Get("/", s.handleRoot)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

		r.Group(func(r chi.Router) {
			r.Use(middleware.HTTPRateLimitMiddleware(s.limiter))
			r.Method(http.MethodGet, "/api/data", s.metrics.WrapHandler("/api/data", http.HandlerFunc(s.handleData)))
			r.Method(http.MethodGet, "/api/status", s.metrics.WrapHandler("/api/status", http.HandlerFunc(s.handleStatus)))
		})
	})

	r.Get("/api/stream", s.handleStream)
	r.Get("/ws", s.handleStream)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(rootMessage)); err != nil {
		log.Debug().Err(err).Msg("failed to write root response")
	}
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	snap, err := s.query.GetSnapshot()
	if errors.Is(err, readings.ErrNotAvailable) {
		middleware.WriteJSONError(w, http.StatusNotFound, noDataMessage)
		return
	} else if err != nil {
		log.Error().Err(err).Msg("failed to read snapshot")
		middleware.WriteJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := models.NewDataResponse(snap)

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		var buf bytes.Buffer
		if err := gocsv.Marshal(resp.Readings, &buf); err != nil {
			log.Error().Err(err).Msg("failed to encode csv snapshot")
			middleware.WriteJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Debug().Err(err).Msg("failed to write csv response")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := models.StatusResponse{
		LinkState:     link.StateDisconnected.String(),
		Version:       config.AppVersion,
		Subscribers:   s.broker.Count(),
		Readings:      s.query.Count(),
		HistorySize:   s.query.Capacity(),
		LastHeartRate: s.query.LastHeartRate(),
	}
	if ts, ok := s.query.LastUpdated(); ok {
		resp.LastUpdated = ts.UTC().Format(models.TimeFormat)
	}
	if s.link != nil {
		resp.LinkState = s.link.State().String()
		resp.Device = s.link.Device()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if err := s.melody.HandleRequest(w, r); err != nil {
		log.Error().Err(err).Msg("handling websocket request")
	}
}

// handleConnect subscribes the session and starts the goroutine that
// forwards its events. The greeting, when enabled, is the first event.
func (s *Server) handleConnect(session *melody.Session) {
	sub := s.broker.Subscribe(s.cfg.StreamSubscriberBuffer())
	session.Set(sessionSubKey, sub)

	log.Info().
		Str("addr", session.Request.RemoteAddr).
		Int("subscriber_id", sub.ID()).
		Msg("stream client connected")

	go s.forward(session, sub)
}

func (s *Server) handleDisconnect(session *melody.Session) {
	v, ok := session.Get(sessionSubKey)
	if !ok {
		return
	}
	sub, ok := v.(*broker.Subscription)
	if !ok {
		return
	}
	s.broker.Unsubscribe(sub.ID())
	s.metrics.EventsDropped(sub.Dropped())

	log.Info().
		Str("addr", session.Request.RemoteAddr).
		Int("subscriber_id", sub.ID()).
		Uint64("dropped", sub.Dropped()).
		Msg("stream client disconnected")
}

func (s *Server) forward(session *melody.Session, sub *broker.Subscription) {
	for ev := range sub.Events() {
		frame, err := s.encode(ev)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode stream event")
			continue
		}
		if err := session.Write(frame); err != nil {
			log.Debug().Err(err).Int("subscriber_id", sub.ID()).Msg("failed to write stream event")
		}
	}
}

func (s *Server) encode(ev broker.Event) ([]byte, error) {
	switch ev.Kind {
	case broker.EventGreeting:
		return models.EncodeEvent(s.envelope, models.EventConnected, models.ConnectedData{Message: ev.Greeting})
	case broker.EventReading:
		return models.EncodeEvent(s.envelope, s.event, models.NewStreamData(ev.Reading))
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// handleWSMessage answers the text heartbeat. Anything else from the client
// is ignored, the stream is one way.
func handleWSMessage(session *melody.Session, msg []byte) {
	if bytes.Equal(bytes.TrimSpace(msg), []byte("ping")) {
		if err := session.Write([]byte("pong")); err != nil {
			log.Debug().Err(err).Msg("sending pong")
		}
		return
	}
	log.Debug().Int("size", len(msg)).Msg("ignoring client stream message")
}

// Serve runs the server on ln until ctx is done, then closes every stream
// session and drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.limiter.StartCleanup(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		_ = s.melody.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	if err := s.melody.Close(); err != nil {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	if err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	log.Info().Msg("api server stopped")
	return nil
}

// Listen binds the configured API address. The port accepts connections
// as soon as it returns.
func Listen(ctx context.Context, cfg *config.Instance) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.APIListen())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.APIListen(), err)
	}
	return ln, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write json response")
	}
}

// originAllowed matches a websocket Origin header against the CORS list. A
// missing Origin is allowed.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "*"); ok && strings.HasPrefix(strings.ToLower(origin), strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
