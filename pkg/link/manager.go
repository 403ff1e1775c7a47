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

// Package link owns the serial connection to the ECG microcontroller: device
// discovery, open/settle/retry, line reads and teardown.
package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/heartlink/heartlink-core/pkg/config"
	"github.com/heartlink/heartlink-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// maxFrameLength bounds the bytes buffered while waiting for a newline.
const maxFrameLength = 4096

// PortLocator resolves the device path to open.
type PortLocator interface {
	Locate() (string, error)
}

type Options struct {
	BaudRate        int
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	SettleDelay     time.Duration
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	ConnectAttempts int
	Exponential     bool
}

// OptionsFromConfig reads the [serial] section of the config.
func OptionsFromConfig(cfg *config.Instance) Options {
	return Options{
		BaudRate:        cfg.SerialBaudRate(),
		ReadTimeout:     cfg.SerialReadTimeout(),
		IdleTimeout:     cfg.SerialIdleTimeout(),
		SettleDelay:     cfg.SerialSettleDelay(),
		RetryDelay:      cfg.SerialRetryDelay(),
		MaxRetryDelay:   cfg.SerialMaxRetryDelay(),
		ConnectAttempts: cfg.SerialConnectAttempts(),
		Exponential:     cfg.SerialExponentialBackoff(),
	}
}

// Manager is the single owner of the open serial handle. Connect and
// ReadLine are meant to be driven by one goroutine; Close, Shutdown and the
// accessors are safe from any goroutine.
type Manager struct {
	lastData      time.Time
	clock         clockwork.Clock
	locator       PortLocator
	port          SerialPort
	portFactory   PortFactory
	onStateChange func(from, to State)
	shutdownCh    chan struct{}
	path          string
	pending       []byte
	readBuf       []byte
	opts          Options
	state         State
	shutdownOnce  sync.Once
	shutdown      bool
	mu            syncutil.Mutex
}

type ManagerOption func(*Manager)

func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithPortFactory(f PortFactory) ManagerOption {
	return func(m *Manager) {
		m.portFactory = f
	}
}

// WithStateHook registers a callback run after every state transition. It
// must not call back into the Manager.
func WithStateHook(fn func(from, to State)) ManagerOption {
	return func(m *Manager) {
		m.onStateChange = fn
	}
}

func NewManager(locator PortLocator, opts Options, options ...ManagerOption) *Manager {
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = config.DefaultBaudRate
	}
	m := &Manager{
		locator:     locator,
		opts:        opts,
		clock:       clockwork.NewRealClock(),
		portFactory: DefaultPortFactory,
		shutdownCh:  make(chan struct{}),
		readBuf:     make([]byte, 1024),
		state:       StateDisconnected,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Device returns the path of the currently open port, or "" when closed.
func (m *Manager) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return ""
	}
	return m.path
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	hook := m.onStateChange
	m.mu.Unlock()

	if from == to {
		return
	}
	log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("serial link state change")
	if hook != nil {
		hook(from, to)
	}
}

func (m *Manager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// wait blocks for d on the manager's clock. It returns early with the
// context error, or ErrShutdown if Shutdown is called meanwhile.
func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait cancelled: %w", err)
		}
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait cancelled: %w", ctx.Err())
	case <-m.shutdownCh:
		return ErrShutdown
	case <-m.clock.After(d):
		return nil
	}
}

// Connect opens the device, retrying up to the configured attempt count.
// When every attempt fails the returned error wraps ErrConnectFailed and
// the cause of the last failure. Calling Connect again starts a new cycle.
func (m *Manager) Connect(ctx context.Context) error {
	if m.isShutdown() {
		return ErrShutdown
	}

	if err := m.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close stale serial handle")
	}

	delay := m.opts.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= m.opts.ConnectAttempts; attempt++ {
		m.transition(StateConnecting)

		err := m.open(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrShutdown) || ctx.Err() != nil {
			m.transition(StateDisconnected)
			return err
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", m.opts.ConnectAttempts).
			Msg("serial connect attempt failed")

		if attempt == m.opts.ConnectAttempts {
			break
		}

		m.transition(StateBackoff)
		if err := m.wait(ctx, delay); err != nil {
			m.transition(StateDisconnected)
			return err
		}

		if m.opts.Exponential {
			delay *= 2
			if m.opts.MaxRetryDelay > 0 && delay > m.opts.MaxRetryDelay {
				delay = m.opts.MaxRetryDelay
			}
		}
	}

	m.transition(StateDisconnected)
	return fmt.Errorf("%w after %d attempts: %w", ErrConnectFailed, m.opts.ConnectAttempts, lastErr)
}

func (m *Manager) open(ctx context.Context) error {
	path, err := m.locator.Locate()
	if err != nil {
		return fmt.Errorf("failed to locate serial device: %w", err)
	}

	log.Info().Str("port", path).Int("baud", m.opts.BaudRate).Msg("opening serial port")

	port, err := m.portFactory(path, Mode8N1(m.opts.BaudRate))
	if err != nil {
		return classifyOpenError(path, err)
	}

	if m.opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(m.opts.ReadTimeout); err != nil {
			_ = port.Close()
			return fmt.Errorf("failed to set read timeout on %s: %w", path, err)
		}
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		_ = port.Close()
		return ErrShutdown
	}
	m.port = port
	m.path = path
	m.pending = nil
	m.mu.Unlock()

	// boards reset when the port opens, give the firmware time to boot
	if err := m.wait(ctx, m.opts.SettleDelay); err != nil {
		m.release(port)
		return err
	}

	m.mu.Lock()
	if m.port != port {
		shutdown := m.shutdown
		m.mu.Unlock()
		if shutdown {
			return ErrShutdown
		}
		return fmt.Errorf("%w: port closed while settling", ErrLinkError)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Debug().Err(err).Msg("failed to reset serial input buffer")
	}
	m.lastData = m.clock.Now()
	m.mu.Unlock()

	m.transition(StateConnected)
	log.Info().Str("port", path).Msg("serial port connected")
	return nil
}

// release closes port if it is still the managed handle. Returns whether it
// was closed here.
func (m *Manager) release(port SerialPort) bool {
	m.mu.Lock()
	if m.port != port || port == nil {
		m.mu.Unlock()
		return false
	}
	m.port = nil
	m.pending = nil
	m.mu.Unlock()

	if err := port.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close serial port")
	}
	m.transition(StateDisconnected)
	return true
}

// ReadLine blocks until a complete newline-terminated frame arrives and
// returns it without the line ending. Any read error, undecodable frame or
// idle timeout closes the link and returns an error wrapping ErrLinkError.
func (m *Manager) ReadLine() (string, error) {
	for {
		m.mu.Lock()
		port := m.port
		if port == nil {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: not connected", ErrLinkError)
		}
		if i := bytes.IndexByte(m.pending, '\n'); i >= 0 {
			line := make([]byte, i)
			copy(line, m.pending[:i])
			m.pending = m.pending[i+1:]
			m.mu.Unlock()

			if !utf8.Valid(line) {
				m.release(port)
				return "", fmt.Errorf("%w: frame is not valid utf-8", ErrLinkError)
			}
			return strings.TrimSpace(string(line)), nil
		}
		m.mu.Unlock()

		n, err := port.Read(m.readBuf)
		if err != nil {
			m.release(port)
			return "", fmt.Errorf("%w: %w", ErrLinkError, err)
		}

		now := m.clock.Now()
		m.mu.Lock()
		if m.port != port {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: port closed", ErrLinkError)
		}
		if n > 0 {
			m.pending = append(m.pending, m.readBuf[:n]...)
			m.lastData = now
			if len(m.pending) > maxFrameLength && bytes.IndexByte(m.pending, '\n') < 0 {
				log.Warn().Int("bytes", len(m.pending)).Msg("discarding oversized serial frame")
				m.pending = nil
			}
		}
		idle := m.opts.IdleTimeout > 0 && now.Sub(m.lastData) > m.opts.IdleTimeout
		m.mu.Unlock()

		if idle {
			m.release(port)
			return "", fmt.Errorf("%w: %w", ErrLinkError, ErrReadTimeout)
		}
	}
}

// Close releases the open handle, if any. It is idempotent and safe to call
// concurrently with Connect or ReadLine; a later Connect reopens the link.
func (m *Manager) Close() error {
	m.mu.Lock()
	port := m.port
	m.port = nil
	m.pending = nil
	m.mu.Unlock()

	m.transition(StateDisconnected)

	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	log.Info().Msg("serial port closed")
	return nil
}

// Shutdown closes the link for good. Pending waits return ErrShutdown and
// so does every later Connect.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
	})
	return m.Close()
}
