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

// Package broker fans ECG readings out to live subscribers without ever
// blocking the publisher.
package broker

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/heartlink/heartlink-core/pkg/helpers/syncutil"
	"github.com/heartlink/heartlink-core/pkg/readings"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrThrottled is returned by Publish for a reading inside the throttle
	// interval.
	ErrThrottled = errors.New("reading throttled")
	ErrStopped   = errors.New("broker stopped")
)

type EventKind int

const (
	EventReading EventKind = iota
	EventGreeting
)

// Event is a single message queued for a subscriber.
type Event struct {
	Greeting string
	Reading  readings.Reading
	Kind     EventKind
}

// Subscription is one consumer's bounded queue. When the queue is full the
// oldest event is discarded to make room for the newest.
type Subscription struct {
	ch      chan Event
	dropped atomic.Uint64
	id      int
	closed  bool
	mu      syncutil.Mutex
}

func (s *Subscription) ID() int {
	return s.id
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped counts events discarded because the consumer fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// offer enqueues ev, evicting queued events until it fits. Reports whether
// anything was evicted.
func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	evicted := false
	for {
		select {
		case s.ch <- ev:
			return evicted
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			evicted = true
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker holds the live subscriptions. Publish may be called from one
// goroutine while others subscribe and unsubscribe.
type Broker struct {
	lastEmit    time.Time
	clock       clockwork.Clock
	subscribers map[int]*Subscription
	onJoin      func(id int)
	onLeave     func(id int)
	greeting    string
	throttle    time.Duration
	nextID      int
	emitted     bool
	stopped     bool
	mu          syncutil.RWMutex
}

type Option func(*Broker)

func WithClock(clock clockwork.Clock) Option {
	return func(b *Broker) {
		b.clock = clock
	}
}

// WithThrottle limits emission to one reading per interval. Zero emits
// every reading.
func WithThrottle(interval time.Duration) Option {
	return func(b *Broker) {
		b.throttle = interval
	}
}

// WithGreeting queues msg for every new subscriber. Empty disables it.
func WithGreeting(msg string) Option {
	return func(b *Broker) {
		b.greeting = msg
	}
}

// WithJoinHook and WithLeaveHook run outside the broker lock.
func WithJoinHook(fn func(id int)) Option {
	return func(b *Broker) {
		b.onJoin = fn
	}
}

func WithLeaveHook(fn func(id int)) Option {
	return func(b *Broker) {
		b.onLeave = fn
	}
}

func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		clock:       clockwork.NewRealClock(),
		subscribers: make(map[int]*Subscription),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish offers r to every subscriber. It returns ErrThrottled when the
// throttle swallowed r and ErrStopped after Stop. It never blocks on a slow
// subscriber.
func (b *Broker) Publish(r readings.Reading) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	if b.throttle > 0 {
		now := b.clock.Now()
		if b.emitted && now.Sub(b.lastEmit) < b.throttle {
			b.mu.Unlock()
			return ErrThrottled
		}
		b.lastEmit = now
	}
	b.emitted = true
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	ev := Event{Kind: EventReading, Reading: r}
	for _, s := range subs {
		if s.offer(ev) {
			log.Debug().
				Int("subscriber_id", s.id).
				Uint64("dropped", s.Dropped()).
				Msg("subscriber queue full, dropped oldest event")
		}
	}
	return nil
}

// Subscribe registers a consumer with a queue of bufferSize events. Only
// readings published after this call are delivered.
func (b *Broker) Subscribe(bufferSize int) *Subscription {
	if bufferSize < 1 {
		bufferSize = 1
	}

	b.mu.Lock()
	s := &Subscription{
		id: b.nextID,
		ch: make(chan Event, bufferSize),
	}
	b.nextID++
	if b.stopped {
		b.mu.Unlock()
		s.close()
		return s
	}
	b.subscribers[s.id] = s
	greeting := b.greeting
	hook := b.onJoin
	count := len(b.subscribers)
	b.mu.Unlock()

	if greeting != "" {
		s.offer(Event{Kind: EventGreeting, Greeting: greeting})
	}

	log.Debug().
		Int("subscriber_id", s.id).
		Int("buffer_size", bufferSize).
		Int("subscribers", count).
		Msg("new subscriber registered")

	if hook != nil {
		hook(s.id)
	}
	return s
}

// Unsubscribe removes a subscription and closes its channel. Unknown or
// already removed ids are ignored.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	s, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	hook := b.onLeave
	b.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	log.Debug().Int("subscriber_id", id).Uint64("dropped", s.Dropped()).Msg("subscriber unsubscribed")
	if hook != nil {
		hook(id)
	}
}

func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stop closes every subscription. Later subscriptions are closed on
// creation and Publish becomes a no-op.
func (b *Broker) Stop() {
	b.mu.Lock()
	b.stopped = true
	subs := b.subscribers
	b.subscribers = make(map[int]*Subscription)
	hook := b.onLeave
	b.mu.Unlock()

	for id, s := range subs {
		s.close()
		log.Debug().Int("subscriber_id", id).Msg("closed subscriber channel on shutdown")
		if hook != nil {
			hook(id)
		}
	}
}
