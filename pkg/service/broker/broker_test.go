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

package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/heartlink/heartlink-core/pkg/readings"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(raw float64) readings.Reading {
	return readings.Reading{RawValue: raw, NormalizedValue: readings.Normalize(raw), HeartRate: 72}
}

func drain(s *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func raws(events []Event) []float64 {
	out := make([]float64, 0, len(events))
	for _, ev := range events {
		if ev.Kind == EventReading {
			out = append(out, ev.Reading.RawValue)
		}
	}
	return out
}

func TestNewBroker(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	assert.NotNil(t, b.subscribers)
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 0, b.nextID)
}

func TestBroker_Subscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	s1 := b.Subscribe(10)
	s2 := b.Subscribe(20)

	assert.Equal(t, 0, s1.ID())
	assert.Equal(t, 1, s2.ID())
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, 20, cap(s2.ch))
}

func TestBroker_SubscribeClampsBuffer(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	s := b.Subscribe(0)
	assert.Equal(t, 1, cap(s.ch))
}

func TestBroker_PublishFanOut(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	s1 := b.Subscribe(10)
	s2 := b.Subscribe(10)

	assert.NoError(t, b.Publish(reading(2048)))
	assert.NoError(t, b.Publish(reading(2100)))

	assert.Equal(t, []float64{2048, 2100}, raws(drain(s1)))
	assert.Equal(t, []float64{2048, 2100}, raws(drain(s2)))
}

func TestBroker_NoBackfill(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	_ = b.Publish(reading(1))
	_ = b.Publish(reading(2))

	s := b.Subscribe(10)
	assert.Empty(t, drain(s))

	_ = b.Publish(reading(3))
	assert.Equal(t, []float64{3}, raws(drain(s)))
}

func TestBroker_Greeting(t *testing.T) {
	t.Parallel()

	b := NewBroker(WithGreeting("hello"))
	_ = b.Publish(reading(1))

	s := b.Subscribe(10)
	_ = b.Publish(reading(2))

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventGreeting, events[0].Kind)
	assert.Equal(t, "hello", events[0].Greeting)
	assert.Equal(t, []float64{2}, raws(events))
}

func TestBroker_SlowSubscriberDropsOldest(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	stalled := b.Subscribe(3)
	healthy := b.Subscribe(100)

	for i := range 10 {
		assert.NoError(t, b.Publish(reading(float64(i))))
	}

	assert.Equal(t, []float64{7, 8, 9}, raws(drain(stalled)), "newest events are kept")
	assert.Equal(t, uint64(7), stalled.Dropped())

	got := raws(drain(healthy))
	require.Len(t, got, 10)
	assert.Equal(t, float64(0), got[0])
	assert.Equal(t, uint64(0), healthy.Dropped())
}

func TestBroker_NeverDrainedSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	_ = b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10000 {
			_ = b.Publish(reading(float64(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestBroker_Throttle(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	b := NewBroker(WithClock(fc), WithThrottle(time.Second))
	s := b.Subscribe(100)

	assert.NoError(t, b.Publish(reading(1)), "first reading always goes out")
	assert.ErrorIs(t, b.Publish(reading(2)), ErrThrottled)

	fc.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, b.Publish(reading(3)), ErrThrottled)

	fc.Advance(500 * time.Millisecond)
	assert.NoError(t, b.Publish(reading(4)))
	assert.ErrorIs(t, b.Publish(reading(5)), ErrThrottled)

	fc.Advance(3 * time.Second)
	assert.NoError(t, b.Publish(reading(6)))

	assert.Equal(t, []float64{1, 4, 6}, raws(drain(s)))
}

func TestBroker_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	s := b.Subscribe(10)

	b.Unsubscribe(s.ID())
	assert.Equal(t, 0, b.Count())

	_, ok := <-s.Events()
	assert.False(t, ok, "channel should be closed")

	// idempotent
	b.Unsubscribe(s.ID())
	b.Unsubscribe(999)

	assert.NotPanics(t, func() {
		_ = b.Publish(reading(1))
	})
}

func TestBroker_Hooks(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var joined, left []int
	b := NewBroker(
		WithJoinHook(func(id int) {
			mu.Lock()
			defer mu.Unlock()
			joined = append(joined, id)
		}),
		WithLeaveHook(func(id int) {
			mu.Lock()
			defer mu.Unlock()
			left = append(left, id)
		}),
	)

	s1 := b.Subscribe(1)
	s2 := b.Subscribe(1)
	b.Unsubscribe(s1.ID())
	b.Unsubscribe(s1.ID())
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{s1.ID(), s2.ID()}, joined)
	assert.Equal(t, []int{s1.ID(), s2.ID()}, left)
}

func TestBroker_Stop(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	s1 := b.Subscribe(10)
	s2 := b.Subscribe(10)

	b.Stop()

	for _, s := range []*Subscription{s1, s2} {
		_, ok := <-s.Events()
		assert.False(t, ok)
	}
	assert.Equal(t, 0, b.Count())
	assert.ErrorIs(t, b.Publish(reading(1)), ErrStopped)

	late := b.Subscribe(10)
	_, ok := <-late.Events()
	assert.False(t, ok, "subscriptions after stop are closed immediately")

	assert.NotPanics(t, b.Stop)
}

func TestBroker_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := range 1000 {
			_ = b.Publish(reading(float64(i)))
		}
	}()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				s := b.Subscribe(4)
				drain(s)
				b.Unsubscribe(s.ID())
			}
		}()
	}

	wg.Wait()
	<-done
	assert.Equal(t, 0, b.Count())
}
