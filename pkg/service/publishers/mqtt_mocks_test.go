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

package publishers

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/heartlink/heartlink-core/pkg/helpers/syncutil"
)

type publishedMessage struct {
	payload  any
	topic    string
	qos      byte
	retained bool
}

// mockMQTTClient records publishes. connectPending makes Connect never
// complete, like a broker that is not reachable yet.
type mockMQTTClient struct {
	connectErr     error
	publishErr     error
	msgs           []publishedMessage
	disconnectN    int
	connected      bool
	connectPending bool
	mu             syncutil.Mutex
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{}
}

func (m *mockMQTTClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.connectPending:
		return &mockToken{pending: true}
	case m.connectErr != nil:
		return &mockToken{err: m.connectErr}
	}
	m.connected = true
	return &mockToken{}
}

func (m *mockMQTTClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return &mockToken{err: m.publishErr}
	}
	m.msgs = append(m.msgs, publishedMessage{topic: topic, qos: qos, retained: retained, payload: payload})
	return &mockToken{}
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTTClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnectN++
}

func (m *mockMQTTClient) published() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.msgs...)
}

func (m *mockMQTTClient) disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectN
}

// mockToken is already finished unless pending is set.
type mockToken struct {
	err     error
	pending bool
}

func (t *mockToken) Wait() bool { return !t.pending }

func (t *mockToken) WaitTimeout(time.Duration) bool { return !t.pending }

func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

func (t *mockToken) Error() error { return t.err }
