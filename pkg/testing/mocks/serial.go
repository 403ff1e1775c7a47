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

package mocks

import (
	"errors"
	"time"

	"github.com/heartlink/heartlink-core/pkg/helpers/syncutil"
	"github.com/stretchr/testify/mock"
	"go.bug.st/serial/enumerator"
)

var ErrPortClosed = errors.New("port closed")

// MockSerialPort is an in-memory serial port. Data queued with Feed is
// returned by Read in order; an empty queue behaves like a read timeout.
type MockSerialPort struct {
	ReadError   error
	CloseError  error
	TimeoutErr  error
	ResetErr    error
	ReadFunc    func(p []byte) (n int, err error)
	ReadData    []byte
	ReadIndex   int
	CloseCount  int
	ResetCount  int
	ReadTimeout time.Duration
	Closed      bool
	mu          syncutil.Mutex
}

func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{}
}

// Feed appends bytes for later reads.
func (m *MockSerialPort) Feed(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadData = append(m.ReadData, data...)
}

func (m *MockSerialPort) Read(p []byte) (n int, err error) {
	m.mu.Lock()
	closed := m.Closed
	readFunc := m.ReadFunc
	readErr := m.ReadError
	m.mu.Unlock()

	if closed {
		return 0, ErrPortClosed
	}

	if readFunc != nil {
		return readFunc(p)
	}

	if readErr != nil {
		return 0, readErr
	}

	m.mu.Lock()
	if m.ReadIndex >= len(m.ReadData) {
		m.mu.Unlock()
		// Simulate blocking read with small delay
		time.Sleep(5 * time.Millisecond)
		return 0, nil
	}
	n = copy(p, m.ReadData[m.ReadIndex:])
	m.ReadIndex += n
	m.mu.Unlock()
	return n, nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	m.CloseCount++
	return m.CloseError
}

func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadTimeout = t
	return m.TimeoutErr
}

func (m *MockSerialPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCount++
	return m.ResetErr
}

func (m *MockSerialPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

func (m *MockSerialPort) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCount
}

// MockEnumerator is a testify mock of link.Enumerator.
type MockEnumerator struct {
	mock.Mock
}

func NewMockEnumerator() *MockEnumerator {
	return &MockEnumerator{}
}

func (m *MockEnumerator) GetDetailedPortsList() ([]*enumerator.PortDetails, error) {
	args := m.Called()
	ports, _ := args.Get(0).([]*enumerator.PortDetails)
	return ports, args.Error(1)
}

// SetupPorts makes every enumeration return ports.
func (m *MockEnumerator) SetupPorts(ports ...*enumerator.PortDetails) {
	m.On("GetDetailedPortsList").Return(ports, nil)
}
