// go-cardreader
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-cardreader.
//
// go-cardreader is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-cardreader is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-cardreader; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package pn532

import (
	"context"
	"sync"
	"time"
)

// MockTransport is a scriptable Transport for tests. Responses and errors
// are keyed by command code; queued responses are served first, in order.
type MockTransport struct {
	responses    map[byte][]byte
	errors       map[byte]error
	queued       map[byte][]mockReply
	callCounts   map[byte]int
	ResponseFunc func(cmd byte, args []byte) ([]byte, error)
	delay        time.Duration
	timeout      time.Duration
	closeCount   int
	mu           sync.Mutex
	closed       bool
}

type mockReply struct {
	err  error
	data []byte
}

// NewMockTransport creates a mock transport with no scripted responses
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:  make(map[byte][]byte),
		errors:     make(map[byte]error),
		queued:     make(map[byte][]mockReply),
		callCounts: make(map[byte]int),
		timeout:    time.Second,
	}
}

// SendCommand serves the scripted reply for cmd
func (m *MockTransport) SendCommand(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	m.mu.Lock()
	m.callCounts[cmd]++
	delay := m.delay
	closed := m.closed
	responseFunc := m.ResponseFunc
	m.mu.Unlock()

	if closed {
		return nil, ErrTransportClosed
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if responseFunc != nil {
		return responseFunc(cmd, args)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if q := m.queued[cmd]; len(q) > 0 {
		m.queued[cmd] = q[1:]
		if q[0].err != nil {
			return nil, q[0].err
		}
		return append([]byte(nil), q[0].data...), nil
	}

	if err, ok := m.errors[cmd]; ok {
		return nil, err
	}

	if resp, ok := m.responses[cmd]; ok {
		return append([]byte(nil), resp...), nil
	}

	return nil, NewTimeoutError("SendCommand", "mock")
}

// SetResponse sets the default response for cmd
func (m *MockTransport) SetResponse(cmd byte, response []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cmd] = response
	delete(m.errors, cmd)
}

// SetError makes every call of cmd fail with err
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[cmd] = err
}

// ClearError removes a previously set error for cmd
func (m *MockTransport) ClearError(cmd byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, cmd)
}

// QueueResponse queues a one-shot response for cmd
func (m *MockTransport) QueueResponse(cmd byte, response []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[cmd] = append(m.queued[cmd], mockReply{data: response})
}

// QueueError queues a one-shot error for cmd
func (m *MockTransport) QueueError(cmd byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[cmd] = append(m.queued[cmd], mockReply{err: err})
}

// SetDelay delays every response
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// GetCallCount returns how often cmd was sent
func (m *MockTransport) GetCallCount(cmd byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[cmd]
}

// CloseCount returns how often Close was called
func (m *MockTransport) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// Close marks the transport closed
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	m.closed = true
	return nil
}

// SetTimeout records the timeout
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return nil
}

// IsConnected returns false once closed
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Type returns TransportMock
func (*MockTransport) Type() TransportType {
	return TransportMock
}

var _ Transport = (*MockTransport)(nil)
