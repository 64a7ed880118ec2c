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

// Package i2c provides I2C transport implementation for PN532
package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-cardreader/internal/frame"
	"github.com/ZaparooProject/go-cardreader/internal/retry"
	"github.com/ZaparooProject/go-cardreader/pn532"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// Address is the 7-bit PN532 I2C address
	Address = 0x24

	pn532Ready = 0x01

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	// readyPollInterval is how often the status byte is polled
	readyPollInterval = 2 * time.Millisecond

	// receiveTries bounds NACK-and-reread cycles on corrupted frames
	receiveTries = 3
)

var errNotReady = errors.New("not ready")

// Transport implements the pn532.Transport interface for I2C communication
type Transport struct {
	bus     i2c.BusCloser
	dev     *i2c.Dev
	busName string
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// New initializes periph and opens the named I2C bus ("" selects the first
// available bus).
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	return NewWithBus(bus, busName), nil
}

// NewWithBus wraps an already opened bus. The transport takes ownership of
// bus and closes it in Close.
func NewWithBus(bus i2c.BusCloser, busName string) *Transport {
	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	return &Transport{
		bus:     bus,
		dev:     &i2c.Dev{Addr: Address, Bus: bus},
		busName: busName,
		timeout: time.Second,
	}
}

// Opener returns a function that opens a fresh transport on busName, in the
// shape expected by a bus handle cache.
func Opener(busName string) func(ctx context.Context) (pn532.Transport, error) {
	return func(ctx context.Context) (pn532.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := New(busName)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// SendCommand sends a command to the PN532 and waits for response
func (t *Transport) SendCommand(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, pn532.ErrTransportClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := t.sendFrame(cmd, args); err != nil {
		return nil, err
	}

	if err := t.waitAck(ctx); err != nil {
		return nil, err
	}

	return t.receiveFrame(ctx)
}

// SetTimeout sets the read timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return pn532.ErrInvalidParameter
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close releases the I2C bus. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.bus.Close(); err != nil {
		return fmt.Errorf("failed to close I2C bus %s: %w", t.busName, err)
	}
	return nil
}

// IsConnected returns true until the transport is closed
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns the transport type
func (*Transport) Type() pn532.TransportType {
	return pn532.TransportI2C
}

// checkReady reads the status byte that precedes every PN532 I2C read
func (t *Transport) checkReady() error {
	ready := []byte{0}
	if err := t.dev.Tx(nil, ready); err != nil {
		return pn532.NewTransportError("checkReady", t.busName,
			fmt.Errorf("%w: %w", pn532.ErrTransportRead, err), pn532.ErrorTypeTransient)
	}
	if ready[0] != pn532Ready {
		return errNotReady
	}
	return nil
}

// waitReady polls the status byte until the chip has data or the transport
// timeout expires.
func (t *Transport) waitReady(ctx context.Context, op string) error {
	_, err := retry.UntilDeadline(ctx, t.timeout, readyPollInterval,
		func(context.Context) (struct{}, bool, error) {
			err := t.checkReady()
			if errors.Is(err, errNotReady) {
				return struct{}{}, true, nil
			}
			return struct{}{}, false, err
		})
	if errors.Is(err, retry.ErrDeadline) {
		return pn532.NewTimeoutError(op, t.busName)
	}
	return err
}

// sendFrame sends a frame to the PN532 via I2C
func (t *Transport) sendFrame(cmd byte, args []byte) error {
	frm, err := frame.Build(cmd, args)
	if err != nil {
		return pn532.NewDataTooLargeError("sendFrame", t.busName)
	}

	if err := t.dev.Tx(frm, nil); err != nil {
		return pn532.NewTransportError("sendFrame", t.busName,
			fmt.Errorf("%w: %w", pn532.ErrTransportWrite, err), pn532.ErrorTypeTransient)
	}

	return nil
}

// waitAck waits for an ACK frame from the PN532
func (t *Transport) waitAck(ctx context.Context) error {
	if err := t.waitReady(ctx, "waitAck"); err != nil {
		return err
	}

	// status byte + ACK frame
	ackBuf := make([]byte, 1+len(frame.AckFrame))
	if err := t.dev.Tx(nil, ackBuf); err != nil {
		return pn532.NewTransportError("waitAck", t.busName,
			fmt.Errorf("%w: %w", pn532.ErrTransportRead, err), pn532.ErrorTypeTransient)
	}

	if !frame.IsAck(ackBuf[1:]) {
		return pn532.NewNoACKError("waitAck", t.busName)
	}

	return nil
}

// receiveFrame reads a response frame, asking for a resend on corruption
func (t *Transport) receiveFrame(ctx context.Context) ([]byte, error) {
	for try := 0; try < receiveTries; try++ {
		if err := t.waitReady(ctx, "receiveFrame"); err != nil {
			return nil, err
		}

		payload, err := t.readFrame()
		if err == nil {
			return payload, nil
		}

		var te *pn532.TransportError
		if errors.As(err, &te) {
			return nil, err
		}

		if !errors.Is(err, frame.ErrDataChecksum) && !errors.Is(err, frame.ErrLengthChecksum) {
			return nil, pn532.NewTransportError("receiveFrame", t.busName,
				fmt.Errorf("%w: %w", pn532.ErrFrameCorrupted, err), pn532.ErrorTypeTransient)
		}

		if err := t.dev.Tx(frame.NackFrame, nil); err != nil {
			return nil, pn532.NewTransportError("receiveFrame", t.busName,
				fmt.Errorf("failed to send NACK: %w", err), pn532.ErrorTypeTransient)
		}
	}

	return nil, pn532.NewTransportError("receiveFrame", t.busName,
		pn532.ErrChecksumMismatch, pn532.ErrorTypeTransient)
}

// readFrame performs a single full-size frame read
func (t *Transport) readFrame() ([]byte, error) {
	buf := frame.GetBuffer(1 + frame.MaxFrameDataLength + frame.FrameOverhead)
	defer frame.PutBuffer(buf)

	if err := t.dev.Tx(nil, buf); err != nil {
		return nil, pn532.NewTransportError("receiveFrame", t.busName,
			fmt.Errorf("%w: %w", pn532.ErrTransportRead, err), pn532.ErrorTypeTransient)
	}

	// Skip the status byte
	payload, _, err := frame.Parse(buf[1:])
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// Ensure Transport implements pn532.Transport
var _ pn532.Transport = (*Transport)(nil)
