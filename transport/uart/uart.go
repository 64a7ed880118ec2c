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

// Package uart provides UART (HSU) transport implementation for PN532
package uart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-cardreader/internal/frame"
	"github.com/ZaparooProject/go-cardreader/pn532"
	"go.bug.st/serial"
)

const (
	// BaudRate is the PN532 HSU default speed
	BaudRate = 115200

	// readChunkTimeout bounds a single blocking read so ctx is rechecked
	readChunkTimeout = 20 * time.Millisecond

	// receiveTries bounds NACK-and-reread cycles on corrupted frames
	receiveTries = 3
)

// wakeupSequence takes the chip out of power down before the first command
var wakeupSequence = []byte{
	0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// port is the subset of serial.Port the transport uses
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Transport implements the pn532.Transport interface for UART communication
type Transport struct {
	port     port
	portName string
	timeout  time.Duration
	mu       sync.Mutex
	awake    bool
	closed   bool
}

// New opens portName at 115200 8N1
func New(portName string) (*Transport, error) {
	p, err := serial.Open(portName, &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return newWithPort(p, portName), nil
}

func newWithPort(p port, portName string) *Transport {
	return &Transport{
		port:     p,
		portName: portName,
		timeout:  time.Second,
	}
}

// Opener returns a function that opens a fresh transport on portName, in
// the shape expected by a bus handle cache.
func Opener(portName string) func(ctx context.Context) (pn532.Transport, error) {
	return func(ctx context.Context) (pn532.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := New(portName)
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

	frm, err := frame.Build(cmd, args)
	if err != nil {
		return nil, pn532.NewDataTooLargeError("sendFrame", t.portName)
	}

	if !t.awake {
		frm = append(append([]byte(nil), wakeupSequence...), frm...)
	}

	_ = t.port.ResetInputBuffer()
	if err := t.write(frm); err != nil {
		return nil, err
	}
	t.awake = true

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	return t.receive(ctx)
}

// SetTimeout sets the response timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return pn532.ErrInvalidParameter
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the serial port. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", t.portName, err)
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
	return pn532.TransportUART
}

func (t *Transport) write(data []byte) error {
	if _, err := t.port.Write(data); err != nil {
		return t.portError("write", pn532.ErrTransportWrite, err)
	}
	return nil
}

// receive reads until an ACK and a complete response frame have arrived
func (t *Transport) receive(ctx context.Context) ([]byte, error) {
	if err := t.port.SetReadTimeout(readChunkTimeout); err != nil {
		return nil, t.portError("receive", pn532.ErrTransportRead, err)
	}

	var buf []byte
	acked := false
	nacks := 0
	chunk := make([]byte, 64)

	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				if !acked {
					return nil, pn532.NewNoACKError("receive", t.portName)
				}
				return nil, pn532.NewTimeoutError("receive", t.portName)
			}
			return nil, err
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			return nil, t.portError("receive", pn532.ErrTransportRead, err)
		}
		buf = append(buf, chunk[:n]...)

		if !acked {
			idx := bytes.Index(buf, frame.AckFrame[1:])
			if idx < 0 {
				continue
			}
			acked = true
			buf = buf[idx+len(frame.AckFrame)-1:]
		}

		payload, _, err := frame.Parse(buf)
		switch {
		case err == nil:
			return payload, nil
		case errors.Is(err, frame.ErrNoStartCode), errors.Is(err, frame.ErrTruncated):
			continue
		case errors.Is(err, frame.ErrDataChecksum), errors.Is(err, frame.ErrLengthChecksum):
			nacks++
			if nacks >= receiveTries {
				return nil, pn532.NewTransportError("receive", t.portName,
					pn532.ErrChecksumMismatch, pn532.ErrorTypeTransient)
			}
			buf = buf[:0]
			if err := t.write(frame.NackFrame); err != nil {
				return nil, err
			}
		default:
			return nil, pn532.NewTransportError("receive", t.portName,
				fmt.Errorf("%w: %w", pn532.ErrFrameCorrupted, err), pn532.ErrorTypeTransient)
		}
	}
}

// portError maps serial port failures; a vanished or closed port is permanent
func (t *Transport) portError(op string, sentinel, err error) error {
	errType := pn532.ErrorTypeTransient
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			errType = pn532.ErrorTypePermanent
		default:
		}
	}
	return pn532.NewTransportError(op, t.portName, fmt.Errorf("%w: %w", sentinel, err), errType)
}

// Ensure Transport implements pn532.Transport
var _ pn532.Transport = (*Transport)(nil)
