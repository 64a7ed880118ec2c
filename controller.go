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

package cardreader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-cardreader/internal/retry"
	"github.com/ZaparooProject/go-cardreader/pn532"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is the gap between presence checks
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultCommandTimeout bounds a single PN532 command
	DefaultCommandTimeout = time.Second
	// DefaultPassiveActivationRetries keeps one presence check short so the
	// poll interval, not the chip, paces polling.
	DefaultPassiveActivationRetries byte = 0x01
)

// Controller prepares the reader chip for one attempt
type Controller interface {
	// Initialize sleeps extraSettle, then runs the chip handshake over handle.
	// The returned Session is only valid for the attempt that created it.
	Initialize(ctx context.Context, handle *BusHandle, extraSettle time.Duration) (Session, error)
}

// Session is a chip that completed its handshake on one bus handle
type Session interface {
	// PollForCard checks for a card every poll interval until one answers or
	// timeout elapses, in which case it returns ErrCardTimeout.
	PollForCard(ctx context.Context, timeout time.Duration) (*pn532.DetectedTag, error)
	// ReadBlocks reads and decodes each field; failures are reported per field
	ReadBlocks(ctx context.Context, tag *pn532.DetectedTag, spec BlockSpec) (BlockValues, []*BlockError)
	// Release deselects the card so the next read starts clean
	Release(ctx context.Context) error
}

// PN532Controller implements Controller for a PN532 chip
type PN532Controller struct {
	logger         zerolog.Logger
	key            []byte
	pollInterval   time.Duration
	commandTimeout time.Duration
	keyType        byte
	retries        byte
}

// ControllerOption configures a PN532Controller
type ControllerOption func(*PN532Controller)

// WithPollInterval sets the gap between presence checks
func WithPollInterval(d time.Duration) ControllerOption {
	return func(c *PN532Controller) {
		c.pollInterval = d
	}
}

// WithCommandTimeout sets the per-command transport timeout
func WithCommandTimeout(d time.Duration) ControllerOption {
	return func(c *PN532Controller) {
		c.commandTimeout = d
	}
}

// WithMIFAREKey sets the key used to authenticate MIFARE Classic sectors
func WithMIFAREKey(keyType byte, key []byte) ControllerOption {
	return func(c *PN532Controller) {
		c.keyType = keyType
		c.key = append([]byte(nil), key...)
	}
}

// WithActivationRetries sets the chip's MxRtyPassiveActivation value
func WithActivationRetries(retries byte) ControllerOption {
	return func(c *PN532Controller) {
		c.retries = retries
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger zerolog.Logger) ControllerOption {
	return func(c *PN532Controller) {
		c.logger = logger
	}
}

// NewPN532Controller creates a controller with the default MIFARE key
func NewPN532Controller(opts ...ControllerOption) *PN532Controller {
	c := &PN532Controller{
		logger:         zerolog.Nop(),
		key:            append([]byte(nil), pn532.DefaultMIFAREKey...),
		keyType:        pn532.MIFAREKeyA,
		pollInterval:   DefaultPollInterval,
		commandTimeout: DefaultCommandTimeout,
		retries:        DefaultPassiveActivationRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize implements Controller
func (c *PN532Controller) Initialize(ctx context.Context, handle *BusHandle, extraSettle time.Duration) (Session, error) {
	if handle == nil {
		return nil, fmt.Errorf("%w: no bus handle", ErrHardwareInit)
	}

	if err := retry.Sleep(ctx, extraSettle); err != nil {
		return nil, err
	}

	device, err := pn532.New(handle.Transport(),
		pn532.WithTimeout(c.commandTimeout),
		pn532.WithPassiveActivationRetries(c.retries))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHardwareInit, err)
	}

	if err := device.InitContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrHardwareInit, err)
	}

	c.logger.Debug().Uint64("generation", handle.Generation).
		Str("firmware", device.FirmwareVersion().Version).Msg("reader initialized")
	return &PN532Session{controller: c, device: device}, nil
}

// PN532Session implements Session over one initialized Device
type PN532Session struct {
	controller *PN532Controller
	device     *pn532.Device
}

// PollForCard implements Session. Bus errors during a cycle count as
// "no card this cycle"; if the last cycle errored, the timeout carries it.
func (s *PN532Session) PollForCard(ctx context.Context, timeout time.Duration) (*pn532.DetectedTag, error) {
	var lastErr error
	tag, err := retry.UntilDeadline(ctx, timeout, s.controller.pollInterval,
		func(ctx context.Context) (*pn532.DetectedTag, bool, error) {
			tag, err := s.device.InListPassiveTargetContext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				if pn532.IsTransportFailure(err) {
					s.controller.logger.Debug().Err(err).Msg("bus error while polling")
				}
				lastErr = err
				return nil, true, nil
			}
			lastErr = nil
			return tag, tag == nil, nil
		})

	switch {
	case err == nil:
		return tag, nil
	case errors.Is(err, retry.ErrDeadline) && lastErr != nil:
		return nil, fmt.Errorf("%w after %s: last poll: %w", ErrCardTimeout, timeout, lastErr)
	case errors.Is(err, retry.ErrDeadline):
		return nil, fmt.Errorf("%w after %s", ErrCardTimeout, timeout)
	default:
		return nil, err
	}
}

// ReadBlocks implements Session. MIFARE Classic sectors are authenticated
// once per field; NTAG pages are read directly.
func (s *PN532Session) ReadBlocks(
	ctx context.Context, tag *pn532.DetectedTag, spec BlockSpec,
) (BlockValues, []*BlockError) {
	var (
		values BlockValues
		errs   []*BlockError
	)

	for _, field := range spec {
		data, err := s.readField(ctx, tag, field)
		if err == nil {
			var value string
			value, err = field.decoder()(data)
			if err == nil {
				values = append(values, BlockValue{Name: field.Name, Value: value})
				continue
			}
		}

		s.controller.logger.Debug().Str("field", field.Name).Uint8("address", field.Address).Err(err).
			Msg("block field failed")
		errs = append(errs, &BlockError{
			Field:   field.Name,
			Address: field.Address,
			Err:     fmt.Errorf("%w: %w", ErrBlockDecode, err),
		})
	}

	return values, errs
}

// readField reads the raw bytes behind field
func (s *PN532Session) readField(ctx context.Context, tag *pn532.DetectedTag, field BlockField) ([]byte, error) {
	addresses, err := fieldAddresses(tag, field)
	if err != nil {
		return nil, err
	}

	c := s.controller
	data := make([]byte, 0, len(addresses)*pn532.BlockSize)
	authSector := -1

	for _, addr := range addresses {
		if tag.IsMIFAREClassic() && int(pn532.SectorOf(addr)) != authSector {
			if err := s.device.AuthenticateContext(ctx, tag, addr, c.keyType, c.key); err != nil {
				s.reselect(ctx)
				return nil, err
			}
			authSector = int(pn532.SectorOf(addr))
		}

		block, err := s.device.ReadBlockContext(ctx, addr)
		if err != nil {
			return nil, err
		}
		data = append(data, block...)
	}

	return data, nil
}

// reselect wakes a MIFARE card that halted after a failed authentication
func (s *PN532Session) reselect(ctx context.Context) {
	if _, err := s.device.InListPassiveTargetContext(ctx); err != nil {
		s.controller.logger.Debug().Err(err).Msg("failed to reselect card after auth failure")
	}
}

// ntagPagesPerRead is how far one NTAG READ advances
const ntagPagesPerRead = 4

// fieldAddresses lists the READ addresses behind a field. Sector trailers
// inside a MIFARE Classic span are skipped, but a field may not start on
// one. A field that runs past block 255 is rejected.
func fieldAddresses(tag *pn532.DetectedTag, field BlockField) ([]uint8, error) {
	count := field.blockCount()
	addresses := make([]uint8, 0, count)

	if !tag.IsMIFAREClassic() {
		last := int(field.Address) + (count-1)*ntagPagesPerRead
		if last > 0xFF {
			return nil, fmt.Errorf("%w: %d reads from page %d end at page %d",
				ErrInvalidAddress, count, field.Address, last)
		}
		for i := range count {
			addresses = append(addresses, uint8(int(field.Address)+i*ntagPagesPerRead))
		}
		return addresses, nil
	}

	if pn532.IsSectorTrailer(field.Address) {
		return nil, fmt.Errorf("%w: block %d is a sector trailer", ErrInvalidAddress, field.Address)
	}

	for addr := int(field.Address); len(addresses) < count && addr <= 0xFF; addr++ {
		if pn532.IsSectorTrailer(uint8(addr)) {
			continue
		}
		addresses = append(addresses, uint8(addr))
	}
	if len(addresses) < count {
		return nil, fmt.Errorf("%w: %d blocks from block %d run past block 255",
			ErrInvalidAddress, count, field.Address)
	}
	return addresses, nil
}

// Release implements Session
func (s *PN532Session) Release(ctx context.Context) error {
	if err := s.device.InReleaseContext(ctx); err != nil {
		return fmt.Errorf("failed to release card: %w", err)
	}
	return nil
}

var (
	_ Controller = (*PN532Controller)(nil)
	_ Session    = (*PN532Session)(nil)
)
