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
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-cardreader/internal/retry"
	"github.com/ZaparooProject/go-cardreader/pn532"
	"github.com/rs/zerolog"
)

const (
	// DefaultHandleTTL is how long a bus handle is reused before it is
	// transparently reopened.
	DefaultHandleTTL = 30 * time.Second
	// DefaultResetSettle is waited after closing a handle before reopening
	DefaultResetSettle = 300 * time.Millisecond
)

// BusOpener opens the physical bus and returns a transport owning it.
// transport/i2c.Opener and transport/uart.Opener return BusOpeners.
type BusOpener func(ctx context.Context) (pn532.Transport, error)

// BusHandle is the single live connection to the reader's bus
type BusHandle struct {
	CreatedAt  time.Time
	transport  pn532.Transport
	Generation uint64
}

// Transport returns the transport that owns the bus
func (h *BusHandle) Transport() pn532.Transport {
	return h.transport
}

// CacheStats counts handle lifecycle events
type CacheStats struct {
	Created  uint64
	Released uint64
	Live     bool
}

// BusHandleCache owns at most one live BusHandle. It is the only component
// that opens or closes the bus; every open happens after the previous
// handle has been closed.
type BusHandleCache struct {
	logger   zerolog.Logger
	open     BusOpener
	now      func() time.Time
	handle   *BusHandle
	ttl      time.Duration
	settle   time.Duration
	gen      uint64
	created  uint64
	released uint64
	mu       sync.Mutex
	closed   bool
}

// CacheOption configures a BusHandleCache
type CacheOption func(*BusHandleCache)

// WithHandleTTL sets how long a handle is reused
func WithHandleTTL(ttl time.Duration) CacheOption {
	return func(c *BusHandleCache) {
		c.ttl = ttl
	}
}

// WithResetSettle sets the delay between closing a handle and opening the next
func WithResetSettle(d time.Duration) CacheOption {
	return func(c *BusHandleCache) {
		c.settle = d
	}
}

// WithClock replaces time.Now for TTL checks
func WithClock(now func() time.Time) CacheOption {
	return func(c *BusHandleCache) {
		c.now = now
	}
}

// WithCacheLogger sets the logger used for handle lifecycle events
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *BusHandleCache) {
		c.logger = logger
	}
}

// NewBusHandleCache creates an empty cache that opens handles with open
func NewBusHandleCache(open BusOpener, opts ...CacheOption) *BusHandleCache {
	c := &BusHandleCache{
		open:   open,
		now:    time.Now,
		ttl:    DefaultHandleTTL,
		settle: DefaultResetSettle,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the cached handle, or replaces it when force is set,
// no handle exists, or the handle is older than the TTL. Replacing closes
// the old handle, waits the reset settle interval, then opens a new one.
// Open failures wrap ErrHardwareInit.
func (c *BusHandleCache) GetOrCreate(ctx context.Context, force bool) (*BusHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}

	if !force && c.handle != nil && !c.expiredLocked() {
		return c.handle, nil
	}

	if c.handle != nil {
		reason := "expired"
		if force {
			reason = "forced"
		}
		c.releaseLocked(reason)

		if err := retry.Sleep(ctx, c.settle); err != nil {
			return nil, err
		}
	}

	transport, err := c.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open bus: %w", ErrHardwareInit, err)
	}

	c.gen++
	c.created++
	c.handle = &BusHandle{
		transport:  transport,
		CreatedAt:  c.now(),
		Generation: c.gen,
	}
	c.logger.Debug().Uint64("generation", c.gen).Str("transport", string(transport.Type())).
		Msg("bus handle opened")

	return c.handle, nil
}

// Invalidate closes and drops the current handle, if any
func (c *BusHandleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.releaseLocked("invalidated")
	}
}

// Close releases the handle; later GetOrCreate calls fail with ErrCacheClosed
func (c *BusHandleCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.handle == nil {
		return nil
	}

	h := c.handle
	c.handle = nil
	c.released++
	if err := h.transport.Close(); err != nil {
		return fmt.Errorf("failed to close bus handle %d: %w", h.Generation, err)
	}
	return nil
}

// Stats returns lifecycle counters
func (c *BusHandleCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Created:  c.created,
		Released: c.released,
		Live:     c.handle != nil,
	}
}

func (c *BusHandleCache) expiredLocked() bool {
	return c.now().Sub(c.handle.CreatedAt) > c.ttl
}

// releaseLocked closes the current handle. A failed close still drops the
// handle; the bus is reopened from scratch either way.
func (c *BusHandleCache) releaseLocked(reason string) {
	h := c.handle
	c.handle = nil
	c.released++

	if err := h.transport.Close(); err != nil {
		c.logger.Warn().Err(err).Uint64("generation", h.Generation).Msg("failed to close bus handle")
		return
	}
	c.logger.Debug().Uint64("generation", h.Generation).Str("reason", reason).Msg("bus handle released")
}
