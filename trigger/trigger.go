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

// Package trigger runs card reads on button presses or a fixed interval,
// one read at a time.
package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnsupportedPlatform is returned by NewButton where GPIO character
// devices are unavailable
var ErrUnsupportedPlatform = errors.New("gpio triggers are only supported on linux")

// DefaultChip is the GPIO chip used when none is configured
const DefaultChip = "gpiochip0"

// Source produces trigger events
type Source interface {
	Events() <-chan time.Time
	Close() error
}

// ButtonConfig selects the GPIO line of a read button
type ButtonConfig struct {
	Chip      string
	Line      int
	Debounce  time.Duration
	ActiveLow bool
}

// Loop serialises reads. A trigger that arrives while a read is running is
// dropped, never queued, so a held or bouncing button cannot stack reads.
type Loop struct {
	logger  zerolog.Logger
	read    func(ctx context.Context)
	reads   atomic.Int64
	dropped atomic.Int64
}

// NewLoop creates a loop that calls read once per accepted trigger
func NewLoop(read func(ctx context.Context), logger zerolog.Logger) *Loop {
	return &Loop{read: read, logger: logger}
}

// Run consumes events from src until ctx is done
func (l *Loop) Run(ctx context.Context, src Source) error {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case at, ok := <-events:
			if !ok {
				return nil
			}
			l.logger.Debug().Time("at", at).Msg("read triggered")
			l.reads.Add(1)
			l.read(ctx)
			l.drain(events)
		}
	}
}

// drain discards triggers that fired during the last read
func (l *Loop) drain(events <-chan time.Time) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
			l.dropped.Add(1)
			l.logger.Debug().Msg("trigger dropped, read in progress")
		default:
			return
		}
	}
}

// Reads returns how many reads were started
func (l *Loop) Reads() int64 {
	return l.reads.Load()
}

// Dropped returns how many triggers were discarded
func (l *Loop) Dropped() int64 {
	return l.dropped.Load()
}

// Ticker is a Source firing every interval
type Ticker struct {
	ticker *time.Ticker
}

// NewTicker creates an interval Source
func NewTicker(interval time.Duration) *Ticker {
	return &Ticker{ticker: time.NewTicker(interval)}
}

// Events implements Source
func (t *Ticker) Events() <-chan time.Time {
	return t.ticker.C
}

// Close stops the ticker
func (t *Ticker) Close() error {
	t.ticker.Stop()
	return nil
}

// offer sends at without blocking; a full channel means a trigger is
// already pending and at is dropped.
func offer(events chan<- time.Time, at time.Time) bool {
	select {
	case events <- at:
		return true
	default:
		return false
	}
}
