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

//go:build linux

package trigger

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Button is a Source backed by a GPIO input line
type Button struct {
	line   *gpiocdev.Line
	events chan time.Time
}

// NewButton requests the configured line and emits an event on each press
func NewButton(cfg ButtonConfig) (*Button, error) {
	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}

	b := &Button{events: make(chan time.Time, 1)}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(b.handleEvent),
	}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	} else {
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s line %d: %w", cfg.Chip, cfg.Line, err)
	}
	b.line = line
	return b, nil
}

func (b *Button) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	offer(b.events, time.Now())
}

// Events implements Source
func (b *Button) Events() <-chan time.Time {
	return b.events
}

// Close releases the line
func (b *Button) Close() error {
	return b.line.Close()
}
