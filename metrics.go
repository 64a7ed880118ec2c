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
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time copy of pipeline counters
type Metrics struct {
	Reads          int64         `json:"reads"`
	Successes      int64         `json:"successes"`
	Timeouts       int64         `json:"timeouts"`
	Errors         int64         `json:"errors"`
	Cancelled      int64         `json:"cancelled"`
	ResetSignals   int64         `json:"reset_signals"`
	SuccessByLevel [3]int64      `json:"success_by_level"`
	LastLatency    time.Duration `json:"last_latency"`
}

// metrics holds the live counters
type metrics struct {
	reads          atomic.Int64
	successes      atomic.Int64
	timeouts       atomic.Int64
	errors         atomic.Int64
	cancelled      atomic.Int64
	resetSignals   atomic.Int64
	successByLevel [maxRecoveryLevels]atomic.Int64
	lastLatency    atomic.Int64
}

func (m *metrics) record(result *ReadResult, cancelled bool) {
	m.reads.Add(1)
	m.lastLatency.Store(result.Duration.Nanoseconds())

	switch {
	case cancelled:
		m.cancelled.Add(1)
	case result.Status == StatusSuccess:
		m.successes.Add(1)
		if result.Attempt >= 0 && result.Attempt < maxRecoveryLevels {
			m.successByLevel[result.Attempt].Add(1)
		}
	case result.Status == StatusTimeout:
		m.timeouts.Add(1)
	default:
		m.errors.Add(1)
	}

	if result.SystemResetNeeded {
		m.resetSignals.Add(1)
	}
}

func (m *metrics) snapshot() Metrics {
	s := Metrics{
		Reads:        m.reads.Load(),
		Successes:    m.successes.Load(),
		Timeouts:     m.timeouts.Load(),
		Errors:       m.errors.Load(),
		Cancelled:    m.cancelled.Load(),
		ResetSignals: m.resetSignals.Load(),
		LastLatency:  time.Duration(m.lastLatency.Load()),
	}
	for i := range m.successByLevel {
		s.SuccessByLevel[i] = m.successByLevel[i].Load()
	}
	return s
}
