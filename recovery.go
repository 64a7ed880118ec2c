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
	"fmt"
	"time"
)

// RecoveryLevel is one of the escalating init strategies tried during a read
type RecoveryLevel int

const (
	// LevelNormal reuses the cached bus handle as-is
	LevelNormal RecoveryLevel = iota
	// LevelSoftReset reuses the cached handle after an extra settle delay
	LevelSoftReset
	// LevelHardReset closes and reopens the bus before the settle delay
	LevelHardReset
)

const maxRecoveryLevels = 3

func (l RecoveryLevel) String() string {
	switch l {
	case LevelNormal:
		return "L0 normal"
	case LevelSoftReset:
		return "L1 soft reset"
	case LevelHardReset:
		return "L2 hard reset"
	default:
		return fmt.Sprintf("L%d", int(l))
	}
}

// RecoveryStrategy is what one attempt does before talking to the chip
type RecoveryStrategy struct {
	Level RecoveryLevel
	// Force recreates the bus handle even if the cached one is still valid
	Force bool
	// ExtraSettle is slept before the chip handshake
	ExtraSettle time.Duration
}

// RecoveryPolicy maps attempt levels to strategies
type RecoveryPolicy struct {
	SoftResetSettle time.Duration
	HardResetSettle time.Duration
	MaxAttempts     int
}

// DefaultRecoveryPolicy returns the L0/L1/L2 ladder with 200ms settles
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		SoftResetSettle: 200 * time.Millisecond,
		HardResetSettle: 200 * time.Millisecond,
		MaxAttempts:     maxRecoveryLevels,
	}
}

// Levels returns the levels to try, in order. MaxAttempts is clamped to 1..3.
func (p RecoveryPolicy) Levels() []RecoveryLevel {
	n := min(max(p.MaxAttempts, 1), maxRecoveryLevels)
	levels := make([]RecoveryLevel, n)
	for i := range levels {
		levels[i] = RecoveryLevel(i)
	}
	return levels
}

// Strategy returns the init parameters for level
func (p RecoveryPolicy) Strategy(level RecoveryLevel) RecoveryStrategy {
	switch level {
	case LevelNormal:
		return RecoveryStrategy{Level: level}
	case LevelSoftReset:
		return RecoveryStrategy{Level: level, ExtraSettle: p.SoftResetSettle}
	default:
		return RecoveryStrategy{Level: level, Force: true, ExtraSettle: p.HardResetSettle}
	}
}
