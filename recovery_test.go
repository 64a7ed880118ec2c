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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecoveryPolicy_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		want        []RecoveryLevel
		maxAttempts int
	}{
		{name: "default", maxAttempts: 3, want: []RecoveryLevel{LevelNormal, LevelSoftReset, LevelHardReset}},
		{name: "one", maxAttempts: 1, want: []RecoveryLevel{LevelNormal}},
		{name: "two", maxAttempts: 2, want: []RecoveryLevel{LevelNormal, LevelSoftReset}},
		{name: "zero clamps up", maxAttempts: 0, want: []RecoveryLevel{LevelNormal}},
		{name: "too many clamps down", maxAttempts: 9, want: []RecoveryLevel{LevelNormal, LevelSoftReset, LevelHardReset}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			policy := DefaultRecoveryPolicy()
			policy.MaxAttempts = tt.maxAttempts
			assert.Equal(t, tt.want, policy.Levels())
		})
	}
}

func TestRecoveryPolicy_Strategy(t *testing.T) {
	t.Parallel()

	policy := RecoveryPolicy{
		SoftResetSettle: 150 * time.Millisecond,
		HardResetSettle: 250 * time.Millisecond,
		MaxAttempts:     3,
	}

	assert.Equal(t, RecoveryStrategy{Level: LevelNormal}, policy.Strategy(LevelNormal))
	assert.Equal(t,
		RecoveryStrategy{Level: LevelSoftReset, ExtraSettle: 150 * time.Millisecond},
		policy.Strategy(LevelSoftReset))
	assert.Equal(t,
		RecoveryStrategy{Level: LevelHardReset, Force: true, ExtraSettle: 250 * time.Millisecond},
		policy.Strategy(LevelHardReset))
}

func TestDefaultRecoveryPolicy(t *testing.T) {
	t.Parallel()

	policy := DefaultRecoveryPolicy()
	assert.Equal(t, 200*time.Millisecond, policy.SoftResetSettle)
	assert.Equal(t, 200*time.Millisecond, policy.HardResetSettle)
	assert.Equal(t, 3, policy.MaxAttempts)
}

func TestRecoveryLevel_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "L0 normal", LevelNormal.String())
	assert.Equal(t, "L1 soft reset", LevelSoftReset.String())
	assert.Equal(t, "L2 hard reset", LevelHardReset.String())
	assert.Equal(t, "L7", RecoveryLevel(7).String())
}
