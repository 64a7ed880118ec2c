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

import "sync/atomic"

// DefaultCascadeThreshold is the number of consecutive exhausted reads after
// which a system reset is recommended.
const DefaultCascadeThreshold = 3

// CascadeTracker counts consecutive reads that exhausted every recovery
// level. The count describes the reader hardware over time, not any one
// card, so a single tracker is shared by every read on that reader.
type CascadeTracker struct {
	count     atomic.Int64
	threshold int64
}

// NewCascadeTracker creates a tracker; threshold < 1 uses the default
func NewCascadeTracker(threshold int) *CascadeTracker {
	if threshold < 1 {
		threshold = DefaultCascadeThreshold
	}
	return &CascadeTracker{threshold: int64(threshold)}
}

// RecordFailure increments the count and returns the new value
func (c *CascadeTracker) RecordFailure() int {
	return int(c.count.Add(1))
}

// RecordSuccess resets the count to zero
func (c *CascadeTracker) RecordSuccess() {
	c.count.Store(0)
}

// NeedsReset reports whether the count has reached the threshold
func (c *CascadeTracker) NeedsReset() bool {
	return c.count.Load() >= c.threshold
}

// Exceeds reports whether count is at or over the threshold
func (c *CascadeTracker) Exceeds(count int) bool {
	return int64(count) >= c.threshold
}

// Count returns the current consecutive failure count
func (c *CascadeTracker) Count() int {
	return int(c.count.Load())
}

// Threshold returns the reset threshold
func (c *CascadeTracker) Threshold() int {
	return int(c.threshold)
}
