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
	"errors"
	"fmt"
)

var (
	// ErrHardwareInit means the bus or chip did not reach a ready state
	ErrHardwareInit = errors.New("hardware init failed")
	// ErrCardTimeout means no card answered within the poll window
	ErrCardTimeout = errors.New("no card detected")
	// ErrBlockDecode means one block field could not be read or decoded
	ErrBlockDecode = errors.New("block decode failed")
	// ErrCacheClosed is returned by a BusHandleCache after Close
	ErrCacheClosed = errors.New("bus handle cache closed")
	// ErrInvalidAddress means a field does not map onto readable card memory
	ErrInvalidAddress = errors.New("invalid block address")
	// ErrInvalidConfig is returned for unusable pipeline settings
	ErrInvalidConfig = errors.New("invalid configuration")
)

// AttemptError records which step of which recovery level failed
type AttemptError struct {
	Err   error
	Op    string
	Level RecoveryLevel
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Level, e.Op, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// BlockError reports a single field that could not be read or decoded
type BlockError struct {
	Err     error
	Field   string
	Address uint8
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("field %q at block %d: %v", e.Field, e.Address, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}
