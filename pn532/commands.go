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

package pn532

// PN532 command codes (PN532 user manual section 7)
const (
	cmdGetFirmwareVersion  = 0x02
	cmdSAMConfiguration    = 0x14
	cmdRFConfiguration     = 0x32
	cmdInDataExchange      = 0x40
	cmdInListPassiveTarget = 0x4A
	cmdInRelease           = 0x52
)

// SAM modes
const (
	SAMNormal      = 0x01
	SAMVirtualCard = 0x02
	SAMWiredCard   = 0x03
	SAMDualCard    = 0x04
)

// RFConfiguration config items
const (
	rfConfigMaxRetries = 0x05
)

// DefaultPassiveActivationRetries controls InListPassiveTarget internal retries.
// Each retry is roughly 100ms; 0x0A keeps a single poll cycle near one second
// instead of the chip default of waiting forever.
const DefaultPassiveActivationRetries byte = 0x0A

// brTy values for InListPassiveTarget
const (
	baudRate106kbpsTypeA = 0x00
)
