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

// Package pn532 drives an NXP PN532 NFC controller over a pluggable
// Transport.
//
// The driver covers what a card reading appliance needs: the power-up
// handshake (firmware version, SAM configuration, passive activation
// retries), ISO14443A target selection, MIFARE Classic sector
// authentication and 16 byte block reads, and target release.
//
// Basic usage:
//
//	transport, err := i2c.New("/dev/i2c-1")
//	if err != nil {
//		return err
//	}
//	defer transport.Close()
//
//	device, err := pn532.New(transport)
//	if err != nil {
//		return err
//	}
//	if err := device.InitContext(ctx); err != nil {
//		return err
//	}
//
//	tag, err := device.InListPassiveTargetContext(ctx)
//
// A Device is not safe for concurrent use and does not own its transport.
package pn532
