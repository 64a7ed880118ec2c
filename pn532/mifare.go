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

import (
	"context"
	"fmt"
)

// Card commands carried inside InDataExchange
const (
	mifareCmdAuth = 0x60
	mifareCmdRead = 0x30
)

// MIFARE memory structure
const (
	// BlockSize is the number of bytes returned by one READ command
	BlockSize        = 16
	mifareSectorSize = 4
	mifareKeySize    = 6

	// MIFARE Classic 4K switches to 16 block sectors from block 128 (sector 32)
	mifareLargeSectorStart = 128
	mifareLargeSectorSize  = 16
	mifareSmallSectors     = mifareLargeSectorStart / mifareSectorSize
)

// Key types
const (
	MIFAREKeyA = 0x00
	MIFAREKeyB = 0x01
)

// DefaultMIFAREKey is the transport key blank MIFARE Classic cards ship with
var DefaultMIFAREKey = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// SectorOf returns the MIFARE Classic sector holding block. Blocks below
// 128 sit in 4 block sectors; a 4K card's upper blocks sit in 16 block ones.
func SectorOf(block uint8) uint8 {
	if block < mifareLargeSectorStart {
		return block / mifareSectorSize
	}
	return mifareSmallSectors + (block-mifareLargeSectorStart)/mifareLargeSectorSize
}

// IsSectorTrailer reports whether block holds the keys and access bits of
// its sector rather than data.
func IsSectorTrailer(block uint8) bool {
	if block < mifareLargeSectorStart {
		return block%mifareSectorSize == mifareSectorSize-1
	}
	return (block-mifareLargeSectorStart)%mifareLargeSectorSize == mifareLargeSectorSize-1
}

// AuthenticateContext authenticates the sector holding block on a MIFARE
// Classic tag with a 6 byte key.
func (d *Device) AuthenticateContext(ctx context.Context, tag *DetectedTag, block uint8, keyType byte, key []byte) error {
	if len(key) != mifareKeySize {
		return fmt.Errorf("%w: MIFARE key must be %d bytes", ErrInvalidParameter, mifareKeySize)
	}
	if keyType != MIFAREKeyA && keyType != MIFAREKeyB {
		return fmt.Errorf("%w: invalid key type 0x%02X", ErrInvalidParameter, keyType)
	}
	if tag == nil || len(tag.UIDBytes) < 4 {
		return fmt.Errorf("%w: tag UID too short for authentication", ErrInvalidParameter)
	}

	// Key first, then the last 4 UID bytes (the whole UID for 4 byte UIDs)
	uid := tag.UIDBytes[len(tag.UIDBytes)-4:]
	cmd := make([]byte, 0, 2+mifareKeySize+4)
	cmd = append(cmd, mifareCmdAuth+keyType, block)
	cmd = append(cmd, key...)
	cmd = append(cmd, uid...)

	if _, err := d.DataExchangeContext(ctx, cmd); err != nil {
		return fmt.Errorf("authentication of sector %d failed: %w", SectorOf(block), err)
	}
	return nil
}

// ReadBlockContext issues a READ for block (a MIFARE block or the first of
// four NTAG pages) and returns BlockSize bytes.
func (d *Device) ReadBlockContext(ctx context.Context, block uint8) ([]byte, error) {
	data, err := d.DataExchangeContext(ctx, []byte{mifareCmdRead, block})
	if err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", block, err)
	}

	if len(data) < BlockSize {
		return nil, fmt.Errorf("%w: invalid read response length: %d", ErrUnexpectedReply, len(data))
	}

	return data[:BlockSize], nil
}
