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

/*
Package cardreader turns an I2C or UART attached PN532 NFC reader into a
dependable "read this card's data" operation.

A read walks up to three recovery levels, each tried once and in order:

  - L0 normal: reuse the cached bus handle as-is
  - L1 soft reset: reuse the handle after an extra settle delay
  - L2 hard reset: close the bus, wait, reopen it, then settle

Every level runs the chip handshake, polls for a card with a bounded
timeout and reads the configured block fields. A read that exhausts all
levels increments a consecutive failure count; once it reaches the
threshold the result recommends a system reset. Any success clears it.

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-cardreader"
	    "github.com/ZaparooProject/go-cardreader/transport/i2c"
	)

	cfg := cardreader.DefaultConfig()
	cfg.Logger = logger
	cfg.BlockSpec = cardreader.BlockSpec{
	    {Name: "album_id", Address: 4},
	    {Name: "name", Address: 5},
	}

	pipeline, err := cardreader.New(i2c.Opener("/dev/i2c-1"), cfg)
	if err != nil {
	    return err
	}
	defer pipeline.Close()

	result := pipeline.ReadCard()
	switch {
	case result.SystemResetNeeded:
	    // tell the operator the reader may need a restart
	case result.Status == cardreader.StatusSuccess:
	    albumID, _ := result.Blocks.Get("album_id")
	}

ReadCard blocks for up to three poll timeouts plus settle delays (about
16 seconds with the defaults), so call it off any UI thread.

The pn532 subpackage holds the chip driver; transport/i2c and
transport/uart provide the buses.
*/
package cardreader
