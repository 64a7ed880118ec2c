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

package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// ErrSimulatedGlitch is returned by VirtualReader for injected bus failures
var ErrSimulatedGlitch = errors.New("simulated bus glitch")

// VirtualCard represents a simulated card. Memory is flat: MIFARE block b
// starts at b*16, NTAG page p starts at p*4.
type VirtualCard struct {
	Type      string
	UID       []byte
	Key       []byte
	Memory    []byte
	BadBlocks map[byte]bool
}

// NewVirtualMIFARE1K creates a blank MIFARE Classic 1K card with the default key
func NewVirtualMIFARE1K(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestMIFARE1KUID
	}
	return &VirtualCard{
		Type:      "MIFARE1K",
		UID:       uid,
		Key:       []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		Memory:    make([]byte, 64*16),
		BadBlocks: make(map[byte]bool),
	}
}

// NewVirtualNTAG213 creates a blank NTAG213 card
func NewVirtualNTAG213(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestNTAG213UID
	}
	return &VirtualCard{
		Type:      "NTAG213",
		UID:       uid,
		Memory:    make([]byte, 45*4),
		BadBlocks: make(map[byte]bool),
	}
}

// unitSize is the addressing unit of the card
func (c *VirtualCard) unitSize() int {
	if c.Type == "NTAG213" {
		return 4
	}
	return 16
}

// SetBlock writes data at block (or page) addr, zero padding to 16 bytes
func (c *VirtualCard) SetBlock(addr byte, data []byte) {
	start := int(addr) * c.unitSize()
	block := make([]byte, 16)
	copy(block, data)
	copy(c.Memory[start:], block)
}

// SetText writes a text value at addr
func (c *VirtualCard) SetText(addr byte, text string) {
	c.SetBlock(addr, []byte(text))
}

func (c *VirtualCard) read(addr byte) ([]byte, error) {
	if c.BadBlocks[addr] {
		return nil, fmt.Errorf("block %d unreadable", addr)
	}
	start := int(addr) * c.unitSize()
	if start+16 > len(c.Memory) {
		return nil, fmt.Errorf("block %d out of range", addr)
	}
	out := make([]byte, 16)
	copy(out, c.Memory[start:start+16])
	return out, nil
}

// VirtualReader answers PN532 commands on behalf of a MockTransport
// ResponseFunc, simulating the chip and whatever card is in the field.
type VirtualReader struct {
	card         *VirtualCard
	calls        map[byte]int
	initFailures int
	authSector   int
	mu           sync.Mutex
}

// NewVirtualReader creates a reader with card in the field (nil = empty field)
func NewVirtualReader(card *VirtualCard) *VirtualReader {
	return &VirtualReader{
		card:       card,
		calls:      make(map[byte]int),
		authSector: -1,
	}
}

// SetCard places or removes (nil) a card
func (r *VirtualReader) SetCard(card *VirtualCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.card = card
	r.authSector = -1
}

// FailNextInits makes the next n GetFirmwareVersion calls fail
func (r *VirtualReader) FailNextInits(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initFailures = n
}

// Calls returns how often cmd was answered
func (r *VirtualReader) Calls(cmd byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[cmd]
}

// Respond implements the MockTransport ResponseFunc signature
func (r *VirtualReader) Respond(cmd byte, args []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[cmd]++

	switch cmd {
	case CmdGetFirmwareVersion:
		if r.initFailures > 0 {
			r.initFailures--
			return nil, ErrSimulatedGlitch
		}
		return BuildFirmwareVersionResponse(), nil
	case CmdSAMConfiguration:
		return BuildSAMConfigurationResponse(), nil
	case CmdRFConfiguration:
		return BuildRFConfigurationResponse(), nil
	case CmdInListPassiveTarget:
		if r.card == nil {
			return BuildNoTagResponse(), nil
		}
		r.authSector = -1
		return BuildTagDetectionResponse(r.card.Type, r.card.UID), nil
	case CmdInRelease:
		r.authSector = -1
		return BuildReleaseResponse(), nil
	case CmdInDataExchange:
		return r.dataExchange(args)
	default:
		return nil, fmt.Errorf("virtual reader: unsupported command %02X", cmd)
	}
}

// dataExchange handles MIFARE auth and READ; args[0] is the target number
func (r *VirtualReader) dataExchange(args []byte) ([]byte, error) {
	if r.card == nil || len(args) < 3 {
		return BuildErrorResponse(CmdInDataExchange, 0x01), nil
	}

	op, addr := args[1], args[2]
	switch {
	case op == 0x60 || op == 0x61:
		if len(args) < 9 || !bytes.Equal(args[3:9], r.card.Key) {
			r.authSector = -1
			return BuildErrorResponse(CmdInDataExchange, 0x14), nil
		}
		r.authSector = int(addr / 4)
		return BuildDataExchangeResponse(nil), nil
	case op == 0x30:
		if r.card.Type != "NTAG213" && r.authSector != int(addr/4) {
			return BuildErrorResponse(CmdInDataExchange, 0x14), nil
		}
		data, err := r.card.read(addr)
		if err != nil {
			return BuildErrorResponse(CmdInDataExchange, 0x01), nil
		}
		return BuildDataExchangeResponse(data), nil
	default:
		return BuildErrorResponse(CmdInDataExchange, 0x27), nil
	}
}
