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
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hsanjuan/go-ndef"
)

var (
	// ErrEmptyBlock is returned by decoders for blank (all 0x00 or 0xFF) data
	ErrEmptyBlock = errors.New("block is empty")
	// ErrNoNDEFMessage is returned when no NDEF message TLV is present
	ErrNoNDEFMessage = errors.New("no NDEF message found")
)

// Decoder turns raw block bytes into a field value
type Decoder func(data []byte) (string, error)

// Decoder names accepted by DecoderByName
const (
	DecoderText    = "text"
	DecoderHex     = "hex"
	DecoderUint    = "uint"
	DecoderNDEFTxt = "ndef-text"
)

// BlockField maps a field name to card memory. Address is a MIFARE Classic
// block or an NTAG page; Blocks is how many 16 byte reads make up the field.
type BlockField struct {
	Decoder Decoder
	Name    string
	Blocks  int
	Address uint8
}

// BlockSpec is the ordered list of fields read from every card
type BlockSpec []BlockField

// Validate checks that the spec names at least one field, has no duplicates
// and that no field runs past the last addressable block.
func (s BlockSpec) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: block spec is empty", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("%w: block field at address %d has no name", ErrInvalidConfig, f.Address)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate block field %q", ErrInvalidConfig, f.Name)
		}
		if f.Blocks < 0 {
			return fmt.Errorf("%w: block field %q has negative length", ErrInvalidConfig, f.Name)
		}
		if int(f.Address)+f.blockCount()-1 > 0xFF {
			return fmt.Errorf("%w: block field %q runs past block 255", ErrInvalidConfig, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// Names returns the field names in order
func (s BlockSpec) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func (f BlockField) blockCount() int {
	return max(f.Blocks, 1)
}

func (f BlockField) decoder() Decoder {
	if f.Decoder == nil {
		return DecodeText
	}
	return f.Decoder
}

// DecoderByName returns a built-in decoder; "" selects text
func DecoderByName(name string) (Decoder, error) {
	switch name {
	case "", DecoderText:
		return DecodeText, nil
	case DecoderHex:
		return DecodeHex, nil
	case DecoderUint:
		return DecodeUint, nil
	case DecoderNDEFTxt:
		return DecodeNDEFText, nil
	default:
		return nil, fmt.Errorf("%w: unknown decoder %q", ErrInvalidConfig, name)
	}
}

// isPad reports whether b is erased (0xFF) or zeroed card memory
func isPad(b byte) bool {
	return b == 0x00 || b == 0xFF
}

func isBlank(data []byte) bool {
	for _, b := range data {
		if !isPad(b) {
			return false
		}
	}
	return true
}

// trimPadding drops trailing 0x00 and 0xFF bytes
func trimPadding(data []byte) []byte {
	end := len(data)
	for end > 0 && isPad(data[end-1]) {
		end--
	}
	return data[:end]
}

// DecodeText reads NUL or 0xFF padded UTF-8 text
func DecodeText(data []byte) (string, error) {
	trimmed := trimPadding(data)
	if len(trimmed) == 0 {
		return "", ErrEmptyBlock
	}
	if !utf8.Valid(trimmed) {
		return "", errors.New("invalid UTF-8 text")
	}
	text := strings.TrimSpace(string(trimmed))
	if text == "" {
		return "", ErrEmptyBlock
	}
	return text, nil
}

// DecodeHex returns the data as lower case hex
func DecodeHex(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyBlock
	}
	return hex.EncodeToString(data), nil
}

// DecodeUint reads a big-endian uint32 from the first four bytes
func DecodeUint(data []byte) (string, error) {
	if len(data) < 4 {
		return "", fmt.Errorf("need 4 bytes, have %d", len(data))
	}
	if isBlank(data[:4]) {
		return "", ErrEmptyBlock
	}
	return strconv.FormatUint(uint64(binary.BigEndian.Uint32(data[:4])), 10), nil
}

// DecodeNDEFText finds the NDEF message TLV and returns the payload of its
// first record as text.
func DecodeNDEFText(data []byte) (string, error) {
	payload, err := findNDEFMessage(data)
	if err != nil {
		return "", err
	}

	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(payload); err != nil {
		return "", fmt.Errorf("invalid NDEF message: %w", err)
	}
	if len(msg.Records) == 0 {
		return "", ErrNoNDEFMessage
	}

	recordPayload, err := msg.Records[0].Payload()
	if err != nil {
		return "", fmt.Errorf("invalid NDEF record: %w", err)
	}

	text := recordPayload.String()
	if text == "" {
		return "", ErrEmptyBlock
	}
	return text, nil
}

// findNDEFMessage walks the TLV area and returns the value of the first
// NDEF message TLV (type 0x03).
func findNDEFMessage(data []byte) ([]byte, error) {
	const (
		tlvNull       = 0x00
		tlvNDEF       = 0x03
		tlvTerminator = 0xFE
	)

	for i := 0; i < len(data); {
		t := data[i]
		switch t {
		case tlvNull:
			i++
			continue
		case tlvTerminator:
			return nil, ErrNoNDEFMessage
		}

		if i+1 >= len(data) {
			break
		}
		length, header := int(data[i+1]), 2
		if length == 0xFF {
			if i+3 >= len(data) {
				break
			}
			length, header = int(binary.BigEndian.Uint16(data[i+2:i+4])), 4
		}

		start, end := i+header, i+header+length
		if end > len(data) {
			return nil, fmt.Errorf("NDEF TLV truncated: need %d bytes, have %d", end, len(data))
		}
		if t == tlvNDEF {
			return data[start:end], nil
		}
		i = end
	}

	return nil, ErrNoNDEFMessage
}
