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
	"encoding/hex"
	"fmt"
	"time"
)

// TagType identifies the card family of a detected target
type TagType string

const (
	TagTypeUnknown TagType = "UNKNOWN"
	TagTypeNTAG    TagType = "NTAG"
	TagTypeMIFARE  TagType = "MIFARE"
)

// DetectedTag holds the answer of a single ISO14443A target to InListPassiveTarget
type DetectedTag struct {
	DetectedAt   time.Time
	UID          string
	Type         TagType
	UIDBytes     []byte
	ATQ          []byte
	TargetNumber byte
	SAK          byte
}

// String returns a short description of the tag
func (t *DetectedTag) String() string {
	return fmt.Sprintf("%s %s (SAK %02X)", t.Type, t.UID, t.SAK)
}

// IsMIFAREClassic returns true for targets that need sector authentication
func (t *DetectedTag) IsMIFAREClassic() bool {
	return t.Type == TagTypeMIFARE
}

// tagTypeFromSAK maps a SEL_RES byte to a card family.
// 0x08 (1K), 0x09 (Mini), 0x18 (4K) and 0x88 (Infineon 1K) are MIFARE Classic;
// 0x00 is NTAG21x / Ultralight.
func tagTypeFromSAK(sak byte) TagType {
	switch sak {
	case 0x08, 0x09, 0x18, 0x88:
		return TagTypeMIFARE
	case 0x00:
		return TagTypeNTAG
	default:
		return TagTypeUnknown
	}
}

// parseTarget decodes one target entry of an InListPassiveTarget response
// (Tg, SENS_RES[2], SEL_RES, NFCIDLength, NFCID...).
func parseTarget(data []byte) (*DetectedTag, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: target data too short: %d bytes", ErrUnexpectedReply, len(data))
	}

	uidLen := int(data[4])
	if len(data) < 5+uidLen {
		return nil, fmt.Errorf("%w: truncated UID: want %d bytes, have %d", ErrUnexpectedReply, uidLen, len(data)-5)
	}

	uid := make([]byte, uidLen)
	copy(uid, data[5:5+uidLen])

	return &DetectedTag{
		TargetNumber: data[0],
		ATQ:          []byte{data[1], data[2]},
		SAK:          data[3],
		UIDBytes:     uid,
		UID:          hex.EncodeToString(uid),
		Type:         tagTypeFromSAK(data[3]),
		DetectedAt:   time.Now(),
	}, nil
}
