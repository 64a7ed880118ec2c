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

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_GetFirmwareVersion(t *testing.T) {
	t.Parallel()

	frm, err := Build(0x02, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00}, frm)
}

func TestBuild_TooLarge(t *testing.T) {
	t.Parallel()

	_, err := Build(0x40, make([]byte, 254))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestParse(t *testing.T) {
	t.Parallel()

	// GetFirmwareVersion response: D5 03 32 01 06 07
	response := []byte{0x00, 0x00, 0xFF, 0x06, 0xFA, 0xD5, 0x03, 0x32, 0x01, 0x06, 0x07, 0xE8, 0x00}

	tests := []struct {
		wantErr     error
		name        string
		buf         []byte
		wantPayload []byte
	}{
		{
			name:        "valid response",
			buf:         response,
			wantPayload: []byte{0x03, 0x32, 0x01, 0x06, 0x07},
		},
		{
			name:        "leading ready byte and padding",
			buf:         append([]byte{0x01, 0x00}, response...),
			wantPayload: []byte{0x03, 0x32, 0x01, 0x06, 0x07},
		},
		{
			name:    "no start code",
			buf:     []byte{0x01, 0x02, 0x03},
			wantErr: ErrNoStartCode,
		},
		{
			name:    "bad length checksum",
			buf:     []byte{0x00, 0x00, 0xFF, 0x06, 0xFB, 0xD5, 0x03},
			wantErr: ErrLengthChecksum,
		},
		{
			name:    "bad data checksum",
			buf:     []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD5, 0x15, 0x00, 0x00},
			wantErr: ErrDataChecksum,
		},
		{
			name:    "truncated body",
			buf:     []byte{0x00, 0x00, 0xFF, 0x06, 0xFA, 0xD5, 0x03},
			wantErr: ErrTruncated,
		},
		{
			name:    "host frame is not a response",
			buf:     []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00},
			wantErr: ErrUnexpectedTFI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, _, err := Parse(tt.buf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPayload, payload)
		})
	}
}

func TestIsAck(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAck(AckFrame))
	assert.True(t, IsAck(append([]byte{0x01}, AckFrame...)))
	assert.False(t, IsAck(NackFrame))
	assert.False(t, IsAck([]byte{0x01, 0x02}))
}

func TestBufferPool(t *testing.T) {
	t.Parallel()

	buf := GetBuffer(16)
	assert.Len(t, buf, 16)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
	PutBuffer(buf)

	big := GetBuffer(MaxFrameDataLength + FrameOverhead + 1)
	assert.Len(t, big, MaxFrameDataLength+FrameOverhead+1)
	PutBuffer(big)
}
