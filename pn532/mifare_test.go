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
	"testing"

	testutil "github.com/ZaparooProject/go-cardreader/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVirtualDevice(t *testing.T, card *testutil.VirtualCard) (*Device, *testutil.VirtualReader) {
	t.Helper()

	reader := testutil.NewVirtualReader(card)
	mock := NewMockTransport()
	mock.ResponseFunc = reader.Respond

	device, err := New(mock)
	require.NoError(t, err)
	require.NoError(t, device.InitContext(context.Background()))
	return device, reader
}

func TestSectorOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		block       uint8
		wantSector  uint8
		wantTrailer bool
	}{
		{name: "manufacturer block", block: 0, wantSector: 0},
		{name: "first data block of sector 1", block: 4, wantSector: 1},
		{name: "sector 1 trailer", block: 7, wantSector: 1, wantTrailer: true},
		{name: "last 1K trailer", block: 63, wantSector: 15, wantTrailer: true},
		{name: "last small sector trailer", block: 127, wantSector: 31, wantTrailer: true},
		{name: "first large sector", block: 128, wantSector: 32},
		{name: "large sector data at small trailer offset", block: 131, wantSector: 32},
		{name: "large sector data", block: 139, wantSector: 32},
		{name: "first large sector trailer", block: 143, wantSector: 32, wantTrailer: true},
		{name: "second large sector", block: 144, wantSector: 33},
		{name: "last 4K block", block: 255, wantSector: 39, wantTrailer: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantSector, SectorOf(tt.block))
			assert.Equal(t, tt.wantTrailer, IsSectorTrailer(tt.block))
		})
	}
}

func TestAuthenticateAndReadBlock(t *testing.T) {
	t.Parallel()

	card := testutil.NewVirtualMIFARE1K(nil)
	card.SetText(4, "Abbey Road")

	device, _ := newVirtualDevice(t, card)
	ctx := context.Background()

	tag, err := device.InListPassiveTargetContext(ctx)
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.True(t, tag.IsMIFAREClassic())

	require.NoError(t, device.AuthenticateContext(ctx, tag, 4, MIFAREKeyA, DefaultMIFAREKey))

	data, err := device.ReadBlockContext(ctx, 4)
	require.NoError(t, err)
	require.Len(t, data, BlockSize)
	assert.Equal(t, "Abbey Road", string(data[:10]))
	assert.Equal(t, byte(0), data[10])
}

func TestAuthenticate_WrongKey(t *testing.T) {
	t.Parallel()

	device, _ := newVirtualDevice(t, testutil.NewVirtualMIFARE1K(nil))
	ctx := context.Background()

	tag, err := device.InListPassiveTargetContext(ctx)
	require.NoError(t, err)

	err = device.AuthenticateContext(ctx, tag, 4, MIFAREKeyA, []byte{1, 2, 3, 4, 5, 6})
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Contains(t, err.Error(), "sector 1")
}

func TestAuthenticate_InvalidParameters(t *testing.T) {
	t.Parallel()

	device, err := New(NewMockTransport())
	require.NoError(t, err)

	tag := &DetectedTag{UIDBytes: testutil.TestMIFARE1KUID}
	ctx := context.Background()

	require.ErrorIs(t, device.AuthenticateContext(ctx, tag, 4, MIFAREKeyA, []byte{0xFF}), ErrInvalidParameter)
	require.ErrorIs(t, device.AuthenticateContext(ctx, tag, 4, 0x07, DefaultMIFAREKey), ErrInvalidParameter)
	require.ErrorIs(t, device.AuthenticateContext(ctx, &DetectedTag{}, 4, MIFAREKeyA, DefaultMIFAREKey),
		ErrInvalidParameter)
}

func TestReadBlock_WithoutAuth(t *testing.T) {
	t.Parallel()

	device, _ := newVirtualDevice(t, testutil.NewVirtualMIFARE1K(nil))
	ctx := context.Background()

	_, err := device.InListPassiveTargetContext(ctx)
	require.NoError(t, err)

	_, err = device.ReadBlockContext(ctx, 4)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestReadBlock_NTAGNeedsNoAuth(t *testing.T) {
	t.Parallel()

	card := testutil.NewVirtualNTAG213(nil)
	card.SetText(4, "hi")

	device, _ := newVirtualDevice(t, card)
	ctx := context.Background()

	tag, err := device.InListPassiveTargetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, TagTypeNTAG, tag.Type)

	data, err := device.ReadBlockContext(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data[:2]))
}

func TestReadBlock_ShortResponse(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(testutil.CmdInDataExchange, testutil.BuildDataExchangeResponse([]byte{0x01, 0x02}))

	device, err := New(mock)
	require.NoError(t, err)

	_, err = device.ReadBlockContext(context.Background(), 4)
	require.ErrorIs(t, err, ErrUnexpectedReply)
}
