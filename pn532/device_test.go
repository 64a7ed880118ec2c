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
	"errors"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-cardreader/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newInitMock() *MockTransport {
	mock := NewMockTransport()
	mock.SetResponse(testutil.CmdGetFirmwareVersion, testutil.BuildFirmwareVersionResponse())
	mock.SetResponse(testutil.CmdSAMConfiguration, testutil.BuildSAMConfigurationResponse())
	mock.SetResponse(testutil.CmdRFConfiguration, testutil.BuildRFConfigurationResponse())
	return mock
}

func TestNew(t *testing.T) {
	t.Parallel()

	device, err := New(NewMockTransport())
	require.NoError(t, err)
	assert.NotNil(t, device.Transport())

	_, err = New(nil)
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = New(NewMockTransport(), WithTimeout(0))
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestDevice_InitContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setupMock      func(*MockTransport)
		name           string
		errorSubstring string
		expectError    bool
	}{
		{
			name:      "Successful_Initialization",
			setupMock: func(*MockTransport) {},
		},
		{
			name: "Firmware_Version_Error",
			setupMock: func(mock *MockTransport) {
				mock.SetError(testutil.CmdGetFirmwareVersion, errors.New("firmware version failed"))
			},
			expectError:    true,
			errorSubstring: "firmware version failed",
		},
		{
			name: "SAM_Configuration_Error",
			setupMock: func(mock *MockTransport) {
				mock.SetError(testutil.CmdSAMConfiguration, errors.New("SAM config failed"))
			},
			expectError:    true,
			errorSubstring: "SAM config failed",
		},
		{
			name: "RF_Configuration_Error",
			setupMock: func(mock *MockTransport) {
				mock.SetError(testutil.CmdRFConfiguration, NewTimeoutError("SendCommand", "mock"))
			},
			expectError:    true,
			errorSubstring: "passive activation retries",
		},
		{
			name: "Short_Firmware_Response",
			setupMock: func(mock *MockTransport) {
				mock.SetResponse(testutil.CmdGetFirmwareVersion, []byte{0x03, 0x32})
			},
			expectError:    true,
			errorSubstring: "too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := newInitMock()
			tt.setupMock(mock)

			device, err := New(mock)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			err = device.InitContext(ctx)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorSubstring)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, 1, mock.GetCallCount(testutil.CmdGetFirmwareVersion))
			assert.Equal(t, 1, mock.GetCallCount(testutil.CmdSAMConfiguration))
			assert.Equal(t, 1, mock.GetCallCount(testutil.CmdRFConfiguration))
			require.NotNil(t, device.FirmwareVersion())
			assert.Equal(t, "1.6", device.FirmwareVersion().Version)
			assert.Equal(t, byte(0x32), device.FirmwareVersion().IC)
		})
	}
}

func TestDevice_InitContext_SendsRetryLimit(t *testing.T) {
	t.Parallel()

	reader := testutil.NewVirtualReader(nil)
	var rfArgs []byte
	mock := NewMockTransport()
	mock.ResponseFunc = func(cmd byte, args []byte) ([]byte, error) {
		if cmd == testutil.CmdRFConfiguration {
			rfArgs = append([]byte(nil), args...)
		}
		return reader.Respond(cmd, args)
	}

	device, err := New(mock, WithPassiveActivationRetries(0x01))
	require.NoError(t, err)
	require.NoError(t, device.InitContext(context.Background()))

	assert.Equal(t, []byte{0x05, 0xFF, 0x01, 0x01}, rfArgs)
}

func TestDevice_InitContext_Cancelled(t *testing.T) {
	t.Parallel()

	mock := newInitMock()
	mock.SetDelay(200 * time.Millisecond)

	device, err := New(mock)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = device.InitContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDevice_InListPassiveTargetContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response []byte
		wantType TagType
		wantUID  string
		wantNil  bool
		wantErr  bool
	}{
		{
			name:     "No_Tag",
			response: testutil.BuildNoTagResponse(),
			wantNil:  true,
		},
		{
			name:     "NTAG213",
			response: testutil.BuildTagDetectionResponse("NTAG213", testutil.TestNTAG213UID),
			wantType: TagTypeNTAG,
			wantUID:  "04abcdef123456",
		},
		{
			name:     "MIFARE_1K",
			response: testutil.BuildTagDetectionResponse("MIFARE1K", testutil.TestMIFARE1KUID),
			wantType: TagTypeMIFARE,
			wantUID:  "12345678",
		},
		{
			name:     "MIFARE_4K",
			response: testutil.BuildTagDetectionResponse("MIFARE4K", testutil.TestMIFARE1KUID),
			wantType: TagTypeMIFARE,
			wantUID:  "12345678",
		},
		{
			name:     "Unknown_SAK",
			response: testutil.BuildTagDetectionResponse("DESFIRE", []byte{0x01, 0x02, 0x03, 0x04}),
			wantType: TagTypeUnknown,
			wantUID:  "01020304",
		},
		{
			name:     "Truncated_UID",
			response: []byte{0x4B, 0x01, 0x01, 0x00, 0x04, 0x08, 0x07, 0x01},
			wantErr:  true,
		},
		{
			name:     "Wrong_Response_Code",
			response: []byte{0x41, 0x00},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := NewMockTransport()
			mock.SetResponse(testutil.CmdInListPassiveTarget, tt.response)

			device, err := New(mock)
			require.NoError(t, err)

			tag, err := device.InListPassiveTargetContext(context.Background())
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnexpectedReply)
				return
			}
			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, tag)
				return
			}
			require.NotNil(t, tag)
			assert.Equal(t, tt.wantType, tag.Type)
			assert.Equal(t, tt.wantUID, tag.UID)
			assert.Equal(t, byte(0x01), tag.TargetNumber)
			assert.False(t, tag.DetectedAt.IsZero())
		})
	}
}

func TestDevice_DataExchangeContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr  error
		name     string
		response []byte
		want     []byte
	}{
		{
			name:     "Success",
			response: testutil.BuildDataExchangeResponse([]byte{0xAA, 0xBB}),
			want:     []byte{0xAA, 0xBB},
		},
		{
			name:     "Auth_Failure",
			response: testutil.BuildErrorResponse(testutil.CmdInDataExchange, 0x14),
			wantErr:  ErrAuthFailed,
		},
		{
			name:     "Auth_Failure_With_NAD_Bit",
			response: testutil.BuildErrorResponse(testutil.CmdInDataExchange, 0x54),
			wantErr:  ErrAuthFailed,
		},
		{
			name:     "Short_Response",
			response: []byte{0x41},
			wantErr:  ErrUnexpectedReply,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := NewMockTransport()
			mock.SetResponse(testutil.CmdInDataExchange, tt.response)

			device, err := New(mock)
			require.NoError(t, err)

			got, err := device.DataExchangeContext(context.Background(), []byte{0x30, 0x04})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDevice_DataExchangeContext_CardError(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(testutil.CmdInDataExchange, testutil.BuildErrorResponse(testutil.CmdInDataExchange, 0x01))

	device, err := New(mock)
	require.NoError(t, err)

	_, err = device.DataExchangeContext(context.Background(), []byte{0x30, 0x04})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data exchange error: 01")
}

func TestDevice_InReleaseContext(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(testutil.CmdInRelease, testutil.BuildReleaseResponse())

	device, err := New(mock)
	require.NoError(t, err)
	require.NoError(t, device.InReleaseContext(context.Background()))

	mock.SetResponse(testutil.CmdInRelease, []byte{0x53, 0x27})
	require.Error(t, device.InReleaseContext(context.Background()))
}

func TestDevice_Command_ContextCancelled(t *testing.T) {
	t.Parallel()

	mock := newInitMock()
	device, err := New(mock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = device.GetFirmwareVersionContext(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.GetCallCount(testutil.CmdGetFirmwareVersion))
}

func TestDevice_Command_TransportError(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	device, err := New(mock)
	require.NoError(t, err)

	// Unscripted commands time out
	_, err = device.GetFirmwareVersionContext(context.Background())
	require.ErrorIs(t, err, ErrTransportTimeout)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "command 02")
}
