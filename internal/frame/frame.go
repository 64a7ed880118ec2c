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
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// Parse errors
var (
	ErrNoStartCode    = errors.New("frame start code not found")
	ErrLengthChecksum = errors.New("frame length checksum mismatch")
	ErrDataChecksum   = errors.New("frame data checksum mismatch")
	ErrTruncated      = errors.New("frame truncated")
	ErrUnexpectedTFI  = errors.New("unexpected frame identifier")
	ErrErrorFrame     = errors.New("PN532 application error frame")
	ErrFrameTooLarge  = errors.New("frame data too large")
)

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxFrameDataLength+FrameOverhead)
		return &buf
	},
}

// GetBuffer returns a pooled buffer of length size
func GetBuffer(size int) []byte {
	if size > MaxFrameDataLength+FrameOverhead {
		return make([]byte, size)
	}
	bufPtr, _ := bufferPool.Get().(*[]byte)
	buf := (*bufPtr)[:size]
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// PutBuffer returns a buffer obtained from GetBuffer to the pool
func PutBuffer(buf []byte) {
	if cap(buf) != MaxFrameDataLength+FrameOverhead {
		return
	}
	buf = buf[:cap(buf)]
	bufferPool.Put(&buf)
}

// Build assembles a host-to-PN532 information frame for cmd and args
func Build(cmd byte, args []byte) ([]byte, error) {
	dataLen := 2 + len(args) // TFI + cmd + args
	if dataLen > MaxFrameDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, dataLen)
	}

	frm := make([]byte, 0, dataLen+FrameOverhead)
	frm = append(frm, Preamble, StartCode1, StartCode2)
	frm = append(frm, byte(dataLen), CalculateLengthChecksum(byte(dataLen)))
	frm = append(frm, HostToPn532, cmd)
	frm = append(frm, args...)
	frm = append(frm, CalculateDataChecksum(HostToPn532, append([]byte{cmd}, args...)), Postamble)
	return frm, nil
}

// IsAck reports whether buf starts with an ACK frame, ignoring leading padding
func IsAck(buf []byte) bool {
	idx := bytes.Index(buf, AckFrame[1:])
	return idx >= 0 && idx <= 2
}

// Parse extracts the payload (response code onwards, TFI stripped) of the
// first PN532-to-host frame in buf. It returns the payload and the number
// of bytes consumed.
func Parse(buf []byte) (payload []byte, consumed int, err error) {
	start := -1
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == StartCode1 && buf[i+1] == StartCode2 {
			start = i + 2
			break
		}
	}
	if start < 0 {
		return nil, 0, ErrNoStartCode
	}

	if start+2 > len(buf) {
		return nil, 0, ErrTruncated
	}

	length, lcs := buf[start], buf[start+1]
	if length+lcs != 0 {
		return nil, 0, ErrLengthChecksum
	}

	body := start + 2
	end := body + int(length) + 1 // body + DCS
	if end > len(buf) {
		return nil, 0, ErrTruncated
	}

	if length == 1 && buf[body] == 0x7F {
		return nil, end + 1, ErrErrorFrame
	}

	if ValidateChecksum(buf[body:end]) {
		return nil, 0, ErrDataChecksum
	}

	if length < 2 || buf[body] != Pn532ToHost {
		return nil, 0, ErrUnexpectedTFI
	}

	payload = make([]byte, int(length)-1)
	copy(payload, buf[body+1:body+int(length)])
	return payload, end + 1, nil
}
