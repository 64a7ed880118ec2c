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

//go:build linux

package i2c

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-cardreader/detection"
	"github.com/ZaparooProject/go-cardreader/internal/frame"
	"golang.org/x/sys/unix"
)

// Linux i2c-dev ioctls (linux/i2c-dev.h)
const (
	i2cSlave   = 0x0703
	i2cFuncs   = 0x0705
	i2cFuncI2C = 0x00000001
)

const (
	cmdGetFirmwareVersion = 0x02
	pn532IC               = 0x32
	probeTimeout          = 500 * time.Millisecond
)

// detectPlatform searches for PN532 devices on Linux I2C buses
func detectPlatform(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	buses, err := filepath.Glob("/dev/i2c-*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan for I2C devices: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, bus := range buses {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}

		device, ok := detectBus(ctx, bus, opts)
		if ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// detectBus checks the default PN532 address on one bus
func detectBus(ctx context.Context, bus string, opts *detection.Options) (detection.DeviceInfo, bool) {
	devicePath := fmt.Sprintf("%s:0x%02X", bus, DefaultPN532Address)
	if detection.IsPathIgnored(devicePath, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}

	fd, err := unix.Open(bus, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return detection.DeviceInfo{}, false
	}
	defer func() { _ = unix.Close(fd) }()

	funcs, err := unix.IoctlGetInt(fd, i2cFuncs)
	if err != nil || funcs&i2cFuncI2C == 0 {
		return detection.DeviceInfo{}, false
	}

	if err := unix.IoctlSetInt(fd, i2cSlave, DefaultPN532Address); err != nil {
		return detection.DeviceInfo{}, false
	}

	// Anything answering a one byte read is present on the bus
	status := []byte{0}
	if _, err := unix.Read(fd, status); err != nil {
		return detection.DeviceInfo{}, false
	}

	device := detection.DeviceInfo{
		Transport:  "i2c",
		Path:       devicePath,
		Name:       fmt.Sprintf("I2C device at %s address 0x%02X", bus, DefaultPN532Address),
		Confidence: detection.Medium,
		Metadata: map[string]string{
			"bus":     bus,
			"address": fmt.Sprintf("0x%02X", DefaultPN532Address),
		},
	}

	if opts.Mode == detection.Probe {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		fw, err := probeFirmware(probeCtx, fd)
		cancel()
		if err != nil {
			return detection.DeviceInfo{}, false
		}
		device.Confidence = detection.High
		device.Metadata["firmware"] = fw
	}

	return device, true
}

// probeFirmware runs GetFirmwareVersion directly over the i2c-dev file
func probeFirmware(ctx context.Context, fd int) (string, error) {
	frm, err := frame.Build(cmdGetFirmwareVersion, nil)
	if err != nil {
		return "", err
	}
	if _, err := unix.Write(fd, frm); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	// ACK, then the response; each read starts with the status byte
	ack := make([]byte, 1+len(frame.AckFrame))
	if err := readWhenReady(ctx, fd, ack); err != nil {
		return "", err
	}
	if !frame.IsAck(ack[1:]) {
		return "", fmt.Errorf("no ACK from 0x%02X", DefaultPN532Address)
	}

	resp := make([]byte, 1+frame.FrameOverhead+6)
	if err := readWhenReady(ctx, fd, resp); err != nil {
		return "", err
	}

	payload, _, err := frame.Parse(resp[1:])
	if err != nil {
		return "", err
	}
	if len(payload) < 5 || payload[0] != cmdGetFirmwareVersion+1 || payload[1] != pn532IC {
		return "", fmt.Errorf("not a PN532: % X", payload)
	}

	return fmt.Sprintf("%d.%d", payload[2], payload[3]), nil
}

// readWhenReady polls until the status byte reports ready, then fills buf
func readWhenReady(ctx context.Context, fd int, buf []byte) error {
	status := []byte{0}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := unix.Read(fd, status); err == nil && status[0] == 0x01 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := unix.Read(fd, buf); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}
