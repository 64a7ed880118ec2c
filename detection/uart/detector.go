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

// Package uart detects PN532 readers behind USB serial adapters
package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-cardreader/detection"
	"github.com/ZaparooProject/go-cardreader/pn532"
	"github.com/ZaparooProject/go-cardreader/transport/uart"
	"go.bug.st/serial/enumerator"
)

const probeTimeout = time.Second

// knownBridges are USB-UART chips found on common PN532 breakout boards
var knownBridges = map[string]string{
	"1A86:7523": "CH340",
	"10C4:EA60": "CP2102",
	"0403:6001": "FT232R",
	"067B:2303": "PL2303",
}

type detector struct {
	listPorts func() ([]*enumerator.PortDetails, error)
}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{listPorts: enumerator.GetDetailedPortsList}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// Detect lists USB serial ports and ranks them by adapter chip. In Probe
// mode each candidate is opened and asked for its firmware version.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}

		device, ok := candidate(port, opts)
		if !ok {
			continue
		}

		if opts.Mode == detection.Probe {
			fw, err := probe(ctx, port.Name)
			if err != nil {
				continue
			}
			device.Confidence = detection.High
			device.Metadata["firmware"] = fw
		}

		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// candidate filters out non-USB, ignored and blocklisted ports
func candidate(port *enumerator.PortDetails, opts *detection.Options) (detection.DeviceInfo, bool) {
	if !port.IsUSB || detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}

	vidpid := strings.ToUpper(port.VID + ":" + port.PID)
	if detection.IsBlocked(vidpid, opts.Blocklist) {
		return detection.DeviceInfo{}, false
	}

	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Name,
		Name:       port.Product,
		Confidence: detection.Low,
		Metadata: map[string]string{
			"vid_pid": vidpid,
			"serial":  port.SerialNumber,
		},
	}

	if bridge, ok := knownBridges[vidpid]; ok {
		device.Confidence = detection.Medium
		device.Metadata["bridge"] = bridge
	}

	return device, true
}

func probe(ctx context.Context, portName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	transport, err := uart.New(portName)
	if err != nil {
		return "", err
	}
	defer func() { _ = transport.Close() }()

	device, err := pn532.New(transport, pn532.WithTimeout(probeTimeout))
	if err != nil {
		return "", err
	}

	fw, err := device.GetFirmwareVersionContext(ctx)
	if err != nil {
		return "", err
	}
	return fw.Version, nil
}
