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

// Package detection finds PN532 readers attached over I2C or UART.
//
// Transport specific detectors register themselves on import:
//
//	import (
//		"github.com/ZaparooProject/go-cardreader/detection"
//		_ "github.com/ZaparooProject/go-cardreader/detection/i2c"
//	)
//
//	devices, err := detection.DetectAll(ctx, detection.DefaultOptions())
package detection

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	// ErrNoDevicesFound is returned when no candidate reader was found
	ErrNoDevicesFound = errors.New("no PN532 devices found")
	// ErrUnsupportedPlatform is returned by detectors that cannot run here
	ErrUnsupportedPlatform = errors.New("detection not supported on this platform")
	// ErrDetectionTimeout is returned when the detection context expires
	ErrDetectionTimeout = errors.New("detection timed out")
)

// Mode controls how intrusive detection is
type Mode int

const (
	// Passive only looks at bus metadata and never talks to the chip
	Passive Mode = iota
	// Probe sends GetFirmwareVersion to candidates to confirm them
	Probe
)

// Confidence ranks how likely a candidate is a PN532
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// DeviceInfo describes one candidate reader
type DeviceInfo struct {
	Metadata   map[string]string `json:"metadata,omitempty"`
	Transport  string            `json:"transport"`
	Path       string            `json:"path"`
	Name       string            `json:"name"`
	Confidence Confidence        `json:"confidence"`
}

// Options configures a detection run
type Options struct {
	// IgnorePaths are device paths that are never reported or probed
	IgnorePaths []string
	// Blocklist holds USB VID:PID pairs that must not be probed
	Blocklist []string
	// Timeout bounds the whole run
	Timeout time.Duration
	Mode    Mode
}

// DefaultOptions returns passive detection with a 5 second budget
func DefaultOptions() *Options {
	return &Options{
		Mode:      Passive,
		Timeout:   5 * time.Second,
		Blocklist: DefaultBlocklist(),
	}
}

// Detector finds devices for one transport
type Detector interface {
	Transport() string
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
}

var (
	detectors   []Detector
	detectorsMu sync.RWMutex
)

// RegisterDetector adds a detector; transport packages call it from init
func RegisterDetector(d Detector) {
	detectorsMu.Lock()
	defer detectorsMu.Unlock()
	detectors = append(detectors, d)
}

// Detectors returns the registered detectors
func Detectors() []Detector {
	detectorsMu.RLock()
	defer detectorsMu.RUnlock()
	return slices.Clone(detectors)
}

// DetectAll runs every registered detector and returns the candidates,
// most confident first.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var all []DeviceInfo
	for _, d := range Detectors() {
		if ctx.Err() != nil {
			return all, ErrDetectionTimeout
		}

		found, err := d.Detect(ctx, opts)
		if err != nil && !errors.Is(err, ErrNoDevicesFound) && !errors.Is(err, ErrUnsupportedPlatform) {
			continue
		}
		all = append(all, found...)
	}

	if len(all) == 0 {
		return nil, ErrNoDevicesFound
	}

	slices.SortStableFunc(all, func(a, b DeviceInfo) int {
		return int(b.Confidence) - int(a.Confidence)
	})
	return all, nil
}
