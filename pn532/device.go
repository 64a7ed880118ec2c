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
	"fmt"
	"time"
)

// FirmwareVersion is the answer to GetFirmwareVersion
type FirmwareVersion struct {
	Version string
	IC      byte
	Rev     byte
	Support byte
}

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// Timeout is the transport response timeout
	Timeout time.Duration
	// PassiveActivationRetries bounds how long one InListPassiveTarget waits
	PassiveActivationRetries byte
	// SAMMode is sent with SAMConfiguration during Init
	SAMMode byte
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Timeout:                  1 * time.Second,
		PassiveActivationRetries: DefaultPassiveActivationRetries,
		SAMMode:                  SAMNormal,
	}
}

// Device represents a PN532 NFC reader chip reachable over a Transport.
//
// Thread Safety: Device is NOT thread-safe. The Device does not own the
// transport; closing the transport is the caller's job.
type Device struct {
	transport       Transport
	config          *DeviceConfig
	firmwareVersion *FirmwareVersion
}

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithTimeout sets the transport response timeout
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return ErrInvalidParameter
		}
		d.config.Timeout = timeout
		return nil
	}
}

// WithPassiveActivationRetries sets the MxRtyPassiveActivation value sent during Init
func WithPassiveActivationRetries(retries byte) Option {
	return func(d *Device) error {
		d.config.PassiveActivationRetries = retries
		return nil
	}
}

// New creates a new PN532 device with the given transport
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}

	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// FirmwareVersion returns the version cached by the last successful Init
func (d *Device) FirmwareVersion() *FirmwareVersion {
	return d.firmwareVersion
}

// InitContext runs the power-up handshake: firmware version check, SAM
// configuration and passive activation retry limits.
func (d *Device) InitContext(ctx context.Context) error {
	if err := d.transport.SetTimeout(d.config.Timeout); err != nil {
		return fmt.Errorf("failed to set transport timeout: %w", err)
	}

	fw, err := d.GetFirmwareVersionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get firmware version: %w", err)
	}
	d.firmwareVersion = fw

	if err := d.SAMConfigurationContext(ctx, d.config.SAMMode); err != nil {
		return fmt.Errorf("SAM configuration failed: %w", err)
	}

	// Finite retries keep InListPassiveTarget from blocking forever
	if err := d.SetPassiveActivationRetriesContext(ctx, d.config.PassiveActivationRetries); err != nil {
		return fmt.Errorf("failed to set passive activation retries: %w", err)
	}

	debugf("PN532 initialized: firmware %s", fw.Version)
	return nil
}

// GetFirmwareVersionContext queries the chip's IC and firmware revision
func (d *Device) GetFirmwareVersionContext(ctx context.Context) (*FirmwareVersion, error) {
	resp, err := d.command(ctx, cmdGetFirmwareVersion, nil)
	if err != nil {
		return nil, err
	}

	if len(resp) < 5 {
		return nil, fmt.Errorf("%w: firmware response too short: %d bytes", ErrUnexpectedReply, len(resp))
	}

	return &FirmwareVersion{
		IC:      resp[1],
		Version: fmt.Sprintf("%d.%d", resp[2], resp[3]),
		Rev:     resp[3],
		Support: resp[4],
	}, nil
}

// SAMConfigurationContext configures the Security Access Module mode
func (d *Device) SAMConfigurationContext(ctx context.Context, mode byte) error {
	// timeout 0x14 = 1s (50ms units), use IRQ pin
	_, err := d.command(ctx, cmdSAMConfiguration, []byte{mode, 0x14, 0x01})
	return err
}

// SetPassiveActivationRetriesContext sets MxRtyPassiveActivation via RFConfiguration
func (d *Device) SetPassiveActivationRetriesContext(ctx context.Context, retries byte) error {
	// MxRtyATR (0xFF = default), MxRtyPSL (0x01 = default), MxRtyPassiveActivation
	_, err := d.command(ctx, cmdRFConfiguration, []byte{rfConfigMaxRetries, 0xFF, 0x01, retries})
	return err
}

// InListPassiveTargetContext looks for one ISO14443A target in the field.
// It returns (nil, nil) when the chip answers but reports no target.
func (d *Device) InListPassiveTargetContext(ctx context.Context) (*DetectedTag, error) {
	resp, err := d.command(ctx, cmdInListPassiveTarget, []byte{0x01, baudRate106kbpsTypeA})
	if err != nil {
		return nil, err
	}

	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: InListPassiveTarget response too short", ErrUnexpectedReply)
	}

	if resp[1] == 0 {
		return nil, nil
	}

	tag, err := parseTarget(resp[2:])
	if err != nil {
		return nil, err
	}

	debugf("detected tag %s", tag)
	return tag, nil
}

// InReleaseContext releases all selected targets so the next poll selects afresh
func (d *Device) InReleaseContext(ctx context.Context) error {
	resp, err := d.command(ctx, cmdInRelease, []byte{0x00})
	if err != nil {
		return err
	}
	if len(resp) >= 2 && resp[1]&0x3F != 0 {
		return fmt.Errorf("InRelease failed with status: %02X", resp[1])
	}
	debugln("released all targets")
	return nil
}

// DataExchangeContext sends data to target 1 with InDataExchange and returns
// the card's answer.
func (d *Device) DataExchangeContext(ctx context.Context, data []byte) ([]byte, error) {
	args := make([]byte, 0, len(data)+1)
	args = append(args, 0x01)
	args = append(args, data...)

	resp, err := d.command(ctx, cmdInDataExchange, args)
	if err != nil {
		return nil, err
	}

	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: InDataExchange response too short", ErrUnexpectedReply)
	}

	// Lower 6 bits carry the error code; 0x14 is a MIFARE auth failure
	switch status := resp[1] & 0x3F; status {
	case 0x00:
		return resp[2:], nil
	case 0x14:
		return nil, ErrAuthFailed
	default:
		return nil, fmt.Errorf("data exchange error: %02X", status)
	}
}

// command sends cmd and checks the response code
func (d *Device) command(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled before sending command: %w", ctx.Err())
	default:
	}

	resp, err := d.transport.SendCommand(ctx, cmd, args)
	if err != nil {
		return nil, fmt.Errorf("command %02X: %w", cmd, err)
	}

	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: empty response to command %02X", ErrUnexpectedReply, cmd)
	}

	if resp[0] != cmd+1 {
		return nil, fmt.Errorf("%w: command %02X answered with %02X", ErrUnexpectedReply, cmd, resp[0])
	}

	return resp, nil
}

// IsTransportFailure reports whether err came from the bus rather than the card
func IsTransportFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te) ||
		errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, ErrUnexpectedReply)
}
