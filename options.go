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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-cardreader/pn532"
	"github.com/rs/zerolog"
)

// DefaultPollTimeout is how long each attempt waits for a card
const DefaultPollTimeout = 5 * time.Second

// Config holds the tunables of a Pipeline built with New
type Config struct {
	// Logger is handed to the pipeline, bus cache and controller
	Logger                   zerolog.Logger
	BlockSpec                BlockSpec
	MIFAREKey                []byte
	PollTimeout              time.Duration
	PollInterval             time.Duration
	CommandTimeout           time.Duration
	SoftResetSettle          time.Duration
	HardResetSettle          time.Duration
	ResetSettle              time.Duration
	HandleTTL                time.Duration
	MaxAttempts              int
	CascadeThreshold         int
	MIFAREKeyType            byte
	PassiveActivationRetries byte
}

// DefaultConfig returns the stock timings with an empty block spec
func DefaultConfig() Config {
	policy := DefaultRecoveryPolicy()
	return Config{
		Logger:                   zerolog.Nop(),
		MIFAREKey:                append([]byte(nil), pn532.DefaultMIFAREKey...),
		MIFAREKeyType:            pn532.MIFAREKeyA,
		PollTimeout:              DefaultPollTimeout,
		PollInterval:             DefaultPollInterval,
		CommandTimeout:           DefaultCommandTimeout,
		SoftResetSettle:          policy.SoftResetSettle,
		HardResetSettle:          policy.HardResetSettle,
		ResetSettle:              DefaultResetSettle,
		HandleTTL:                DefaultHandleTTL,
		MaxAttempts:              policy.MaxAttempts,
		CascadeThreshold:         DefaultCascadeThreshold,
		PassiveActivationRetries: DefaultPassiveActivationRetries,
	}
}

// Validate checks the config for values the pipeline cannot run with
func (c Config) Validate() error {
	if err := c.BlockSpec.Validate(); err != nil {
		return err
	}

	switch {
	case c.PollTimeout <= 0:
		return fmt.Errorf("%w: poll timeout must be positive", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.CommandTimeout <= 0:
		return fmt.Errorf("%w: command timeout must be positive", ErrInvalidConfig)
	case c.HandleTTL <= 0:
		return fmt.Errorf("%w: handle TTL must be positive", ErrInvalidConfig)
	case c.SoftResetSettle < 0, c.HardResetSettle < 0, c.ResetSettle < 0:
		return fmt.Errorf("%w: settle delays cannot be negative", ErrInvalidConfig)
	case c.MaxAttempts < 1 || c.MaxAttempts > maxRecoveryLevels:
		return fmt.Errorf("%w: max attempts must be between 1 and %d", ErrInvalidConfig, maxRecoveryLevels)
	case c.CascadeThreshold < 1:
		return fmt.Errorf("%w: cascade threshold must be at least 1", ErrInvalidConfig)
	case len(c.MIFAREKey) != 6:
		return fmt.Errorf("%w: MIFARE key must be 6 bytes", ErrInvalidConfig)
	case c.MIFAREKeyType != pn532.MIFAREKeyA && c.MIFAREKeyType != pn532.MIFAREKeyB:
		return fmt.Errorf("%w: MIFARE key type must be A or B", ErrInvalidConfig)
	}

	return nil
}

// Option is a functional option for configuring a Pipeline
type Option func(*Pipeline) error

// WithLogger sets the logger for attempt and cascade diagnostics
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = logger
		return nil
	}
}

// WithCascadeTracker shares a tracker between pipelines on the same reader
func WithCascadeTracker(tracker *CascadeTracker) Option {
	return func(p *Pipeline) error {
		if tracker == nil {
			return fmt.Errorf("%w: nil cascade tracker", ErrInvalidConfig)
		}
		p.cascade = tracker
		return nil
	}
}

// WithPollTimeout sets how long each attempt waits for a card
func WithPollTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: poll timeout must be positive", ErrInvalidConfig)
		}
		p.pollTimeout = timeout
		return nil
	}
}

// WithRecoveryPolicy replaces the recovery ladder
func WithRecoveryPolicy(policy RecoveryPolicy) Option {
	return func(p *Pipeline) error {
		p.policy = policy
		return nil
	}
}

// WithMaxAttempts limits how many recovery levels are tried (1..3)
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 || n > maxRecoveryLevels {
			return fmt.Errorf("%w: max attempts must be between 1 and %d", ErrInvalidConfig, maxRecoveryLevels)
		}
		p.policy.MaxAttempts = n
		return nil
	}
}
