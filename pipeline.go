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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Pipeline turns an unreliable reader into a single bounded read operation.
// Each ReadCard call tries the recovery levels in ascending order, each at
// most once, and always returns a ReadResult.
//
// ReadCard is safe to call from several goroutines: they serialize on bus
// handle creation and share the cascade count. Callers that care which
// result is "most recent" should still serialize reads themselves.
type Pipeline struct {
	logger      zerolog.Logger
	cache       *BusHandleCache
	controller  Controller
	cascade     *CascadeTracker
	metrics     *metrics
	spec        BlockSpec
	policy      RecoveryPolicy
	pollTimeout time.Duration
}

// NewPipeline assembles a pipeline from its collaborators
func NewPipeline(cache *BusHandleCache, controller Controller, spec BlockSpec, opts ...Option) (*Pipeline, error) {
	if cache == nil || controller == nil {
		return nil, fmt.Errorf("%w: cache and controller are required", ErrInvalidConfig)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		logger:      zerolog.Nop(),
		cache:       cache,
		controller:  controller,
		cascade:     NewCascadeTracker(DefaultCascadeThreshold),
		metrics:     &metrics{},
		spec:        spec,
		policy:      DefaultRecoveryPolicy(),
		pollTimeout: DefaultPollTimeout,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// New builds a PN532 pipeline on open from cfg
func New(open BusOpener, cfg Config, opts ...Option) (*Pipeline, error) {
	if open == nil {
		return nil, fmt.Errorf("%w: nil bus opener", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache := NewBusHandleCache(open,
		WithHandleTTL(cfg.HandleTTL),
		WithResetSettle(cfg.ResetSettle),
		WithCacheLogger(cfg.Logger.With().Str("component", "bus").Logger()))

	controller := NewPN532Controller(
		WithControllerLogger(cfg.Logger.With().Str("component", "reader").Logger()),
		WithPollInterval(cfg.PollInterval),
		WithCommandTimeout(cfg.CommandTimeout),
		WithMIFAREKey(cfg.MIFAREKeyType, cfg.MIFAREKey),
		WithActivationRetries(cfg.PassiveActivationRetries))

	base := []Option{
		WithLogger(cfg.Logger),
		WithPollTimeout(cfg.PollTimeout),
		WithCascadeTracker(NewCascadeTracker(cfg.CascadeThreshold)),
		WithRecoveryPolicy(RecoveryPolicy{
			SoftResetSettle: cfg.SoftResetSettle,
			HardResetSettle: cfg.HardResetSettle,
			MaxAttempts:     cfg.MaxAttempts,
		}),
	}

	return NewPipeline(cache, controller, cfg.BlockSpec, append(base, opts...)...)
}

// ReadCard reads the configured blocks from the card on the reader
func (p *Pipeline) ReadCard() ReadResult {
	return p.ReadCardContext(context.Background())
}

// ReadCardContext is ReadCard with cancellation. A cancelled read returns
// StatusError and does not count toward the cascade.
func (p *Pipeline) ReadCardContext(ctx context.Context) ReadResult {
	start := time.Now()
	result := ReadResult{Status: StatusError, Attempt: -1}

	for _, level := range p.policy.Levels() {
		attempt, success := p.attempt(ctx, level)
		result.Attempts = append(result.Attempts, attempt)

		p.logger.Info().
			Int("level", int(level)).
			Str("outcome", attempt.Outcome.String()).
			Dur("elapsed", attempt.Elapsed).
			Err(attempt.Err).
			Msg("read attempt")

		if attempt.Outcome == OutcomeSuccess {
			p.cascade.RecordSuccess()
			result.Status = StatusSuccess
			result.UID = success.uid
			result.Blocks = success.values
			result.FailedFields = success.failed
			result.Attempt = int(level)
			return p.finish(&result, start, false)
		}

		if attempt.Outcome == OutcomeCancelled {
			result.ErrorMessage = attempt.Error
			return p.finish(&result, start, true)
		}
	}

	return p.exhausted(&result, start)
}

// exhausted handles a read where every level failed
func (p *Pipeline) exhausted(result *ReadResult, start time.Time) ReadResult {
	last := result.Attempts[len(result.Attempts)-1]

	result.Status = StatusError
	if last.Outcome == OutcomeNoCard {
		result.Status = StatusTimeout
	}
	result.ErrorMessage = last.Error

	if last.Outcome == OutcomeInitFailed {
		p.cache.Invalidate()
	}

	count := p.cascade.RecordFailure()
	result.CascadeCount = count
	result.SystemResetNeeded = p.cascade.Exceeds(count)

	event := p.logger.Warn()
	if result.SystemResetNeeded {
		event = p.logger.Error()
	}
	event.Int("cascade_count", count).
		Int("threshold", p.cascade.Threshold()).
		Bool("system_reset_needed", result.SystemResetNeeded).
		Str("status", string(result.Status)).
		Msg("all recovery levels failed")

	return p.finish(result, start, false)
}

func (p *Pipeline) finish(result *ReadResult, start time.Time, cancelled bool) ReadResult {
	if result.Status == StatusSuccess {
		result.CascadeCount = p.cascade.Count()
	}
	result.Duration = time.Since(start)
	p.metrics.record(result, cancelled)
	return *result
}

type attemptSuccess struct {
	uid    string
	values BlockValues
	failed []string
}

// attempt runs one recovery level: acquire handle, init, poll, read
func (p *Pipeline) attempt(ctx context.Context, level RecoveryLevel) (Attempt, *attemptSuccess) {
	strategy := p.policy.Strategy(level)
	a := Attempt{
		Level:       level,
		PollTimeout: p.pollTimeout,
		StartedAt:   time.Now(),
	}

	fail := func(outcome Outcome, op string, err error) (Attempt, *attemptSuccess) {
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			err = ctx.Err()
		}
		a.Outcome = outcome
		a.Err = &AttemptError{Level: level, Op: op, Err: err}
		a.Error = a.Err.Error()
		a.Elapsed = time.Since(a.StartedAt)
		return a, nil
	}

	if err := ctx.Err(); err != nil {
		return fail(OutcomeCancelled, "start", err)
	}

	handle, err := p.cache.GetOrCreate(ctx, strategy.Force)
	if err != nil {
		return fail(OutcomeInitFailed, "acquire bus", err)
	}

	session, err := p.controller.Initialize(ctx, handle, strategy.ExtraSettle)
	if err != nil {
		return fail(OutcomeInitFailed, "initialize", err)
	}

	tag, err := session.PollForCard(ctx, p.pollTimeout)
	if err != nil {
		if errors.Is(err, ErrCardTimeout) {
			return fail(OutcomeNoCard, "poll", err)
		}
		return fail(OutcomeInitFailed, "poll", err)
	}

	values, blockErrs := session.ReadBlocks(ctx, tag, p.spec)
	if len(values) == 0 {
		errs := make([]error, 0, len(blockErrs))
		for _, be := range blockErrs {
			errs = append(errs, be)
		}
		if len(errs) == 0 {
			errs = append(errs, ErrBlockDecode)
		}
		return fail(OutcomeDecodeFailed, "read blocks", errors.Join(errs...))
	}

	failed := make([]string, 0, len(blockErrs))
	for _, be := range blockErrs {
		failed = append(failed, be.Field)
	}
	if len(failed) > 0 {
		p.logger.Warn().Strs("fields", failed).Str("uid", tag.UID).Msg("some block fields failed to decode")
	} else {
		failed = nil
	}

	if err := session.Release(ctx); err != nil {
		p.logger.Debug().Err(err).Msg("card release failed")
	}

	a.Outcome = OutcomeSuccess
	a.Elapsed = time.Since(a.StartedAt)
	return a, &attemptSuccess{uid: tag.UID, values: values, failed: failed}
}

// Metrics returns a snapshot of the pipeline counters
func (p *Pipeline) Metrics() Metrics {
	return p.metrics.snapshot()
}

// Cascade returns the tracker shared by this pipeline's reads
func (p *Pipeline) Cascade() *CascadeTracker {
	return p.cascade
}

// Close releases the bus
func (p *Pipeline) Close() error {
	return p.cache.Close()
}
