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
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-cardreader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReadCard_HealthyReaderSucceedsAtL0(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(albumCard())
	p := newTestPipeline(t, bus, albumSpec())

	result := p.ReadCard()

	require.Equal(t, StatusSuccess, result.Status, result.ErrorMessage)
	assert.Equal(t, 0, result.Attempt)
	assert.Equal(t, "12345678", result.UID)
	assert.Equal(t, BlockValues{{Name: "album_id", Value: "159"}, {Name: "name", Value: "Pink Floyd"}}, result.Blocks)
	assert.Empty(t, result.FailedFields)
	assert.Empty(t, result.ErrorMessage)
	assert.False(t, result.SystemResetNeeded)
	assert.Equal(t, 0, p.Cascade().Count())
	assert.Equal(t, []RecoveryLevel{LevelNormal}, result.Levels())
	assert.Less(t, result.Duration, time.Second)

	// The card is released after a successful read
	assert.Equal(t, 1, bus.reader.Calls(testutil.CmdInRelease))
}

func TestReadCard_TransientInitFailureRecoversAtL1(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(albumCard())
	p := newTestPipeline(t, bus, albumSpec())

	p.Cascade().RecordFailure()
	p.Cascade().RecordFailure()
	bus.reader.FailNextInits(1)

	result := p.ReadCard()

	require.Equal(t, StatusSuccess, result.Status, result.ErrorMessage)
	assert.Equal(t, 1, result.Attempt)
	assert.Equal(t, 0, p.Cascade().Count())
	assert.Equal(t, 0, result.CascadeCount)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, OutcomeInitFailed, result.Attempts[0].Outcome)
	assert.ErrorIs(t, result.Attempts[0].Err, ErrHardwareInit)
	assert.Equal(t, OutcomeSuccess, result.Attempts[1].Outcome)

	// L1 reuses the handle opened for L0
	assert.Len(t, bus.opened(), 1)
}

func TestReadCard_BusOpenFailureRecoversAtL1(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(albumCard())
	bus.failOpens = 1
	p := newTestPipeline(t, bus, albumSpec())

	result := p.ReadCard()

	require.Equal(t, StatusSuccess, result.Status, result.ErrorMessage)
	assert.Equal(t, 1, result.Attempt)
	assert.Contains(t, result.Attempts[0].Error, "bus busy")
}

func TestReadCard_NoCardCascade(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(nil)
	p := newTestPipeline(t, bus, albumSpec())

	for call := 1; call <= 4; call++ {
		result := p.ReadCard()

		assert.Equal(t, StatusTimeout, result.Status)
		assert.Equal(t, []RecoveryLevel{LevelNormal, LevelSoftReset, LevelHardReset}, result.Levels())
		assert.Equal(t, call, result.CascadeCount)
		assert.Equal(t, call >= 3, result.SystemResetNeeded, "call %d", call)
		assert.Contains(t, result.ErrorMessage, "no card detected")
		assert.Empty(t, result.UID)
		assert.Empty(t, result.Blocks)
		assert.Equal(t, -1, result.Attempt)
	}

	assert.True(t, p.Cascade().NeedsReset())

	// A success clears the cascade no matter how long it was
	bus.reader.SetCard(albumCard())
	result := p.ReadCard()
	require.Equal(t, StatusSuccess, result.Status)
	assert.False(t, result.SystemResetNeeded)
	assert.Equal(t, 0, p.Cascade().Count())
	assert.False(t, p.Cascade().NeedsReset())
}

func TestReadCard_PartialDecodeIsSuccess(t *testing.T) {
	t.Parallel()

	card := albumCard()
	card.BadBlocks[4] = true

	bus := newFakeBus(card)
	p := newTestPipeline(t, bus, albumSpec())

	result := p.ReadCard()

	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, BlockValues{{Name: "name", Value: "Pink Floyd"}}, result.Blocks)
	_, ok := result.Blocks.Get("album_id")
	assert.False(t, ok)
	assert.Equal(t, []string{"album_id"}, result.FailedFields)
	assert.Empty(t, result.ErrorMessage)
}

func TestReadCard_HardResetCyclesHandleOnce(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(nil)
	p := newTestPipeline(t, bus, albumSpec())

	result := p.ReadCard()
	require.Equal(t, StatusTimeout, result.Status)

	// L0 opened the first handle; L2 closed it and opened exactly one more
	opened := bus.opened()
	require.Len(t, opened, 2)
	assert.Equal(t, 1, opened[0].CloseCount())
	assert.Equal(t, 0, opened[1].CloseCount())
	assert.Equal(t, 1, bus.maxLiveHandles())

	stats := p.cache.Stats()
	assert.Equal(t, uint64(2), stats.Created)
	assert.Equal(t, uint64(1), stats.Released)
	assert.True(t, stats.Live)
}

func TestReadCard_InitFailsAtEveryLevel(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(albumCard())
	bus.reader.FailNextInits(3)
	p := newTestPipeline(t, bus, albumSpec())

	result := p.ReadCard()

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 1, result.CascadeCount)
	assert.False(t, result.SystemResetNeeded)
	assert.Contains(t, result.ErrorMessage, "hardware init failed")

	// The failed handle is not kept for the next read
	assert.False(t, p.cache.Stats().Live)
	assert.Equal(t, 0, bus.liveHandles())

	result = p.ReadCard()
	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 0, result.Attempt)
}

func TestReadCard_AllBlocksFailCountsTowardCascade(t *testing.T) {
	t.Parallel()

	card := albumCard()
	card.BadBlocks[4] = true
	card.BadBlocks[5] = true

	bus := newFakeBus(card)
	p := newTestPipeline(t, bus, albumSpec())

	result := p.ReadCard()

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 1, result.CascadeCount)
	require.Len(t, result.Attempts, 3)
	for _, a := range result.Attempts {
		assert.Equal(t, OutcomeDecodeFailed, a.Outcome)
		assert.ErrorIs(t, a.Err, ErrBlockDecode)
	}
}

func TestReadCard_MaxAttemptsLimitsLevels(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(nil)
	p := newTestPipeline(t, bus, albumSpec(), WithMaxAttempts(2))

	result := p.ReadCard()
	assert.Equal(t, []RecoveryLevel{LevelNormal, LevelSoftReset}, result.Levels())
	assert.Len(t, bus.opened(), 1)
}

func TestReadCard_BoundedLatency(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(nil)
	p := newTestPipeline(t, bus, albumSpec())

	start := time.Now()
	result := p.ReadCard()
	elapsed := time.Since(start)

	require.Equal(t, StatusTimeout, result.Status)
	assert.GreaterOrEqual(t, elapsed, 3*testPollTimeout)
	assert.Less(t, elapsed, 3*testPollTimeout+500*time.Millisecond)
}

func TestReadCardContext_Cancelled(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(nil)
	p := newTestPipeline(t, bus, albumSpec())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.ReadCardContext(ctx)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 0, result.CascadeCount)
	assert.Equal(t, 0, p.Cascade().Count())
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, OutcomeCancelled, result.Attempts[0].Outcome)
	assert.Equal(t, int64(1), p.Metrics().Cancelled)
}

func TestReadCardContext_CancelledWhilePolling(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(nil)
	cfg := fastConfig(albumSpec())
	cfg.PollTimeout = 5 * time.Second
	p, err := New(bus.open, cfg)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := p.ReadCardContext(ctx)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 0, p.Cascade().Count())
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, OutcomeCancelled, result.Attempts[0].Outcome)
}

func TestReadCard_ConcurrentCallsShareOneHandle(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(albumCard())
	p := newTestPipeline(t, bus, albumSpec())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.ReadCard()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, bus.maxLiveHandles(), 1)
	assert.Equal(t, int64(8), p.Metrics().Reads)
}

func TestReadCard_SharedCascadeTracker(t *testing.T) {
	t.Parallel()

	tracker := NewCascadeTracker(2)
	first := newTestPipeline(t, newFakeBus(nil), albumSpec(), WithCascadeTracker(tracker))
	second := newTestPipeline(t, newFakeBus(nil), albumSpec(), WithCascadeTracker(tracker))

	assert.False(t, first.ReadCard().SystemResetNeeded)
	assert.True(t, second.ReadCard().SystemResetNeeded)
	assert.Equal(t, 2, tracker.Count())
}

func TestPipeline_Metrics(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(albumCard())
	p := newTestPipeline(t, bus, albumSpec())

	require.Equal(t, StatusSuccess, p.ReadCard().Status)
	bus.reader.SetCard(nil)
	require.Equal(t, StatusTimeout, p.ReadCard().Status)

	m := p.Metrics()
	assert.Equal(t, int64(2), m.Reads)
	assert.Equal(t, int64(1), m.Successes)
	assert.Equal(t, int64(1), m.Timeouts)
	assert.Equal(t, int64(1), m.SuccessByLevel[0])
	assert.Positive(t, m.LastLatency)
}

func TestNew_LogsThroughConfigLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := fastConfig(albumSpec())
	cfg.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)

	bus := newFakeBus(albumCard())
	p, err := New(bus.open, cfg)
	require.NoError(t, err)

	require.Equal(t, StatusSuccess, p.ReadCard().Status)
	require.NoError(t, p.Close())

	logs := buf.String()
	assert.Contains(t, logs, `"component":"bus"`)
	assert.Contains(t, logs, `"component":"reader"`)
	assert.Contains(t, logs, `"message":"read attempt"`)
}

func TestReadResult_JSON(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(albumCard())
	p := newTestPipeline(t, bus, albumSpec())

	out, err := json.Marshal(p.ReadCard())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "success", decoded["status"])
	assert.Equal(t, map[string]any{"album_id": "159", "name": "Pink Floyd"}, decoded["blocks"])
	assert.Contains(t, string(out), `"blocks":{"album_id":"159","name":"Pink Floyd"}`)
	assert.Contains(t, string(out), `"outcome":"success"`)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	bus := newFakeBus(nil)

	_, err := New(bus.open, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(nil, fastConfig(albumSpec()))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(bus.open, fastConfig(albumSpec()), WithPollTimeout(0))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPipeline(nil, NewPN532Controller(), albumSpec())
	require.ErrorIs(t, err, ErrInvalidConfig)
}
