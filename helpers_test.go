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
	"sync"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-cardreader/internal/testing"
	"github.com/ZaparooProject/go-cardreader/pn532"
)

var errBusBusy = errors.New("bus busy")

// fakeBus opens mock transports backed by one simulated reader and tracks
// how many are open at once.
type fakeBus struct {
	reader     *testutil.VirtualReader
	transports []*trackedTransport
	failOpens  int
	live       int
	maxLive    int
	mu         sync.Mutex
}

func newFakeBus(card *testutil.VirtualCard) *fakeBus {
	return &fakeBus{reader: testutil.NewVirtualReader(card)}
}

func (b *fakeBus) open(ctx context.Context) (pn532.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failOpens > 0 {
		b.failOpens--
		return nil, errBusBusy
	}

	b.live++
	b.maxLive = max(b.maxLive, b.live)

	mock := pn532.NewMockTransport()
	mock.ResponseFunc = b.reader.Respond
	t := &trackedTransport{MockTransport: mock, bus: b}
	b.transports = append(b.transports, t)
	return t, nil
}

func (b *fakeBus) opened() []*trackedTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*trackedTransport(nil), b.transports...)
}

func (b *fakeBus) maxLiveHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxLive
}

func (b *fakeBus) liveHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

type trackedTransport struct {
	*pn532.MockTransport
	bus *fakeBus
}

func (t *trackedTransport) Close() error {
	t.bus.mu.Lock()
	if t.MockTransport.IsConnected() {
		t.bus.live--
	}
	t.bus.mu.Unlock()
	return t.MockTransport.Close()
}

// albumCard is a MIFARE Classic card with an album id and name
func albumCard() *testutil.VirtualCard {
	card := testutil.NewVirtualMIFARE1K(nil)
	card.SetText(4, "159")
	card.SetText(5, "Pink Floyd")
	return card
}

func albumSpec() BlockSpec {
	return BlockSpec{
		{Name: "album_id", Address: 4},
		{Name: "name", Address: 5},
	}
}

const testPollTimeout = 60 * time.Millisecond

// fastConfig keeps every delay in the low milliseconds
func fastConfig(spec BlockSpec) Config {
	cfg := DefaultConfig()
	cfg.BlockSpec = spec
	cfg.PollTimeout = testPollTimeout
	cfg.PollInterval = 5 * time.Millisecond
	cfg.CommandTimeout = 50 * time.Millisecond
	cfg.SoftResetSettle = 2 * time.Millisecond
	cfg.HardResetSettle = 2 * time.Millisecond
	cfg.ResetSettle = 3 * time.Millisecond
	return cfg
}

func newTestPipeline(t *testing.T, bus *fakeBus, spec BlockSpec, opts ...Option) *Pipeline {
	t.Helper()

	p, err := New(bus.open, fastConfig(spec), opts...)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}
