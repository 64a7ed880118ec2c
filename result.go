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
	"encoding/json"
	"time"
)

// Status is the overall outcome of a ReadCard call
type Status string

const (
	StatusSuccess Status = "success"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Outcome tags the result of a single attempt
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeInitFailed
	OutcomeNoCard
	// OutcomeDecodeFailed means a card answered but no field decoded. It is
	// counted toward the cascade exactly like OutcomeNoCard, so a damaged
	// card can push the reader toward a reset recommendation.
	OutcomeDecodeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeInitFailed:
		return "init_failed"
	case OutcomeNoCard:
		return "no_card"
	case OutcomeDecodeFailed:
		return "decode_failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome by name
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Attempt records one recovery level tried during a read
type Attempt struct {
	StartedAt   time.Time     `json:"started_at"`
	Err         error         `json:"-"`
	Error       string        `json:"error,omitempty"`
	Level       RecoveryLevel `json:"level"`
	Outcome     Outcome       `json:"outcome"`
	PollTimeout time.Duration `json:"poll_timeout"`
	Elapsed     time.Duration `json:"elapsed"`
}

// BlockValue is one decoded field
type BlockValue struct {
	Name  string
	Value string
}

// BlockValues holds decoded fields in block specification order
type BlockValues []BlockValue

// Get returns the value of the named field
func (v BlockValues) Get(name string) (string, bool) {
	for _, bv := range v {
		if bv.Name == name {
			return bv.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a map
func (v BlockValues) Map() map[string]string {
	m := make(map[string]string, len(v))
	for _, bv := range v {
		m[bv.Name] = bv.Value
	}
	return m
}

// MarshalJSON encodes the fields as a JSON object, keeping their order
func (v BlockValues) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, bv := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(bv.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(bv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ReadResult is returned by every ReadCard call
type ReadResult struct {
	Status Status `json:"status"`
	// UID is the hex card UID, set on success only
	UID string `json:"uid,omitempty"`
	// Blocks holds the fields that decoded, set on success only
	Blocks BlockValues `json:"blocks,omitempty"`
	// FailedFields names requested fields that did not decode on success
	FailedFields []string  `json:"failed_fields,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     []Attempt `json:"attempts"`
	// Attempt is the index of the level that succeeded
	Attempt int `json:"attempt"`
	// SystemResetNeeded is set when this call took the consecutive failure
	// count to the threshold or beyond
	SystemResetNeeded bool          `json:"system_reset_needed"`
	CascadeCount      int           `json:"cascade_count"`
	Duration          time.Duration `json:"duration"`
}

// Levels returns the recovery levels attempted, in order
func (r ReadResult) Levels() []RecoveryLevel {
	levels := make([]RecoveryLevel, len(r.Attempts))
	for i, a := range r.Attempts {
		levels[i] = a.Level
	}
	return levels
}
