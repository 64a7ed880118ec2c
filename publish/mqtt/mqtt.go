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

// Package mqtt publishes card read results and reader health to an MQTT
// broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cardreader "github.com/ZaparooProject/go-cardreader"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when publishing before Connect
var ErrNotConnected = errors.New("mqtt client not connected")

const (
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 250
)

// Health states published on the health topic
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthResetNeeded = "reset_needed"
	HealthOffline     = "offline"
)

// Config holds MQTT connection settings.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	Topic       string
	HealthTopic string
	QoS         byte
}

// Health is the retained reader status message
type Health struct {
	Timestamp         time.Time         `json:"timestamp"`
	State             string            `json:"state"`
	LastStatus        cardreader.Status `json:"last_status,omitempty"`
	CascadeCount      int               `json:"cascade_count"`
	SystemResetNeeded bool              `json:"system_reset_needed"`
}

// HealthOf derives the reader health from the latest result
func HealthOf(result cardreader.ReadResult) Health {
	h := Health{
		Timestamp:         time.Now().UTC(),
		LastStatus:        result.Status,
		CascadeCount:      result.CascadeCount,
		SystemResetNeeded: result.SystemResetNeeded,
	}
	switch {
	case result.SystemResetNeeded:
		h.State = HealthResetNeeded
	case result.Status == cardreader.StatusSuccess:
		h.State = HealthOK
	default:
		h.State = HealthDegraded
	}
	return h
}

// client is the part of paho.Client the publisher uses
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	IsConnected() bool
}

// Publisher sends every ReadResult to Topic and keeps a retained Health
// message on HealthTopic. The broker publishes an offline health message
// as the client's will if the connection drops.
type Publisher struct {
	logger      zerolog.Logger
	client      client
	topic       string
	healthTopic string
	timeout     time.Duration
	qos         byte
}

// New creates a publisher. It does not connect.
func New(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn().Err(err).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.HealthTopic != "" {
		will, err := json.Marshal(Health{State: HealthOffline})
		if err != nil {
			return nil, fmt.Errorf("failed to encode will message: %w", err)
		}
		opts.SetBinaryWill(cfg.HealthTopic, will, cfg.QoS, true)
	}

	return newPublisher(paho.NewClient(opts), cfg, logger), nil
}

func newPublisher(c client, cfg Config, logger zerolog.Logger) *Publisher {
	return &Publisher{
		logger:      logger,
		client:      c,
		topic:       cfg.Topic,
		healthTopic: cfg.HealthTopic,
		qos:         cfg.QoS,
		timeout:     defaultPublishTimeout,
	}
}

// Connect connects to the broker
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.wait(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish sends result to the result topic and refreshes the health message
func (p *Publisher) Publish(ctx context.Context, result cardreader.ReadResult) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode read result: %w", err)
	}
	if err := p.wait(ctx, p.client.Publish(p.topic, p.qos, false, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	if p.healthTopic == "" {
		return nil
	}

	health := HealthOf(result)
	payload, err = json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to encode health: %w", err)
	}
	if err := p.wait(ctx, p.client.Publish(p.healthTopic, p.qos, true, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.healthTopic, err)
	}

	if health.SystemResetNeeded {
		p.logger.Warn().Int("cascade_count", health.CascadeCount).Msg("published system reset recommendation")
	}
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}

// wait blocks until token completes, ctx is done or the publish timeout passes
func (p *Publisher) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", p.timeout)
	}
}
