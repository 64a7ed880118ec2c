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

// Package config loads the YAML configuration of the cardread daemon.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	cardreader "github.com/ZaparooProject/go-cardreader"
	"github.com/ZaparooProject/go-cardreader/pn532"
	"gopkg.in/yaml.v3"
)

// Bus types
const (
	BusI2C  = "i2c"
	BusUART = "uart"
	BusAuto = "auto"
)

// Config holds all cardread configuration.
type Config struct {
	Bus     Bus     `yaml:"bus"`
	Reader  Reader  `yaml:"reader"`
	Blocks  []Block `yaml:"blocks"`
	MQTT    MQTT    `yaml:"mqtt"`
	Trigger Trigger `yaml:"trigger"`
	Logging Logging `yaml:"logging"`
}

// Bus selects how the PN532 is attached.
type Bus struct {
	Type string `yaml:"type"` // "i2c" | "uart" | "auto"
	Path string `yaml:"path"` // /dev/i2c-1, /dev/ttyUSB0; empty with auto
}

// Reader holds pipeline timings and card access settings.
type Reader struct {
	MIFAREKey        string        `yaml:"mifare_key"`      // 12 hex digits
	MIFAREKeyType    string        `yaml:"mifare_key_type"` // "A" | "B"
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	SoftResetSettle  time.Duration `yaml:"soft_reset_settle"`
	HardResetSettle  time.Duration `yaml:"hard_reset_settle"`
	ResetSettle      time.Duration `yaml:"reset_settle"`
	HandleTTL        time.Duration `yaml:"handle_ttl"`
	MaxAttempts      int           `yaml:"max_attempts"`
	CascadeThreshold int           `yaml:"cascade_threshold"`
}

// Block maps a named field to card memory.
type Block struct {
	Name    string `yaml:"name"`
	Decoder string `yaml:"decoder"` // "text" | "hex" | "uint" | "ndef-text"
	Address int    `yaml:"address"`
	Blocks  int    `yaml:"blocks"`
}

// MQTT holds result publishing settings. An empty broker disables publishing.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Topic       string `yaml:"topic"`
	HealthTopic string `yaml:"health_topic"`
	QoS         int    `yaml:"qos"`
}

// Trigger holds the GPIO button that starts a read in watch mode. An empty
// chip falls back to reading every Interval.
type Trigger struct {
	Chip      string        `yaml:"chip"`
	Line      int           `yaml:"line"`
	Debounce  time.Duration `yaml:"debounce"`
	Interval  time.Duration `yaml:"interval"`
	ActiveLow bool          `yaml:"active_low"`
}

// Logging holds log output settings.
type Logging struct {
	Level  string `yaml:"level"`  // zerolog level name
	Format string `yaml:"format"` // "console" | "json"
}

// DefaultConfig returns a Config with the stock pipeline timings and the
// album_id/name block layout.
func DefaultConfig() Config {
	rc := cardreader.DefaultConfig()
	return Config{
		Bus: Bus{
			Type: BusI2C,
			Path: "/dev/i2c-1",
		},
		Reader: Reader{
			MIFAREKey:        hex.EncodeToString(rc.MIFAREKey),
			MIFAREKeyType:    "A",
			PollTimeout:      rc.PollTimeout,
			PollInterval:     rc.PollInterval,
			CommandTimeout:   rc.CommandTimeout,
			SoftResetSettle:  rc.SoftResetSettle,
			HardResetSettle:  rc.HardResetSettle,
			ResetSettle:      rc.ResetSettle,
			HandleTTL:        rc.HandleTTL,
			MaxAttempts:      rc.MaxAttempts,
			CascadeThreshold: rc.CascadeThreshold,
		},
		Blocks: []Block{
			{Name: "album_id", Address: 4, Decoder: cardreader.DecoderText},
			{Name: "name", Address: 5, Decoder: cardreader.DecoderText},
		},
		MQTT: MQTT{
			ClientID:    "cardread",
			Topic:       "cardreader/read",
			HealthTopic: "cardreader/health",
		},
		Trigger: Trigger{
			Debounce: 50 * time.Millisecond,
			Interval: 2 * time.Second,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML config file at path over the defaults.
// If the file does not exist, defaults are returned without error.
// If the file contains invalid YAML or unknown fields, an error is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: CARDREADER_BUS_PATH, CARDREADER_LOG_LEVEL,
// CARDREADER_MQTT_BROKER.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CARDREADER_BUS_PATH"); v != "" {
		c.Bus.Path = v
	}
	if v := os.Getenv("CARDREADER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CARDREADER_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	switch c.Bus.Type {
	case BusI2C, BusUART:
		if c.Bus.Path == "" {
			return fmt.Errorf("config: bus.path is required for bus type %q", c.Bus.Type)
		}
	case BusAuto:
	default:
		return fmt.Errorf("config: bus.type must be \"i2c\", \"uart\" or \"auto\", got %q", c.Bus.Type)
	}

	switch c.MQTT.QoS {
	case 0, 1, 2:
	default:
		return fmt.Errorf("config: mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("config: mqtt.topic cannot be empty when a broker is set")
	}

	if c.Trigger.Chip == "" && c.Trigger.Interval <= 0 {
		return fmt.Errorf("config: trigger.interval must be positive without a GPIO chip, got %v", c.Trigger.Interval)
	}
	if c.Trigger.Line < 0 {
		return fmt.Errorf("config: trigger.line must be non-negative, got %d", c.Trigger.Line)
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}

	rc, err := c.ReaderConfig()
	if err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ReaderConfig converts the reader and blocks sections into a pipeline Config.
func (c *Config) ReaderConfig() (cardreader.Config, error) {
	rc := cardreader.DefaultConfig()

	key, err := hex.DecodeString(c.Reader.MIFAREKey)
	if err != nil {
		return rc, fmt.Errorf("config: reader.mifare_key must be hex: %w", err)
	}

	switch strings.ToUpper(c.Reader.MIFAREKeyType) {
	case "", "A":
		rc.MIFAREKeyType = pn532.MIFAREKeyA
	case "B":
		rc.MIFAREKeyType = pn532.MIFAREKeyB
	default:
		return rc, fmt.Errorf("config: reader.mifare_key_type must be \"A\" or \"B\", got %q", c.Reader.MIFAREKeyType)
	}

	spec := make(cardreader.BlockSpec, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Address < 0 || b.Address > 0xFF {
			return rc, fmt.Errorf("config: block %q address %d out of range", b.Name, b.Address)
		}
		dec, err := cardreader.DecoderByName(b.Decoder)
		if err != nil {
			return rc, fmt.Errorf("config: block %q: %w", b.Name, err)
		}
		spec = append(spec, cardreader.BlockField{
			Name:    b.Name,
			Address: uint8(b.Address),
			Blocks:  b.Blocks,
			Decoder: dec,
		})
	}

	rc.BlockSpec = spec
	rc.MIFAREKey = key
	rc.PollTimeout = c.Reader.PollTimeout
	rc.PollInterval = c.Reader.PollInterval
	rc.CommandTimeout = c.Reader.CommandTimeout
	rc.SoftResetSettle = c.Reader.SoftResetSettle
	rc.HardResetSettle = c.Reader.HardResetSettle
	rc.ResetSettle = c.Reader.ResetSettle
	rc.HandleTTL = c.Reader.HandleTTL
	rc.MaxAttempts = c.Reader.MaxAttempts
	rc.CascadeThreshold = c.Reader.CascadeThreshold
	return rc, nil
}
