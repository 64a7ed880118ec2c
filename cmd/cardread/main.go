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

// Command cardread reads configured blocks from a PN532 reader, once or in
// a trigger loop, and reports each result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cardreader "github.com/ZaparooProject/go-cardreader"
	"github.com/ZaparooProject/go-cardreader/config"
	"github.com/ZaparooProject/go-cardreader/detection"
	_ "github.com/ZaparooProject/go-cardreader/detection/i2c"
	_ "github.com/ZaparooProject/go-cardreader/detection/uart"
	"github.com/ZaparooProject/go-cardreader/pn532"
	"github.com/ZaparooProject/go-cardreader/publish/mqtt"
	"github.com/ZaparooProject/go-cardreader/transport/i2c"
	"github.com/ZaparooProject/go-cardreader/transport/uart"
	"github.com/ZaparooProject/go-cardreader/trigger"
)

var (
	version = "dev"
	commit  = "unknown"
)

// errReadFailed makes the process exit non-zero when a single read fails
var errReadFailed = errors.New("card read failed")

// CLI is the top-level command structure for cardread.
type CLI struct {
	Version  kong.VersionFlag `help:"Show version." short:"V"`
	Config   string           `help:"Path to the YAML config file." default:"/etc/cardreader/config.yaml" type:"path"`
	Bus      string           `help:"Override bus type (i2c, uart, auto)."`
	Device   string           `help:"Override device path." short:"d"`
	LogLevel string           `help:"Override log level (trace, debug, info, warn, error)."`
	Debug    bool             `help:"Log PN532 protocol traffic."`
	Read     ReadCmd          `cmd:"" default:"1" help:"Read one card and print the result."`
	Watch    WatchCmd         `cmd:"" help:"Read on every trigger and publish results."`
	Detect   DetectCmd        `cmd:"" help:"List candidate PN532 readers."`
}

// ReadCmd performs a single ReadCard call.
type ReadCmd struct {
	Pretty bool `help:"Indent JSON output."`
}

// WatchCmd runs reads from a GPIO button or an interval.
type WatchCmd struct {
	Interval time.Duration `help:"Read every interval instead of on a GPIO trigger."`
	NoMQTT   bool          `help:"Do not publish results even if a broker is configured." name:"no-mqtt"`
}

// DetectCmd lists readers found by the detectors.
type DetectCmd struct {
	Probe   bool          `help:"Talk to each candidate to confirm it is a PN532."`
	Timeout time.Duration `help:"Detection budget." default:"5s"`
}

// app holds what every command needs
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cardread"),
		kong.Description("Fault tolerant PN532 card reader."),
		kong.Vars{"version": fmt.Sprintf("%s (%s)", version, commit)},
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.UsageOnError(),
	)

	a, err := cli.setup(os.Stdout, os.Stderr)
	kctx.FatalIfErrorf(err)
	kctx.FatalIfErrorf(kctx.Run(a))
}

// setup loads config, applies flag overrides and builds the logger
func (c *CLI) setup(out, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if c.Bus != "" {
		cfg.Bus.Type = c.Bus
	}
	if c.Device != "" {
		cfg.Bus.Path = c.Device
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Logging, logOut)
	if err != nil {
		return nil, err
	}
	log.Logger = logger
	pn532.SetDebugEnabled(c.Debug)

	return &app{cfg: cfg, logger: logger, out: out}, nil
}

// newLogger builds a console or JSON zerolog logger
func newLogger(cfg config.Logging, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// busOpener resolves the configured bus into a BusOpener
func busOpener(ctx context.Context, bus config.Bus, logger zerolog.Logger) (cardreader.BusOpener, error) {
	switch bus.Type {
	case config.BusI2C:
		return i2c.Opener(bus.Path), nil
	case config.BusUART:
		return uart.Opener(bus.Path), nil
	case config.BusAuto:
		devices, err := detection.DetectAll(ctx, detection.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("bus auto-detection failed: %w", err)
		}
		dev := devices[0]
		logger.Info().Str("transport", dev.Transport).Str("path", dev.Path).
			Str("confidence", dev.Confidence.String()).Msg("using detected reader")
		return busOpener(ctx, config.Bus{Type: dev.Transport, Path: dev.Path}, logger)
	default:
		return nil, fmt.Errorf("unsupported bus type %q", bus.Type)
	}
}

// pipeline builds the read pipeline for the configured bus
func (a *app) pipeline(ctx context.Context) (*cardreader.Pipeline, error) {
	open, err := busOpener(ctx, a.cfg.Bus, a.logger)
	if err != nil {
		return nil, err
	}
	rc, err := a.cfg.ReaderConfig()
	if err != nil {
		return nil, err
	}
	rc.Logger = a.logger
	return cardreader.New(open, rc)
}

// writeResult prints result as one JSON document
func writeResult(w io.Writer, result cardreader.ReadResult, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// Run executes the read command.
func (r *ReadCmd) Run(ctx context.Context, a *app) error {
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close reader")
		}
	}()

	return readOnce(ctx, p, a.out, r.Pretty)
}

func readOnce(ctx context.Context, p *cardreader.Pipeline, w io.Writer, pretty bool) error {
	result := p.ReadCardContext(ctx)
	if err := writeResult(w, result, pretty); err != nil {
		return err
	}
	if result.Status != cardreader.StatusSuccess {
		return fmt.Errorf("%w: %s", errReadFailed, result.Status)
	}
	return nil
}

// Run executes the watch command.
func (w *WatchCmd) Run(ctx context.Context, a *app) error {
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close reader")
		}
	}()

	var pub *mqtt.Publisher
	if a.cfg.MQTT.Broker != "" && !w.NoMQTT {
		pub, err = mqtt.New(mqtt.Config{
			Broker:      a.cfg.MQTT.Broker,
			ClientID:    a.cfg.MQTT.ClientID,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			Topic:       a.cfg.MQTT.Topic,
			HealthTopic: a.cfg.MQTT.HealthTopic,
			QoS:         byte(a.cfg.MQTT.QoS),
		}, a.logger.With().Str("component", "mqtt").Logger())
		if err != nil {
			return err
		}
		if err := pub.Connect(ctx); err != nil {
			return err
		}
		defer pub.Close()
	}

	src, err := w.source(a.cfg.Trigger)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	loop := trigger.NewLoop(func(ctx context.Context) {
		result := p.ReadCardContext(ctx)
		if err := writeResult(a.out, result, false); err != nil {
			a.logger.Error().Err(err).Send()
		}
		if pub == nil {
			return
		}
		if err := pub.Publish(ctx, result); err != nil {
			a.logger.Warn().Err(err).Msg("failed to publish read result")
		}
	}, a.logger.With().Str("component", "trigger").Logger())

	a.logger.Info().Str("bus", a.cfg.Bus.Type).Str("path", a.cfg.Bus.Path).Msg("watching for triggers")
	err = loop.Run(ctx, src)

	m := p.Metrics()
	a.logger.Info().Int64("reads", m.Reads).Int64("successes", m.Successes).
		Int64("dropped_triggers", loop.Dropped()).Msg("watch stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// source picks the interval flag, the GPIO button or the configured interval
func (w *WatchCmd) source(cfg config.Trigger) (trigger.Source, error) {
	if w.Interval > 0 {
		return trigger.NewTicker(w.Interval), nil
	}
	if cfg.Chip != "" {
		return trigger.NewButton(trigger.ButtonConfig{
			Chip:      cfg.Chip,
			Line:      cfg.Line,
			Debounce:  cfg.Debounce,
			ActiveLow: cfg.ActiveLow,
		})
	}
	return trigger.NewTicker(cfg.Interval), nil
}

// Run executes the detect command.
func (d *DetectCmd) Run(ctx context.Context, a *app) error {
	opts := detection.DefaultOptions()
	opts.Timeout = d.Timeout
	if d.Probe {
		opts.Mode = detection.Probe
	}

	devices, err := detection.DetectAll(ctx, opts)
	if err != nil {
		return err
	}
	return writeDevices(a.out, devices)
}

func writeDevices(w io.Writer, devices []detection.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TRANSPORT\tPATH\tCONFIDENCE\tNAME")
	for _, dev := range devices {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", dev.Transport, dev.Path, dev.Confidence, dev.Name)
	}
	return tw.Flush()
}
