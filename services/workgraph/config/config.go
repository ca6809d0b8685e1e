// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the workgraph service configuration.
//
// Values come from Default, then an optional YAML file, then environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/pkg/logging"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvPort         = "WORKGRAPH_PORT"
	EnvDataDir      = "WORKGRAPH_DATA_DIR"
	EnvLogLevel     = "WORKGRAPH_LOG_LEVEL"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Console log formats.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the on-disk shape of workgraph.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DataDir   string          `yaml:"data_dir"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Live      LiveConfig      `yaml:"live"`
	Graph     GraphConfig     `yaml:"graph"`

	// Locale orders editor names in presence snapshots, e.g. "sv".
	Locale string `yaml:"locale"`

	// Tokens are static bearer tokens. Empty means every request runs as
	// user 1 in team 1.
	Tokens []TokenConfig `yaml:"tokens"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`

	// Format is "text", "json" or "auto" (JSON unless stderr is a terminal).
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	TraceExporter  string `yaml:"trace_exporter"`
	MetricExporter string `yaml:"metric_exporter"`
}

type LiveConfig struct {
	SendBuffer    int           `yaml:"send_buffer"`
	PatchRate     float64       `yaml:"patch_rate"`
	PatchBurst    int           `yaml:"patch_burst"`
	MaxPatchBytes int           `yaml:"max_patch_bytes"`
	PingInterval  time.Duration `yaml:"ping_interval"`
}

type GraphConfig struct {
	// RefConcurrency caps parallel per-task ref loads in one graph walk.
	RefConcurrency int `yaml:"ref_concurrency"`
}

type TokenConfig struct {
	Token       string `yaml:"token"`
	UserID      int64  `yaml:"user_id"`
	TeamID      int64  `yaml:"team_id"`
	DisplayName string `yaml:"display_name"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            12230,
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
		DataDir: "data",
		Logging: LoggingConfig{Level: "info", Format: LogFormatAuto},
		Live: LiveConfig{
			SendBuffer:    64,
			PatchRate:     20,
			PatchBurst:    40,
			MaxPatchBytes: 64 << 10,
			PingInterval:  30 * time.Second,
		},
		Graph: GraphConfig{RefConcurrency: 8},
	}
}

// Load reads path (optional) over Default and applies the environment.
// A named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok {
		c.Telemetry.OTLPEndpoint = strings.Trim(v, "\"' ")
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", LogFormatAuto, LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not auto, text or json", c.Logging.Format))
	}
	if c.Graph.RefConcurrency < 0 {
		errs = append(errs, fmt.Errorf("graph.ref_concurrency %d must not be negative", c.Graph.RefConcurrency))
	}
	if c.Locale != "" {
		if _, err := language.Parse(c.Locale); err != nil {
			errs = append(errs, fmt.Errorf("locale: %w", err))
		}
	}
	seen := make(map[string]bool, len(c.Tokens))
	for i, tok := range c.Tokens {
		switch {
		case strings.TrimSpace(tok.Token) == "":
			errs = append(errs, fmt.Errorf("tokens[%d]: token must not be empty", i))
		case seen[tok.Token]:
			errs = append(errs, fmt.Errorf("tokens[%d]: duplicate token", i))
		case tok.UserID <= 0 || tok.TeamID <= 0:
			errs = append(errs, fmt.Errorf("tokens[%d]: user_id and team_id must be positive", i))
		}
		seen[tok.Token] = true
	}
	return errors.Join(errs...)
}

// SQLitePath is the entity database inside DataDir.
func (c Config) SQLitePath() string { return filepath.Join(c.DataDir, "workgraph.db") }

// LayoutDir is the layout store directory inside DataDir.
func (c Config) LayoutDir() string { return filepath.Join(c.DataDir, "layouts") }

// LogLevel returns the parsed logging level.
func (c Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}

// JSONLogs resolves the console format. isTerminal reports whether stderr
// is a terminal.
func (c Config) JSONLogs(isTerminal bool) bool {
	switch c.Logging.Format {
	case LogFormatJSON:
		return true
	case LogFormatText:
		return false
	default:
		return !isTerminal
	}
}

// LocaleTag returns the parsed locale, or language.Und.
func (c Config) LocaleTag() language.Tag {
	if c.Locale == "" {
		return language.Und
	}
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.Und
	}
	return tag
}

// TokenTable returns the configured tokens keyed by token.
func (c Config) TokenTable() map[string]extensions.AuthInfo {
	tokens := make(map[string]extensions.AuthInfo, len(c.Tokens))
	for _, tok := range c.Tokens {
		tokens[tok.Token] = extensions.AuthInfo{
			UserID:      tok.UserID,
			TeamID:      tok.TeamID,
			DisplayName: tok.DisplayName,
		}
	}
	return tokens
}

// AuthProvider builds the provider for the configured tokens, or nil when
// none are configured.
func (c Config) AuthProvider() (extensions.AuthProvider, error) {
	if len(c.Tokens) == 0 {
		return nil, nil
	}
	provider, err := extensions.NewStaticTokenProvider(c.TokenTable())
	if err != nil {
		return nil, err
	}
	return provider, nil
}
