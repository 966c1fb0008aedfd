/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the memguardian YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/srediag/memory-guardian/internal/logger"
	"github.com/srediag/memory-guardian/pkg/health"
	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("config: invalid configuration")

// ServerConfig controls the HTTP endpoints of the serve command.
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path"`
	LivePath    string `yaml:"live_path"`
	ReadyPath   string `yaml:"ready_path"`
}

// Config is the whole file.
type Config struct {
	Health  health.Config    `yaml:"health"`
	Restart lifecycle.Config `yaml:"restart"`
	Logging logger.Config    `yaml:"logging"`
	Server  ServerConfig     `yaml:"server"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Health:  health.DefaultConfig(),
		Restart: lifecycle.DefaultConfig(),
		Logging: logger.DefaultConfig(),
		Server: ServerConfig{
			ListenAddr:  "127.0.0.1:9464",
			MetricsPath: "/metrics",
			LivePath:    "/live",
			ReadyPath:   "/ready",
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
			}
		}
	}
	cfg.applyDefaults()
	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Health.ApplyDefaults()
	c.Restart.ApplyDefaults()
	d := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = d.Server.ListenAddr
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = d.Server.MetricsPath
	}
	if c.Server.LivePath == "" {
		c.Server.LivePath = d.Server.LivePath
	}
	if c.Server.ReadyPath == "" {
		c.Server.ReadyPath = d.Server.ReadyPath
	}
}

// Verify checks every section.
func (c Config) Verify() error {
	if err := c.Health.Verify(); err != nil {
		return fmt.Errorf("%w: health: %w", ErrInvalid, err)
	}
	if err := c.Restart.Verify(); err != nil {
		return fmt.Errorf("%w: restart: %w", ErrInvalid, err)
	}
	for name, p := range map[string]string{
		"metrics_path": c.Server.MetricsPath,
		"live_path":    c.Server.LivePath,
		"ready_path":   c.Server.ReadyPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: server.%s must start with /", ErrInvalid, name)
		}
	}
	return nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
