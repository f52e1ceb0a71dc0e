/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package config loads the scriptgraph configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// Config is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields are ignored on unmarshal.
type Config struct {
	ConfigVersion int           `yaml:"config_version"`
	Watch         WatchConfig   `yaml:"watch"`
	Cache         CacheConfig   `yaml:"cache"`
	Index         IndexConfig   `yaml:"index"`
	Backend       BackendConfig `yaml:"backend"`
	Metrics       MetricsConfig `yaml:"metrics"`
	Logging       LoggingConfig `yaml:"logging"`
}

type WatchConfig struct {
	Dir             string   `yaml:"dir" validate:"required"`
	IntervalSeconds int      `yaml:"interval_seconds" validate:"gte=1"`
	Wrap            int      `yaml:"wrap" validate:"gte=1"`
	Extensions      []string `yaml:"extensions" validate:"min=1,dive,startswith=."`
	Render          bool     `yaml:"render"`
	GraphvizBin     string   `yaml:"graphviz_bin"`
	PDF             bool     `yaml:"pdf"`
	FSNotify        bool     `yaml:"fsnotify"`
}

type CacheConfig struct {
	Size int `yaml:"size" validate:"gte=1"`
}

type IndexConfig struct {
	Enabled bool `yaml:"enabled"`
}

type BackendConfig struct {
	DSN       string `yaml:"dsn"`
	TimeoutMs int    `yaml:"timeout_ms" validate:"gte=0"`
	// Password is not stored on disk; it lives in the OS keychain.
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() Config {
	return Config{
		ConfigVersion: 1,
		Watch: WatchConfig{
			Dir:             ".",
			IntervalSeconds: 5,
			Wrap:            80,
			Extensions:      []string{".s2py"},
			Render:          true,
			GraphvizBin:     "dot",
			PDF:             false,
			FSNotify:        true,
		},
		Cache:   CacheConfig{Size: 256},
		Index:   IndexConfig{Enabled: true},
		Backend: BackendConfig{DSN: "", TimeoutMs: 15000},
		Metrics: MetricsConfig{Addr: ""},
		Logging: LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvDir              = "SG_DIR"
	EnvInterval         = "SG_INTERVAL"
	EnvWrap             = "SG_WRAP"
	EnvRender           = "SG_RENDER"
	EnvGraphvizBin      = "SG_GRAPHVIZ_BIN"
	EnvPDF              = "SG_PDF"
	EnvIndexEnabled     = "SG_INDEX"
	EnvBackendDSN       = "SG_BACKEND_DSN"
	EnvBackendTimeoutMs = "SG_BACKEND_TIMEOUT_MS"
	EnvMetricsAddr      = "SG_METRICS_ADDR"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "SG_LOG_LEVEL"
	EnvLogFormat = "SG_LOG_FORMAT"
	EnvLogSource = "SG_LOG_SOURCE"
	EnvLogFile   = "SG_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService  = "scriptgraph"
	keyringPassword = "backend_password"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "scriptgraph")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "scriptgraph")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "scriptgraph")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "scriptgraph")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the config file at path (the per-user path when empty), applies
// defaults, loads a .env file from the working directory if present, merges
// environment overrides and validates the result. A missing file is not an
// error. The backend password is read from the keyring and returned separately.
func Load(path string) (Config, string, error) {
	cfg := Defaults()
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return cfg, "", err
		}
		path = p
	}
	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, "", fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Unmarshal over the defaults so absent keys keep their default values.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	normalize(&cfg)
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, "", err
	}
	pw, _ := tokenStore.Get(keyringService, keyringPassword)
	return cfg, pw, nil
}

// Save writes the config YAML to path (the per-user path when empty) and
// persists the backend password into the OS keyring (if non-empty).
func Save(path string, cfg Config, password string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if password != "" {
		if err := tokenStore.Set(keyringService, keyringPassword, password); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
	}
	return nil
}

// ClearPassword removes the backend password from the keyring.
func ClearPassword() error {
	if err := tokenStore.Delete(keyringService, keyringPassword); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func normalize(cfg *Config) {
	cfg.Watch.Dir = strings.TrimSpace(cfg.Watch.Dir)
	cfg.Watch.GraphvizBin = strings.TrimSpace(cfg.Watch.GraphvizBin)
	exts := cfg.Watch.Extensions[:0:0]
	for _, e := range cfg.Watch.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	cfg.Watch.Extensions = exts
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
}

func parseBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDir)); v != "" {
		cfg.Watch.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvInterval)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.IntervalSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvWrap)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.Wrap = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvRender)); v != "" {
		cfg.Watch.Render = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvGraphvizBin)); v != "" {
		cfg.Watch.GraphvizBin = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPDF)); v != "" {
		cfg.Watch.PDF = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvIndexEnabled)); v != "" {
		cfg.Index.Enabled = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendDSN)); v != "" {
		cfg.Backend.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvMetricsAddr)); v != "" {
		cfg.Metrics.Addr = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"watch.dir":              EnvDir,
	"watch.interval_seconds": EnvInterval,
	"watch.wrap":             EnvWrap,
	"watch.render":           EnvRender,
	"watch.graphviz_bin":     EnvGraphvizBin,
	"watch.pdf":              EnvPDF,
	"index.enabled":          EnvIndexEnabled,
	"backend.dsn":            EnvBackendDSN,
	"backend.timeout_ms":     EnvBackendTimeoutMs,
	"metrics.addr":           EnvMetricsAddr,
	"logging.level":          EnvLogLevel,
	"logging.format":         EnvLogFormat,
	"logging.source":         EnvLogSource,
	"logging.file":           EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Interval returns the polling interval.
func (w WatchConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

// Timeout returns the backend timeout, falling back to the default when unset.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
