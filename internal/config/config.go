/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields are ignored on unmarshal.

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	TelemetryURL   string `yaml:"telemetry_url"`
	Theme          string `yaml:"theme"` // "system" | "light" | "dark"
}

type PlayerConfig struct {
	// AutosaveKeep is how many autosaves the terminal player retains.
	AutosaveKeep int `yaml:"autosave_keep"`
	// ResumeAutosave starts play from the latest autosave when no slot is given.
	ResumeAutosave bool `yaml:"resume_autosave"`
	// RewindDepth caps the rewind stack per session.
	RewindDepth int `yaml:"rewind_depth"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	SessionIdleMin int    `yaml:"session_idle_min"`
}

type CloudConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Player        PlayerConfig  `yaml:"player"`
	Server        ServerConfig  `yaml:"server"`
	Cloud         CloudConfig   `yaml:"cloud"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, Theme: "system"},
		Player:        PlayerConfig{AutosaveKeep: 10, ResumeAutosave: true, RewindDepth: 200},
		Server:        ServerConfig{Addr: "127.0.0.1:8420", SessionIdleMin: 60},
		Cloud:         CloudConfig{BaseURL: "http://localhost:8080", TimeoutMs: 15000, TLSInsecure: false},
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile     = "LSC_CONFIG_FILE"
	EnvCloudURL       = "LSC_CLOUD_URL"
	EnvCloudTimeoutMs = "LSC_CLOUD_TIMEOUT_MS"
	EnvCloudTLSInsec  = "LSC_TLS_INSECURE"
	EnvTelemetryOptIn = "LSC_TELEMETRY_OPT_IN"
	EnvTelemetryURL   = "LSC_TELEMETRY_URL"
	EnvServerAddr     = "LSC_SERVER_ADDR"
	EnvAutosaveKeep   = "LSC_AUTOSAVE_KEEP"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "LSC_LOG_LEVEL"
	EnvLogFormat = "LSC_LOG_FORMAT"
	EnvLogSource = "LSC_LOG_SOURCE"
	EnvLogFile   = "LSC_LOG_FILE"
)

// ConfigPath returns the per-user config file path. LSC_CONFIG_FILE wins
// when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "LuminaScript")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "LuminaScript")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "luminascript")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "luminascript")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// It also loads the cloud token from the keyring (not kept inside the struct; returned separately).
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err == nil {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// Save writes the user config YAML and persists the token into OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
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
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if src.General.Theme != "" {
		dst.General.Theme = src.General.Theme
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if s := strings.TrimSpace(src.General.TelemetryURL); s != "" {
		dst.General.TelemetryURL = s
	}
	if src.Player.AutosaveKeep > 0 {
		dst.Player.AutosaveKeep = src.Player.AutosaveKeep
	}
	dst.Player.ResumeAutosave = src.Player.ResumeAutosave
	if src.Player.RewindDepth > 0 {
		dst.Player.RewindDepth = src.Player.RewindDepth
	}
	if s := strings.TrimSpace(src.Server.Addr); s != "" {
		dst.Server.Addr = s
	}
	if src.Server.SessionIdleMin > 0 {
		dst.Server.SessionIdleMin = src.Server.SessionIdleMin
	}
	if src.Cloud.BaseURL != "" {
		dst.Cloud.BaseURL = src.Cloud.BaseURL
	}
	if src.Cloud.TimeoutMs != 0 {
		dst.Cloud.TimeoutMs = src.Cloud.TimeoutMs
	}
	dst.Cloud.TLSInsecure = src.Cloud.TLSInsecure
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvCloudURL)); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCloudTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cloud.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvCloudTLSInsec)); v != "" {
		cfg.Cloud.TLSInsecure = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryURL)); v != "" {
		cfg.General.TelemetryURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvServerAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAutosaveKeep)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Player.AutosaveKeep = n
		}
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envByKey = map[string]string{
	"cloud.base_url":           EnvCloudURL,
	"cloud.timeout_ms":         EnvCloudTimeoutMs,
	"cloud.tls_insecure":       EnvCloudTLSInsec,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"general.telemetry_url":    EnvTelemetryURL,
	"server.addr":              EnvServerAddr,
	"player.autosave_keep":     EnvAutosaveKeep,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envByKey[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Setting is one effective configuration value. Env names the variable
// that overrides it, if one is set.
type Setting struct {
	Key   string
	Value string
	Env   string
}

// Settings lists the effective values of c in file order.
func (c AppConfig) Settings() []Setting {
	out := []Setting{
		{Key: "general.theme", Value: c.General.Theme},
		{Key: "general.telemetry_opt_in", Value: strconv.FormatBool(c.General.TelemetryOptIn)},
		{Key: "general.telemetry_url", Value: c.General.TelemetryURL},
		{Key: "player.autosave_keep", Value: strconv.Itoa(c.Player.AutosaveKeep)},
		{Key: "player.resume_autosave", Value: strconv.FormatBool(c.Player.ResumeAutosave)},
		{Key: "player.rewind_depth", Value: strconv.Itoa(c.Player.RewindDepth)},
		{Key: "server.addr", Value: c.Server.Addr},
		{Key: "server.session_idle_min", Value: strconv.Itoa(c.Server.SessionIdleMin)},
		{Key: "cloud.base_url", Value: c.Cloud.BaseURL},
		{Key: "cloud.timeout_ms", Value: strconv.Itoa(c.Cloud.TimeoutMs)},
		{Key: "cloud.tls_insecure", Value: strconv.FormatBool(c.Cloud.TLSInsecure)},
		{Key: "logging.level", Value: c.Logging.Level},
		{Key: "logging.format", Value: c.Logging.Format},
		{Key: "logging.source", Value: strconv.FormatBool(c.Logging.Source)},
		{Key: "logging.file", Value: c.Logging.File},
	}
	for i := range out {
		out[i].Env, _ = EnvOverrideFor(out[i].Key)
	}
	return out
}

// Timeout returns the cloud request timeout, falling back to the default.
func (c CloudConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return time.Duration(Defaults().Cloud.TimeoutMs) * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SessionIdle returns how long an unused play session is kept.
func (s ServerConfig) SessionIdle() time.Duration {
	if s.SessionIdleMin <= 0 {
		return time.Hour
	}
	return time.Duration(s.SessionIdleMin) * time.Minute
}
