/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry provides a tiny, privacy‑respecting, opt‑in event sender
// for anonymous play metrics and optional crash uploads.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"luminascript/internal/config"
	applog "luminascript/internal/log"
	"luminascript/internal/story"
	"luminascript/internal/version"
)

// Event names.
const (
	EventScenarioBuilt = "scenario_built"
	EventGameStarted   = "game_started"
	EventChoiceMade    = "choice_made"
	EventGameFinished  = "game_finished"
)

// Config holds runtime configuration for telemetry and crash uploads.
// All telemetry is strictly opt‑in and disabled by default.
//
// Environment variables (read by FromEnv):
// - LSC_TELEMETRY_OPT_IN: "1", "true", "yes" to enable metrics
// - LSC_TELEMETRY_URL: URL to POST JSON events to
// - LSC_CRASH_UPLOAD_URL: URL to POST crash reports to
// - LSC_TELEMETRY_TIMEOUT_MS: optional request timeout, default 1500ms
// - LSC_TELEMETRY_DEBUG: if set, logs event send attempts
//
// If no URLs are set, events are dropped (no‑ops), even if opt‑in is true.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("LSC_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("LSC_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("LSC_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("LSC_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("LSC_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

// FromAppConfig layers the user config under the environment: the opt-in and
// events URL from the config file apply unless the environment sets them.
func FromAppConfig(app config.AppConfig) Config {
	cfg := FromEnv()
	if os.Getenv("LSC_TELEMETRY_OPT_IN") == "" {
		cfg.OptIn = app.General.TelemetryOptIn
	}
	if cfg.EventsURL == "" {
		cfg.EventsURL = strings.TrimSpace(app.General.TelemetryURL)
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Client is a minimal async sender; it drops events silently on errors.
// It never blocks the player; the channel is bounded.
type Client struct {
	cfg    Config
	log    *slog.Logger
	cli    *http.Client
	q      chan map[string]any
	once   sync.Once
	closed chan struct{}
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

func getDefault() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// NewDefault creates and installs the default client with cfg, closing the
// previous one.
func NewDefault(cfg Config) {
	c := New(cfg)
	defaultMu.Lock()
	old := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if old != nil {
		old.Close()
	}
}

// New constructs a client.
func New(cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		cli:    &http.Client{Timeout: cfg.Timeout},
		q:      make(chan map[string]any, 64),
		closed: make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether anonymous telemetry is enabled and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Enabled reports whether anonymous telemetry is enabled using the default client.
func Enabled() bool { return getDefault().Enabled() }

// Event queues a small JSON event if enabled. Props must not carry scenario
// text or player names.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	payload := map[string]any{
		"name":    name,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"version": version.String(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	for k, v := range props {
		payload[k] = v
	}
	select {
	case c.q <- payload:
	default:
		// drop if queue full
	}
}

// Event using default client.
func Event(name string, props map[string]any) { getDefault().Event(name, props) }

// ScenarioBuilt reports the shape of a compiled scenario.
func ScenarioBuilt(g *story.Graph) {
	s := g.Stats()
	Event(EventScenarioBuilt, map[string]any{
		"scenario": g.Fingerprint(),
		"scenes":   s.Scenes,
		"chapters": s.Chapters,
		"choices":  s.Choices,
		"routes":   s.Routes,
		"endings":  s.Endings,
	})
}

// GameStarted reports a new playthrough.
func GameStarted(g *story.Graph) {
	Event(EventGameStarted, map[string]any{"scenario": g.Fingerprint()})
}

// ChoiceMade reports the route picked at a choice point.
func ChoiceMade(g *story.Graph, choice, route string) {
	Event(EventChoiceMade, map[string]any{"scenario": g.Fingerprint(), "choice": choice, "route": route})
}

// GameFinished reports a completed playthrough and how many scenes it took.
func GameFinished(g *story.Graph, ending string, scenes int) {
	Event(EventGameFinished, map[string]any{"scenario": g.Fingerprint(), "ending": ending, "scenes": scenes})
}

// Flush waits briefly for the queue to drain.
func (c *Client) Flush(ctx context.Context) {
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		if len(c.q) == 0 || time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Flush drains the default client.
func Flush(ctx context.Context) { getDefault().Flush(ctx) }

// Close stops background goroutine.
func (c *Client) Close() { c.once.Do(func() { close(c.closed) }) }

func (c *Client) loop() {
	for {
		select {
		case <-c.closed:
			return
		case item := <-c.q:
			c.send(item)
		}
	}
}

func (c *Client) send(item map[string]any) {
	buf, _ := json.Marshal(item)
	c.post(c.cfg.EventsURL, "application/json", buf, "telemetry event")
}

func (c *Client) post(url, contentType string, body []byte, what string) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug(what+" failed", slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug(what+" sent", slog.Int("status", resp.StatusCode))
	}
}

// UploadCrash posts an already‑serialized crash report to the configured crash URL if opt‑in.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	go c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", append([]byte(nil), report...), "crash upload")
}

// UploadCrash using default client.
func UploadCrash(report []byte) { getDefault().UploadCrash(report) }
