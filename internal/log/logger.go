/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log configures the process-wide slog logger. Records carry app,
// version and component attributes; the game project root and playback
// session id stored in a context.Context are added to every record logged
// with that context.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"luminascript/internal/version"
)

// Options selects level, output format and an optional rotated log file.
// FromEnv reads them from LSC_LOG_LEVEL, LSC_LOG_FORMAT, LSC_LOG_SOURCE and
// LSC_LOG_FILE.
type Options struct {
	Level     string // debug, info, warn or error; info when empty
	Format    string // "console" or "json"
	AddSource bool
	File      string // JSON lines, rotated by lumberjack
}

var (
	mu      sync.RWMutex
	current *slog.Logger
)

// L returns the process logger. It is set up from the environment on first
// use when Init has not run.
func L() *slog.Logger {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l == nil {
		Init(FromEnv())
		mu.RLock()
		l = current
		mu.RUnlock()
	}
	return l
}

// Init replaces the process logger and slog's default.
func Init(opts Options) {
	lvl := parseLevel(opts.Level)
	var out []slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		out = append(out, slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource}))
	} else {
		out = append(out, &consoleHandler{level: lvl, source: opts.AddSource, w: os.Stderr, mu: &sync.Mutex{}})
	}
	if f := strings.TrimSpace(opts.File); f != "" {
		rot := &lj.Logger{Filename: f, MaxSize: 10, MaxBackups: 3, MaxAge: 28, Compress: true}
		out = append(out, slog.NewJSONHandler(rot, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource}))
	}
	var h slog.Handler = fanout(out)
	if len(out) == 1 {
		h = out[0]
	}
	l := slog.New(ctxAttrs{next: h}).With(
		slog.String("app", "luminascript"),
		slog.String("ver", version.Version),
	)

	mu.Lock()
	current = l
	mu.Unlock()
	slog.SetDefault(l)
}

// FromEnv reads Options from the LSC_LOG_* variables.
func FromEnv() Options {
	return Options{
		Level:     getenv("LSC_LOG_LEVEL", "info"),
		Format:    getenv("LSC_LOG_FORMAT", "console"),
		AddSource: strings.EqualFold(getenv("LSC_LOG_SOURCE", "false"), "true"),
		File:      os.Getenv("LSC_LOG_FILE"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithComponent returns the process logger tagged with component=name.
func WithComponent(name string) *slog.Logger { return L().With(slog.String("component", name)) }

// WithOperation tags l with op.
func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

type ctxKey int

const (
	projectKey ctxKey = iota
	sessionKey
)

// WithProject returns a context whose log records carry the game project root.
func WithProject(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, projectKey, root)
}

// WithSession returns a context whose log records carry a playback session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}
