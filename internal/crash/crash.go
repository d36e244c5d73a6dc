/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a crash report and, when a game is in
// progress, an emergency save the player can import afterwards.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "luminascript/internal/log"
	"luminascript/internal/playback"
	"luminascript/internal/storage"
	"luminascript/internal/telemetry"
	"luminascript/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Snapshotter is anything that can capture playback progress, normally a
// *playback.Machine.
type Snapshotter interface {
	Snapshot() (playback.Snapshot, error)
}

// Recover captures a panic, logs an error with stacktrace, writes a report
// file and saves the current progress of game (if provided) next to it.
//
// Usage: defer crash.Recover(ph, machine)
func Recover(ph *storage.ProjectHandle, game Snapshotter) {
	r := recover()
	if r == nil {
		return
	}
	handle(r, ph, game)
}

// RecoverWith is Recover for callers whose project and game are only known
// after the defer statement; state is called once a panic was caught.
//
// Usage: defer crash.RecoverWith(func() (*storage.ProjectHandle, crash.Snapshotter) { return ph, game })
func RecoverWith(state func() (*storage.ProjectHandle, Snapshotter)) {
	r := recover()
	if r == nil {
		return
	}
	ph, game := state()
	handle(r, ph, game)
}

func handle(r any, ph *storage.ProjectHandle, game Snapshotter) {
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	reportPath, _ := writeReport(ph, r, stack)
	if game != nil {
		if path, err := saveProgress(ph, game); err != nil {
			l.Error("crash save failed", slog.Any("err", err))
		} else {
			l.Info("crash save written", slog.String("path", path))
			_, _ = fmt.Fprintf(os.Stderr, "Your progress was saved to: %s\n", path)
		}
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	// Exit with a non-zero code to indicate failure in CLI context.
	exitFn(2)
}

func reportDir(ph *storage.ProjectHandle) string {
	if ph != nil && ph.Root != "" {
		dir := filepath.Join(ph.Root, storage.BackupsDirName)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			return dir
		}
	}
	return os.TempDir()
}

// saveProgress writes the game's snapshot as crash-save-<ts>.json.
func saveProgress(ph *storage.ProjectHandle, game Snapshotter) (path string, err error) {
	defer func() {
		// a machine in a broken state may panic again
		if r := recover(); r != nil {
			err = fmt.Errorf("snapshot panicked: %v", r)
		}
	}()
	snap, err := game.Snapshot()
	if err != nil {
		return "", err
	}
	path = filepath.Join(reportDir(ph), fmt.Sprintf("crash-save-%s.json", time.Now().Format("20060102-150405")))
	return path, storage.ExportSnapshotFile(path, snap)
}

func writeReport(ph *storage.ProjectHandle, panicVal any, stack []byte) (string, error) {
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(reportDir(ph), fmt.Sprintf("crash-%s.log", stamp))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "LuminaScript Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if ph != nil {
		_, _ = fmt.Fprintf(&buf, "ProjectRoot: %s\n", ph.Root)
		if ph.Graph != nil {
			_, _ = fmt.Fprintf(&buf, "Scenario: %s (%d scenes)\n", ph.Graph.Fingerprint(), ph.Graph.Len())
		}
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// optionally upload anonymized crash report (opt-in)
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
