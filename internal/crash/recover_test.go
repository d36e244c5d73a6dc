/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"luminascript/internal/playback"
	"luminascript/internal/storage"
	"luminascript/internal/story"
)

// TestRecover_WritesReportAndProgress ensures Recover handles a panic, writes
// a report and a crash save, and does not terminate the test process due to
// injected exitFn.
func TestRecover_WritesReportAndProgress(t *testing.T) {
	// Capture stderr temporarily to avoid noisy test logs
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r) // drain pipe
	}()

	called := 0
	oldExit := exitFn
	exitFn = func(code int) { called = code }
	defer func() { exitFn = oldExit }()

	root := t.TempDir()
	g, err := story.Build(storage.SampleRows())
	if err != nil {
		t.Fatal(err)
	}
	m := playback.NewMachine(g)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Advance(); err != nil {
		t.Fatal(err)
	}
	ph := &storage.ProjectHandle{Root: root, Graph: g}

	func() {
		defer Recover(ph, m)
		panic("boom")
	}()

	bdir := filepath.Join(root, storage.BackupsDirName)
	files, _ := os.ReadDir(bdir)
	var report, save string
	for _, f := range files {
		switch {
		case strings.HasPrefix(f.Name(), "crash-save-"):
			save = filepath.Join(bdir, f.Name())
		case strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".log"):
			report = filepath.Join(bdir, f.Name())
		}
	}
	if report == "" {
		t.Fatalf("expected crash report file under backups dir")
	}
	b, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Contains(b, []byte("Panic: boom")) {
		t.Fatalf("report does not contain panic: %s", string(b))
	}
	if save == "" {
		t.Fatalf("expected crash save under backups dir")
	}
	snap, err := storage.ImportSnapshotFile(save)
	if err != nil {
		t.Fatalf("crash save unreadable: %v", err)
	}
	if snap.Current != m.Current() {
		t.Fatalf("crash save at %v, want %v", snap.Current, m.Current())
	}
	if called != 2 {
		t.Fatalf("expected exit code 2, got %d", called)
	}
}

func TestRecover_NoPanicIsNoop(t *testing.T) {
	called := false
	oldExit := exitFn
	exitFn = func(int) { called = true }
	defer func() { exitFn = oldExit }()
	func() {
		defer Recover(nil, nil)
	}()
	if called {
		t.Fatalf("exit should not be called without a panic")
	}
}

func TestRecoverWith_ReadsStateAtPanicTime(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	called := 0
	oldExit := exitFn
	exitFn = func(code int) { called = code }
	defer func() { exitFn = oldExit }()

	root := t.TempDir()
	var ph *storage.ProjectHandle
	func() {
		defer RecoverWith(func() (*storage.ProjectHandle, Snapshotter) { return ph, nil })
		ph = &storage.ProjectHandle{Root: root}
		panic("late")
	}()

	files, _ := os.ReadDir(filepath.Join(root, storage.BackupsDirName))
	found := false
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".log") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the report under the project assigned after defer")
	}
	if called != 2 {
		t.Fatalf("expected exit code 2, got %d", called)
	}
}
