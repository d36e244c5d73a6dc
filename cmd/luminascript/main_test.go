/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"luminascript/internal/config"
	applog "luminascript/internal/log"
	"luminascript/internal/playback"
	"luminascript/internal/scenario"
	"luminascript/internal/storage"
)

func testLogger() *slog.Logger { return applog.WithComponent("cli-test") }

func TestSlotFlag(t *testing.T) {
	cases := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{nil, 0, false},
		{[]string{"--slot", "3"}, 3, false},
		{[]string{"--slot=12"}, 12, false},
		{[]string{"--slot"}, 0, true},
		{[]string{"--slot", "0"}, 0, true},
		{[]string{"--slot", "100"}, 0, true},
		{[]string{"--fast"}, 0, true},
	}
	for _, tc := range cases {
		got, err := slotFlag(tc.args)
		if (err != nil) != tc.wantErr {
			t.Fatalf("slotFlag(%v) err = %v, wantErr %v", tc.args, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("slotFlag(%v) = %d, want %d", tc.args, got, tc.want)
		}
	}
}

func TestInitCheckAndExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "game")
	c := &cli{l: testLogger()}
	if code := c.run("init", []string{dir, "My", "Game"}); code != 0 {
		t.Fatalf("init exit code = %d", code)
	}
	if c.ph == nil || c.ph.Meta.Title != "My Game" {
		t.Fatalf("init did not record the project: %+v", c.ph)
	}
	if code := c.run("check", []string{dir}); code != 0 {
		t.Fatalf("check exit code = %d", code)
	}
	if code := c.run("export", []string{dir, "svg"}); code != 0 {
		t.Fatalf("export exit code = %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, storage.ExportsDirName, "routes.svg")); err != nil {
		t.Fatalf("svg not written: %v", err)
	}
	if code := c.run("export", []string{dir, "gif"}); code != 1 {
		t.Fatalf("unknown format exit code = %d, want 1", code)
	}
}

func TestCheckReportsBuildFailure(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	rows := []scenario.Row{{SceneID: "1-1", Text: "hi"}, {SceneID: "1-1", Text: "again"}}
	if err := scenario.WriteCSV(&buf, rows); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, storage.ScenarioFileName), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	c := &cli{l: testLogger()}
	if code := c.run("check", []string{dir}); code != 1 {
		t.Fatalf("check exit code = %d, want 1", code)
	}
}

func TestUsageErrors(t *testing.T) {
	c := &cli{l: testLogger()}
	for _, args := range [][]string{{"init"}, {"play"}, {"search", "x"}, {"cloud"}, {"cloud", "push", "x"}, {"bogus"}} {
		if code := c.run(args[0], args[1:]); code != 2 {
			t.Fatalf("%v exit code = %d, want 2", args, code)
		}
	}
}

func TestCloudRequiresLogin(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "game")
	c := &cli{l: testLogger()}
	if code := c.run("init", []string{dir}); code != 0 {
		t.Fatalf("init exit code = %d", code)
	}
	if code := c.run("cloud", []string{"push", dir, "1"}); code != 1 {
		t.Fatalf("push without token exit code = %d, want 1", code)
	}
}

func TestSavesImportAndDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "game")
	c := &cli{l: testLogger()}
	if code := c.run("init", []string{dir}); code != 0 {
		t.Fatalf("init exit code = %d", code)
	}
	g, err := c.ph.Compiled()
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
	snap, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "crash-save.json")
	if err := storage.ExportSnapshotFile(file, snap); err != nil {
		t.Fatal(err)
	}

	if code := c.run("saves", []string{dir, "import", file, "4"}); code != 0 {
		t.Fatalf("import exit code = %d", code)
	}
	ctx := context.Background()
	store, err := storage.OpenStore(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.LoadSlot(ctx, 4)
	_ = store.Close()
	if err != nil {
		t.Fatalf("load imported slot: %v", err)
	}
	if got.Current != m.Current() {
		t.Fatalf("imported slot at %v, want %v", got.Current, m.Current())
	}

	if code := c.run("saves", []string{dir, "delete", "4"}); code != 0 {
		t.Fatalf("delete exit code = %d", code)
	}
	if code := c.run("saves", []string{dir, "delete", "4"}); code != 1 {
		t.Fatalf("deleting an empty slot exit code = %d, want 1", code)
	}
	store, err = storage.OpenStore(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	if _, err := store.LoadSlot(ctx, 4); !errors.Is(err, storage.ErrSlotEmpty) {
		t.Fatalf("slot after delete: %v", err)
	}
}

func TestSavesImportRejectsForeignSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "game")
	c := &cli{l: testLogger()}
	if code := c.run("init", []string{dir}); code != 0 {
		t.Fatalf("init exit code = %d", code)
	}
	snap := playback.Snapshot{
		Version: playback.SnapshotVersion,
		Current: scenario.MustParseIdentifier("9-1"),
	}
	file := filepath.Join(t.TempDir(), "other.json")
	if err := storage.ExportSnapshotFile(file, snap); err != nil {
		t.Fatal(err)
	}
	if code := c.run("saves", []string{dir, "import", file, "1"}); code != 1 {
		t.Fatalf("import of unknown scene exit code = %d, want 1", code)
	}
	for _, args := range [][]string{{dir, "delete"}, {dir, "import", file}, {dir, "delete", "x"}, {dir, "wipe"}} {
		if code := c.run("saves", args); code != 2 {
			t.Fatalf("saves %v exit code = %d, want 2", args, code)
		}
	}
}

func TestConfigCommand(t *testing.T) {
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "config.yml"))
	c := &cli{l: testLogger(), cfg: config.Defaults()}
	if code := c.run("config", nil); code != 0 {
		t.Fatalf("config exit code = %d", code)
	}
}
