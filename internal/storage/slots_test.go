/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"luminascript/internal/playback"
	"luminascript/internal/story"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenStore(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleGraph(t *testing.T) *story.Graph {
	t.Helper()
	g, err := story.Build(SampleRows())
	if err != nil {
		t.Fatalf("build sample: %v", err)
	}
	return g
}

// playTo starts a machine on the sample and advances it steps times.
func playTo(t *testing.T, g *story.Graph, clock time.Time, steps int) *playback.Machine {
	t.Helper()
	m := playback.NewMachine(g, playback.WithClock(func() time.Time { return clock }))
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < steps; i++ {
		if err := m.Advance(); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	return m
}

func TestSlots_SaveLoadRestore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	g := sampleGraph(t)
	m := playTo(t, g, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), 3) // at 1-Q
	if err := m.Choose("B"); err != nil {
		t.Fatal(err)
	}
	snap, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSlot(ctx, 1, "before the hassle", snap); err != nil {
		t.Fatalf("SaveSlot: %v", err)
	}
	got, err := st.LoadSlot(ctx, 1)
	if err != nil {
		t.Fatalf("LoadSlot: %v", err)
	}
	m2, err := playback.Restore(g, got)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if m2.Current() != m.Current() || len(m2.History()) != len(m.History()) {
		t.Fatalf("restored state differs: %v vs %v", m2.Current(), m.Current())
	}
	infos, err := st.ListSlots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Label != "before the hassle" || infos[0].Scene != "1-B-1" {
		t.Fatalf("unexpected slot list: %+v", infos)
	}
	if infos[0].Fingerprint != g.Fingerprint() {
		t.Fatalf("fingerprint not stored")
	}
}

func TestSlots_OverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	g := sampleGraph(t)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s1, _ := playTo(t, g, clock, 0).Snapshot()
	s2, _ := playTo(t, g, clock, 2).Snapshot()
	if err := st.SaveSlot(ctx, 5, "", s1); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSlot(ctx, 5, "", s2); err != nil {
		t.Fatal(err)
	}
	got, err := st.LoadSlot(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.Current != s2.Current {
		t.Fatalf("expected overwritten slot at %v, got %v", s2.Current, got.Current)
	}
	if err := st.DeleteSlot(ctx, 5); err != nil {
		t.Fatalf("DeleteSlot: %v", err)
	}
	if _, err := st.LoadSlot(ctx, 5); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
	if err := st.DeleteSlot(ctx, 5); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty deleting twice, got %v", err)
	}
}

func TestSlots_InvalidSlotAndCorruptPayload(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.LoadSlot(ctx, 0); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
	if err := st.SaveSlot(ctx, MaxSlots+1, "", playback.Snapshot{}); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
	if _, err := st.DB().ExecContext(ctx, `INSERT INTO slots(slot, scene, saved_at, payload) VALUES (2, '1-1', '', ?)`, []byte(`{"version":1}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := st.LoadSlot(ctx, 2); !errors.Is(err, playback.ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestAutosaves_KeepNewest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	g := sampleGraph(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := st.LatestAutosave(ctx); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty with no autosaves, got %v", err)
	}
	for i := 0; i < 4; i++ {
		snap, err := playTo(t, g, base.Add(time.Duration(i)*time.Minute), i).Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if err := st.Autosave(ctx, snap, 3); err != nil {
			t.Fatalf("Autosave %d: %v", i, err)
		}
	}
	list, err := st.ListAutosaves(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 autosaves after pruning, got %d", len(list))
	}
	if !list[0].TS.After(list[1].TS) {
		t.Fatalf("autosaves not newest first: %+v", list)
	}
	latest, err := st.LatestAutosave(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Current.String() != "1-Q" {
		t.Fatalf("latest autosave at %v, want 1-Q", latest.Current)
	}
}

func TestSnapshotFile_ExportImport(t *testing.T) {
	g := sampleGraph(t)
	snap, err := playTo(t, g, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1).Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "exports", "save.json")
	if err := ExportSnapshotFile(path, snap); err != nil {
		t.Fatalf("ExportSnapshotFile: %v", err)
	}
	got, err := ImportSnapshotFile(path)
	if err != nil {
		t.Fatalf("ImportSnapshotFile: %v", err)
	}
	if got.Current != snap.Current || !got.Timestamp.Equal(snap.Timestamp) {
		t.Fatalf("imported snapshot differs: %+v vs %+v", got, snap)
	}
}
