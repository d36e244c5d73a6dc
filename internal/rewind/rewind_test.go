/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package rewind

import (
	"testing"
	"time"

	"luminascript/internal/playback"
	"luminascript/internal/scenario"
	"luminascript/internal/story"
)

func TestBackForwardBasic(t *testing.T) {
	m := NewManager(Config{MaxBytes: 1024 * 1024, MaxDepth: 10})
	t0 := time.Now()
	m.Push("s1", Entry{Scene: "1-T", Blob: []byte("a"), TS: t0})
	m.Push("s1", Entry{Scene: "1-1", Blob: []byte("b"), TS: t0.Add(time.Second)})
	if _, sessions, total := m.Stats(); sessions != 1 || total != 2 {
		t.Fatalf("expected 1 session and 2 entries, got sessions=%d total=%d", sessions, total)
	}
	e, ok := m.Back("s1", Entry{Scene: "1-2", Blob: []byte("c")})
	if !ok || string(e.Blob) != "b" {
		t.Fatalf("back expected 'b', got ok=%v blob=%q", ok, e.Blob)
	}
	if b, f := m.Depth("s1"); b != 1 || f != 1 {
		t.Fatalf("depth back=%d fwd=%d", b, f)
	}
	e, ok = m.Forward("s1", Entry{Scene: "1-1", Blob: []byte("b")})
	if !ok || string(e.Blob) != "c" {
		t.Fatalf("forward expected 'c', got ok=%v blob=%q", ok, e.Blob)
	}
	if _, ok := m.Forward("s1", Entry{}); ok {
		t.Fatalf("forward stack should be empty")
	}
}

func TestPushClearsForward(t *testing.T) {
	m := NewManager(Config{})
	m.Push("s", Entry{Blob: []byte("1"), TS: time.Now()})
	m.Back("s", Entry{Blob: []byte("2")})
	m.Push("s", Entry{Blob: []byte("3"), TS: time.Now()})
	if _, f := m.Depth("s"); f != 0 {
		t.Fatalf("forward stack not cleared: %d", f)
	}
	if total, _, _ := m.Stats(); total != 1 {
		t.Fatalf("byte accounting off: %d", total)
	}
}

func TestCoalesce(t *testing.T) {
	m := NewManager(Config{MinInterval: 50 * time.Millisecond})
	t0 := time.Now()
	m.Push("s", Entry{Blob: []byte("1"), TS: t0})
	m.Push("s", Entry{Blob: []byte("2"), TS: t0.Add(10 * time.Millisecond)})
	if _, _, total := m.Stats(); total != 1 {
		t.Fatalf("expected coalesced to 1 entry, got %d", total)
	}
	e, ok := m.Back("s", Entry{})
	if !ok || string(e.Blob) != "2" {
		t.Fatalf("expected coalesced entry '2', got ok=%v blob=%q", ok, e.Blob)
	}
}

func TestCaps(t *testing.T) {
	m := NewManager(Config{MaxBytes: 20, MaxDepth: 4})
	t0 := time.Now()
	for i := 0; i < 10; i++ {
		m.Push("a", Entry{Blob: []byte("xxxxx"), TS: t0.Add(time.Duration(i) * time.Millisecond)})
	}
	if b, _ := m.Depth("a"); b != 4 {
		t.Fatalf("MaxDepth should keep 4 entries, got %d", b)
	}
	for i := 0; i < 4; i++ {
		m.Push("b", Entry{Blob: []byte("xxxxx"), TS: t0.Add(time.Second + time.Duration(i)*time.Millisecond)})
	}
	if total, _, _ := m.Stats(); total > 20 {
		t.Fatalf("MaxBytes exceeded: %d", total)
	}
	if b, _ := m.Depth("a"); b != 0 {
		t.Fatalf("oldest session should be pruned first, a has %d", b)
	}
	m.Clear("b")
	if total, sessions, _ := m.Stats(); total != 0 || sessions != 0 {
		t.Fatalf("after clear total=%d sessions=%d", total, sessions)
	}
}

func TestStepBackThroughPlayback(t *testing.T) {
	g, err := story.Build([]scenario.Row{
		{SceneID: "1-T"}, {SceneID: "1-1"}, {SceneID: "1-Q", Text: "A left\nB right"},
		{SceneID: "1-A-1"}, {SceneID: "1-B-1"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	pm := playback.NewMachine(g)
	m := NewManager(Config{})
	if err := m.Step("p", pm, pm.Start); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Step("p", pm, pm.Advance); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Step("p", pm, func() error { return pm.Choose("A") }); err != nil {
		t.Fatal(err)
	}
	if pm.Current().String() != "1-A-1" {
		t.Fatalf("at %s", pm.Current())
	}
	// failed transitions are not recorded
	if err := m.Step("p", pm, func() error { return pm.Choose("A") }); err == nil {
		t.Fatalf("choose at a route segment should fail")
	}
	if b, _ := m.Depth("p"); b != 3 {
		t.Fatalf("depth=%d want 3", b)
	}

	back, ok, err := m.StepBack("p", pm)
	if err != nil || !ok || back.Current().String() != "1-Q" {
		t.Fatalf("StepBack: %v %v %v", back.Current(), ok, err)
	}
	if err := back.Choose("B"); err != nil {
		t.Fatalf("choose after rewind: %v", err)
	}
	if got := back.ChoicesMade()[scenario.MustParseIdentifier("1-Q")]; got != "B" {
		t.Fatalf("choice not replaced: %q", got)
	}
	fwd, ok, err := m.StepForward("p", back)
	if err != nil || !ok || fwd.Current().String() != "1-A-1" {
		t.Fatalf("StepForward: %v %v", ok, err)
	}
}
