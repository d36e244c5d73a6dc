/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package playback

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"luminascript/internal/scenario"
	"luminascript/internal/story"
)

func testGraph(t *testing.T) *story.Graph {
	t.Helper()
	in := []scenario.Row{
		{SceneID: "1-T", Text: "Chapter 1"},
		{SceneID: "1-1", PersonName: "Ann", Text: "one", BackgroundImage: "room", CenterPortrait: "ann"},
		{SceneID: "1-2", Text: "two"},
		{SceneID: "1-Q", Text: "A go\nB stay"},
		{SceneID: "1-A-1", Text: "a1"},
		{SceneID: "1-A-2", Text: "a2"},
		{SceneID: "1-B-1", Text: "b1"},
		{SceneID: "2-T", Text: "Chapter 2"},
	}
	g, err := story.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func id(s string) scenario.Identifier { return scenario.MustParseIdentifier(s) }

// fixedClock returns the same instant on every call.
func fixedClock() func() time.Time {
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func mustAdvance(t *testing.T, m *Machine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := m.Advance(); err != nil {
			t.Fatalf("Advance #%d at %s: %v", i+1, m.Current(), err)
		}
	}
}

func TestPlaythroughBothRoutes(t *testing.T) {
	m := NewMachine(testGraph(t))
	if m.Status() != NotStarted {
		t.Fatalf("new machine status=%v", m.Status())
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Current() != id("1-T") {
		t.Fatalf("start at %s", m.Current())
	}
	mustAdvance(t, m, 3)
	if m.Current() != id("1-Q") {
		t.Fatalf("after 3 advances at %s", m.Current())
	}
	if err := m.Choose("A"); err != nil {
		t.Fatalf("Choose A: %v", err)
	}
	if m.Current() != id("1-A-1") {
		t.Fatalf("after choose A at %s", m.Current())
	}
	mustAdvance(t, m, 1)
	if m.Current() != id("1-A-2") {
		t.Fatalf("at %s want 1-A-2", m.Current())
	}
	mustAdvance(t, m, 1)
	if m.Current() != id("2-T") {
		t.Fatalf("at %s want 2-T", m.Current())
	}
	mustAdvance(t, m, 1)
	if m.Status() != Finished || m.Current() != id("2-T") {
		t.Fatalf("want Finished at 2-T, got %v at %s", m.Status(), m.Current())
	}
	if err := m.Advance(); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("advance after finish: %v", err)
	}

	m.Restart()
	if m.Status() != InProgress || m.Current() != id("1-T") || len(m.History()) != 0 || len(m.ChoicesMade()) != 0 {
		t.Fatalf("restart did not reset: %v %s %v %v", m.Status(), m.Current(), m.History(), m.ChoicesMade())
	}
	mustAdvance(t, m, 3)
	if err := m.Choose("B"); err != nil {
		t.Fatalf("Choose B: %v", err)
	}
	if m.Current() != id("1-B-1") {
		t.Fatalf("at %s want 1-B-1", m.Current())
	}
	mustAdvance(t, m, 1)
	if m.Current() != id("2-T") {
		t.Fatalf("at %s want 2-T", m.Current())
	}
	wantHist := []scenario.Identifier{id("1-T"), id("1-1"), id("1-2"), id("1-Q"), id("1-B-1")}
	if !reflect.DeepEqual(m.History(), wantHist) {
		t.Fatalf("history=%v", m.History())
	}
	if got := m.ChoicesMade(); len(got) != 1 || got[id("1-Q")] != "B" {
		t.Fatalf("choices=%v", got)
	}
}

func TestErrorsLeaveStateUntouched(t *testing.T) {
	m := NewMachine(testGraph(t))
	if err := m.Advance(); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("advance before start: %v", err)
	}
	if _, err := m.Snapshot(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("snapshot before start: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: %v", err)
	}
	if err := m.Choose("A"); !errors.Is(err, story.ErrUnexpectedChoice) {
		t.Fatalf("choose at title: %v", err)
	}
	mustAdvance(t, m, 3)
	before := m.History()
	for _, c := range []struct {
		call func() error
		want error
	}{
		{m.Advance, story.ErrChoiceRequired},
		{func() error { return m.Choose("") }, story.ErrChoiceRequired},
		{func() error { return m.Choose("Z") }, story.ErrInvalidChoice},
	} {
		if err := c.call(); !errors.Is(err, c.want) {
			t.Fatalf("want %v, got %v", c.want, err)
		}
		if m.Current() != id("1-Q") || !reflect.DeepEqual(m.History(), before) || len(m.ChoicesMade()) != 0 {
			t.Fatalf("state changed after error: %s %v %v", m.Current(), m.History(), m.ChoicesMade())
		}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	g := testGraph(t)
	m := NewMachine(g)
	_ = m.Start()
	mustAdvance(t, m, 3)
	_ = m.Choose("A")
	mustAdvance(t, m, 1)

	s, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	b, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(b), `"choices":{"1-Q":"A"}`) || !strings.Contains(string(b), `"current":"1-A-2"`) {
		t.Fatalf("unexpected wire form: %s", b)
	}
	dec, err := DecodeSnapshot(b)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	r, err := Restore(g, dec)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r.Status() != InProgress || r.Current() != m.Current() ||
		!reflect.DeepEqual(r.History(), m.History()) || !reflect.DeepEqual(r.ChoicesMade(), m.ChoicesMade()) {
		t.Fatalf("restored state differs")
	}
	mustAdvance(t, r, 1)
	if r.Current() != id("2-T") {
		t.Fatalf("restored machine continues to %s", r.Current())
	}
}

func TestRestoreFinished(t *testing.T) {
	g := testGraph(t)
	m := NewMachine(g)
	_ = m.Start()
	mustAdvance(t, m, 3)
	_ = m.Choose("B")
	mustAdvance(t, m, 2)
	if m.Status() != Finished {
		t.Fatalf("want finished")
	}
	s, _ := m.Snapshot()
	r, err := Restore(g, s)
	if err != nil || r.Status() != Finished {
		t.Fatalf("Restore finished: %v %v", r, err)
	}

	// no finished flag: terminal current restores as finished
	s.Finished = nil
	r, err = Restore(g, s)
	if err != nil || r.Status() != Finished {
		t.Fatalf("Restore without flag: %v", err)
	}

	// in progress at the terminal scene stays in progress
	m2 := NewMachine(g)
	_ = m2.Start()
	mustAdvance(t, m2, 3)
	_ = m2.Choose("B")
	mustAdvance(t, m2, 1)
	s2, _ := m2.Snapshot()
	r2, err := Restore(g, s2)
	if err != nil || r2.Status() != InProgress || r2.Current() != id("2-T") {
		t.Fatalf("Restore in-progress terminal: %v", err)
	}
}

func TestRestoreRejectsForeignSnapshots(t *testing.T) {
	g := testGraph(t)
	base := Snapshot{Version: SnapshotVersion, Current: id("1-A-1"),
		History: []scenario.Identifier{id("1-T")}, Choices: map[scenario.Identifier]string{id("1-Q"): "A"}}
	cases := map[string]func(*Snapshot){
		"version":         func(s *Snapshot) { s.Version = 7 },
		"unknown current": func(s *Snapshot) { s.Current = id("5-T") },
		"zero current":    func(s *Snapshot) { s.Current = scenario.Identifier{} },
		"unknown history": func(s *Snapshot) { s.History = append(s.History, id("1-9")) },
		"unknown choice":  func(s *Snapshot) { s.Choices[id("2-Q")] = "A" },
		"non-choice key":  func(s *Snapshot) { s.Choices[id("1-1")] = "A" },
		"unknown route":   func(s *Snapshot) { s.Choices[id("1-Q")] = "C" },
		"finished early":  func(s *Snapshot) { f := true; s.Finished = &f },
	}
	for name, mutate := range cases {
		s := base
		s.History = append([]scenario.Identifier(nil), base.History...)
		s.Choices = map[scenario.Identifier]string{id("1-Q"): "A"}
		mutate(&s)
		if _, err := Restore(g, s); !errors.Is(err, ErrCorruptSnapshot) {
			t.Fatalf("%s: want ErrCorruptSnapshot, got %v", name, err)
		}
	}
	m := NewMachine(g)
	_ = m.Start()
	if err := m.Restore(base); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("restore into started machine: %v", err)
	}
}

func TestChooseOverwritesOnReplay(t *testing.T) {
	g := testGraph(t)
	s := Snapshot{Version: SnapshotVersion, Current: id("1-Q"),
		History: []scenario.Identifier{id("1-T"), id("1-1"), id("1-2")},
		Choices: map[scenario.Identifier]string{id("1-Q"): "A"}}
	m, err := Restore(g, s)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := m.Choose("B"); err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if got := m.ChoicesMade(); len(got) != 1 || got[id("1-Q")] != "B" {
		t.Fatalf("choices=%v", got)
	}
}

func TestSnapshotTimestampsIncrease(t *testing.T) {
	g := testGraph(t)
	m := NewMachine(g, WithClock(fixedClock()))
	_ = m.Start()
	a, _ := m.Snapshot()
	b, _ := m.Snapshot()
	m.Restart()
	c, _ := m.Snapshot()
	if !b.Timestamp.After(a.Timestamp) || !c.Timestamp.After(b.Timestamp) {
		t.Fatalf("timestamps not increasing: %v %v %v", a.Timestamp, b.Timestamp, c.Timestamp)
	}
	r, err := Restore(g, c, WithClock(fixedClock()))
	if err != nil {
		t.Fatal(err)
	}
	d, _ := r.Snapshot()
	if !d.Timestamp.After(c.Timestamp) {
		t.Fatalf("restored machine reused an older stamp: %v <= %v", d.Timestamp, c.Timestamp)
	}
}

func TestDecodeSnapshotValidates(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":      `{`,
		"missing field": `{"version":1,"current":"1-T","history":[],"choices":{}}`,
		"bad scene":     `{"version":1,"current":"1-","history":[],"choices":{},"timestamp":"2025-01-01T00:00:00Z"}`,
		"bad choice":    `{"version":1,"current":"1-T","history":[],"choices":{"1-1":"A"},"timestamp":"2025-01-01T00:00:00Z"}`,
		"bad time":      `{"version":1,"current":"1-T","history":[],"choices":{},"timestamp":"yesterday"}`,
	} {
		if _, err := DecodeSnapshot([]byte(raw)); !errors.Is(err, ErrCorruptSnapshot) {
			t.Fatalf("%s: want ErrCorruptSnapshot, got %v", name, err)
		}
	}
	ok := `{"version":1,"current":"1-B-1","history":["1-T","1-Q"],"choices":{"1-Q":"B"},"timestamp":"2025-01-01T00:00:00Z"}`
	s, err := DecodeSnapshot([]byte(ok))
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if s.Current != id("1-B-1") || s.Choices[id("1-Q")] != "B" || s.Finished != nil {
		t.Fatalf("decoded %+v", s)
	}
}

func TestFrameAndBacklog(t *testing.T) {
	m := NewMachine(testGraph(t))
	if _, err := m.Frame(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Frame before start: %v", err)
	}
	_ = m.Start()
	mustAdvance(t, m, 1)
	f, err := m.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Speaker != "Ann" || f.Background != "room" || f.Portraits.Center != "ann" || f.Kind != "numbered" {
		t.Fatalf("frame=%+v", f)
	}
	mustAdvance(t, m, 2)
	f, _ = m.Frame()
	if f.Text != "" || len(f.Choices) != 2 || f.Choices[0].Route != "A" {
		t.Fatalf("choice frame=%+v", f)
	}
	_ = m.Choose("B")
	bl := m.Backlog()
	if len(bl) != 5 || bl[3].Picked != "stay" || bl[4].Text != "b1" {
		t.Fatalf("backlog=%+v", bl)
	}
}
