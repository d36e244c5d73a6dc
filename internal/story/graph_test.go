/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package story

import (
	"errors"
	"strings"
	"testing"

	"luminascript/internal/scenario"
)

func rows(pairs ...string) []scenario.Row {
	out := make([]scenario.Row, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, scenario.Row{SceneID: pairs[i], Text: pairs[i+1], Line: i/2 + 2})
	}
	return out
}

func id(s string) scenario.Identifier { return scenario.MustParseIdentifier(s) }

func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := Build(rows(
		"1-T", "Chapter 1",
		"1-1", "one",
		"1-2", "two",
		"1-Q", "A go\nB stay",
		"1-A-1", "a1",
		"1-A-2", "a2",
		"1-B-1", "b1",
		"2-T", "Chapter 2",
	))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func mustNext(t *testing.T, g *Graph, cur, choice string) string {
	t.Helper()
	n, ok, err := g.Next(id(cur), choice)
	if err != nil {
		t.Fatalf("Next(%s,%q): %v", cur, choice, err)
	}
	if !ok {
		return "END"
	}
	return n.String()
}

func TestNextFollowsRoutesAndConverges(t *testing.T) {
	g := sampleGraph(t)
	steps := []struct{ cur, choice, want string }{
		{"1-T", "", "1-1"},
		{"1-1", "", "1-2"},
		{"1-2", "", "1-Q"},
		{"1-Q", "A", "1-A-1"},
		{"1-A-1", "", "1-A-2"},
		{"1-A-2", "", "2-T"},
		{"1-Q", "B", "1-B-1"},
		{"1-B-1", "", "2-T"},
		{"2-T", "", "END"},
	}
	for _, s := range steps {
		if got := mustNext(t, g, s.cur, s.choice); got != s.want {
			t.Fatalf("Next(%s,%q)=%s want %s", s.cur, s.choice, got, s.want)
		}
	}
	if g.First() != id("1-T") || !g.IsTerminal(id("2-T")) || g.IsTerminal(id("1-Q")) {
		t.Fatalf("First/IsTerminal mismatch")
	}
	cs := g.Choices(id("1-Q"))
	if len(cs) != 2 || cs[0] != (Choice{Label: "go", Route: "A"}) || cs[1] != (Choice{Label: "stay", Route: "B"}) {
		t.Fatalf("Choices()=%+v", cs)
	}
}

func TestNextErrors(t *testing.T) {
	g := sampleGraph(t)
	if _, _, err := g.Next(id("1-Q"), ""); !errors.Is(err, ErrChoiceRequired) {
		t.Fatalf("want ErrChoiceRequired, got %v", err)
	}
	if _, _, err := g.Next(id("1-Q"), "C"); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("want ErrInvalidChoice, got %v", err)
	}
	if _, _, err := g.Next(id("1-1"), "A"); !errors.Is(err, ErrUnexpectedChoice) {
		t.Fatalf("want ErrUnexpectedChoice, got %v", err)
	}
	if _, _, err := g.Next(id("9-T"), ""); !errors.Is(err, ErrUnknownScene) {
		t.Fatalf("want ErrUnknownScene, got %v", err)
	}
}

func TestLinearGraphVisitsEverySceneInDocumentOrder(t *testing.T) {
	// input deliberately out of order
	g, err := Build(rows("2-1", "", "1-2", "", "1-T", "", "2-T", "", "1-1", "", "1-E", "", "3-T", ""))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"1-T", "1-1", "1-2", "1-E", "2-T", "2-1", "3-T"}
	cur := g.First()
	var got []string
	for {
		got = append(got, cur.String())
		n, ok, err := g.Next(cur, "")
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		cur = n
	}
	if len(got) != len(want) {
		t.Fatalf("visited %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visited %v want %v", got, want)
		}
	}
}

func TestRouteEndingIsTerminalForItsRoute(t *testing.T) {
	g, err := Build(rows(
		"1-T", "",
		"1-Q", "A bad end\nB carry on",
		"1-A-1", "",
		"1-A-E", "game over",
		"1-B-1", "",
		"2-T", "",
	))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := mustNext(t, g, "1-A-1", ""); got != "1-A-E" {
		t.Fatalf("route A should end at 1-A-E, got %s", got)
	}
	if got := mustNext(t, g, "1-A-E", ""); got != "END" {
		t.Fatalf("route ending should be terminal, got %s", got)
	}
	if got := mustNext(t, g, "1-B-1", ""); got != "2-T" {
		t.Fatalf("route B should converge to 2-T, got %s", got)
	}
	if rs := g.Routes(1); len(rs) != 2 || rs[0] != "A" || rs[1] != "B" {
		t.Fatalf("Routes(1)=%v", rs)
	}
}

func TestChoicesLeadToDisjointRouteSets(t *testing.T) {
	g := sampleGraph(t)
	a := g.Reachable(id("1-A-1"))
	b := g.Reachable(id("1-B-1"))
	if a[id("1-B-1")] || b[id("1-A-1")] || b[id("1-A-2")] {
		t.Fatalf("route sets overlap: a=%v b=%v", a, b)
	}
	if !a[id("2-T")] || !b[id("2-T")] {
		t.Fatalf("both routes should reach 2-T")
	}
	if u := g.Unreachable(); len(u) != 0 {
		t.Fatalf("Unreachable()=%v", u)
	}
}

func TestRoutesConvergeOnChapterEnding(t *testing.T) {
	g, err := Build(rows(
		"1-T", "",
		"1-Q", "A x\nB y\nC z",
		"1-A-1", "",
		"1-B-1", "",
		"1-C-1", "",
		"1-C-E", "",
		"1-E", "end of chapter",
		"2-T", "",
	))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for cur, want := range map[string]string{"1-A-1": "1-E", "1-B-1": "1-E", "1-C-1": "1-C-E", "1-E": "2-T", "1-C-E": "END"} {
		if got := mustNext(t, g, cur, ""); got != want {
			t.Fatalf("Next(%s)=%s want %s", cur, got, want)
		}
	}
}

func TestUnreachableScenes(t *testing.T) {
	g, err := Build(rows("1-T", "", "1-Q", "A x", "1-A-1", "", "1-A-E", "", "1-E", ""))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	u := g.Unreachable()
	if len(u) != 1 || u[0] != id("1-E") {
		t.Fatalf("Unreachable()=%v", u)
	}
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name string
		in   []scenario.Row
		want error
	}{
		{"trailing dash", rows("1-T", "", "1-", ""), scenario.ErrMalformedIdentifier},
		{"letter chapter", rows("X-1", ""), scenario.ErrMalformedIdentifier},
		{"duplicate", rows("1-T", "", "1-1", "", "1-1", ""), ErrDuplicateIdentifier},
		{"empty input", nil, ErrEmptyChapter},
		{"chapter gap", rows("1-T", "", "3-T", ""), ErrEmptyChapter},
		{"no choice lines", rows("1-Q", "pick one", "1-A-1", ""), ErrMalformedChoiceBody},
		{"route without scenes", rows("1-Q", "A go\nB stay", "1-A-1", ""), ErrMalformedChoiceBody},
		{"route offered twice", rows("1-Q", "A go\nA again", "1-A-1", ""), ErrMalformedChoiceBody},
		{"route without choice", rows("1-T", "", "1-A-1", ""), ErrOrphanRoute},
		{"route not offered", rows("1-Q", "A go", "1-A-1", "", "1-C-1", ""), ErrOrphanRoute},
		{"route ending not offered", rows("1-Q", "A go", "1-A-1", "", "1-D-E", ""), ErrOrphanRoute},
	}
	for _, c := range cases {
		_, err := Build(c.in)
		if !errors.Is(err, c.want) {
			t.Fatalf("%s: want %v, got %v", c.name, c.want, err)
		}
		var be *BuildError
		if !errors.As(err, &be) {
			t.Fatalf("%s: error is not a *BuildError: %T", c.name, err)
		}
	}
}

func TestBuildErrorNamesBadSegment(t *testing.T) {
	cases := map[string]string{
		"X-1":     `chapter "X"`,
		"1-x-1":   `route "x"`,
		"1-A-0":   `route scene "0"`,
		"1-2-3-4": "got 4",
	}
	for raw, want := range cases {
		_, err := Build(rows("1-T", "", raw, ""))
		var be *BuildError
		if !errors.As(err, &be) {
			t.Fatalf("%s: want *BuildError, got %v", raw, err)
		}
		if !strings.Contains(be.Detail, want) || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: detail %q does not mention %s", raw, be.Detail, want)
		}
		if be.SceneID != raw || be.Line != 3 {
			t.Fatalf("%s: located at %q line %d", raw, be.SceneID, be.Line)
		}
	}
}

func TestBuildErrorLocatesSource(t *testing.T) {
	_, err := Build(rows("1-T", "", "1-1", "", "1-1", ""))
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("want *BuildError, got %v", err)
	}
	if be.SceneID != "1-1" || be.Line != 4 {
		t.Fatalf("BuildError=%+v", be)
	}
}

func TestChoiceLinesIgnoreNoiseAndCR(t *testing.T) {
	g, err := Build(rows("1-Q", "Which way?\r\nA left\r\nB right\r\n", "1-A-1", "", "1-B-1", ""))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cs := g.Choices(id("1-Q"))
	if len(cs) != 2 || cs[1].Label != "right" {
		t.Fatalf("Choices()=%+v", cs)
	}
}

func TestFingerprintIgnoresInputOrder(t *testing.T) {
	a := sampleGraph(t)
	in := rows("2-T", "Chapter 2", "1-B-1", "b1", "1-A-2", "a2", "1-A-1", "a1",
		"1-Q", "A go\nB stay", "1-2", "two", "1-1", "one", "1-T", "Chapter 1")
	b, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ: %s %s", a.Fingerprint(), b.Fingerprint())
	}
	in[0].Text = "Chapter Two"
	c, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.Fingerprint() == a.Fingerprint() {
		t.Fatalf("fingerprint should change with content")
	}
	st := a.Stats()
	if st.Scenes != 8 || st.Chapters != 2 || st.Choices != 1 || st.Routes != 2 {
		t.Fatalf("Stats()=%+v", st)
	}
}
