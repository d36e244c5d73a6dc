/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package story compiles scenario records into an immutable graph and
// resolves which scene follows the current one.
//
// Document order sorts each chapter as title, numbered scenes, the choice
// point, route segments (by route, then index) and endings. Linear
// successors follow that order with these exceptions: a choice point has
// choice targets instead of a successor; the last segment of a route leads
// to the route's own ending N-R-E when present, else to the chapter ending
// N-E, else to the first scene of the next chapter; route endings are
// terminal; a chapter ending leads to the next chapter. The last scene of the
// last chapter is terminal.
package story

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"luminascript/internal/scenario"
)

// Choice is one option offered by a choice point.
type Choice struct {
	Label string `json:"label"`
	Route string `json:"route"`
}

// Graph is a compiled scenario. It is read-only after Build and safe for
// concurrent use by any number of playback sessions.
type Graph struct {
	records  []scenario.Record
	index    map[scenario.Identifier]int
	next     []int // successor position, -1 when none
	choices  map[int][]Choice
	entry    map[routeKey]int // first segment of each route
	routes   map[int][]string
	chapters []int
	digest   string
}

type routeKey struct {
	chapter int
	route   string
}

var choiceLine = regexp.MustCompile(`^([A-Za-z0-9]) (.+)$`)

// Build parses rows and compiles them into a Graph. It fails on the first
// problem found with a *BuildError.
func Build(rows []scenario.Row) (*Graph, error) {
	recs := make([]scenario.Record, 0, len(rows))
	for _, row := range rows {
		r, err := scenario.NewRecord(row)
		if err != nil {
			be := &BuildError{Err: scenario.ErrMalformedIdentifier, SceneID: row.SceneID, Line: row.Line, Detail: err.Error()}
			var ie *scenario.IdentifierError
			if errors.As(err, &ie) {
				be.Detail = ie.Reason
			}
			return nil, be
		}
		recs = append(recs, r)
	}
	return BuildRecords(recs)
}

// BuildRecords compiles already parsed records.
func BuildRecords(recs []scenario.Record) (*Graph, error) {
	if len(recs) == 0 {
		return nil, &BuildError{Err: ErrEmptyChapter, Detail: "scenario has no scenes"}
	}
	seen := make(map[scenario.Identifier]int, len(recs))
	for _, r := range recs {
		if r.ID.IsZero() {
			return nil, &BuildError{Err: scenario.ErrMalformedIdentifier, Line: r.Line}
		}
		if prev, ok := seen[r.ID]; ok {
			return nil, &BuildError{Err: ErrDuplicateIdentifier, SceneID: r.ID.String(), Line: r.Line,
				Detail: "first defined at line " + strconv.Itoa(prev)}
		}
		seen[r.ID] = r.Line
	}

	sorted := make([]scenario.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID.Less(sorted[j].ID) })

	g := &Graph{
		records: sorted,
		index:   make(map[scenario.Identifier]int, len(sorted)),
		next:    make([]int, len(sorted)),
		choices: make(map[int][]Choice),
		entry:   make(map[routeKey]int),
		routes:  make(map[int][]string),
	}
	for i, r := range sorted {
		g.index[r.ID] = i
		if n := len(g.chapters); n == 0 || g.chapters[n-1] != r.ID.Chapter {
			g.chapters = append(g.chapters, r.ID.Chapter)
		}
	}
	first, last := g.chapters[0], g.chapters[len(g.chapters)-1]
	if len(g.chapters) != last-first+1 {
		for i, ch := range g.chapters {
			if ch != first+i {
				return nil, &BuildError{Err: ErrEmptyChapter,
					Detail: fmt.Sprintf("chapter %d has no scenes", first+i)}
			}
		}
	}

	// chapter start positions
	starts := make(map[int]int, len(g.chapters))
	for i := len(sorted) - 1; i >= 0; i-- {
		starts[sorted[i].ID.Chapter] = i
	}

	for _, ch := range g.chapters {
		if err := g.linkChapter(ch, starts); err != nil {
			return nil, err
		}
	}
	g.digest = fingerprint(sorted)
	return g, nil
}

// linkChapter validates the chapter's routes and choice point and fills in
// successors and choice targets for its records.
func (g *Graph) linkChapter(ch int, starts map[int]int) error {
	lo := starts[ch]
	hi := lo
	for hi < len(g.records) && g.records[hi].ID.Chapter == ch {
		hi++
	}
	nextChapter := -1
	if s, ok := starts[ch+1]; ok {
		nextChapter = s
	}

	choicePos, chapterEnd := -1, -1
	segments := map[string][]int{}
	endings := map[string]int{}
	var routeOrder []string
	for i := lo; i < hi; i++ {
		id := g.records[i].ID
		switch {
		case id.Kind == scenario.KindChoice:
			choicePos = i
		case id.Kind == scenario.KindRoute:
			if _, ok := segments[id.Route]; !ok {
				if _, ok := endings[id.Route]; !ok {
					routeOrder = append(routeOrder, id.Route)
				}
			}
			segments[id.Route] = append(segments[id.Route], i)
		case id.Kind == scenario.KindEnding && id.Route == "":
			chapterEnd = i
		case id.Kind == scenario.KindEnding:
			if _, ok := segments[id.Route]; !ok {
				routeOrder = append(routeOrder, id.Route)
			}
			endings[id.Route] = i
		}
	}

	targets := map[string]bool{}
	if choicePos >= 0 {
		rec := g.records[choicePos]
		opts, err := parseChoices(rec.Text)
		if err != nil {
			return &BuildError{Err: ErrMalformedChoiceBody, SceneID: rec.ID.String(), Line: rec.Line, Detail: err.Error()}
		}
		for _, c := range opts {
			if len(segments[c.Route]) == 0 {
				return &BuildError{Err: ErrMalformedChoiceBody, SceneID: rec.ID.String(), Line: rec.Line,
					Detail: fmt.Sprintf("route %q has no scenes in chapter %d", c.Route, ch)}
			}
			targets[c.Route] = true
		}
		g.choices[choicePos] = opts
	}
	for _, route := range routeOrder {
		if targets[route] {
			continue
		}
		pos := endings[route]
		if s := segments[route]; len(s) > 0 {
			pos = s[0]
		}
		rec := g.records[pos]
		return &BuildError{Err: ErrOrphanRoute, SceneID: rec.ID.String(), Line: rec.Line,
			Detail: fmt.Sprintf("route %q is not offered by a choice in chapter %d", route, ch)}
	}
	sort.Strings(routeOrder)
	g.routes[ch] = routeOrder

	for route, segs := range segments {
		g.entry[routeKey{ch, route}] = segs[0]
		for k, pos := range segs {
			switch {
			case k+1 < len(segs):
				g.next[pos] = segs[k+1]
			default:
				if e, ok := endings[route]; ok {
					g.next[pos] = e
				} else if chapterEnd >= 0 {
					g.next[pos] = chapterEnd
				} else {
					g.next[pos] = nextChapter
				}
			}
		}
	}
	for i := lo; i < hi; i++ {
		id := g.records[i].ID
		switch {
		case id.Kind == scenario.KindRoute:
			// linked above
		case id.Kind == scenario.KindChoice:
			g.next[i] = -1
		case id.Kind == scenario.KindEnding && id.Route != "":
			g.next[i] = -1
		case id.Kind == scenario.KindEnding:
			g.next[i] = nextChapter
		case i+1 < hi:
			g.next[i] = i + 1
		default:
			g.next[i] = nextChapter
		}
	}
	return nil
}

// parseChoices reads one option per line of the form "<token> <label>".
// Lines that do not match are ignored.
func parseChoices(body string) ([]Choice, error) {
	var out []Choice
	seen := map[string]bool{}
	for _, line := range strings.Split(body, "\n") {
		m := choiceLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		route := m[1]
		if seen[route] {
			return nil, fmt.Errorf("route %q offered twice", route)
		}
		seen[route] = true
		label := strings.TrimSpace(m[2])
		if label == "" {
			label = route
		}
		out = append(out, Choice{Label: label, Route: route})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no line of the form \"A label\"")
	}
	return out, nil
}

func fingerprint(recs []scenario.Record) string {
	h := sha256.New()
	for _, r := range recs {
		for _, f := range []string{
			r.ID.String(), r.Speaker, r.Text, r.Background,
			r.Portraits.Center, r.Portraits.Left, r.Portraits.Right,
			r.Effect, r.Sounds, r.BGM,
		} {
			h.Write([]byte(f))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}
