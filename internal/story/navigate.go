/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package story

import (
	"fmt"

	"luminascript/internal/scenario"
)

// Next resolves the scene that follows current. An empty choice means no
// choice was made. The boolean is false when current is terminal.
//
// A choice point requires a choice naming one of its routes and leads to
// that route's first segment; every other scene rejects a choice.
func (g *Graph) Next(current scenario.Identifier, choice string) (scenario.Identifier, bool, error) {
	i, ok := g.index[current]
	if !ok {
		return scenario.Identifier{}, false, fmt.Errorf("%w: %s", ErrUnknownScene, current)
	}
	if current.Kind == scenario.KindChoice {
		if choice == "" {
			return scenario.Identifier{}, false, fmt.Errorf("%w at %s", ErrChoiceRequired, current)
		}
		for _, c := range g.choices[i] {
			if c.Route == choice {
				return g.records[g.entry[routeKey{current.Chapter, choice}]].ID, true, nil
			}
		}
		return scenario.Identifier{}, false, fmt.Errorf("%w: %q at %s", ErrInvalidChoice, choice, current)
	}
	if choice != "" {
		return scenario.Identifier{}, false, fmt.Errorf("%w: %q at %s", ErrUnexpectedChoice, choice, current)
	}
	if n := g.next[i]; n >= 0 {
		return g.records[n].ID, true, nil
	}
	return scenario.Identifier{}, false, nil
}

// First returns the first scene in document order.
func (g *Graph) First() scenario.Identifier { return g.records[0].ID }

// Len returns the number of scenes.
func (g *Graph) Len() int { return len(g.records) }

// Records returns the scenes in document order.
func (g *Graph) Records() []scenario.Record {
	out := make([]scenario.Record, len(g.records))
	copy(out, g.records)
	return out
}

// Record returns the scene with the given id.
func (g *Graph) Record(id scenario.Identifier) (scenario.Record, bool) {
	i, ok := g.index[id]
	if !ok {
		return scenario.Record{}, false
	}
	return g.records[i], true
}

// Contains reports whether id names a scene of the graph.
func (g *Graph) Contains(id scenario.Identifier) bool {
	_, ok := g.index[id]
	return ok
}

// Choices returns the options of a choice point, nil for other scenes.
func (g *Graph) Choices(id scenario.Identifier) []Choice {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	cs := g.choices[i]
	if cs == nil {
		return nil
	}
	out := make([]Choice, len(cs))
	copy(out, cs)
	return out
}

// Offers reports whether the choice point id offers route.
func (g *Graph) Offers(id scenario.Identifier, route string) bool {
	i, ok := g.index[id]
	if !ok {
		return false
	}
	for _, c := range g.choices[i] {
		if c.Route == route {
			return true
		}
	}
	return false
}

// Successor returns the linear successor of id, if any.
func (g *Graph) Successor(id scenario.Identifier) (scenario.Identifier, bool) {
	i, ok := g.index[id]
	if !ok || g.next[i] < 0 {
		return scenario.Identifier{}, false
	}
	return g.records[g.next[i]].ID, true
}

// IsTerminal reports whether id is a scene with neither a successor nor
// choice targets.
func (g *Graph) IsTerminal(id scenario.Identifier) bool {
	i, ok := g.index[id]
	return ok && g.next[i] < 0 && g.choices[i] == nil
}

// Chapters returns the chapter numbers in ascending order.
func (g *Graph) Chapters() []int { return append([]int(nil), g.chapters...) }

// Routes returns the route letters of a chapter in ascending order.
func (g *Graph) Routes(chapter int) []string { return append([]string(nil), g.routes[chapter]...) }

// RouteEntry returns the first segment of a route.
func (g *Graph) RouteEntry(chapter int, route string) (scenario.Identifier, bool) {
	i, ok := g.entry[routeKey{chapter, route}]
	if !ok {
		return scenario.Identifier{}, false
	}
	return g.records[i].ID, true
}

// Fingerprint identifies the compiled content. Two graphs built from the same
// scenes share a fingerprint.
func (g *Graph) Fingerprint() string { return g.digest }

// Reachable returns every scene reachable from id by advancing or choosing,
// including id itself.
func (g *Graph) Reachable(id scenario.Identifier) map[scenario.Identifier]bool {
	out := map[scenario.Identifier]bool{}
	start, ok := g.index[id]
	if !ok {
		return out
	}
	stack := []int{start}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		rid := g.records[i].ID
		if out[rid] {
			continue
		}
		out[rid] = true
		if n := g.next[i]; n >= 0 {
			stack = append(stack, n)
		}
		for _, c := range g.choices[i] {
			stack = append(stack, g.entry[routeKey{rid.Chapter, c.Route}])
		}
	}
	return out
}

// Unreachable lists scenes that cannot be reached from the first scene, in
// document order.
func (g *Graph) Unreachable() []scenario.Identifier {
	seen := g.Reachable(g.First())
	var out []scenario.Identifier
	for _, r := range g.records {
		if !seen[r.ID] {
			out = append(out, r.ID)
		}
	}
	return out
}

// Stats summarizes a graph for reporting.
type Stats struct {
	Scenes   int
	Chapters int
	Choices  int
	Routes   int
	Endings  int
}

// Stats counts scenes by kind.
func (g *Graph) Stats() Stats {
	s := Stats{Scenes: len(g.records), Chapters: len(g.chapters), Choices: len(g.choices)}
	for _, rs := range g.routes {
		s.Routes += len(rs)
	}
	for _, r := range g.records {
		if r.ID.Kind == scenario.KindEnding {
			s.Endings++
		}
	}
	return s
}
