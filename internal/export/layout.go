/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders a compiled scenario to files: a PDF script book and
// a route map as PNG or SVG.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"luminascript/internal/scenario"
	"luminascript/internal/story"
)

// Route map geometry in pixels.
const (
	boxW       = 168
	boxH       = 36
	gapX       = 28
	gapY       = 22
	margin     = 24
	chapterGap = 36
	headerH    = 22
)

type mapNode struct {
	ID      scenario.Identifier
	Label   string
	Speaker string
	X, Y    int // top-left
}

func (n mapNode) top() (int, int)    { return n.X + boxW/2, n.Y }
func (n mapNode) bottom() (int, int) { return n.X + boxW/2, n.Y + boxH }

type mapEdge struct {
	From, To int
	Route    string
}

type mapHeader struct {
	Text string
	Y    int
}

// routeMap is a laid-out scenario graph: one band per chapter with the
// main line in the first column and one column per route.
type routeMap struct {
	Nodes   []mapNode
	Edges   []mapEdge
	Headers []mapHeader
	Width   int
	Height  int
}

func layoutRouteMap(g *story.Graph) routeMap {
	var rm routeMap
	index := map[scenario.Identifier]int{}
	byChapter := map[int][]scenario.Record{}
	for _, r := range g.Records() {
		byChapter[r.ID.Chapter] = append(byChapter[r.ID.Chapter], r)
	}
	maxCols := 1
	y := margin
	for _, ch := range g.Chapters() {
		rm.Headers = append(rm.Headers, mapHeader{Text: "Chapter " + strconv.Itoa(ch), Y: y + 14})
		y += headerH
		routes := g.Routes(ch)
		col := map[string]int{}
		for i, r := range routes {
			col[r] = i + 1
		}
		if len(routes)+1 > maxCols {
			maxCols = len(routes) + 1
		}
		rows := map[int]int{} // next free row per column
		branchRow := 0
		place := func(rec scenario.Record, c, row int) {
			index[rec.ID] = len(rm.Nodes)
			rm.Nodes = append(rm.Nodes, mapNode{
				ID:      rec.ID,
				Label:   rec.ID.String(),
				Speaker: rec.Speaker,
				X:       margin + c*(boxW+gapX),
				Y:       y + row*(boxH+gapY),
			})
			rows[c] = row + 1
		}
		var chapterEnd *scenario.Record
		for _, rec := range byChapter[ch] {
			switch {
			case rec.ID.Route != "":
				c := col[rec.ID.Route]
				row := rows[c]
				if row < branchRow {
					row = branchRow
				}
				place(rec, c, row)
			case rec.ID.Kind == scenario.KindEnding:
				r := rec
				chapterEnd = &r
			default:
				place(rec, 0, rows[0])
				if rec.ID.Kind == scenario.KindChoice {
					branchRow = rows[0]
				}
			}
		}
		last := 0
		for _, n := range rows {
			if n > last {
				last = n
			}
		}
		if chapterEnd != nil {
			place(*chapterEnd, 0, last)
			last++
		}
		y += last*(boxH+gapY) - gapY + chapterGap
	}
	rm.Width = 2*margin + maxCols*boxW + (maxCols-1)*gapX
	rm.Height = y - chapterGap + margin
	if rm.Height < 2*margin {
		rm.Height = 2 * margin
	}

	for i, n := range rm.Nodes {
		if n.ID.Kind == scenario.KindChoice {
			for _, c := range g.Choices(n.ID) {
				if entry, ok := g.RouteEntry(n.ID.Chapter, c.Route); ok {
					rm.Edges = append(rm.Edges, mapEdge{From: i, To: index[entry], Route: c.Route})
				}
			}
			continue
		}
		if next, ok := g.Successor(n.ID); ok {
			rm.Edges = append(rm.Edges, mapEdge{From: i, To: index[next]})
		}
	}
	return rm
}

// boxText returns the one or two lines drawn inside a node, cut to fit
// chars characters each.
func boxText(n mapNode, chars int) []string {
	lines := []string{n.Label}
	if n.Speaker != "" {
		lines = append(lines, n.Speaker)
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, clip(l, chars))
	}
	return out
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// rgb is an opaque colour parsed from "#rgb" or "#rrggbb".
type rgb struct{ R, G, B uint8 }

func parseHex(s string, def rgb) rgb {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return def
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return def
	}
	return rgb{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

func (c rgb) hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// lighten mixes c with white; f is the share of white.
func (c rgb) lighten(f float64) rgb {
	mix := func(v uint8) uint8 { return uint8(float64(v) + (255-float64(v))*f) }
	return rgb{mix(c.R), mix(c.G), mix(c.B)}
}

// nodeFill picks a box colour by scene kind.
func nodeFill(k scenario.Kind, theme, sub rgb) rgb {
	switch k {
	case scenario.KindTitle:
		return theme.lighten(0.55)
	case scenario.KindChoice:
		return sub.lighten(0.55)
	case scenario.KindEnding:
		return rgb{0xdd, 0xdd, 0xdd}
	case scenario.KindRoute:
		return theme.lighten(0.85)
	default:
		return rgb{0xff, 0xff, 0xff}
	}
}
