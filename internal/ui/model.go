/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui is the terminal player: a title screen, the dialogue window
// with choices, a backlog, save/load slots and rewind.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"luminascript/internal/playback"
	"luminascript/internal/scenario"
	"luminascript/internal/storage"
	"luminascript/internal/story"
)

type view int

const (
	viewTitle view = iota
	viewScene
	viewBacklog
	viewSlots
	viewHelp
)

type slotMode int

const (
	slotSave slotMode = iota
	slotLoad
)

// visibleSlots is how many slots the save/load screen offers.
const visibleSlots = 9

var titleMenu = []string{"New game", "Continue", "Load", "Quit"}

type model struct {
	ctx    context.Context
	p      *Player
	meta   scenario.Meta
	theme  string
	st     styles
	view   view
	prev   view
	cursor int
	mode   slotMode
	slots  map[int]storage.SlotInfo
	scroll int
	status string
	width  int
	height int
}

func newModel(ctx context.Context, p *Player, opts Options) model {
	m := model{
		ctx:    ctx,
		p:      p,
		meta:   opts.Meta,
		theme:  opts.Theme,
		st:     newStyles(paletteFor(opts.Meta, opts.Theme)),
		view:   viewTitle,
		height: 24,
	}
	switch {
	case opts.Slot > 0:
		if err := p.Load(ctx, opts.Slot); err != nil {
			m.status = fmt.Sprintf("could not load slot %d: %v", opts.Slot, err)
		} else {
			m.view = viewScene
		}
	case opts.Resume:
		ok, err := p.Resume(ctx)
		if err != nil {
			m.status = "could not resume: " + err.Error()
		} else if ok {
			m.view = viewScene
		}
	}
	return m
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.view {
		case viewTitle:
			return m.updateTitle(msg)
		case viewScene:
			return m.updateScene(msg)
		case viewBacklog:
			return m.updateBacklog(msg)
		case viewSlots:
			return m.updateSlots(msg)
		case viewHelp:
			m.view = m.prev
			return m, nil
		}
	}
	return m, nil
}

func (m model) updateTitle(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.cursor = (m.cursor + len(titleMenu) - 1) % len(titleMenu)
	case "down", "j":
		m.cursor = (m.cursor + 1) % len(titleMenu)
	case "n":
		return m.titleAction(0)
	case "c":
		return m.titleAction(1)
	case "l":
		return m.titleAction(2)
	case "q", "esc":
		return m, tea.Quit
	case "enter", " ":
		return m.titleAction(m.cursor)
	}
	return m, nil
}

func (m model) titleAction(item int) (tea.Model, tea.Cmd) {
	m.status = ""
	switch titleMenu[item] {
	case "New game":
		if err := m.p.NewGame(); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.enterScene()
	case "Continue":
		if m.p.Started() {
			m.enterScene()
			return m, nil
		}
		ok, err := m.p.Resume(m.ctx)
		switch {
		case err != nil:
			m.status = "could not resume: " + err.Error()
		case !ok:
			m.status = "no saved progress"
		default:
			m.enterScene()
		}
	case "Load":
		m.openSlots(slotLoad)
	case "Quit":
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) enterScene() {
	m.view = viewScene
	m.cursor = 0
}

func (m *model) openSlots(mode slotMode) {
	if !m.p.CanSave() {
		m.status = errNoStore.Error()
		return
	}
	list, err := m.p.Slots(m.ctx)
	if err != nil {
		m.status = err.Error()
		return
	}
	m.slots = make(map[int]storage.SlotInfo, len(list))
	for _, s := range list {
		m.slots[s.Slot] = s
	}
	m.prev = m.view
	m.mode = mode
	m.view = viewSlots
	m.cursor = 0
}

func (m model) updateScene(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f, err := m.p.Frame()
	if err != nil {
		m.view = viewTitle
		return m, nil
	}
	key := msg.String()
	m.status = ""
	switch key {
	case "q":
		return m, tea.Quit
	case "esc":
		m.view = viewTitle
		m.cursor = 0
	case "?":
		m.prev, m.view = viewScene, viewHelp
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(f.Choices)-1 {
			m.cursor++
		}
	case "enter", " ":
		switch {
		case f.Status == playback.Finished:
			m.view = viewTitle
			m.cursor = 0
			m.status = "The End"
		case len(f.Choices) > 0:
			m.report(m.p.Choose(m.ctx, f.Choices[m.cursor].Route))
		default:
			m.report(m.p.Advance(m.ctx))
		}
	case "left", "b":
		ok, err := m.p.Back()
		m.rewound(ok, err, "nothing to rewind")
	case "right", "f":
		ok, err := m.p.Forward()
		m.rewound(ok, err, "already at the latest scene")
	case "h":
		m.view = viewBacklog
		m.scroll = 0
	case "s":
		m.openSlots(slotSave)
	case "o":
		m.openSlots(slotLoad)
	case "r":
		m.report(m.p.Restart(m.ctx))
	default:
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(f.Choices) {
			m.report(m.p.Choose(m.ctx, f.Choices[n-1].Route))
		}
	}
	return m, nil
}

// report shows err on the status line and resets the choice cursor after a
// successful transition.
func (m *model) report(err error) {
	if err != nil {
		switch {
		case errors.Is(err, story.ErrChoiceRequired):
			m.status = "pick a choice first"
		default:
			m.status = err.Error()
		}
		return
	}
	m.cursor = 0
}

func (m *model) rewound(ok bool, err error, none string) {
	switch {
	case err != nil:
		m.status = err.Error()
	case !ok:
		m.status = none
	default:
		m.cursor = 0
	}
}

func (m model) updateBacklog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.scroll++
	case "down", "j":
		if m.scroll > 0 {
			m.scroll--
		}
	case "home":
		m.scroll = len(m.p.Backlog())
	case "end":
		m.scroll = 0
	case "esc", "h", "q":
		m.view = viewScene
	}
	return m, nil
}

func (m model) updateSlots(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	slot := m.cursor + 1
	switch key {
	case "up", "k":
		m.cursor = (m.cursor + visibleSlots - 1) % visibleSlots
		return m, nil
	case "down", "j":
		m.cursor = (m.cursor + 1) % visibleSlots
		return m, nil
	case "esc", "q":
		m.view = m.prev
		m.cursor = 0
		return m, nil
	case "enter", " ":
	default:
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > visibleSlots {
			return m, nil
		}
		slot = n
	}
	switch m.mode {
	case slotSave:
		f, _ := m.p.Frame()
		if err := m.p.Save(m.ctx, slot, f.Scene.String()); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.status = fmt.Sprintf("saved to slot %d", slot)
		m.view = m.prev
	case slotLoad:
		if err := m.p.Load(m.ctx, slot); err != nil {
			if errors.Is(err, storage.ErrSlotEmpty) {
				m.status = fmt.Sprintf("slot %d is empty", slot)
			} else {
				m.status = err.Error()
			}
			return m, nil
		}
		m.status = fmt.Sprintf("loaded slot %d", slot)
		m.view = viewScene
	}
	m.cursor = 0
	return m, nil
}

func (m model) View() string {
	var body string
	switch m.view {
	case viewTitle:
		body = m.viewTitle()
	case viewScene:
		body = m.viewScene()
	case viewBacklog:
		body = m.viewBacklog()
	case viewSlots:
		body = m.viewSlots()
	case viewHelp:
		body = m.viewHelp()
	}
	if m.status != "" {
		body += "\n" + m.st.status.Render(m.status)
	}
	return body + "\n"
}

func (m model) viewTitle() string {
	var b strings.Builder
	b.WriteString(m.st.title.Render(m.meta.Title))
	b.WriteString("\n")
	if m.meta.SubTitle != "" {
		b.WriteString(m.st.subtitle.Render(m.meta.SubTitle))
		b.WriteString("\n")
	}
	if m.meta.Creator != "" {
		b.WriteString(m.st.muted.Render("by " + m.meta.Creator))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for i, item := range titleMenu {
		if i == m.cursor {
			b.WriteString(m.st.selected.Render("> " + item))
		} else {
			b.WriteString(m.st.choice.Render("  " + item))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) boxWidth() int {
	if m.width > 10 {
		return m.width - 4
	}
	return 72
}

func (m model) viewScene() string {
	f, err := m.p.Frame()
	if err != nil {
		return m.st.muted.Render("no game in progress")
	}
	var b strings.Builder
	header := fmt.Sprintf("%s  ·  %s", m.meta.Title, f.Scene)
	b.WriteString(m.st.title.Render(header))
	b.WriteString("\n")
	if scenery := sceneryLine(f); scenery != "" {
		b.WriteString(m.st.muted.Render(scenery))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	var inner strings.Builder
	switch {
	case f.Scene.Kind == scenario.KindTitle:
		inner.WriteString(m.st.title.Render(f.Text))
	case len(f.Choices) > 0:
		for i, c := range f.Choices {
			line := fmt.Sprintf("%d. %s", i+1, c.Label)
			if i == m.cursor {
				inner.WriteString(m.st.selected.Render("> " + line))
			} else {
				inner.WriteString(m.st.choice.Render("  " + line))
			}
			if i < len(f.Choices)-1 {
				inner.WriteString("\n")
			}
		}
	default:
		if f.Speaker != "" {
			inner.WriteString(m.st.speaker.Render(f.Speaker))
			inner.WriteString("\n")
		}
		inner.WriteString(m.st.text.Render(f.Text))
	}
	b.WriteString(m.st.box.Width(m.boxWidth()).Render(inner.String()))
	b.WriteString("\n")

	back, fwd := m.p.RewindDepth()
	footer := "enter next · b/f rewind · h backlog · s save · o load · r restart · ? help"
	if f.Status == playback.Finished {
		footer = "The End · enter title · b rewind · q quit"
	}
	b.WriteString(m.st.muted.Render(fmt.Sprintf("%s   [%d/%d]", footer, back, fwd)))
	return b.String()
}

// sceneryLine names the background and portraits a graphical renderer
// would draw.
func sceneryLine(f playback.Frame) string {
	var parts []string
	if f.Background != "" {
		parts = append(parts, "bg: "+f.Background)
	}
	for _, p := range []struct{ pos, name string }{
		{"left", f.Portraits.Left}, {"center", f.Portraits.Center}, {"right", f.Portraits.Right},
	} {
		if p.name != "" {
			parts = append(parts, p.pos+": "+p.name)
		}
	}
	return strings.Join(parts, "  ")
}

func (m model) viewBacklog() string {
	entries := m.p.Backlog()
	page := m.height - 4
	if page < 5 {
		page = 5
	}
	end := len(entries) - m.scroll
	if end < 0 {
		end = 0
	}
	start := end - page
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	b.WriteString(m.st.title.Render("Backlog"))
	b.WriteString("\n\n")
	for _, e := range entries[start:end] {
		switch {
		case e.Picked != "":
			b.WriteString(m.st.selected.Render("» " + e.Picked))
		case e.Scene.Kind == scenario.KindChoice:
			b.WriteString(m.st.muted.Render("» (undecided)"))
		case e.Speaker != "":
			b.WriteString(m.st.speaker.Render(e.Speaker) + "  " + m.st.text.Render(oneLine(e.Text)))
		default:
			b.WriteString(m.st.muted.Render(oneLine(e.Text)))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.st.muted.Render("↑/↓ scroll · esc close"))
	return b.String()
}

func oneLine(s string) string { return strings.ReplaceAll(s, "\n", " ") }

func (m model) viewSlots() string {
	var b strings.Builder
	title := "Save"
	if m.mode == slotLoad {
		title = "Load"
	}
	b.WriteString(m.st.title.Render(title))
	b.WriteString("\n\n")
	for i := 0; i < visibleSlots; i++ {
		slot := i + 1
		desc := "— empty —"
		if s, ok := m.slots[slot]; ok {
			desc = fmt.Sprintf("%-8s %s", s.Scene, s.SavedAt.Local().Format("2006-01-02 15:04"))
			if s.Label != "" && s.Label != s.Scene {
				desc += "  " + s.Label
			}
		}
		line := fmt.Sprintf("%d. %s", slot, desc)
		if i == m.cursor {
			b.WriteString(m.st.selected.Render("> " + line))
		} else {
			b.WriteString(m.st.choice.Render("  " + line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.st.muted.Render("enter or 1-9 select · esc cancel"))
	return b.String()
}

const helpMarkdown = `# Keys

| Key | Action |
|---|---|
| enter / space | next scene, or pick the highlighted choice |
| ↑ ↓ / 1-9 | select a choice |
| b / ← | rewind one scene |
| f / → | undo a rewind |
| h | backlog |
| s / o | save / load |
| r | restart from the beginning |
| esc | title screen |
| q | quit |
`

func (m model) viewHelp() string {
	style := "dark"
	if m.theme == "light" {
		style = "light"
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(width-4))
	if err != nil {
		return helpMarkdown
	}
	out, err := r.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return out
}
