/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"github.com/charmbracelet/lipgloss"

	"luminascript/internal/scenario"
)

type palette struct {
	Theme lipgloss.Color
	Sub   lipgloss.Color
	Text  lipgloss.Color
	Muted lipgloss.Color
	Warn  lipgloss.Color
}

type styles struct {
	title    lipgloss.Style
	subtitle lipgloss.Style
	speaker  lipgloss.Style
	text     lipgloss.Style
	box      lipgloss.Style
	choice   lipgloss.Style
	selected lipgloss.Style
	muted    lipgloss.Style
	status   lipgloss.Style
}

// paletteFor takes the game's colours from its metadata. The "light" theme
// swaps the dialogue text colour for a dark one.
func paletteFor(meta scenario.Meta, theme string) palette {
	def := scenario.DefaultMeta()
	p := palette{
		Theme: lipgloss.Color(orDefault(meta.ThemeColor, def.ThemeColor)),
		Sub:   lipgloss.Color(orDefault(meta.SubColor, def.SubColor)),
		Text:  lipgloss.Color(orDefault(meta.TextColor, def.TextColor)),
		Muted: lipgloss.Color("#a6adc8"),
		Warn:  lipgloss.Color("#f9e2af"),
	}
	if theme == "light" {
		p.Text = lipgloss.Color("#1e1e2e")
		p.Muted = lipgloss.Color("#5c5f77")
		p.Warn = lipgloss.Color("#df8e1d")
	}
	return p
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newStyles(p palette) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(p.Theme),
		subtitle: lipgloss.NewStyle().Italic(true).Foreground(p.Sub),
		speaker:  lipgloss.NewStyle().Bold(true).Foreground(p.Theme),
		text:     lipgloss.NewStyle().Foreground(p.Text),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Sub).
			Padding(0, 1),
		choice:   lipgloss.NewStyle().Foreground(p.Text),
		selected: lipgloss.NewStyle().Bold(true).Foreground(p.Theme),
		muted:    lipgloss.NewStyle().Foreground(p.Muted),
		status:   lipgloss.NewStyle().Foreground(p.Warn),
	}
}
