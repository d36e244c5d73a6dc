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
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"luminascript/internal/scenario"
)

// Options controls how the player starts.
type Options struct {
	Meta  scenario.Meta
	Theme string // "light" or anything else for dark
	// Resume continues from the latest autosave when there is one.
	Resume bool
	// Slot loads a save slot on start; it wins over Resume.
	Slot int
}

// Run starts the terminal player and blocks until it exits.
func Run(ctx context.Context, p *Player, opts Options) error {
	m := newModel(ctx, p, opts)
	program := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
