/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package playback

import (
	"luminascript/internal/scenario"
	"luminascript/internal/story"
)

// Frame is what a renderer draws for the current scene.
type Frame struct {
	Status     Status              `json:"status"`
	Scene      scenario.Identifier `json:"scene"`
	Kind       string              `json:"kind"`
	Speaker    string              `json:"speaker,omitempty"`
	Text       string              `json:"text,omitempty"`
	Background string              `json:"background,omitempty"`
	Portraits  scenario.Portraits  `json:"portraits"`
	Choices    []story.Choice      `json:"choices,omitempty"`
}

// Frame renders the current scene. The body of a choice point is replaced
// by its options.
func (m *Machine) Frame() (Frame, error) {
	if m.status == NotStarted {
		return Frame{}, ErrNotStarted
	}
	rec, _ := m.g.Record(m.st.Current)
	f := Frame{
		Status:     m.status,
		Scene:      rec.ID,
		Kind:       rec.ID.Kind.String(),
		Speaker:    rec.Speaker,
		Text:       rec.Text,
		Background: rec.Background,
		Portraits:  rec.Portraits,
	}
	if rec.ID.Kind == scenario.KindChoice {
		f.Text = ""
		f.Choices = m.g.Choices(rec.ID)
	}
	return f, nil
}

// BacklogEntry is one line of the conversation log.
type BacklogEntry struct {
	Scene   scenario.Identifier `json:"scene"`
	Speaker string              `json:"speaker,omitempty"`
	Text    string              `json:"text"`
	Picked  string              `json:"picked,omitempty"`
}

// Backlog lists the visited scenes and the current one, oldest first. For a
// choice point the entry names the label of the option that was picked.
func (m *Machine) Backlog() []BacklogEntry {
	if m.status == NotStarted {
		return nil
	}
	ids := append(m.History(), m.st.Current)
	out := make([]BacklogEntry, 0, len(ids))
	for _, id := range ids {
		rec, ok := m.g.Record(id)
		if !ok {
			continue
		}
		e := BacklogEntry{Scene: id, Speaker: rec.Speaker, Text: rec.Text}
		if id.Kind == scenario.KindChoice {
			e.Text = ""
			if route, ok := m.st.Choices[id]; ok {
				for _, c := range m.g.Choices(id) {
					if c.Route == route {
						e.Picked = c.Label
					}
				}
			}
		}
		out = append(out, e)
	}
	return out
}
