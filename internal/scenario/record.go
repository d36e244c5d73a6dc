/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scenario

import (
	"fmt"
	"strings"
)

// Column names of a scenario table.
const (
	ColSceneID         = "scene_id"
	ColPersonName      = "person_name"
	ColText            = "text"
	ColBackgroundImage = "background_image"
	ColCenterPortrait  = "center_standing_portrait_image"
	ColLeftPortrait    = "left_standing_portrait_image"
	ColRightPortrait   = "right_standing_portrait_image"
	ColEffect          = "effect"
	ColSounds          = "sounds"
	ColBGM             = "bgm"
)

// Columns lists the known columns in their conventional order.
var Columns = []string{
	ColSceneID, ColPersonName, ColText, ColBackgroundImage,
	ColCenterPortrait, ColLeftPortrait, ColRightPortrait,
	ColEffect, ColSounds, ColBGM,
}

// Row is one unparsed line of scenario input. Line is the 1-based line in
// the source file where the row starts (0 when rows were built in code).
type Row struct {
	SceneID         string
	PersonName      string
	Text            string
	BackgroundImage string
	CenterPortrait  string
	LeftPortrait    string
	RightPortrait   string
	Effect          string
	Sounds          string
	BGM             string
	Line            int
}

// Portraits are the standing character images shown with a scene.
type Portraits struct {
	Center string `json:"center,omitempty"`
	Left   string `json:"left,omitempty"`
	Right  string `json:"right,omitempty"`
}

// Empty reports whether no portrait is set.
func (p Portraits) Empty() bool { return p.Center == "" && p.Left == "" && p.Right == "" }

// Record is one narrative beat. Effect, Sounds and BGM are carried through
// unchanged; playback does not act on them.
type Record struct {
	ID         Identifier
	Speaker    string
	Text       string
	Background string
	Portraits  Portraits
	Effect     string
	Sounds     string
	BGM        string
	Line       int
}

// NewRecord parses the row's scene id and normalizes its fields. Text keeps
// its embedded line breaks; CRLF pairs are folded to LF.
func NewRecord(row Row) (Record, error) {
	id, err := ParseIdentifier(row.SceneID)
	if err != nil {
		if row.Line > 0 {
			return Record{}, fmt.Errorf("row %d: %w", row.Line, err)
		}
		return Record{}, err
	}
	return Record{
		ID:         id,
		Speaker:    strings.TrimSpace(row.PersonName),
		Text:       strings.ReplaceAll(row.Text, "\r\n", "\n"),
		Background: strings.TrimSpace(row.BackgroundImage),
		Portraits: Portraits{
			Center: strings.TrimSpace(row.CenterPortrait),
			Left:   strings.TrimSpace(row.LeftPortrait),
			Right:  strings.TrimSpace(row.RightPortrait),
		},
		Effect: strings.TrimSpace(row.Effect),
		Sounds: strings.TrimSpace(row.Sounds),
		BGM:    strings.TrimSpace(row.BGM),
		Line:   row.Line,
	}, nil
}

// Lines splits the body text into lines.
func (r Record) Lines() []string {
	if r.Text == "" {
		return nil
	}
	return strings.Split(r.Text, "\n")
}

// field returns the value of a named column, used by the CSV writer.
func (row Row) field(col string) string {
	switch col {
	case ColSceneID:
		return row.SceneID
	case ColPersonName:
		return row.PersonName
	case ColText:
		return row.Text
	case ColBackgroundImage:
		return row.BackgroundImage
	case ColCenterPortrait:
		return row.CenterPortrait
	case ColLeftPortrait:
		return row.LeftPortrait
	case ColRightPortrait:
		return row.RightPortrait
	case ColEffect:
		return row.Effect
	case ColSounds:
		return row.Sounds
	case ColBGM:
		return row.BGM
	}
	return ""
}

func (row *Row) set(col, v string) {
	switch col {
	case ColSceneID:
		row.SceneID = v
	case ColPersonName:
		row.PersonName = v
	case ColText:
		row.Text = v
	case ColBackgroundImage:
		row.BackgroundImage = v
	case ColCenterPortrait:
		row.CenterPortrait = v
	case ColLeftPortrait:
		row.LeftPortrait = v
	case ColRightPortrait:
		row.RightPortrait = v
	case ColEffect:
		row.Effect = v
	case ColSounds:
		row.Sounds = v
	case ColBGM:
		row.BGM = v
	}
}
