/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package playback

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"luminascript/internal/scenario"
)

// SnapshotVersion is the snapshot format written by this package.
const SnapshotVersion = 1

// Snapshot is the persisted form of a player's progress.
//
// Finished is nil in snapshots written before it existed; such snapshots
// restore as finished when their current scene is terminal.
type Snapshot struct {
	Version     int                            `json:"version"`
	Current     scenario.Identifier            `json:"current"`
	History     []scenario.Identifier          `json:"history"`
	Choices     map[scenario.Identifier]string `json:"choices"`
	Timestamp   time.Time                      `json:"timestamp"`
	Finished    *bool                          `json:"finished,omitempty"`
	Fingerprint string                         `json:"fingerprint,omitempty"`
}

//go:embed snapshot.schema.json
var schemaJSON []byte

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Encode renders s as JSON.
func (s Snapshot) Encode() ([]byte, error) {
	if s.History == nil {
		s.History = []scenario.Identifier{}
	}
	if s.Choices == nil {
		s.Choices = map[scenario.Identifier]string{}
	}
	return json.Marshal(s)
}

// DecodeSnapshot validates b against the snapshot schema and decodes it.
// Any failure is reported as ErrCorruptSnapshot.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	schema, err := loadSchema()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return Snapshot{}, corrupt("%v", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Snapshot{}, corrupt("%s", strings.Join(msgs, "; "))
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, corrupt("%v", err)
	}
	return s, nil
}
