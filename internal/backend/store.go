/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("save not found")
	ErrConflict     = errors.New("save version conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidGame  = errors.New("game key must be 1-64 chars of a-z, 0-9, '-' or '_'")
)

// AnyVersion disables the version precondition on PutSave.
const AnyVersion int64 = -1

// SaveInfo describes a cloud save without its payload.
type SaveInfo struct {
	Game        string    `json:"game"`
	Slot        int       `json:"slot"`
	Scene       string    `json:"scene"`
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Save is a cloud save with its snapshot JSON.
type Save struct {
	SaveInfo
	Payload json.RawMessage `json:"payload"`
}

// HistoryEntry is a replaced version of a slot.
type HistoryEntry struct {
	Version    int64     `json:"version"`
	Scene      string    `json:"scene"`
	ReplacedAt time.Time `json:"replaced_at"`
}

// SaveStore persists cloud saves per token subject.
//
// PutSave with ifVersion AnyVersion always writes; 0 requires the slot to be
// empty; any other value must equal the stored version. A failed
// precondition is ErrConflict.
type SaveStore interface {
	Ping(ctx context.Context) error
	ListSaves(ctx context.Context, subject, game string) ([]SaveInfo, error)
	GetSave(ctx context.Context, subject, game string, slot int) (Save, error)
	PutSave(ctx context.Context, subject string, s Save, ifVersion int64) (SaveInfo, error)
	DeleteSave(ctx context.Context, subject, game string, slot int) error
	History(ctx context.Context, subject, game string, slot int) ([]HistoryEntry, error)
}

var gameKeyRe = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidGameKey reports whether key can name a game on the server.
func ValidGameKey(key string) bool { return gameKeyRe.MatchString(key) }

// GameKey derives a server game key from a game title: a readable slug of
// the ASCII letters and digits, then the first 8 hex digits of the title's
// SHA-256. Titles without ASCII letters or digits get "game-" plus the hash.
func GameKey(title string) string {
	title = strings.TrimSpace(title)
	sum := sha256.Sum256([]byte(title))
	suffix := hex.EncodeToString(sum[:4])

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if limit := 64 - len(suffix) - 1; len(slug) > limit {
		slug = strings.TrimRight(slug[:limit], "-")
	}
	if slug == "" {
		slug = "game"
	}
	return slug + "-" + suffix
}
