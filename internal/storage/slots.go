/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	applog "luminascript/internal/log"
	"luminascript/internal/playback"
)

// MaxSlots bounds manual save slots to 1..MaxSlots.
const MaxSlots = 99

// DefaultAutosaveKeep is how many autosaves PruneAutosaves retains when
// called with keep <= 0.
const DefaultAutosaveKeep = 10

var (
	ErrSlotEmpty   = errors.New("save slot is empty")
	ErrInvalidSlot = fmt.Errorf("save slot must be between 1 and %d", MaxSlots)
)

// language=SQL
// dialect=SQLite
const upsertSlotSQL = `INSERT INTO slots(slot, scene, saved_at, payload, label, fingerprint) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET scene=excluded.scene, saved_at=excluded.saved_at, payload=excluded.payload,
	label=excluded.label, fingerprint=excluded.fingerprint`

// language=SQL
// dialect=SQLite
const selectSlotSQL = `SELECT payload FROM slots WHERE slot = ?`

// language=SQL
// dialect=SQLite
const listSlotsSQL = `SELECT slot, scene, saved_at, label, fingerprint FROM slots ORDER BY slot`

// language=SQL
// dialect=SQLite
const insertAutosaveSQL = `INSERT INTO autosaves(scene, ts, payload) VALUES (?, ?, ?)`

// language=SQL
// dialect=SQLite
const listAutosavesSQL = `SELECT id, scene, ts FROM autosaves ORDER BY ts DESC, id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const latestAutosaveSQL = `SELECT payload FROM autosaves ORDER BY ts DESC, id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const pruneAutosavesSQL = `DELETE FROM autosaves WHERE id NOT IN (
	SELECT id FROM autosaves ORDER BY ts DESC, id DESC LIMIT ?
)`

// SlotInfo describes an occupied save slot without decoding its payload.
type SlotInfo struct {
	Slot        int       `json:"slot"`
	Scene       string    `json:"scene"`
	SavedAt     time.Time `json:"saved_at"`
	Label       string    `json:"label,omitempty"`
	Fingerprint string    `json:"fingerprint"`
}

// AutosaveInfo describes one autosave entry.
type AutosaveInfo struct {
	ID    int64
	Scene string
	TS    time.Time
}

func checkSlot(slot int) error {
	if slot < 1 || slot > MaxSlots {
		return ErrInvalidSlot
	}
	return nil
}

// SaveSlot writes snap into slot, replacing what was there.
func (s *Store) SaveSlot(ctx context.Context, slot int, label string, snap playback.Snapshot) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	blob, err := snap.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertSlotSQL, slot, snap.Current.String(),
		snap.Timestamp.UTC().Format(time.RFC3339Nano), blob, label, snap.Fingerprint)
	if err != nil {
		return fmt.Errorf("save slot %d: %w", slot, err)
	}
	applog.WithComponent("storage").DebugContext(ctx, "slot saved",
		slog.Int("slot", slot), slog.String("scene", snap.Current.String()))
	return nil
}

// LoadSlot decodes the snapshot stored in slot. A payload that fails
// validation yields playback.ErrCorruptSnapshot.
func (s *Store) LoadSlot(ctx context.Context, slot int) (playback.Snapshot, error) {
	if err := checkSlot(slot); err != nil {
		return playback.Snapshot{}, err
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, selectSlotSQL, slot).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return playback.Snapshot{}, ErrSlotEmpty
	}
	if err != nil {
		return playback.Snapshot{}, fmt.Errorf("load slot %d: %w", slot, err)
	}
	return playback.DecodeSnapshot(blob)
}

// ListSlots returns the occupied slots in slot order.
func (s *Store) ListSlots(ctx context.Context) ([]SlotInfo, error) {
	rows, err := s.db.QueryContext(ctx, listSlotsSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []SlotInfo
	for rows.Next() {
		var si SlotInfo
		var ts string
		if err := rows.Scan(&si.Slot, &si.Scene, &ts, &si.Label, &si.Fingerprint); err != nil {
			return nil, err
		}
		si.SavedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, si)
	}
	return out, rows.Err()
}

// DeleteSlot empties slot. Deleting an empty slot reports ErrSlotEmpty.
func (s *Store) DeleteSlot(ctx context.Context, slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE slot = ?`, slot)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSlotEmpty
	}
	return nil
}

// Autosave appends snap to the autosave ring and prunes it to keep entries.
func (s *Store) Autosave(ctx context.Context, snap playback.Snapshot, keep int) error {
	blob, err := snap.Encode()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertAutosaveSQL, snap.Current.String(),
		snap.Timestamp.UTC().Format(time.RFC3339Nano), blob); err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	return s.PruneAutosaves(ctx, keep)
}

// LatestAutosave returns the most recent autosave, or ErrSlotEmpty if there
// is none.
func (s *Store) LatestAutosave(ctx context.Context) (playback.Snapshot, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, latestAutosaveSQL).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return playback.Snapshot{}, ErrSlotEmpty
	}
	if err != nil {
		return playback.Snapshot{}, err
	}
	return playback.DecodeSnapshot(blob)
}

// ListAutosaves returns up to limit autosaves, newest first.
func (s *Store) ListAutosaves(ctx context.Context, limit int) ([]AutosaveInfo, error) {
	if limit <= 0 {
		limit = DefaultAutosaveKeep
	}
	rows, err := s.db.QueryContext(ctx, listAutosavesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []AutosaveInfo
	for rows.Next() {
		var a AutosaveInfo
		var ts string
		if err := rows.Scan(&a.ID, &a.Scene, &ts); err != nil {
			return nil, err
		}
		a.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneAutosaves keeps only the newest keep autosaves.
func (s *Store) PruneAutosaves(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = DefaultAutosaveKeep
	}
	_, err := s.db.ExecContext(ctx, pruneAutosavesSQL, keep)
	return err
}

// ExportSnapshotFile writes snap as JSON to path atomically.
func ExportSnapshotFile(path string, snap playback.Snapshot) error {
	blob, err := snap.Encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return writeAtomic(path, blob)
}

// ImportSnapshotFile reads and validates a snapshot written by
// ExportSnapshotFile.
func ImportSnapshotFile(path string) (playback.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return playback.Snapshot{}, err
	}
	return playback.DecodeSnapshot(b)
}
