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
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	applog "luminascript/internal/log"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenDB connects to Postgres and applies pending migrations.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyMigrations(pctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// applyMigrations applies embedded SQL migrations in filename order and
// records each in schema_migrations.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	l := applog.WithOperation(applog.WithComponent("backend"), "migrate")
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		l.Info("applying migration", slog.String("file", fname))
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1, $2)`, version, fname); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", fname, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	prefix, _, ok := strings.Cut(path.Base(name), "_")
	if !ok {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

// PGStore is the Postgres SaveStore.
type PGStore struct{ db *sql.DB }

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// dialect=PostgreSQL
const listSavesPG = `SELECT game, slot, scene, fingerprint, label, version, updated_at
FROM saves WHERE subject = $1 AND game = $2 ORDER BY slot`

func (s *PGStore) ListSaves(ctx context.Context, subject, game string) ([]SaveInfo, error) {
	rows, err := s.db.QueryContext(ctx, listSavesPG, subject, game)
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []SaveInfo{}
	for rows.Next() {
		var si SaveInfo
		if err := rows.Scan(&si.Game, &si.Slot, &si.Scene, &si.Fingerprint, &si.Label, &si.Version, &si.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// dialect=PostgreSQL
const getSavePG = `SELECT game, slot, scene, fingerprint, label, version, updated_at, payload
FROM saves WHERE subject = $1 AND game = $2 AND slot = $3`

func (s *PGStore) GetSave(ctx context.Context, subject, game string, slot int) (Save, error) {
	var sv Save
	var payload []byte
	err := s.db.QueryRowContext(ctx, getSavePG, subject, game, slot).Scan(
		&sv.Game, &sv.Slot, &sv.Scene, &sv.Fingerprint, &sv.Label, &sv.Version, &sv.UpdatedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Save{}, ErrNotFound
	}
	if err != nil {
		return Save{}, fmt.Errorf("get save: %w", err)
	}
	sv.Payload = payload
	return sv, nil
}

// dialect=PostgreSQL
const upsertSavePG = `INSERT INTO saves (subject, game, slot, scene, fingerprint, label, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (subject, game, slot) DO UPDATE SET
	scene = EXCLUDED.scene, fingerprint = EXCLUDED.fingerprint, label = EXCLUDED.label,
	payload = EXCLUDED.payload, version = saves.version + 1, updated_at = now()
RETURNING version, updated_at`

// dialect=PostgreSQL
const insertSavePG = `INSERT INTO saves (subject, game, slot, scene, fingerprint, label, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (subject, game, slot) DO NOTHING
RETURNING version, updated_at`

// dialect=PostgreSQL
const updateSavePG = `UPDATE saves SET scene = $4, fingerprint = $5, label = $6, payload = $7,
	version = version + 1, updated_at = now()
WHERE subject = $1 AND game = $2 AND slot = $3 AND version = $8
RETURNING version, updated_at`

func (s *PGStore) PutSave(ctx context.Context, subject string, sv Save, ifVersion int64) (SaveInfo, error) {
	args := []any{subject, sv.Game, sv.Slot, sv.Scene, sv.Fingerprint, sv.Label, []byte(sv.Payload)}
	q := upsertSavePG
	switch {
	case ifVersion == 0:
		q = insertSavePG
	case ifVersion > 0:
		q = updateSavePG
		args = append(args, ifVersion)
	}
	info := sv.SaveInfo
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&info.Version, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SaveInfo{}, ErrConflict
	}
	if err != nil {
		return SaveInfo{}, fmt.Errorf("put save: %w", err)
	}
	return info, nil
}

func (s *PGStore) DeleteSave(ctx context.Context, subject, game string, slot int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saves WHERE subject = $1 AND game = $2 AND slot = $3`, subject, game, slot)
	if err != nil {
		return fmt.Errorf("delete save: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// dialect=PostgreSQL
const historyPG = `SELECT version, scene, replaced_at FROM save_history
WHERE subject = $1 AND game = $2 AND slot = $3 ORDER BY version DESC, id DESC LIMIT 50`

func (s *PGStore) History(ctx context.Context, subject, game string, slot int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, historyPG, subject, game, slot)
	if err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []HistoryEntry{}
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Version, &h.Scene, &h.ReplacedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
