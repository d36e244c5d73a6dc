/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
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
	"strings"
	"time"

	applog "luminascript/internal/log"
	"luminascript/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// DataDirName holds per-project player data under the project root.
	DataDirName = ".lsc"
	DBFileName  = "game.sqlite"

	// schemaVersion tracks the local SQLite schema. Bump it together with a
	// new case in runMigrations.
	schemaVersion = 2
)

// DBPath returns the full path to the project's save database.
func DBPath(projectRoot string) string {
	return filepath.Join(projectRoot, DataDirName, DBFileName)
}

// Store is the per-project SQLite database holding save slots, autosaves
// and the scene search index.
type Store struct {
	db   *sql.DB
	root string
}

// OpenStore opens the project's database, creating and migrating it as
// needed. A database that fails to open or fails its integrity check is
// copied to .lsc/backups and recreated empty.
func OpenStore(ctx context.Context, projectRoot string) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open_store")
	db, err := initOrOpenDB(ctx, projectRoot)
	if err == nil {
		if healthy(ctx, db) {
			return &Store{db: db, root: projectRoot}, nil
		}
		_ = db.Close()
		err = errors.New("integrity check failed")
	}
	if strings.TrimSpace(projectRoot) == "" {
		return nil, err
	}
	path := DBPath(projectRoot)
	l.WarnContext(ctx, "save database unusable; recreating", slog.String("path", path), slog.Any("err", err))
	backupDBFile(path)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	db, rerr := initOrOpenDB(ctx, projectRoot)
	if rerr != nil {
		return nil, fmt.Errorf("recreate save database: %w (open err: %v)", rerr, err)
	}
	return &Store{db: db, root: projectRoot}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func healthy(ctx context.Context, db *sql.DB) bool {
	var chk string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil || !strings.EqualFold(strings.TrimSpace(chk), "ok") {
		return false
	}
	_, err := db.ExecContext(ctx, `SELECT 1 FROM slots LIMIT 1;`)
	return err == nil
}

// initOrOpenDB ensures that .lsc/game.sqlite exists, opens it, enables WAL
// mode and brings the schema up to date.
func initOrOpenDB(ctx context.Context, projectRoot string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "db_init").With(
		slog.String("root", projectRoot),
	)
	if strings.TrimSpace(projectRoot) == "" {
		return nil, errors.New("project root is required")
	}
	if err := os.MkdirAll(filepath.Join(projectRoot, DataDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create %s dir: %w", DataDirName, err)
	}

	path := DBPath(projectRoot)
	// Use a URI with shared cache and set busy timeout. Convert to forward slashes for SQLite URI.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.Debug("save database ready", slog.String("path", path))
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// keep the stored schema for runMigrations
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// ensureSchema creates the tables of the current schema if they do not
// exist. Columns added by migrations are created by runMigrations on
// databases that predate them.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS slots (
			slot        INTEGER PRIMARY KEY,
			scene       TEXT    NOT NULL,
			saved_at    TEXT    NOT NULL,
			payload     BLOB    NOT NULL,
			label       TEXT    NOT NULL DEFAULT '',
			fingerprint TEXT    NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS autosaves (
			id          INTEGER PRIMARY KEY,
			scene       TEXT    NOT NULL,
			ts          TEXT    NOT NULL,
			payload     BLOB    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_autosaves_ts ON autosaves(ts);`,

		// Scene search index, derived from scenario.csv and rebuilt on change.
		`CREATE TABLE IF NOT EXISTS scenes (
			doc_id   INTEGER PRIMARY KEY,
			scene_id TEXT    NOT NULL UNIQUE,
			chapter  INTEGER NOT NULL,
			kind     TEXT    NOT NULL,
			route    TEXT    NOT NULL DEFAULT '',
			speaker  TEXT    NOT NULL DEFAULT '',
			text     TEXT    NOT NULL DEFAULT '',
			assets   TEXT    NOT NULL DEFAULT ''
		);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_scenes USING fts5(
			speaker,
			text,
			content='scenes',
			content_rowid='doc_id',
			tokenize = 'unicode61'
		);`,
		`CREATE TRIGGER IF NOT EXISTS scenes_ai AFTER INSERT ON scenes BEGIN
			INSERT INTO fts_scenes(rowid, speaker, text) VALUES (new.doc_id, new.speaker, new.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS scenes_ad AFTER DELETE ON scenes BEGIN
			INSERT INTO fts_scenes(fts_scenes, rowid, speaker, text) VALUES ('delete', old.doc_id, old.speaker, old.text);
		END;`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			// slot labels and the fingerprint of the scenario a slot was saved against
			stmts = []string{
				`ALTER TABLE slots ADD COLUMN label TEXT NOT NULL DEFAULT '';`,
				`ALTER TABLE slots ADD COLUMN fingerprint TEXT NOT NULL DEFAULT '';`,
			}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// backupDBFile copies the database file into .lsc/backups with a timestamp.
func backupDBFile(dbPath string) {
	bdir := filepath.Join(filepath.Dir(dbPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(dbPath), stamp))
	if data, err := os.ReadFile(dbPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func setMeta(ctx context.Context, ex interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, key, value string) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}
