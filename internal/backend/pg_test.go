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
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// openPGForTest connects to the database named by LSC_PG_TEST_DSN and skips
// the test when it is unset or unreachable.
func openPGForTest(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("LSC_PG_TEST_DSN")
	if dsn == "" {
		t.Skip("LSC_PG_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPGStore_SaveLifecycle(t *testing.T) {
	db := openPGForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := NewPGStore(db)
	// unique subject keeps reruns independent
	sub := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM saves WHERE subject = $1`, sub)
		_, _ = db.Exec(`DELETE FROM save_history WHERE subject = $1`, sub)
	})

	payload, err := testSnapshot(t, 1).Encode()
	if err != nil {
		t.Fatal(err)
	}
	sv := Save{SaveInfo: SaveInfo{Game: "g", Slot: 1, Scene: "1-2"}, Payload: payload}
	info, err := s.PutSave(ctx, sub, sv, 0)
	if err != nil || info.Version != 1 {
		t.Fatalf("create: %+v, %v", info, err)
	}
	if _, err := s.PutSave(ctx, sub, sv, 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("second create should conflict, got %v", err)
	}
	if info, err = s.PutSave(ctx, sub, sv, 1); err != nil || info.Version != 2 {
		t.Fatalf("update at v1: %+v, %v", info, err)
	}
	if info, err = s.PutSave(ctx, sub, sv, AnyVersion); err != nil || info.Version != 3 {
		t.Fatalf("unconditional update: %+v, %v", info, err)
	}
	got, err := s.GetSave(ctx, sub, "g", 1)
	if err != nil || got.Version != 3 || len(got.Payload) == 0 {
		t.Fatalf("GetSave: %+v, %v", got.SaveInfo, err)
	}
	list, err := s.ListSaves(ctx, sub, "g")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSaves: %+v, %v", list, err)
	}
	if err := s.DeleteSave(ctx, sub, "g", 1); err != nil {
		t.Fatalf("DeleteSave: %v", err)
	}
	if _, err := s.GetSave(ctx, sub, "g", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	h, err := s.History(ctx, sub, "g", 1)
	if err != nil || len(h) != 3 || h[0].Version != 3 {
		t.Fatalf("History: %+v, %v", h, err)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := openPGForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("second applyMigrations: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n < 2 {
		t.Fatalf("expected recorded migrations, got %d", n)
	}
}
