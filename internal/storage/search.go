/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */
package storage

import (
	"context"
	"fmt"
	"strings"

	"luminascript/internal/story"
)

const sceneIndexFingerprintKey = "scene_index_fingerprint"

// SearchQuery describes a scene search.
// Text uses SQLite FTS5 syntax (simple terms, phrases in quotes, AND/OR/NOT)
// and matches speaker and dialogue. Filters are optional; Chapter 0 means
// any chapter and Route "" any route. Limit/Offset implement pagination.
type SearchQuery struct {
	Text    string
	Speaker string
	Chapter int
	Route   string
	Kinds   []string
	Limit   int
	Offset  int
}

// SearchResult is a single matching scene. Snippet highlights the match
// with [ ] markers when Text was given.
type SearchResult struct {
	SceneID string
	Kind    string
	Speaker string
	Snippet string
}

// IndexScenes replaces the scene index with the records of g. The index is
// left untouched when it was already built from a graph with the same
// fingerprint; reindexed reports whether a rebuild happened.
func (s *Store) IndexScenes(ctx context.Context, g *story.Graph) (reindexed bool, err error) {
	cur, err := s.getMeta(ctx, sceneIndexFingerprintKey)
	if err != nil {
		return false, err
	}
	if cur != "" && cur == g.Fingerprint() {
		return false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM scenes`); err != nil {
		return false, fmt.Errorf("clear scenes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scenes(scene_id, chapter, kind, route, speaker, text, assets) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, err
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range g.Records() {
		assets := nonEmpty(r.Background, r.Portraits.Center, r.Portraits.Left, r.Portraits.Right, r.BGM, r.Sounds)
		if _, err = stmt.ExecContext(ctx, r.ID.String(), r.ID.Chapter, r.ID.Kind.String(), r.ID.Route,
			r.Speaker, r.Text, strings.Join(assets, "\n")); err != nil {
			return false, fmt.Errorf("index %s: %w", r.ID, err)
		}
	}
	if err = setMeta(ctx, tx, sceneIndexFingerprintKey, g.Fingerprint()); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Search runs q against the scene index built by IndexScenes. Results are
// in insertion order, which is scene order.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	if strings.TrimSpace(q.Text) != "" {
		sb.WriteString("SELECT s.scene_id, s.kind, s.speaker, snippet(fts_scenes, 1, '[', ']', '…', 10)\n")
		sb.WriteString("FROM fts_scenes JOIN scenes s ON fts_scenes.rowid = s.doc_id\n")
		sb.WriteString("WHERE fts_scenes MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT s.scene_id, s.kind, s.speaker, ''\n")
		sb.WriteString("FROM scenes s\nWHERE 1=1\n")
	}
	if len(q.Kinds) > 0 {
		sb.WriteString(" AND s.kind IN (" + placeholders(len(q.Kinds)) + ")\n")
		for _, k := range q.Kinds {
			args = append(args, k)
		}
	}
	if q.Chapter > 0 {
		sb.WriteString(" AND s.chapter = ?\n")
		args = append(args, q.Chapter)
	}
	if r := strings.TrimSpace(q.Route); r != "" {
		sb.WriteString(" AND s.route = ?\n")
		args = append(args, r)
	}
	if sp := strings.TrimSpace(q.Speaker); sp != "" {
		sb.WriteString(" AND lower(s.speaker) LIKE ?\n")
		args = append(args, likeContains(strings.ToLower(sp)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	sb.WriteString("ORDER BY s.doc_id\n")
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.SceneID, &r.Kind, &r.Speaker, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WhereUsed lists the scenes that reference the asset name as background,
// portrait, bgm or sound.
func (s *Store) WhereUsed(ctx context.Context, asset string) ([]string, error) {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return nil, fmt.Errorf("asset name is required")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT scene_id FROM scenes WHERE instr(char(10) || assets || char(10), char(10) || ? || char(10)) > 0 ORDER BY doc_id`, asset)
	if err != nil {
		return nil, fmt.Errorf("where-used query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func likeContains(s string) string { return "%" + s + "%" }

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := strings.Builder{}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
	}
	return b.String()
}
