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
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory SaveStore with the same version semantics as
// PGStore.
type memStore struct {
	mu      sync.Mutex
	saves   map[string]Save
	history map[string][]HistoryEntry
}

func newMemStore() *memStore {
	return &memStore{saves: map[string]Save{}, history: map[string][]HistoryEntry{}}
}

func memKey(subject, game string, slot int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", subject, game, slot)
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) ListSaves(_ context.Context, subject, game string) ([]SaveInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []SaveInfo{}
	for k, sv := range m.saves {
		if k == memKey(subject, game, sv.Slot) {
			out = append(out, sv.SaveInfo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (m *memStore) GetSave(_ context.Context, subject, game string, slot int) (Save, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sv, ok := m.saves[memKey(subject, game, slot)]
	if !ok {
		return Save{}, ErrNotFound
	}
	return sv, nil
}

func (m *memStore) PutSave(_ context.Context, subject string, sv Save, ifVersion int64) (SaveInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(subject, sv.Game, sv.Slot)
	cur, exists := m.saves[k]
	switch {
	case ifVersion == 0 && exists:
		return SaveInfo{}, ErrConflict
	case ifVersion > 0 && (!exists || cur.Version != ifVersion):
		return SaveInfo{}, ErrConflict
	}
	sv.Version = 1
	if exists {
		sv.Version = cur.Version + 1
		m.history[k] = append([]HistoryEntry{{Version: cur.Version, Scene: cur.Scene, ReplacedAt: time.Now()}}, m.history[k]...)
	}
	sv.UpdatedAt = time.Now().UTC()
	m.saves[k] = sv
	return sv.SaveInfo, nil
}

func (m *memStore) DeleteSave(_ context.Context, subject, game string, slot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(subject, game, slot)
	cur, ok := m.saves[k]
	if !ok {
		return ErrNotFound
	}
	m.history[k] = append([]HistoryEntry{{Version: cur.Version, Scene: cur.Scene, ReplacedAt: time.Now()}}, m.history[k]...)
	delete(m.saves, k)
	return nil
}

func (m *memStore) History(_ context.Context, subject, game string, slot int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry{}, m.history[memKey(subject, game, slot)]...), nil
}
