/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	applog "luminascript/internal/log"
	"luminascript/internal/playback"
	"luminascript/internal/rewind"
	"luminascript/internal/storage"
	"luminascript/internal/story"
	"luminascript/internal/telemetry"
)

const localSession = "local"

// Player is one local playthrough: the playback machine plus its rewind
// stacks and save store. It is safe for concurrent use so a crash handler
// can snapshot it from another goroutine.
type Player struct {
	mu    sync.Mutex
	g     *story.Graph
	m     *playback.Machine
	rw    *rewind.Manager
	store *storage.Store
	keep  int
	log   *slog.Logger
}

// NewPlayer creates a player for g. store may be nil, which disables saves.
func NewPlayer(g *story.Graph, store *storage.Store, autosaveKeep, rewindDepth int) *Player {
	if autosaveKeep <= 0 {
		autosaveKeep = storage.DefaultAutosaveKeep
	}
	return &Player{
		g:     g,
		m:     playback.NewMachine(g),
		rw:    rewind.NewManager(rewind.Config{MaxDepth: rewindDepth}),
		store: store,
		keep:  autosaveKeep,
		log:   applog.WithComponent("player"),
	}
}

// Graph returns the scenario being played.
func (p *Player) Graph() *story.Graph { return p.g }

// CanSave reports whether the player has a save store.
func (p *Player) CanSave() bool { return p.store != nil }

// Started reports whether a game is in progress or finished.
func (p *Player) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.Status() != playback.NotStarted
}

// Snapshot captures the current progress.
func (p *Player) Snapshot() (playback.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.Snapshot()
}

// Frame renders the current scene.
func (p *Player) Frame() (playback.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.Frame()
}

// Backlog lists the scenes shown so far.
func (p *Player) Backlog() []playback.BacklogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.Backlog()
}

// RewindDepth returns how many steps can be taken back and forward.
func (p *Player) RewindDepth() (back, forward int) { return p.rw.Depth(localSession) }

// NewGame discards any progress and starts from the first scene.
func (p *Player) NewGame() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := playback.NewMachine(p.g)
	if err := m.Start(); err != nil {
		return err
	}
	p.m = m
	p.rw.Clear(localSession)
	telemetry.GameStarted(p.g)
	return nil
}

// Resume continues from the latest autosave. It reports false when there
// is none or it cannot be restored; the latter is logged.
func (p *Player) Resume(ctx context.Context) (bool, error) {
	if p.store == nil {
		return false, nil
	}
	snap, err := p.store.LatestAutosave(ctx)
	if errors.Is(err, storage.ErrSlotEmpty) {
		return false, nil
	}
	if err == nil {
		err = p.restore(snap)
	}
	if errors.Is(err, playback.ErrCorruptSnapshot) {
		p.log.Warn("autosave unusable; starting a new game", slog.Any("err", err))
		return false, nil
	}
	return err == nil, err
}

// Load restores a save slot.
func (p *Player) Load(ctx context.Context, slot int) error {
	if p.store == nil {
		return errNoStore
	}
	snap, err := p.store.LoadSlot(ctx, slot)
	if err != nil {
		return err
	}
	return p.restore(snap)
}

func (p *Player) restore(snap playback.Snapshot) error {
	m, err := playback.Restore(p.g, snap)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.m = m
	p.mu.Unlock()
	p.rw.Clear(localSession)
	return nil
}

var errNoStore = errors.New("saving is not available")

// Save writes the current progress to slot.
func (p *Player) Save(ctx context.Context, slot int, label string) error {
	if p.store == nil {
		return errNoStore
	}
	snap, err := p.Snapshot()
	if err != nil {
		return err
	}
	return p.store.SaveSlot(ctx, slot, label, snap)
}

// Slots lists the filled save slots.
func (p *Player) Slots(ctx context.Context) ([]storage.SlotInfo, error) {
	if p.store == nil {
		return nil, nil
	}
	return p.store.ListSlots(ctx)
}

// Advance moves to the next scene.
func (p *Player) Advance(ctx context.Context) error {
	return p.step(ctx, (*playback.Machine).Advance)
}

// Choose picks route at the current choice point.
func (p *Player) Choose(ctx context.Context, route string) error {
	return p.step(ctx, func(m *playback.Machine) error {
		at := m.Current().String()
		if err := m.Choose(route); err != nil {
			return err
		}
		telemetry.ChoiceMade(p.g, at, route)
		return nil
	})
}

// Restart returns to the first scene. The previous position stays on the
// rewind stack.
func (p *Player) Restart(ctx context.Context) error {
	return p.step(ctx, func(m *playback.Machine) error {
		m.Restart()
		return nil
	})
}

func (p *Player) step(ctx context.Context, fn func(*playback.Machine) error) error {
	p.mu.Lock()
	before := p.m.Status()
	err := p.rw.Step(localSession, p.m, func() error { return fn(p.m) })
	m := p.m
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if before != playback.Finished && m.Status() == playback.Finished {
		telemetry.GameFinished(p.g, m.Current().String(), len(m.History())+1)
	}
	p.autosave(ctx)
	return nil
}

func (p *Player) autosave(ctx context.Context) {
	if p.store == nil {
		return
	}
	snap, err := p.Snapshot()
	if err == nil {
		err = p.store.Autosave(ctx, snap, p.keep)
	}
	if err != nil {
		p.log.Warn("autosave failed", slog.Any("err", err))
	}
}

// Back steps to the previous scene; ok is false when there is none.
func (p *Player) Back() (bool, error) { return p.rewind(p.rw.StepBack) }

// Forward reverses the last Back.
func (p *Player) Forward() (bool, error) { return p.rewind(p.rw.StepForward) }

func (p *Player) rewind(move func(string, *playback.Machine) (*playback.Machine, bool, error)) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m.Status() == playback.NotStarted {
		return false, nil
	}
	next, ok, err := move(localSession, p.m)
	if err != nil || !ok {
		return false, err
	}
	p.m = next
	return true, nil
}
