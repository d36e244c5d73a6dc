/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package rewind keeps bounded back and forward stacks of playback snapshots
// per session so a player can step back through scenes already shown.
package rewind

import (
	"sync"
	"time"

	"luminascript/internal/playback"
)

// Entry is an encoded playback snapshot taken before a transition.
// Size is estimated as len(Blob).
type Entry struct {
	Scene string
	Blob  []byte
	TS    time.Time
}

// Config controls memory and depth caps and coalescing.
type Config struct {
	// MaxBytes is a soft cap across all sessions; the oldest entries are
	// pruned when it is exceeded.
	MaxBytes int
	// MaxDepth limits the back stack of one session (0 means unlimited).
	MaxDepth int
	// MinInterval replaces the previous entry instead of pushing a new one
	// when two entries of a session are closer than the interval. Zero keeps
	// every step.
	MinInterval time.Duration
}

// Manager holds rewind stacks keyed by session id. It is safe for
// concurrent use.
type Manager struct {
	cfg        Config
	mu         sync.Mutex
	back       map[string][]Entry
	fwd        map[string][]Entry
	totalBytes int
	now        func() time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 8 * 1024 * 1024
	}
	return &Manager{cfg: cfg, back: map[string][]Entry{}, fwd: map[string][]Entry{}, now: time.Now}
}

// Push records an entry for a session and clears its forward stack.
func (m *Manager) Push(session string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropForwardLocked(session)
	stack := m.back[session]
	if n := len(stack); n > 0 && m.cfg.MinInterval > 0 {
		last := stack[n-1]
		if e.TS.Sub(last.TS) < m.cfg.MinInterval {
			m.totalBytes += len(e.Blob) - len(last.Blob)
			stack[n-1] = e
			m.enforceCapsLocked(session)
			return
		}
	}
	m.back[session] = append(stack, e)
	m.totalBytes += len(e.Blob)
	m.enforceCapsLocked(session)
}

// Back pops the newest entry and parks current on the forward stack.
func (m *Manager) Back(session string, current Entry) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.back[session]
	if len(stack) == 0 {
		return Entry{}, false
	}
	e := stack[len(stack)-1]
	m.back[session] = stack[:len(stack)-1]
	m.totalBytes += len(current.Blob) - len(e.Blob)
	m.fwd[session] = append(m.fwd[session], current)
	m.enforceCapsLocked(session)
	return e, true
}

// Forward undoes a Back: it pops the forward stack and pushes current back.
func (m *Manager) Forward(session string, current Entry) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.fwd[session]
	if len(f) == 0 {
		return Entry{}, false
	}
	e := f[len(f)-1]
	m.fwd[session] = f[:len(f)-1]
	m.back[session] = append(m.back[session], current)
	m.totalBytes += len(current.Blob) - len(e.Blob)
	m.enforceCapsLocked(session)
	return e, true
}

// Clear drops both stacks of a session.
func (m *Manager) Clear(session string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.back[session] {
		m.totalBytes -= len(e.Blob)
	}
	m.dropForwardLocked(session)
	delete(m.back, session)
	delete(m.fwd, session)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

// Depth returns the sizes of a session's back and forward stacks.
func (m *Manager) Depth(session string) (back, forward int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.back[session]), len(m.fwd[session])
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, sessions int, entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions = len(m.back)
	for _, v := range m.back {
		entries += len(v)
	}
	for _, v := range m.fwd {
		entries += len(v)
	}
	return m.totalBytes, sessions, entries
}

func (m *Manager) dropForwardLocked(session string) {
	for _, e := range m.fwd[session] {
		m.totalBytes -= len(e.Blob)
	}
	m.fwd[session] = nil
}

func (m *Manager) enforceCapsLocked(session string) {
	if m.cfg.MaxDepth > 0 {
		stack := m.back[session]
		if len(stack) > m.cfg.MaxDepth {
			toDrop := len(stack) - m.cfg.MaxDepth
			for i := 0; i < toDrop; i++ {
				m.totalBytes -= len(stack[i].Blob)
			}
			m.back[session] = append([]Entry{}, stack[toDrop:]...)
		}
	}
	// global cap: prune the oldest back entry across sessions
	for m.cfg.MaxBytes > 0 && m.totalBytes > m.cfg.MaxBytes {
		oldest := ""
		found := false
		var oldestTS time.Time
		for id, stack := range m.back {
			if len(stack) == 0 {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldest, oldestTS, found = id, stack[0].TS, true
			}
		}
		if !found {
			break
		}
		stack := m.back[oldest]
		m.totalBytes -= len(stack[0].Blob)
		m.back[oldest] = stack[1:]
		if len(m.back[oldest]) == 0 {
			delete(m.back, oldest)
		}
	}
}

// capture encodes the machine's current progress as an Entry.
func (m *Manager) capture(pm *playback.Machine) (Entry, error) {
	s, err := pm.Snapshot()
	if err != nil {
		return Entry{}, err
	}
	b, err := s.Encode()
	if err != nil {
		return Entry{}, err
	}
	return Entry{Scene: s.Current.String(), Blob: b, TS: m.now()}, nil
}

// Step runs a transition on pm and, when it succeeds, records the state
// from before the transition. Machines that have not started are run
// without recording.
func (m *Manager) Step(session string, pm *playback.Machine, transition func() error) error {
	if pm.Status() == playback.NotStarted {
		return transition()
	}
	before, err := m.capture(pm)
	if err != nil {
		return err
	}
	if err := transition(); err != nil {
		return err
	}
	m.Push(session, before)
	return nil
}

// StepBack returns a machine positioned one step earlier, or ok=false when
// there is nothing to go back to.
func (m *Manager) StepBack(session string, pm *playback.Machine) (*playback.Machine, bool, error) {
	return m.move(session, pm, m.Back)
}

// StepForward reverses the last StepBack.
func (m *Manager) StepForward(session string, pm *playback.Machine) (*playback.Machine, bool, error) {
	return m.move(session, pm, m.Forward)
}

func (m *Manager) move(session string, pm *playback.Machine, pop func(string, Entry) (Entry, bool)) (*playback.Machine, bool, error) {
	cur, err := m.capture(pm)
	if err != nil {
		return pm, false, err
	}
	e, ok := pop(session, cur)
	if !ok {
		return pm, false, nil
	}
	s, err := playback.DecodeSnapshot(e.Blob)
	if err != nil {
		return pm, false, err
	}
	next, err := playback.Restore(pm.Graph(), s)
	if err != nil {
		return pm, false, err
	}
	return next, true, nil
}
