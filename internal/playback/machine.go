/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package playback runs a compiled story for one player. A Machine tracks
// the current scene, the scenes already seen and the routes picked at choice
// points, and converts that progress to and from a Snapshot.
//
// A Machine is not safe for concurrent use; serialize calls per session.
// Any number of machines may share one *story.Graph.
package playback

import (
	"errors"
	"fmt"
	"time"

	"luminascript/internal/scenario"
	"luminascript/internal/story"
)

var (
	ErrNotStarted      = errors.New("playback not started")
	ErrAlreadyStarted  = errors.New("playback already started")
	ErrNotInProgress   = errors.New("playback not in progress")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// Status is the lifecycle state of a Machine.
type Status int

const (
	NotStarted Status = iota
	InProgress
	Finished
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status as its string form.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{NotStarted, InProgress, Finished} {
		if string(b) == v.String() {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown playback status %q", b)
}

// State is a player's progress through a story.
type State struct {
	Current scenario.Identifier
	History []scenario.Identifier
	Choices map[scenario.Identifier]string
}

func (s State) clone() State {
	c := State{Current: s.Current, History: append([]scenario.Identifier(nil), s.History...)}
	c.Choices = make(map[scenario.Identifier]string, len(s.Choices))
	for k, v := range s.Choices {
		c.Choices[k] = v
	}
	return c
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now as the source of snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine drives playback of one story graph.
type Machine struct {
	g         *story.Graph
	status    Status
	st        State
	now       func() time.Time
	lastStamp time.Time
}

// NewMachine returns a machine in the NotStarted state.
func NewMachine(g *story.Graph, opts ...Option) *Machine {
	m := &Machine{g: g, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Graph returns the story the machine plays.
func (m *Machine) Graph() *story.Graph { return m.g }

// Status returns the lifecycle state.
func (m *Machine) Status() Status { return m.status }

// Current returns the current scene; zero before Start.
func (m *Machine) Current() scenario.Identifier { return m.st.Current }

// History returns the scenes visited before the current one, oldest first.
func (m *Machine) History() []scenario.Identifier {
	return append([]scenario.Identifier(nil), m.st.History...)
}

// ChoicesMade returns the route picked at each choice point.
func (m *Machine) ChoicesMade() map[scenario.Identifier]string { return m.st.clone().Choices }

func freshState(g *story.Graph) State {
	return State{Current: g.First(), Choices: map[scenario.Identifier]string{}}
}

// Start moves a new machine to the first scene.
func (m *Machine) Start() error {
	if m.status != NotStarted {
		return ErrAlreadyStarted
	}
	m.st = freshState(m.g)
	m.status = InProgress
	return nil
}

// Advance moves past a scene that is not a choice point. Advancing from a
// terminal scene finishes playback and leaves it as the current scene.
func (m *Machine) Advance() error {
	if m.status != InProgress {
		return ErrNotInProgress
	}
	next, ok, err := m.g.Next(m.st.Current, "")
	if err != nil {
		return err
	}
	if !ok {
		m.status = Finished
		return nil
	}
	m.st.History = append(m.st.History, m.st.Current)
	m.st.Current = next
	return nil
}

// Choose picks a route at the current choice point. A later pick at the same
// choice point replaces the earlier one.
func (m *Machine) Choose(route string) error {
	if m.status != InProgress {
		return ErrNotInProgress
	}
	next, _, err := m.g.Next(m.st.Current, route)
	if err != nil {
		return err
	}
	m.st.Choices[m.st.Current] = route
	m.st.History = append(m.st.History, m.st.Current)
	m.st.Current = next
	return nil
}

// Restart discards all progress and moves to the first scene.
func (m *Machine) Restart() {
	m.st = freshState(m.g)
	m.status = InProgress
}

// Snapshot captures the current progress. Timestamps strictly increase
// across the snapshots of one machine.
func (m *Machine) Snapshot() (Snapshot, error) {
	if m.status == NotStarted {
		return Snapshot{}, ErrNotStarted
	}
	stamp := m.now().UTC()
	if !stamp.After(m.lastStamp) {
		stamp = m.lastStamp.Add(time.Nanosecond)
	}
	m.lastStamp = stamp
	st := m.st.clone()
	finished := m.status == Finished
	return Snapshot{
		Version:     SnapshotVersion,
		Current:     st.Current,
		History:     st.History,
		Choices:     st.Choices,
		Timestamp:   stamp,
		Finished:    &finished,
		Fingerprint: m.g.Fingerprint(),
	}, nil
}

// Restore loads a snapshot into a machine that has not started. The snapshot
// is checked against the graph and rejected with ErrCorruptSnapshot when it
// names scenes, choice points or routes the graph does not have.
func (m *Machine) Restore(s Snapshot) error {
	if m.status != NotStarted {
		return ErrAlreadyStarted
	}
	status, err := validate(m.g, s)
	if err != nil {
		return err
	}
	st := State{Current: s.Current, History: append([]scenario.Identifier(nil), s.History...)}
	st.Choices = make(map[scenario.Identifier]string, len(s.Choices))
	for k, v := range s.Choices {
		st.Choices[k] = v
	}
	m.st = st
	m.status = status
	if s.Timestamp.After(m.lastStamp) {
		m.lastStamp = s.Timestamp
	}
	return nil
}

// Restore returns a new machine positioned at the snapshot.
func Restore(g *story.Graph, s Snapshot, opts ...Option) (*Machine, error) {
	m := NewMachine(g, opts...)
	if err := m.Restore(s); err != nil {
		return nil, err
	}
	return m, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptSnapshot, fmt.Sprintf(format, args...))
}

func validate(g *story.Graph, s Snapshot) (Status, error) {
	if s.Version != SnapshotVersion {
		return NotStarted, corrupt("unsupported version %d", s.Version)
	}
	if s.Current.IsZero() || !g.Contains(s.Current) {
		return NotStarted, corrupt("unknown current scene %q", s.Current)
	}
	for _, h := range s.History {
		if !g.Contains(h) {
			return NotStarted, corrupt("unknown scene %q in history", h)
		}
	}
	for q, route := range s.Choices {
		if q.Kind != scenario.KindChoice || !g.Contains(q) {
			return NotStarted, corrupt("unknown choice point %q", q)
		}
		if !g.Offers(q, route) {
			return NotStarted, corrupt("choice point %s has no route %q", q, route)
		}
	}
	terminal := g.IsTerminal(s.Current)
	if s.Finished != nil && *s.Finished && !terminal {
		return NotStarted, corrupt("finished at non-terminal scene %s", s.Current)
	}
	if terminal && (s.Finished == nil || *s.Finished) {
		return Finished, nil
	}
	return InProgress, nil
}
