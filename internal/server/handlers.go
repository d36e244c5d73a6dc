/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"luminascript/internal/assets"
	applog "luminascript/internal/log"
	"luminascript/internal/playback"
	"luminascript/internal/storage"
	"luminascript/internal/story"
	"luminascript/internal/telemetry"
)

const ctxSession = "lsc_session"

// frameView is the response to every session request.
type frameView struct {
	Session string `json:"session"`
	playback.Frame
	Assets  assets.Refs `json:"assets"`
	Back    int         `json:"rewind_back"`
	Forward int         `json:"rewind_forward"`
	Warning string      `json:"warning,omitempty"`
}

type gameView struct {
	Title       string      `json:"title"`
	SubTitle    string      `json:"subtitle,omitempty"`
	Creator     string      `json:"creator,omitempty"`
	TitleImage  string      `json:"title_image"`
	Theme       [3]string   `json:"theme"`
	FontURL     string      `json:"font_url,omitempty"`
	Links       [][2]string `json:"links,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	Stats       story.Stats `json:"stats"`
}

type chooseRequest struct {
	Route string `json:"route"`
}

func (s *Server) game(c *gin.Context) {
	m := s.opts.Meta
	c.JSON(http.StatusOK, gameView{
		Title:       m.Title,
		SubTitle:    m.SubTitle,
		Creator:     m.Creator,
		TitleImage:  s.opts.Assets.Ref(assets.Backgrounds, m.TitleImage),
		Theme:       [3]string{m.ThemeColor, m.SubColor, m.TextColor},
		FontURL:     m.FontURL,
		Links:       m.Links(),
		Fingerprint: s.opts.Graph.Fingerprint(),
		Stats:       s.opts.Graph.Stats(),
	})
}

// asset serves an image from the project's asset folders.
func (s *Server) asset(c *gin.Context) {
	cat := assets.Category(c.Param("category"))
	if cat != assets.Backgrounds && cat != assets.Characters {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown asset category"})
		return
	}
	p, ok := s.opts.Assets.Path(cat, c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	c.Header("Content-Type", assets.MIMEType(p))
	c.File(p)
}

// create starts a session. A snapshot in the body resumes it; ?resume=1
// resumes from the latest autosave. Unreadable progress falls back to a new
// game with a warning.
func (s *Server) create(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	var (
		m       *playback.Machine
		warning string
	)
	switch {
	case len(body) > 0:
		m, warning = s.resume(ctx, func() (playback.Snapshot, error) { return playback.DecodeSnapshot(body) })
	case c.Query("resume") != "" && s.opts.Store != nil:
		m, warning = s.resume(ctx, func() (playback.Snapshot, error) { return s.opts.Store.LatestAutosave(ctx) })
	}
	if m == nil {
		m = playback.NewMachine(s.opts.Graph)
		if err := m.Start(); err != nil {
			s.fail(c, err)
			return
		}
		telemetry.GameStarted(s.opts.Graph)
	}
	ss := s.add(m)
	s.log.InfoContext(applog.WithSession(ctx, ss.id), "session started", slog.String("scene", m.Current().String()))
	c.JSON(http.StatusCreated, s.view(ss, warning))
}

// resume restores a machine from load. It returns nil when there is nothing
// to resume, with a warning when the saved progress was unusable.
func (s *Server) resume(ctx context.Context, load func() (playback.Snapshot, error)) (*playback.Machine, string) {
	snap, err := load()
	if errors.Is(err, storage.ErrSlotEmpty) {
		return nil, ""
	}
	if err == nil {
		var m *playback.Machine
		if m, err = playback.Restore(s.opts.Graph, snap); err == nil {
			return m, ""
		}
	}
	s.log.WarnContext(ctx, "saved progress unusable; starting a new game", slog.Any("err", err))
	return nil, "saved progress could not be restored; a new game was started"
}

func (s *Server) withSession(c *gin.Context) {
	ss, err := s.lookup(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	ss.touch(s.now())
	ss.mu.Lock()
	defer ss.mu.Unlock()
	c.Request = c.Request.WithContext(applog.WithSession(c.Request.Context(), ss.id))
	c.Set(ctxSession, ss)
	c.Next()
}

func current(c *gin.Context) *session { return c.MustGet(ctxSession).(*session) }

func (s *Server) view(ss *session, warning string) frameView {
	f, _ := ss.m.Frame()
	rec, _ := s.opts.Graph.Record(ss.m.Current())
	back, fwd := s.rw.Depth(ss.id)
	return frameView{
		Session: ss.id,
		Frame:   f,
		Assets:  s.opts.Assets.Scene(rec),
		Back:    back,
		Forward: fwd,
		Warning: warning,
	}
}

func (s *Server) frame(c *gin.Context) { c.JSON(http.StatusOK, s.view(current(c), "")) }

func (s *Server) remove(c *gin.Context) {
	ss := current(c)
	s.mu.Lock()
	delete(s.byID, ss.id)
	s.mu.Unlock()
	s.rw.Clear(ss.id)
	c.Status(http.StatusNoContent)
}

// step runs a transition with rewind recording, then autosaves.
func (s *Server) step(c *gin.Context, fn func(m *playback.Machine) error) {
	ss := current(c)
	if err := s.transition(c.Request.Context(), ss, fn); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ss, ""))
}

// transition applies fn to the session's machine. The caller holds ss.mu.
func (s *Server) transition(ctx context.Context, ss *session, fn func(m *playback.Machine) error) error {
	before := ss.m.Status()
	if err := s.rw.Step(ss.id, ss.m, func() error { return fn(ss.m) }); err != nil {
		return err
	}
	s.trackEvents(ss.m, before)
	s.autosave(ctx, ss)
	return nil
}

func chooseFn(route string) func(m *playback.Machine) error {
	return func(m *playback.Machine) error {
		at := m.Current().String()
		if err := m.Choose(route); err != nil {
			return err
		}
		telemetry.ChoiceMade(m.Graph(), at, route)
		return nil
	}
}

func restartFn(m *playback.Machine) error {
	m.Restart()
	return nil
}

func (s *Server) advance(c *gin.Context) {
	s.step(c, (*playback.Machine).Advance)
}

func (s *Server) choose(c *gin.Context) {
	var req chooseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"route\": \"<letter>\"}"})
		return
	}
	s.step(c, chooseFn(req.Route))
}

func (s *Server) restart(c *gin.Context) { s.step(c, restartFn) }

func (s *Server) back(c *gin.Context)    { s.rewind(c, s.rw.StepBack) }
func (s *Server) forward(c *gin.Context) { s.rewind(c, s.rw.StepForward) }

type rewindMove func(string, *playback.Machine) (*playback.Machine, bool, error)

func (s *Server) rewind(c *gin.Context, move rewindMove) {
	ss := current(c)
	if err := rewindSession(ss, move); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ss, ""))
}

// rewindSession swaps in the machine move returns. The caller holds ss.mu.
func rewindSession(ss *session, move rewindMove) error {
	next, ok, err := move(ss.id, ss.m)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNothingToRewind
	}
	ss.m = next
	return nil
}

func (s *Server) backlog(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).m.Backlog())
}

func (s *Server) snapshot(c *gin.Context) {
	snap, err := current(c).m.Snapshot()
	if err != nil {
		s.fail(c, err)
		return
	}
	b, err := snap.Encode()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", b)
}

// restore replaces the session's progress with the snapshot in the body.
// An invalid snapshot is rejected and the session is left unchanged.
func (s *Server) restore(c *gin.Context) {
	ss := current(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	snap, err := playback.DecodeSnapshot(body)
	if err == nil {
		var m *playback.Machine
		if m, err = playback.Restore(s.opts.Graph, snap); err == nil {
			ss.m = m
			s.rw.Clear(ss.id)
			c.JSON(http.StatusOK, s.view(ss, ""))
			return
		}
	}
	s.fail(c, err)
}

func (s *Server) autosave(ctx context.Context, ss *session) {
	if s.opts.Store == nil {
		return
	}
	snap, err := ss.m.Snapshot()
	if err == nil {
		err = s.opts.Store.Autosave(ctx, snap, s.opts.AutosaveKeep)
	}
	if err != nil {
		s.log.WarnContext(ctx, "autosave failed", slog.Any("err", err))
	}
}

func slotParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("slot"))
	if err != nil || n < 1 || n > storage.MaxSlots {
		c.JSON(http.StatusBadRequest, gin.H{"error": storage.ErrInvalidSlot.Error()})
		return 0, false
	}
	return n, true
}

func (s *Server) listSlots(c *gin.Context) {
	list, err := s.opts.Store.ListSlots(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) saveSlot(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	ss := current(c)
	snap, err := ss.m.Snapshot()
	if err == nil {
		err = s.opts.Store.SaveSlot(c.Request.Context(), slot, c.Query("label"), snap)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot": slot, "scene": snap.Current})
}

func (s *Server) loadSlot(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	ss := current(c)
	snap, err := s.opts.Store.LoadSlot(c.Request.Context(), slot)
	if err == nil {
		var m *playback.Machine
		if m, err = playback.Restore(s.opts.Graph, snap); err == nil {
			ss.m = m
			s.rw.Clear(ss.id)
			c.JSON(http.StatusOK, s.view(ss, ""))
			return
		}
	}
	s.fail(c, err)
}

func (s *Server) deleteSlot(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	if err := s.opts.Store.DeleteSlot(c.Request.Context(), slot); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps engine and storage errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), "request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, story.ErrInvalidChoice), errors.Is(err, story.ErrUnexpectedChoice),
		errors.Is(err, playback.ErrCorruptSnapshot), errors.Is(err, storage.ErrInvalidSlot):
		return http.StatusBadRequest
	case errors.Is(err, story.ErrChoiceRequired), errors.Is(err, playback.ErrNotInProgress),
		errors.Is(err, playback.ErrAlreadyStarted), errors.Is(err, playback.ErrNotStarted),
		errors.Is(err, ErrNothingToRewind):
		return http.StatusConflict
	case errors.Is(err, storage.ErrSlotEmpty), errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
