/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package server exposes a compiled scenario as a JSON playback API. Each
// player gets a session holding its own playback machine; sessions idle for
// longer than the configured limit are dropped.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"luminascript/internal/assets"
	applog "luminascript/internal/log"
	"luminascript/internal/playback"
	"luminascript/internal/rewind"
	"luminascript/internal/scenario"
	"luminascript/internal/storage"
	"luminascript/internal/story"
	"luminascript/internal/telemetry"
	"luminascript/internal/version"
)

var (
	ErrNoSession       = errors.New("unknown session")
	ErrNothingToRewind = errors.New("nothing to rewind")
)

// Options configures a Server. Graph is required; Store enables save slots
// and autosaves when set.
type Options struct {
	Graph        *story.Graph
	Meta         scenario.Meta
	Assets       assets.Resolver
	Store        *storage.Store
	AutosaveKeep int
	RewindDepth  int
	IdleTimeout  time.Duration
}

type session struct {
	mu   sync.Mutex // guards m
	id   string
	m    *playback.Machine
	seen atomic.Int64 // unix nanos of the last request
}

func (ss *session) touch(t time.Time) { ss.seen.Store(t.UnixNano()) }

// Server holds the playback sessions of one game.
type Server struct {
	opts  Options
	rw    *rewind.Manager
	log   *slog.Logger
	now   func() time.Time
	mu    sync.Mutex
	byID  map[string]*session
	newID func() string
}

// New creates a Server for opts.Graph.
func New(opts Options) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	if opts.AutosaveKeep <= 0 {
		opts.AutosaveKeep = storage.DefaultAutosaveKeep
	}
	return &Server{
		opts:  opts,
		rw:    rewind.NewManager(rewind.Config{MaxDepth: opts.RewindDepth}),
		log:   applog.WithComponent("server"),
		now:   time.Now,
		byID:  map[string]*session{},
		newID: uuid.NewString,
	}
}

// Router builds the HTTP routes:
//
//	GET    /healthz
//	GET    /api/game
//	POST   /api/sessions                      start, or resume from a snapshot body
//	GET    /api/sessions/:id                  current frame
//	GET    /api/sessions/:id/live             websocket: commands in, frames out
//	DELETE /api/sessions/:id
//	POST   /api/sessions/:id/advance
//	POST   /api/sessions/:id/choose           {"route":"A"}
//	POST   /api/sessions/:id/restart
//	POST   /api/sessions/:id/back
//	POST   /api/sessions/:id/forward
//	GET    /api/sessions/:id/backlog
//	GET    /api/sessions/:id/snapshot
//	PUT    /api/sessions/:id/snapshot
//	GET    /api/sessions/:id/slots            (with a store)
//	PUT    /api/sessions/:id/slots/:slot
//	POST   /api/sessions/:id/slots/:slot/load
//	GET    /assets/:category/:name
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/assets/:category/:name", s.asset)

	api := r.Group("/api")
	api.GET("/game", s.game)
	api.POST("/sessions", s.create)
	api.GET("/sessions/:id/live", s.live)

	sess := api.Group("/sessions/:id", s.withSession)
	sess.GET("", s.frame)
	sess.DELETE("", s.remove)
	sess.POST("/advance", s.advance)
	sess.POST("/choose", s.choose)
	sess.POST("/restart", s.restart)
	sess.POST("/back", s.back)
	sess.POST("/forward", s.forward)
	sess.GET("/backlog", s.backlog)
	sess.GET("/snapshot", s.snapshot)
	sess.PUT("/snapshot", s.restore)
	if s.opts.Store != nil {
		sess.GET("/slots", s.listSlots)
		sess.PUT("/slots/:slot", s.saveSlot)
		sess.DELETE("/slots/:slot", s.deleteSlot)
		sess.POST("/slots/:slot/load", s.loadSlot)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Sweep drops sessions that have been idle longer than the idle timeout and
// returns how many were removed.
func (s *Server) Sweep() int {
	cutoff := s.now().Add(-s.opts.IdleTimeout).UnixNano()
	s.mu.Lock()
	var stale []string
	for id, ss := range s.byID {
		if ss.seen.Load() < cutoff {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(s.byID, id)
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.rw.Clear(id)
		s.log.Info("session expired", slog.String("session", id))
	}
	return len(stale)
}

func (s *Server) add(m *playback.Machine) *session {
	ss := &session{id: s.newID(), m: m}
	ss.touch(s.now())
	s.mu.Lock()
	s.byID[ss.id] = ss
	s.mu.Unlock()
	return ss
}

func (s *Server) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.byID[id]
	if !ok {
		return nil, ErrNoSession
	}
	return ss, nil
}

// Start serves the API on addr until ctx ends, sweeping idle sessions in
// the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("playback server listening", slog.String("addr", addr), slog.String("ver", version.String()))
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// trackEvents reports telemetry for the transition from before to the
// machine's current state.
func (s *Server) trackEvents(m *playback.Machine, before playback.Status) {
	if before != playback.Finished && m.Status() == playback.Finished {
		telemetry.GameFinished(m.Graph(), m.Current().String(), len(m.History())+1)
	}
}
