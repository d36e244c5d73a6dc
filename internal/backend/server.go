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
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	applog "luminascript/internal/log"
	"luminascript/internal/playback"
	"luminascript/internal/version"
)

// Server is the cloud-save HTTP API.
type Server struct {
	cfg   Config
	store SaveStore
	now   func() time.Time
	log   *slog.Logger
}

func NewServer(cfg Config, store SaveStore) *Server {
	return &Server{cfg: cfg, store: store, now: time.Now, log: applog.WithComponent("backend")}
}

// Router builds the gin engine:
//
//	GET    /healthz, /readyz, /version
//	POST   /api/auth/token
//	GET    /api/games/:game/saves
//	GET    /api/games/:game/saves/:slot
//	PUT    /api/games/:game/saves/:slot?label=  (If-Match: <version>)
//	DELETE /api/games/:game/saves/:slot
//	GET    /api/games/:game/saves/:slot/history
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			c.String(http.StatusServiceUnavailable, "db not ready")
			return
		}
		c.String(http.StatusOK, "ready")
	})
	r.GET("/version", func(c *gin.Context) { c.String(http.StatusOK, "luminascript-cloud "+version.String()) })

	api := r.Group("/api")
	api.POST("/auth/token", s.issueToken)

	games := api.Group("/games/:game", requireAuth(s.cfg.secret(), s.now), validGame)
	games.GET("/saves", s.listSaves)
	games.GET("/saves/:slot", s.getSave)
	games.PUT("/saves/:slot", s.putSave)
	games.DELETE("/saves/:slot", s.deleteSave)
	games.GET("/saves/:slot/history", s.history)
	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

func validGame(c *gin.Context) {
	if !ValidGameKey(c.Param("game")) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidGame.Error()})
		return
	}
	c.Next()
}

type tokenRequest struct {
	Subject    string `json:"subject"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Key        string `json:"key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token request"})
		return
	}
	if s.cfg.IssueKey != "" && req.Key != s.cfg.IssueKey {
		c.JSON(http.StatusForbidden, gin.H{"error": "token issuing key mismatch"})
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 || ttl > s.cfg.MaxTokenTTL {
		ttl = s.cfg.TokenTTL
	}
	exp := s.now().Add(ttl).UTC().Truncate(time.Second)
	tok, err := signToken(s.cfg.secret(), req.Subject, exp)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: tok, ExpiresAt: exp})
}

func slotParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("slot"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot must be a positive integer"})
		return 0, false
	}
	return n, true
}

func (s *Server) listSaves(c *gin.Context) {
	list, err := s.store.ListSaves(c.Request.Context(), subject(c), c.Param("game"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getSave(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	sv, err := s.store.GetSave(c.Request.Context(), subject(c), c.Param("game"), slot)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("ETag", strconv.FormatInt(sv.Version, 10))
	c.JSON(http.StatusOK, sv)
}

func (s *Server) putSave(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	ifVersion := AnyVersion
	if h := strings.Trim(c.GetHeader("If-Match"), `" `); h != "" {
		v, err := strconv.ParseInt(h, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "If-Match must be a save version"})
			return
		}
		ifVersion = v
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.cfg.MaxSaveSize+1))
	if err != nil {
		s.fail(c, err)
		return
	}
	if int64(len(body)) > s.cfg.MaxSaveSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "save too large"})
		return
	}
	snap, err := playback.DecodeSnapshot(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sv := Save{
		SaveInfo: SaveInfo{
			Game:        c.Param("game"),
			Slot:        slot,
			Scene:       snap.Current.String(),
			Fingerprint: snap.Fingerprint,
			Label:       strings.TrimSpace(c.Query("label")),
		},
		Payload: body,
	}
	info, err := s.store.PutSave(c.Request.Context(), subject(c), sv, ifVersion)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("ETag", strconv.FormatInt(info.Version, 10))
	c.JSON(http.StatusOK, info)
}

func (s *Server) deleteSave(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	if err := s.store.DeleteSave(c.Request.Context(), subject(c), c.Param("game"), slot); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) history(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	h, err := s.store.History(c.Request.Context(), subject(c), c.Param("game"), slot)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	default:
		s.log.ErrorContext(c.Request.Context(), "request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Start opens the database, applies migrations and serves until ctx ends.
func Start(ctx context.Context, cfg Config) error {
	l := applog.WithComponent("backend")
	db, err := OpenDB(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if cfg.InsecureSecret() {
		l.Warn("LSC_AUTH_SECRET not set; using insecure dev secret")
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(cfg, NewPGStore(db)).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	l.Info("cloud server listening", slog.String("addr", cfg.Addr))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
