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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	applog "luminascript/internal/log"
	"luminascript/internal/playback"
)

const (
	liveWriteWait = 10 * time.Second
	livePongWait  = 60 * time.Second
	livePingEvery = livePongWait * 9 / 10
	liveMaxMsg    = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// accepts any origin, like the REST routes
	CheckOrigin: func(*http.Request) bool { return true },
}

// liveCommand is one client message on the live channel.
type liveCommand struct {
	Op    string `json:"op"` // advance|choose|restart|back|forward|frame
	Route string `json:"route,omitempty"`
}

// liveReply answers every command: the frame on success, or an error with
// the status the equivalent HTTP request would have had.
type liveReply struct {
	Frame  *frameView `json:"frame,omitempty"`
	Error  string     `json:"error,omitempty"`
	Status int        `json:"status,omitempty"`
}

// live upgrades to a websocket that drives one session. It sends the
// current frame on connect and one reply per command until the client
// disconnects or the session goes away.
func (s *Server) live(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.lookup(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := applog.WithSession(c.Request.Context(), id)
	s.log.InfoContext(ctx, "live channel opened")
	conn.SetReadLimit(liveMaxMsg)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	done := make(chan struct{})
	defer close(done)
	// only this goroutine writes data frames; pings use WriteControl
	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(v)
	}
	go func() {
		t := time.NewTicker(livePingEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	if err := write(s.liveApply(ctx, id, liveCommand{Op: "frame"})); err != nil {
		return
	}
	for {
		var cmd liveCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.DebugContext(ctx, "live channel read failed", slog.Any("err", err))
			}
			break
		}
		reply := s.liveApply(ctx, id, cmd)
		if err := write(reply); err != nil {
			break
		}
		if errors.Is(errorOf(reply), ErrNoSession) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(liveWriteWait))
			break
		}
	}
	s.log.InfoContext(ctx, "live channel closed")
}

// liveApply runs one command against the session under its lock.
func (s *Server) liveApply(ctx context.Context, id string, cmd liveCommand) liveReply {
	ss, err := s.lookup(id)
	if err != nil {
		return failReply(err)
	}
	ss.touch(s.now())
	ss.mu.Lock()
	defer ss.mu.Unlock()

	switch cmd.Op {
	case "frame", "":
	case "advance":
		err = s.transition(ctx, ss, (*playback.Machine).Advance)
	case "choose":
		err = s.transition(ctx, ss, chooseFn(cmd.Route))
	case "restart":
		err = s.transition(ctx, ss, restartFn)
	case "back":
		err = rewindSession(ss, s.rw.StepBack)
	case "forward":
		err = rewindSession(ss, s.rw.StepForward)
	default:
		return liveReply{Error: "unknown op " + cmd.Op, Status: http.StatusBadRequest}
	}
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			s.log.ErrorContext(ctx, "live command failed", slog.String("op", cmd.Op), slog.Any("err", err))
		}
		return failReply(err)
	}
	v := s.view(ss, "")
	return liveReply{Frame: &v}
}

func failReply(err error) liveReply {
	st := statusFor(err)
	if st == http.StatusInternalServerError {
		return liveReply{Error: "internal error", Status: st}
	}
	return liveReply{Error: err.Error(), Status: st}
}

func errorOf(r liveReply) error {
	if r.Status == http.StatusNotFound && r.Error == ErrNoSession.Error() {
		return ErrNoSession
	}
	return nil
}
