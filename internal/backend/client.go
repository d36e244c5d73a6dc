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
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"luminascript/internal/playback"
)

// Client talks to the cloud-save API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// InsecureTLS disables certificate verification; for self-signed dev servers only.
func (c *Client) InsecureTLS() {
	c.client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
}

// do sends body (if non-nil) and decodes a 2xx JSON response into dest.
func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, body []byte, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return statusError(method, u.Path, resp.StatusCode, e.Error)
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func statusError(method, path string, code int, msg string) error {
	var base error
	switch code {
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		base = ErrConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		base = ErrUnauthorized
	default:
		return fmt.Errorf("server %s %s: %d %s", method, path, code, msg)
	}
	return fmt.Errorf("server %s %s: %w", method, path, base)
}

func savePath(game string, slot int) string {
	return "/api/games/" + url.PathEscape(game) + "/saves/" + strconv.Itoa(slot)
}

// RequestToken asks the server for a bearer token for subject.
func (c *Client) RequestToken(ctx context.Context, subject, key string, ttl time.Duration) (string, time.Time, error) {
	body, _ := json.Marshal(tokenRequest{Subject: subject, Key: key, TTLSeconds: int64(ttl / time.Second)})
	var out tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", nil, body, &out); err != nil {
		return "", time.Time{}, err
	}
	return out.Token, out.ExpiresAt, nil
}

// ListSaves returns the caller's saves for game.
func (c *Client) ListSaves(ctx context.Context, game string) ([]SaveInfo, error) {
	var list []SaveInfo
	if err := c.do(ctx, http.MethodGet, "/api/games/"+url.PathEscape(game)+"/saves", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Push uploads snap to slot. ifVersion is AnyVersion to overwrite
// unconditionally, 0 to only create, or the version last pulled.
func (c *Client) Push(ctx context.Context, game string, slot int, label string, snap playback.Snapshot, ifVersion int64) (SaveInfo, error) {
	body, err := snap.Encode()
	if err != nil {
		return SaveInfo{}, err
	}
	hdr := http.Header{}
	if ifVersion >= 0 {
		hdr.Set("If-Match", strconv.FormatInt(ifVersion, 10))
	}
	p := savePath(game, slot)
	if label != "" {
		p += "?label=" + url.QueryEscape(label)
	}
	var info SaveInfo
	if err := c.do(ctx, http.MethodPut, p, hdr, body, &info); err != nil {
		return SaveInfo{}, err
	}
	return info, nil
}

// Pull downloads and validates the snapshot in slot.
func (c *Client) Pull(ctx context.Context, game string, slot int) (playback.Snapshot, SaveInfo, error) {
	var sv Save
	if err := c.do(ctx, http.MethodGet, savePath(game, slot), nil, nil, &sv); err != nil {
		return playback.Snapshot{}, SaveInfo{}, err
	}
	snap, err := playback.DecodeSnapshot(sv.Payload)
	if err != nil {
		return playback.Snapshot{}, SaveInfo{}, err
	}
	return snap, sv.SaveInfo, nil
}

// Delete removes the save in slot.
func (c *Client) Delete(ctx context.Context, game string, slot int) error {
	return c.do(ctx, http.MethodDelete, savePath(game, slot), nil, nil, nil)
}

// History lists replaced versions of slot, newest first.
func (c *Client) History(ctx context.Context, game string, slot int) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.do(ctx, http.MethodGet, savePath(game, slot)+"/history", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
