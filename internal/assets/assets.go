/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package assets resolves the image names used in a scenario to files under
// a game project's assets folder.
package assets

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	applog "luminascript/internal/log"
	"luminascript/internal/scenario"
	"luminascript/internal/story"
)

// Category selects the assets subfolder a name is resolved in.
type Category string

const (
	Backgrounds Category = "backgrounds"
	Characters  Category = "characters"
)

// None is the reference reported for names that do not resolve.
const None = "none"

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// MIMEType returns the image MIME type for name's extension, image/png when
// the extension is unknown.
func MIMEType(name string) string {
	if m, ok := mimeByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return m
	}
	return "image/png"
}

// Resolver maps asset names to files below Root/assets.
type Resolver struct {
	Root string
}

// Dir returns the folder for cat.
func (r Resolver) Dir(cat Category) string {
	return filepath.Join(r.Root, "assets", string(cat))
}

// Path returns the file for name in cat. A name without extension gets
// ".png" appended; if that file is missing the bare name is tried.
// Names that escape the category folder never resolve.
func (r Resolver) Path(cat Category, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == None {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	dir := r.Dir(cat)
	cands := []string{clean}
	if filepath.Ext(clean) == "" {
		cands = []string{clean + ".png", clean}
	}
	for _, c := range cands {
		p := filepath.Join(dir, c)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	applog.WithComponent("assets").Debug("asset not found",
		slog.String("category", string(cat)), slog.String("name", name))
	return "", false
}

// Ref returns the slash-separated path of name relative to the project
// root, or None.
func (r Resolver) Ref(cat Category, name string) string {
	p, ok := r.Path(cat, name)
	if !ok {
		return None
	}
	rel, err := filepath.Rel(r.Root, p)
	if err != nil {
		return None
	}
	return filepath.ToSlash(rel)
}

// DataURI reads the file for name and returns it as a base64 data URI.
func (r Resolver) DataURI(cat Category, name string) (string, error) {
	p, ok := r.Path(cat, name)
	if !ok {
		return "", fmt.Errorf("%s asset %q: %w", cat, name, os.ErrNotExist)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return "data:" + MIMEType(p) + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}

// Refs is the resolved asset set of one scene.
type Refs struct {
	Background string             `json:"background"`
	Portraits  scenario.Portraits `json:"portraits"`
}

// Scene resolves the background and portraits of rec.
func (r Resolver) Scene(rec scenario.Record) Refs {
	return Refs{
		Background: r.Ref(Backgrounds, rec.Background),
		Portraits: scenario.Portraits{
			Center: r.Ref(Characters, rec.Portraits.Center),
			Left:   r.Ref(Characters, rec.Portraits.Left),
			Right:  r.Ref(Characters, rec.Portraits.Right),
		},
	}
}

// Report lists the image names a graph and its metadata reference, split by
// whether they resolve.
type Report struct {
	Found   map[string]string
	Missing []string
}

// Check resolves every background, portrait and the title background used
// by g and meta.
func (r Resolver) Check(g *story.Graph, meta scenario.Meta) Report {
	rep := Report{Found: map[string]string{}}
	seen := map[string]bool{}
	try := func(cat Category, name string) {
		if name == "" {
			return
		}
		key := string(cat) + "/" + name
		if seen[key] {
			return
		}
		seen[key] = true
		if p, ok := r.Path(cat, name); ok {
			rep.Found[key] = p
		} else {
			rep.Missing = append(rep.Missing, key)
		}
	}
	try(Backgrounds, meta.TitleImage)
	for _, rec := range g.Records() {
		try(Backgrounds, rec.Background)
		try(Characters, rec.Portraits.Center)
		try(Characters, rec.Portraits.Left)
		try(Characters, rec.Portraits.Right)
	}
	sort.Strings(rep.Missing)
	return rep
}
