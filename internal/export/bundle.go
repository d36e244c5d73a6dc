/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"luminascript/internal/assets"
	"luminascript/internal/scenario"
	"luminascript/internal/storage"
	"luminascript/internal/story"
)

// Bundle is a compiled scenario with every image it references inlined, so
// a player can run it without the project folder.
type Bundle struct {
	Title       string            `json:"title"`
	SubTitle    string            `json:"sub_title,omitempty"`
	Creator     string            `json:"creator,omitempty"`
	ThemeColor  string            `json:"theme_color,omitempty"`
	TitleImage  string            `json:"title_image,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Scenes      []BundleScene     `json:"scenes"`
	Assets      map[string]string `json:"assets"` // "category/name" -> data URI
	Missing     []string          `json:"missing,omitempty"`
}

// BundleScene is one scene of a Bundle. Next is set for linear scenes,
// Choices for choice scenes.
type BundleScene struct {
	ID         scenario.Identifier  `json:"id"`
	Speaker    string               `json:"speaker,omitempty"`
	Lines      []string             `json:"lines,omitempty"`
	Background string               `json:"background,omitempty"`
	Portraits  *scenario.Portraits  `json:"portraits,omitempty"`
	Effect     string               `json:"effect,omitempty"`
	Sounds     string               `json:"sounds,omitempty"`
	BGM        string               `json:"bgm,omitempty"`
	Next       *scenario.Identifier `json:"next,omitempty"`
	Choices    []story.Choice       `json:"choices,omitempty"`
}

// BuildBundle compiles ph and encodes every background and portrait that
// resolves under its assets folder. Names that do not resolve are listed
// in Missing.
func BuildBundle(ph *storage.ProjectHandle) (*Bundle, error) {
	if ph == nil {
		return nil, fmt.Errorf("project handle is nil")
	}
	g, err := ph.Compiled()
	if err != nil {
		return nil, err
	}
	meta := ph.Meta
	b := &Bundle{
		Title:       meta.Title,
		SubTitle:    meta.SubTitle,
		Creator:     meta.Creator,
		ThemeColor:  meta.ThemeColor,
		TitleImage:  meta.TitleImage,
		Fingerprint: g.Fingerprint(),
		Assets:      map[string]string{},
	}
	for _, r := range g.Records() {
		s := BundleScene{
			ID:         r.ID,
			Speaker:    r.Speaker,
			Lines:      r.Lines(),
			Background: r.Background,
			Effect:     r.Effect,
			Sounds:     r.Sounds,
			BGM:        r.BGM,
			Choices:    g.Choices(r.ID),
		}
		if !r.Portraits.Empty() {
			p := r.Portraits
			s.Portraits = &p
		}
		if next, ok := g.Successor(r.ID); ok {
			s.Next = &next
		}
		b.Scenes = append(b.Scenes, s)
	}

	res := assets.Resolver{Root: ph.Root}
	rep := res.Check(g, meta)
	keys := make([]string, 0, len(rep.Found))
	for k := range rep.Found {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cat, name, _ := strings.Cut(key, "/")
		uri, err := res.DataURI(assets.Category(cat), name)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		b.Assets[key] = uri
	}
	b.Missing = rep.Missing
	return b, nil
}

// ExportBundle writes the bundle of ph as indented JSON. A relative outPath
// is placed under the project's exports folder.
func ExportBundle(ph *storage.ProjectHandle, outPath string) error {
	b, err := BuildBundle(ph)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(ph.Root, storage.ExportsDirName, outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	return nil
}
