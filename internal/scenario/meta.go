/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scenario

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Meta is the game-level metadata kept in a project's config.yml.
type Meta struct {
	Title        string `yaml:"adv_title"`
	SubTitle     string `yaml:"adv_sub_title"`
	TitleImage   string `yaml:"title_bg_image"`
	Creator      string `yaml:"creator_name"`
	ThemeColor   string `yaml:"theme_color"`
	SubColor     string `yaml:"sub_color"`
	TextColor    string `yaml:"text_color"`
	FontURL      string `yaml:"text_font_importURL"`
	XURL         string `yaml:"x_account_url"`
	VRChatURL    string `yaml:"vrchat_account_url"`
	FediverseURL string `yaml:"fediverse_account_url"`
	WebURL       string `yaml:"web_url"`
	BoothURL     string `yaml:"booth_url"`
	FaviconURL   string `yaml:"favicon_url"`
}

// DefaultMeta returns the metadata used when config.yml is missing or leaves
// fields out.
func DefaultMeta() Meta {
	return Meta{
		Title:      "LuminaScript Game",
		ThemeColor: "#667EEA",
		SubColor:   "#754CA3",
		TextColor:  "#FFFFFF",
	}
}

var hexColor = regexp.MustCompile(`^#(?:[0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

// LoadMeta reads config.yml at path and merges it over DefaultMeta. A
// missing file is not an error. Colours that are not #rgb or #rrggbb fall
// back to their defaults; the returned warnings name them.
func LoadMeta(path string) (Meta, []string, error) {
	m := DefaultMeta()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil, nil
	}
	if err != nil {
		return m, nil, err
	}
	var in Meta
	if err := yaml.Unmarshal(b, &in); err != nil {
		return m, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var warns []string
	def := m
	mergeMeta(&m, in)
	for _, c := range []struct {
		name string
		v    *string
		def  string
	}{
		{"theme_color", &m.ThemeColor, def.ThemeColor},
		{"sub_color", &m.SubColor, def.SubColor},
		{"text_color", &m.TextColor, def.TextColor},
	} {
		if !hexColor.MatchString(*c.v) {
			warns = append(warns, fmt.Sprintf("%s %q is not a hex colour; using %s", c.name, *c.v, c.def))
			*c.v = c.def
		}
	}
	return m, warns, nil
}

// mergeMeta copies non-empty fields of src into dst.
func mergeMeta(dst *Meta, src Meta) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Title, src.Title)
	set(&dst.SubTitle, src.SubTitle)
	set(&dst.TitleImage, src.TitleImage)
	set(&dst.Creator, src.Creator)
	set(&dst.ThemeColor, src.ThemeColor)
	set(&dst.SubColor, src.SubColor)
	set(&dst.TextColor, src.TextColor)
	set(&dst.FontURL, src.FontURL)
	set(&dst.XURL, src.XURL)
	set(&dst.VRChatURL, src.VRChatURL)
	set(&dst.FediverseURL, src.FediverseURL)
	set(&dst.WebURL, src.WebURL)
	set(&dst.BoothURL, src.BoothURL)
	set(&dst.FaviconURL, src.FaviconURL)
}

// Links returns the non-empty creator links keyed by label, in display order.
func (m Meta) Links() [][2]string {
	var out [][2]string
	for _, l := range [][2]string{
		{"X", m.XURL}, {"VRChat", m.VRChatURL}, {"Fediverse", m.FediverseURL},
		{"Web", m.WebURL}, {"BOOTH", m.BoothURL},
	} {
		if l[1] != "" {
			out = append(out, l)
		}
	}
	return out
}

// EncodeMeta renders m as config.yml content.
func EncodeMeta(m Meta) ([]byte, error) { return yaml.Marshal(m) }
