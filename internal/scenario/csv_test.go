/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scenario

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const sampleCSV = "scene_id,person_name,text,background_image\n" +
	"1-T,,Chapter One,room\n" +
	"1-1,Ann,\"hello\nthere\",room\n" +
	",,,\n" +
	"1-Q,,\"A go\nB stay\",\n"

func TestReadCSVUTF8(t *testing.T) {
	tbl, err := ReadCSV([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.Encoding != "utf-8" || tbl.Delimiter != ',' {
		t.Fatalf("encoding=%s delim=%q", tbl.Encoding, tbl.Delimiter)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("want 3 rows (blank id skipped), got %d", len(tbl.Rows))
	}
	r := tbl.Rows[1]
	if r.SceneID != "1-1" || r.PersonName != "Ann" || r.Text != "hello\nthere" || r.BackgroundImage != "room" {
		t.Fatalf("unexpected row: %+v", r)
	}
	if r.Line != 3 {
		t.Fatalf("row line=%d want 3", r.Line)
	}
	if tbl.Rows[2].Text != "A go\nB stay" {
		t.Fatalf("choice text not preserved: %q", tbl.Rows[2].Text)
	}
}

func TestReadCSVWithBOMAndTabs(t *testing.T) {
	in := "\xEF\xBB\xBFscene_id\tperson_name\ttext\n1-T\t\tTitle\n1-1\tBo\tline\n"
	tbl, err := ReadCSV([]byte(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.Delimiter != '\t' || len(tbl.Rows) != 2 || tbl.Rows[0].SceneID != "1-T" {
		t.Fatalf("unexpected table: %+v", tbl)
	}
}

func TestSniffDelimiterIgnoresSpaces(t *testing.T) {
	cases := map[string]rune{
		"scene_id, text\n1-1, hi\n":    ',',
		"scene_id\ttext,x\tmore\n":     '\t',
		"scene_id \n1-1 hello there\n": ',',
		"scene id\n":                   ',',
		"":                             ',',
	}
	for in, want := range cases {
		if got := sniffDelimiter([]byte(in)); got != want {
			t.Fatalf("sniffDelimiter(%q) = %q, want %q", in, got, want)
		}
	}
	tbl, err := ReadCSV([]byte("scene_id \n1-T\n1-1\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.Delimiter != ',' || len(tbl.Rows) != 2 || tbl.Rows[1].SceneID != "1-1" {
		t.Fatalf("unexpected table: %+v", tbl)
	}
}

func TestReadCSVUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	b, _, err := transform.Bytes(enc, []byte(sampleCSV))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tbl, err := ReadCSV(b)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.Encoding != "utf-16le" || len(tbl.Rows) != 3 {
		t.Fatalf("encoding=%s rows=%d", tbl.Encoding, len(tbl.Rows))
	}
}

func TestReadCSVShiftJIS(t *testing.T) {
	src := "scene_id,person_name,text\n1-T,,はじまり\n1-1,ルミナ,おはよう\n"
	b, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(src))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tbl, err := ReadCSV(b)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.Encoding != "shift-jis" {
		t.Fatalf("encoding=%s", tbl.Encoding)
	}
	if tbl.Rows[1].PersonName != "ルミナ" || tbl.Rows[1].Text != "おはよう" {
		t.Fatalf("decoded row mismatch: %+v", tbl.Rows[1])
	}
}

func TestReadCSVMissingSceneID(t *testing.T) {
	_, err := ReadCSV([]byte("id,text\n1-T,x\n"))
	if !errors.Is(err, ErrNoSceneIDColumn) {
		t.Fatalf("want ErrNoSceneIDColumn, got %v", err)
	}
	if _, err := ReadCSV(nil); !errors.Is(err, ErrNoSceneIDColumn) {
		t.Fatalf("empty input: want ErrNoSceneIDColumn, got %v", err)
	}
}

func TestWriteCSVThenLoad(t *testing.T) {
	rows := []Row{
		{SceneID: "1-T", Text: "Start"},
		{SceneID: "1-1", PersonName: "Ann", Text: "two\nlines", LeftPortrait: "ann_smile", BGM: "calm"},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	p := filepath.Join(t.TempDir(), "scenario.csv")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tbl, err := LoadCSV(p)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("rows=%d", len(tbl.Rows))
	}
	got := tbl.Rows[1]
	if got.Text != "two\nlines" || got.LeftPortrait != "ann_smile" || got.BGM != "calm" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestLoadMetaDefaultsAndMerge(t *testing.T) {
	dir := t.TempDir()
	m, warns, err := LoadMeta(filepath.Join(dir, "config.yml"))
	if err != nil || len(warns) != 0 {
		t.Fatalf("missing file: %v %v", err, warns)
	}
	if m != DefaultMeta() {
		t.Fatalf("defaults mismatch: %+v", m)
	}

	p := filepath.Join(dir, "config.yml")
	y := "adv_title: Night Walk\ncreator_name: Rin\nsub_color: purple\nweb_url: https://example.org\n"
	if err := os.WriteFile(p, []byte(y), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, warns, err = LoadMeta(p)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if m.Title != "Night Walk" || m.Creator != "Rin" || m.ThemeColor != "#667EEA" {
		t.Fatalf("merge mismatch: %+v", m)
	}
	if m.SubColor != "#754CA3" || len(warns) != 1 {
		t.Fatalf("invalid colour should fall back with a warning: %+v %v", m, warns)
	}
	if links := m.Links(); len(links) != 1 || links[0][0] != "Web" {
		t.Fatalf("Links()=%v", links)
	}
	out, err := EncodeMeta(m)
	if err != nil || !bytes.Contains(out, []byte("adv_title: Night Walk")) {
		t.Fatalf("EncodeMeta: %s %v", out, err)
	}
}
