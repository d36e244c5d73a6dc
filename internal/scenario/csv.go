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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrNoSceneIDColumn is returned when no decoding of the input yields a
	// header containing scene_id.
	ErrNoSceneIDColumn = errors.New("scenario: missing scene_id column")
)

// Table is the result of reading a scenario file.
type Table struct {
	Rows      []Row
	Encoding  string
	Delimiter rune
}

// LoadCSV reads and decodes a scenario file from disk.
func LoadCSV(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, err
	}
	t, err := ReadCSV(b)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

type candidate struct {
	name string
	enc  encoding.Encoding // nil means the bytes are already UTF-8
}

// candidates returns the decodings to try, most likely first. A byte order
// mark decides the encoding outright.
func candidates(b []byte) []candidate {
	switch {
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return []candidate{{name: "utf-8"}}
	case bytes.HasPrefix(b, []byte{0xFF, 0xFE}):
		return []candidate{{name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)}}
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		return []candidate{{name: "utf-16be", enc: unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)}}
	}
	var out []candidate
	if utf8.Valid(b) {
		out = append(out, candidate{name: "utf-8"})
	}
	out = append(out,
		candidate{name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)},
		candidate{name: "utf-16be", enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
		candidate{name: "shift-jis", enc: japanese.ShiftJIS},
	)
	return out
}

// ReadCSV decodes raw scenario bytes. UTF-8 (with or without BOM), UTF-16
// and Shift-JIS are tried in that order; the first decoding whose header has
// a scene_id column wins. The delimiter is sniffed from the header line.
func ReadCSV(b []byte) (Table, error) {
	var parseErr error
	for _, c := range candidates(b) {
		text := b
		if c.enc != nil {
			d, _, err := transform.Bytes(c.enc.NewDecoder(), b)
			if err != nil {
				continue
			}
			text = d
		}
		text = bytes.TrimPrefix(text, []byte{0xEF, 0xBB, 0xBF})
		if !utf8.Valid(text) {
			continue
		}
		delim := sniffDelimiter(text)
		rows, err := readRows(bytes.NewReader(text), delim)
		if err != nil {
			if parseErr == nil && !errors.Is(err, ErrNoSceneIDColumn) {
				parseErr = fmt.Errorf("scenario: %s: %w", c.name, err)
			}
			continue
		}
		return Table{Rows: rows, Encoding: c.name, Delimiter: delim}, nil
	}
	if parseErr != nil {
		return Table{}, parseErr
	}
	return Table{}, ErrNoSceneIDColumn
}

// sniffDelimiter picks comma or tab by counting them on the header line.
func sniffDelimiter(text []byte) rune {
	header := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		header = text[:i]
	}
	if bytes.Count(header, []byte{'\t'}) > bytes.Count(header, []byte{','}) {
		return '\t'
	}
	return ','
}

func readRows(r io.Reader, delim rune) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoSceneIDColumn
		}
		return nil, err
	}
	cols := make([]string, len(header))
	hasID := false
	for i, h := range header {
		cols[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if cols[i] == ColSceneID {
			hasID = true
		}
	}
	if !hasID {
		return nil, ErrNoSceneIDColumn
	}
	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		row := Row{Line: line}
		for i, v := range rec {
			if i >= len(cols) {
				break
			}
			row.set(cols[i], strings.TrimRight(v, "\r"))
		}
		if strings.TrimSpace(row.SceneID) == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes rows as UTF-8 CSV with the conventional header.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	rec := make([]string, len(Columns))
	for _, r := range rows {
		for i, c := range Columns {
			rec[i] = r.field(c)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
