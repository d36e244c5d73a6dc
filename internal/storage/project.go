/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"luminascript/internal/scenario"
	"luminascript/internal/story"
)

const (
	ScenarioFileName = "scenario.csv"
	MetaFileName     = "config.yml"
	BackupsDirName   = "backups"
	ExportsDirName   = "exports"
	AssetsDirName    = "assets"
)

// Standard subfolders of a game project.
var standardSubDirs = []string{
	filepath.Join(AssetsDirName, "backgrounds"),
	filepath.Join(AssetsDirName, "characters"),
	ExportsDirName,
	BackupsDirName,
}

// ProjectHandle is a loaded game project. Graph is nil when the scenario
// failed to compile; BuildErr then holds the reason.
type ProjectHandle struct {
	Root         string
	ScenarioPath string
	MetaPath     string
	Meta         scenario.Meta
	Table        scenario.Table
	Graph        *story.Graph
	BuildErr     error
	// Warnings collects non-fatal problems found while loading.
	Warnings []string
}

func newHandle(root string) *ProjectHandle {
	return &ProjectHandle{
		Root:         root,
		ScenarioPath: filepath.Join(root, ScenarioFileName),
		MetaPath:     filepath.Join(root, MetaFileName),
	}
}

// InitProject creates a new game project at root (creating it if it doesn't
// exist), scaffolds the standard subfolders and writes config.yml and a
// sample scenario. An existing scenario.csv is left untouched.
func InitProject(root string, meta scenario.Meta) (*ProjectHandle, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create project root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	ph := newHandle(root)
	ph.Meta = meta
	if err := SaveMeta(ph); err != nil {
		return nil, err
	}
	if _, err := os.Stat(ph.ScenarioPath); errors.Is(err, os.ErrNotExist) {
		if err := SaveScenario(ph, SampleRows()); err != nil {
			return nil, err
		}
	}
	return Open(root)
}

// Open loads config.yml and scenario.csv from root and compiles the
// scenario. A config.yml that cannot be parsed is replaced by its latest
// backup. Scenario build errors do not fail Open; they are kept in BuildErr
// so tools can still report on the project.
func Open(root string) (*ProjectHandle, error) {
	ph := newHandle(root)
	meta, warns, err := scenario.LoadMeta(ph.MetaPath)
	if err != nil {
		bmeta, berr := openMetaFromLatestBackup(root)
		if berr != nil {
			return nil, fmt.Errorf("open %s: %w; backup attempt: %v", MetaFileName, err, berr)
		}
		warns = append(warns, fmt.Sprintf("%s unreadable (%v); using latest backup", MetaFileName, err))
		meta = bmeta
	}
	ph.Meta = meta
	ph.Warnings = append(ph.Warnings, warns...)

	tbl, err := scenario.LoadCSV(ph.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	ph.Table = tbl
	ph.Graph, ph.BuildErr = story.Build(tbl.Rows)
	return ph, nil
}

// Compiled returns the project's story graph or the error that prevented
// building it.
func (ph *ProjectHandle) Compiled() (*story.Graph, error) {
	if ph.Graph == nil {
		if ph.BuildErr != nil {
			return nil, ph.BuildErr
		}
		return nil, errors.New("scenario not compiled")
	}
	return ph.Graph, nil
}

// SaveMeta writes ph.Meta to config.yml with a backup of the previous file.
func SaveMeta(ph *ProjectHandle) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	data, err := scenario.EncodeMeta(ph.Meta)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", MetaFileName, err)
	}
	return replaceWithBackup(ph.Root, ph.MetaPath, data)
}

// SaveScenario writes rows to scenario.csv with a backup of the previous file.
func SaveScenario(ph *ProjectHandle, rows []scenario.Row) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	var buf bytes.Buffer
	if err := scenario.WriteCSV(&buf, rows); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}
	return replaceWithBackup(ph.Root, ph.ScenarioPath, buf.Bytes())
}

// replaceWithBackup copies target to a timestamped backup (if present) and
// replaces it transactionally with data.
func replaceWithBackup(root, target string, data []byte) error {
	if root == "" || target == "" {
		return errors.New("invalid ProjectHandle: missing paths")
	}
	bdir := filepath.Join(root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	name := filepath.Base(target)
	if _, statErr := os.Stat(target); statErr == nil {
		stamp := time.Now().Format("20060102-150405.000")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", name, stamp))
		if cerr := copyFile(target, bpath); cerr != nil {
			return fmt.Errorf("backup %s: %w", name, cerr)
		}
	}
	return writeAtomic(target, data)
}

// writeAtomic writes to a temp file in the target's directory, then renames
// it over the target.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(target), os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(target), werr)
	}
	// On Windows, replace by removing destination first if needed
	if _, err := os.Stat(target); err == nil {
		_ = os.Remove(target)
	}
	if rerr := os.Rename(temp, target); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace %s: %w", filepath.Base(target), rerr)
	}
	return nil
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// backups returns the backups of a project file, oldest first.
func backups(root, name string) ([]string, error) {
	bdir := filepath.Join(root, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if strings.HasPrefix(n, name+".") && strings.HasSuffix(n, ".bak") {
			out = append(out, filepath.Join(bdir, n))
		}
	}
	sort.Strings(out) // timestamp in name yields lexicographic order
	return out, nil
}

// openMetaFromLatestBackup loads the newest config.yml backup that parses.
func openMetaFromLatestBackup(root string) (scenario.Meta, error) {
	cands, err := backups(root, MetaFileName)
	if err != nil {
		return scenario.Meta{}, err
	}
	for i := len(cands) - 1; i >= 0; i-- {
		m, _, err := scenario.LoadMeta(cands[i])
		if err == nil {
			return m, nil
		}
	}
	return scenario.Meta{}, errors.New("no usable backups found")
}
