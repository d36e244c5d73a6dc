/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"luminascript/internal/scenario"
	"luminascript/internal/storage"
)

func sampleProject(t *testing.T) *storage.ProjectHandle {
	t.Helper()
	meta := scenario.DefaultMeta()
	meta.Title = "Test & Project"
	meta.Creator = "Tester"
	ph, err := storage.InitProject(t.TempDir(), meta)
	if err != nil {
		t.Fatalf("init project: %v", err)
	}
	if _, err := ph.Compiled(); err != nil {
		t.Fatalf("sample does not compile: %v", err)
	}
	return ph
}

func TestExportScriptPDF_CreatesFile(t *testing.T) {
	ph := sampleProject(t)
	out := filepath.Join(ph.Root, "exports", "script-test.pdf")
	if err := ExportScriptPDF(ph, out, PDFOptions{IncludeAssets: true}); err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(b), "%PDF-") {
		t.Fatalf("not a pdf: %q", b[:8])
	}
}

func TestExportScriptPDF_RelativePathAndErrors(t *testing.T) {
	ph := sampleProject(t)
	if err := ExportScriptPDF(ph, "book.pdf", PDFOptions{PageSize: "letter", Chapters: []int{1}}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ph.Root, "exports", "book.pdf")); err != nil {
		t.Fatalf("relative path not under exports: %v", err)
	}
	if err := ExportScriptPDF(ph, "x.pdf", PDFOptions{PageSize: "B7"}); err == nil {
		t.Fatalf("expected error for unknown page size")
	}
	if err := ExportScriptPDF(nil, "x.pdf", PDFOptions{}); err == nil {
		t.Fatalf("expected error for nil project")
	}
}

func TestExport_BrokenScenario(t *testing.T) {
	ph := sampleProject(t)
	if err := storage.SaveScenario(ph, []scenario.Row{{SceneID: "1-1", Text: "a"}, {SceneID: "1-1", Text: "b"}}); err != nil {
		t.Fatal(err)
	}
	broken, err := storage.Open(ph.Root)
	if err != nil {
		t.Fatal(err)
	}
	if err := ExportRouteMapPNG(broken, "m.png", PNGOptions{}); err == nil {
		t.Fatalf("expected build error to surface")
	}
}
