/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"luminascript/internal/scenario"
	"luminascript/internal/storage"
	"luminascript/internal/story"
)

// PDFOptions controls the script book export.
//
// The built-in Helvetica only covers Latin-1; set FontFile to a TrueType
// font to print other scripts (Japanese dialogue needs one).
type PDFOptions struct {
	PageSize      string // "A4" (default), "A5" or "Letter"
	FontFile      string
	IncludeAssets bool // print background and portrait names under each scene
	Chapters      []int
}

const scriptFont = "script"

// ExportScriptPDF writes the project's scenario as a readable script: a
// title page, then one section per chapter with dialogue, choices and the
// routes they lead to.
func ExportScriptPDF(ph *storage.ProjectHandle, outPath string, opt PDFOptions) error {
	if ph == nil {
		return fmt.Errorf("project handle is nil")
	}
	g, err := ph.Compiled()
	if err != nil {
		return err
	}
	size := opt.PageSize
	switch strings.ToLower(size) {
	case "", "a4":
		size = "A4"
	case "a5":
		size = "A5"
	case "letter":
		size = "Letter"
	default:
		return fmt.Errorf("unknown page size %q", opt.PageSize)
	}

	pdf := gofpdf.New("P", "mm", size, "")
	family := "Helvetica"
	tr := func(s string) string { return s }
	if opt.FontFile != "" {
		pdf.AddUTF8Font(scriptFont, "", opt.FontFile)
		pdf.AddUTF8Font(scriptFont, "B", opt.FontFile)
		pdf.AddUTF8Font(scriptFont, "I", opt.FontFile)
		family = scriptFont
	} else {
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	meta := ph.Meta
	pdf.SetTitle(meta.Title, true)
	pdf.SetAuthor(meta.Creator, true)
	pdf.SetCreator("LuminaScript", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(family, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 6, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	theme := parseHex(meta.ThemeColor, rgb{0x66, 0x7e, 0xea})

	// title page
	pdf.AddPage()
	pdf.SetY(70)
	pdf.SetFont(family, "B", 26)
	pdf.SetTextColor(int(theme.R), int(theme.G), int(theme.B))
	pdf.MultiCell(0, 12, tr(meta.Title), "", "C", false)
	pdf.SetTextColor(0, 0, 0)
	if meta.SubTitle != "" {
		pdf.SetFont(family, "I", 14)
		pdf.MultiCell(0, 8, tr(meta.SubTitle), "", "C", false)
	}
	if meta.Creator != "" {
		pdf.Ln(6)
		pdf.SetFont(family, "", 12)
		pdf.MultiCell(0, 7, tr("by "+meta.Creator), "", "C", false)
	}
	st := g.Stats()
	pdf.Ln(20)
	pdf.SetFont(family, "", 9)
	pdf.SetTextColor(96, 96, 96)
	pdf.MultiCell(0, 5, tr(fmt.Sprintf("%d scenes · %d chapters · %d choices · %d routes · %d endings",
		st.Scenes, st.Chapters, st.Choices, st.Routes, st.Endings)), "", "C", false)
	pdf.MultiCell(0, 5, "scenario "+shortFingerprint(g.Fingerprint()), "", "C", false)
	pdf.SetTextColor(0, 0, 0)

	want := map[int]bool{}
	for _, c := range opt.Chapters {
		want[c] = true
	}
	byChapter := map[int][]scenario.Record{}
	for _, r := range g.Records() {
		byChapter[r.ID.Chapter] = append(byChapter[r.ID.Chapter], r)
	}
	for _, ch := range g.Chapters() {
		if len(want) > 0 && !want[ch] {
			continue
		}
		w := scriptWriter{pdf: pdf, g: g, family: family, tr: tr, theme: theme, assets: opt.IncludeAssets}
		w.chapter(ch, byChapter[ch])
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}

	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(ph.Root, storage.ExportsDirName, outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

type scriptWriter struct {
	pdf    *gofpdf.Fpdf
	g      *story.Graph
	family string
	tr     func(string) string
	theme  rgb
	assets bool
}

func (w scriptWriter) chapter(ch int, recs []scenario.Record) {
	pdf := w.pdf
	pdf.AddPage()
	heading := fmt.Sprintf("Chapter %d", ch)
	pdf.Bookmark(heading, 0, -1)
	pdf.SetFont(w.family, "B", 18)
	pdf.SetTextColor(int(w.theme.R), int(w.theme.G), int(w.theme.B))
	pdf.CellFormat(0, 10, heading, "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(2)

	routeLabel := map[string]string{}
	for _, r := range recs {
		if r.ID.Kind == scenario.KindChoice {
			for _, c := range w.g.Choices(r.ID) {
				routeLabel[c.Route] = c.Label
			}
		}
	}
	for _, r := range recs {
		if r.ID.Route != "" {
			if entry, ok := w.g.RouteEntry(ch, r.ID.Route); ok && entry == r.ID {
				w.routeHeading(r.ID.Route, routeLabel[r.ID.Route])
			}
		}
		w.scene(r)
	}
}

func (w scriptWriter) routeHeading(route, label string) {
	pdf := w.pdf
	pdf.Ln(4)
	text := "Route " + route
	if label != "" {
		text += ": " + label
	}
	pdf.Bookmark(w.tr(text), 1, -1)
	pdf.SetFont(w.family, "B", 13)
	pdf.MultiCell(0, 7, w.tr(text), "B", "L", false)
	pdf.Ln(2)
}

func (w scriptWriter) scene(r scenario.Record) {
	pdf := w.pdf
	pdf.SetFont(w.family, "", 7)
	pdf.SetTextColor(140, 140, 140)
	label := r.ID.String()
	if w.assets {
		if a := assetLine(r); a != "" {
			label += "   " + a
		}
	}
	pdf.MultiCell(0, 4, w.tr(label), "", "L", false)
	pdf.SetTextColor(0, 0, 0)

	switch r.ID.Kind {
	case scenario.KindTitle:
		pdf.SetFont(w.family, "B", 14)
		pdf.MultiCell(0, 8, w.tr(r.Text), "", "C", false)
	case scenario.KindChoice:
		pdf.SetFont(w.family, "B", 11)
		pdf.CellFormat(0, 6, "Choice", "", 1, "L", false, 0, "")
		pdf.SetFont(w.family, "", 11)
		for _, c := range w.g.Choices(r.ID) {
			line := fmt.Sprintf("  %s  %s", c.Route, c.Label)
			if entry, ok := w.g.RouteEntry(r.ID.Chapter, c.Route); ok {
				line += "  (" + entry.String() + ")"
			}
			pdf.MultiCell(0, 6, w.tr(line), "", "L", false)
		}
	case scenario.KindEnding:
		pdf.SetFont(w.family, "I", 11)
		text := r.Text
		if text == "" {
			text = "End"
		}
		pdf.MultiCell(0, 6, w.tr(text), "", "C", false)
	default:
		if r.Speaker != "" {
			pdf.SetFont(w.family, "B", 11)
			pdf.MultiCell(0, 6, w.tr(r.Speaker), "", "L", false)
		}
		pdf.SetFont(w.family, "", 11)
		pdf.SetLeftMargin(28)
		pdf.SetX(28)
		pdf.MultiCell(0, 6, w.tr(r.Text), "", "L", false)
		pdf.SetLeftMargin(20)
	}
	pdf.Ln(3)
}

// assetLine names the images a scene uses.
func assetLine(r scenario.Record) string {
	var parts []string
	if r.Background != "" {
		parts = append(parts, "bg "+r.Background)
	}
	if r.Portraits.Left != "" {
		parts = append(parts, "L "+r.Portraits.Left)
	}
	if r.Portraits.Center != "" {
		parts = append(parts, "C "+r.Portraits.Center)
	}
	if r.Portraits.Right != "" {
		parts = append(parts, "R "+r.Portraits.Right)
	}
	return strings.Join(parts, " · ")
}
