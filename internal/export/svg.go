/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"luminascript/internal/storage"
)

// SVGOptions controls SVG route map output.
type SVGOptions struct {
	// FontFamily for labels; monospace when empty.
	FontFamily string
}

// ExportRouteMapSVG writes the project's scene graph as a standalone SVG
// file. Unlike the PNG map, labels keep every character of the scenario.
func ExportRouteMapSVG(ph *storage.ProjectHandle, outPath string, opt SVGOptions) error {
	if ph == nil {
		return fmt.Errorf("project handle is nil")
	}
	g, err := ph.Compiled()
	if err != nil {
		return err
	}
	rm := layoutRouteMap(g)
	theme := parseHex(ph.Meta.ThemeColor, rgb{0x66, 0x7e, 0xea})
	sub := parseHex(ph.Meta.SubColor, rgb{0x75, 0x4c, 0xa3})
	family := opt.FontFamily
	if family == "" {
		family = "monospace"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?>`+"\n")
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="%s" font-size="12">`+"\n",
		rm.Width, rm.Height, rm.Width, rm.Height, escAttr(family))
	fmt.Fprintf(&b, `<title>%s</title>`+"\n", escText(ph.Meta.Title))
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="#ffffff"/>`+"\n", rm.Width, rm.Height)

	b.WriteString(`<g id="edges" fill="none">` + "\n")
	for _, e := range rm.Edges {
		x0, y0 := rm.Nodes[e.From].bottom()
		x1, y1 := rm.Nodes[e.To].top()
		fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="1"/>`+"\n", x0, y0, x1, y1, sub.hex())
		if e.Route != "" {
			fmt.Fprintf(&b, `<text x="%d" y="%d" fill="%s">%s</text>`+"\n", (x0+x1)/2+4, (y0+y1)/2+4, sub.hex(), escText(e.Route))
		}
	}
	b.WriteString("</g>\n")

	for _, h := range rm.Headers {
		fmt.Fprintf(&b, `<text x="%d" y="%d" fill="%s" font-weight="bold">%s</text>`+"\n", margin, h.Y, theme.hex(), escText(h.Text))
	}

	b.WriteString(`<g id="scenes">` + "\n")
	for _, n := range rm.Nodes {
		fmt.Fprintf(&b, `<g id="%s">`, escAttr("scene-"+n.Label))
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" rx="4" fill="%s" stroke="#000000"/>`,
			n.X, n.Y, boxW, boxH, nodeFill(n.ID.Kind, theme, sub).hex())
		for i, line := range boxText(n, 22) {
			fmt.Fprintf(&b, `<text x="%d" y="%d">%s</text>`, n.X+6, n.Y+15+i*14, escText(line))
		}
		b.WriteString("</g>\n")
	}
	b.WriteString("</g>\n</svg>\n")

	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(ph.Root, storage.ExportsDirName, outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := os.WriteFile(outPath, b.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write svg: %w", err)
	}
	return nil
}

func escAttr(s string) string {
	// naive escaping sufficient for our simple usage
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '"':
			out = append(out, []byte("&quot;")...)
		case '&':
			out = append(out, []byte("&amp;")...)
		case '<':
			out = append(out, []byte("&lt;")...)
		case '\n':
			out = append(out, ' ')
		case '\r':
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

func escText(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '&':
			out = append(out, []byte("&amp;")...)
		case '<':
			out = append(out, []byte("&lt;")...)
		case '>':
			out = append(out, []byte("&gt;")...)
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}
