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
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"luminascript/internal/storage"
)

// PNGOptions controls route map rendering.
// Scale multiplies the pixel size (1 when zero); colours default to the
// project's theme.
type PNGOptions struct {
	Scale int
}

// ExportRouteMapPNG draws the project's scene graph to outPath. A relative
// outPath is placed under the project's exports folder.
func ExportRouteMapPNG(ph *storage.ProjectHandle, outPath string, opt PNGOptions) error {
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

	img := image.NewRGBA(image.Rect(0, 0, rm.Width, rm.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	edgeCol := toRGBA(sub)
	for _, e := range rm.Edges {
		x0, y0 := rm.Nodes[e.From].bottom()
		x1, y1 := rm.Nodes[e.To].top()
		drawLine(img, x0, y0, x1, y1, edgeCol)
		if e.Route != "" {
			drawText(img, (x0+x1)/2+4, (y0+y1)/2+4, e.Route, edgeCol)
		}
	}
	black := color.RGBA{0, 0, 0, 255}
	for _, h := range rm.Headers {
		drawText(img, margin, h.Y, h.Text, toRGBA(theme))
	}
	for _, n := range rm.Nodes {
		fillRect(img, n.X, n.Y, n.X+boxW-1, n.Y+boxH-1, toRGBA(nodeFill(n.ID.Kind, theme, sub)))
		strokeRect(img, n.X, n.Y, n.X+boxW-1, n.Y+boxH-1, black)
		for i, line := range boxText(n, (boxW-12)/7) {
			drawText(img, n.X+6, n.Y+15+i*14, line, black)
		}
	}

	var out image.Image = img
	if opt.Scale > 1 {
		out = upscale(img, opt.Scale)
	}
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(ph.Root, storage.ExportsDirName, outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(f, out); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}

func toRGBA(c rgb) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// drawText writes s with its baseline at (x, y) in the 7x13 bitmap face.
// Runes the face lacks are drawn as its replacement glyph.
func drawText(img *image.RGBA, x, y int, s string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawLine draws a 1px line with Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, col)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// strokeRect draws a 1px axis-aligned rectangle border inclusive of endpoints.
func strokeRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y0, col)
		img.SetRGBA(x, y1, col)
	}
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x0, y, col)
		img.SetRGBA(x1, y, col)
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	draw.Draw(img, image.Rect(x0, y0, x1+1, y1+1), &image.Uniform{C: col}, image.Point{}, draw.Src)
}

// upscale repeats every pixel k times in both directions.
func upscale(src *image.RGBA, k int) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*k, b.Dy()*k))
	for y := 0; y < dst.Bounds().Dy(); y++ {
		for x := 0; x < dst.Bounds().Dx(); x++ {
			dst.SetRGBA(x, y, src.RGBAAt(b.Min.X+x/k, b.Min.Y+y/k))
		}
	}
	return dst
}
