/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0
 */

package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"luminascript/internal/storage"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
)

// BatchOptions controls batch export across formats.
//
// Path semantics:
//   - If OutDir is empty or relative, it is created under <project>/exports/<preset>/.
//   - Files are named script.pdf, routes.png, routes.svg and bundle.json.
type BatchOptions struct {
	Preset   PresetName
	Formats  []string // allowed: pdf, png, svg, bundle; empty means preset defaults
	OutDir   string
	PDF      PDFOptions
	PNGScale int // when > 0 overrides the preset's raster scale
}

// BatchExport runs the exports of a preset and returns the files written.
func BatchExport(ph *storage.ProjectHandle, opt BatchOptions) ([]string, error) {
	if ph == nil {
		return nil, fmt.Errorf("project handle is nil")
	}
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}

	baseOut := opt.OutDir
	if baseOut == "" {
		baseOut = string(opt.Preset)
		if baseOut == "" {
			baseOut = "default"
		}
	}
	if !filepath.IsAbs(baseOut) {
		baseOut = filepath.Join(ph.Root, storage.ExportsDirName, baseOut)
	}

	var written []string
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		var out string
		var err error
		switch f {
		case "pdf":
			out = filepath.Join(baseOut, "script.pdf")
			po := opt.PDF
			if po.PageSize == "" {
				po.PageSize = presetPageSize(opt.Preset)
			}
			err = ExportScriptPDF(ph, out, po)
		case "png":
			out = filepath.Join(baseOut, "routes.png")
			scale := presetScale(opt.Preset)
			if opt.PNGScale > 0 {
				scale = opt.PNGScale
			}
			err = ExportRouteMapPNG(ph, out, PNGOptions{Scale: scale})
		case "svg":
			out = filepath.Join(baseOut, "routes.svg")
			err = ExportRouteMapSVG(ph, out, SVGOptions{})
		case "bundle":
			out = filepath.Join(baseOut, "bundle.json")
			err = ExportBundle(ph, out)
		default:
			return written, fmt.Errorf("unknown format: %s", f)
		}
		if err != nil {
			return written, fmt.Errorf("%s: %w", f, err)
		}
		written = append(written, out)
	}
	return written, nil
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{"png", "svg", "bundle"}
	case PresetPrint:
		return []string{"pdf", "png"}
	default:
		return []string{"pdf"}
	}
}

func presetPageSize(p PresetName) string {
	if p == PresetPrint {
		return "A4"
	}
	return "A5"
}

func presetScale(p PresetName) int {
	if p == PresetPrint {
		return 3
	}
	return 1
}
