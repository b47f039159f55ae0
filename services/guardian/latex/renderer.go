// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package latex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Renderer rasterizes PDF pages to PNG files via pdftoppm.
type Renderer struct {
	dpi    int
	logger *slog.Logger
}

// NewRenderer creates a Renderer at the given DPI.
func NewRenderer(dpi int, logger *slog.Logger) *Renderer {
	if dpi <= 0 {
		dpi = 150
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{dpi: dpi, logger: logger}
}

// RenderPages renders every page of pdfPath into outputDir as
// page-NN.png files.
//
// Outputs:
//
//	[]string - Page image paths in page order. Never nil on success.
//	error - ErrRendererNotFound (wrapped) when pdftoppm is missing.
func (r *Renderer) RenderPages(ctx context.Context, pdfPath, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating render dir: %w", err)
	}

	pdftoppm, err := exec.LookPath("pdftoppm")
	if err != nil {
		return nil, fmt.Errorf("%w: install poppler-utils", ErrRendererNotFound)
	}

	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	prefix := filepath.Join(outputDir, "page")
	cmd := exec.CommandContext(runCtx, pdftoppm,
		"-png", "-r", strconv.Itoa(r.dpi), pdfPath, prefix)

	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %s: %w", string(out), err)
	}

	matches, err := filepath.Glob(filepath.Join(outputDir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("collecting pages: %w", err)
	}
	sort.Strings(matches)

	r.logger.Debug("rendered pages", "pdf", pdfPath, "pages", len(matches), "dpi", r.dpi)
	return matches, nil
}
