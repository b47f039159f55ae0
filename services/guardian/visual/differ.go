// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package visual compares rendered page images and drives the
// convergence loop that iteratively repairs a document.
package visual

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// regionCap bounds connected-component labeling. Past this many
// components the regions collapse to one bounding box over all
// changed pixels.
const regionCap = 64

// DiffResult reports one page-image comparison.
type DiffResult struct {
	// Percent is the share of pixels (0-100) whose any channel delta
	// exceeded the pixel threshold.
	Percent float64

	// OverlayPath is the written diff overlay, when requested.
	OverlayPath string

	// Regions are bounding boxes of changed areas, for reporting only.
	Regions []image.Rectangle
}

// Differ compares page images pixel-by-pixel.
type Differ struct {
	pixelThreshold int
}

// NewDiffer creates a Differ. pixelThreshold is the per-channel
// intensity delta (0-255) above which a pixel counts as changed.
func NewDiffer(pixelThreshold int) *Differ {
	if pixelThreshold <= 0 {
		pixelThreshold = 15
	}
	return &Differ{pixelThreshold: pixelThreshold}
}

// Compare diffs two page images.
//
// # Description
//
// The second image is resampled to the first's dimensions when they
// differ. A pixel is changed when any RGB channel differs by more than
// the threshold. When overlayPath is non-empty, the changed pixels are
// blended red at 30% opacity onto the second image and written there;
// overlay failures do not fail the comparison.
func (d *Differ) Compare(beforePath, afterPath, overlayPath string) (*DiffResult, error) {
	before, err := loadImage(beforePath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", beforePath, err)
	}
	after, err := loadImage(afterPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", afterPath, err)
	}

	if !after.Bounds().Eq(before.Bounds()) {
		resampled := image.NewRGBA(before.Bounds())
		xdraw.ApproxBiLinear.Scale(resampled, before.Bounds(), after, after.Bounds(), xdraw.Over, nil)
		after = resampled
	}

	bounds := before.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mask := make([]bool, w*h)
	changed := 0

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r1, g1, b1 := rgb8At(before, bounds.Min.X+x, bounds.Min.Y+y)
			r2, g2, b2 := rgb8At(after, bounds.Min.X+x, bounds.Min.Y+y)
			if maxDelta(r1, g1, b1, r2, g2, b2) > d.pixelThreshold {
				mask[y*w+x] = true
				changed++
			}
		}
	}

	result := &DiffResult{
		Percent: float64(changed) / float64(w*h) * 100,
		Regions: findRegions(mask, w, h),
	}

	if overlayPath != "" && changed > 0 {
		if err := writeOverlay(after, mask, w, h, overlayPath); err == nil {
			result.OverlayPath = overlayPath
		}
	}
	return result, nil
}

// ComparePages diffs two equal-length page sets concurrently and
// returns the average changed percentage.
func (d *Differ) ComparePages(ctx context.Context, before, after []string, diffDir string) (float64, error) {
	if len(before) != len(after) {
		return 0, fmt.Errorf("page count mismatch: %d vs %d", len(before), len(after))
	}
	if len(before) == 0 {
		return 0, nil
	}
	if diffDir != "" {
		if err := os.MkdirAll(diffDir, 0o750); err != nil {
			return 0, fmt.Errorf("creating diff dir: %w", err)
		}
	}

	percents := make([]float64, len(before))
	g, gctx := errgroup.WithContext(ctx)
	for i := range before {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			overlay := ""
			if diffDir != "" {
				overlay = filepath.Join(diffDir, fmt.Sprintf("diff_page-%02d.png", i+1))
			}
			res, err := d.Compare(before[i], after[i], overlay)
			if err != nil {
				return err
			}
			percents[i] = res.Percent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0.0
	for _, p := range percents {
		total += p
	}
	return total / float64(len(percents)), nil
}

// Similarity computes a PSNR-derived 0-1 similarity score between two
// images, 1 meaning identical. Grayscale MSE based; cheaper than a
// true structural similarity index.
func Similarity(path1, path2 string) (float64, error) {
	img1, err := loadImage(path1)
	if err != nil {
		return 0, err
	}
	img2, err := loadImage(path2)
	if err != nil {
		return 0, err
	}

	if !img2.Bounds().Eq(img1.Bounds()) {
		resampled := image.NewRGBA(img1.Bounds())
		xdraw.ApproxBiLinear.Scale(resampled, img1.Bounds(), img2, img2.Bounds(), xdraw.Over, nil)
		img2 = resampled
	}

	bounds := img1.Bounds()
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g1 := grayAt(img1, x, y)
			g2 := grayAt(img2, x, y)
			d := g1 - g2
			sum += d * d
		}
	}

	mse := sum / float64(bounds.Dx()*bounds.Dy())
	if mse == 0 {
		return 1.0, nil
	}
	psnr := 10 * math.Log10(255*255/mse)
	return math.Min(1.0, psnr/50.0), nil
}

// =============================================================================
// Pixel Helpers
// =============================================================================

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func rgb8At(img image.Image, x, y int) (int, int, int) {
	r, g, b, _ := img.At(x, y).RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}

func grayAt(img image.Image, x, y int) float64 {
	r, g, b := rgb8At(img, x, y)
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

func maxDelta(r1, g1, b1, r2, g2, b2 int) int {
	m := abs(r1 - r2)
	if d := abs(g1 - g2); d > m {
		m = d
	}
	if d := abs(b1 - b2); d > m {
		m = d
	}
	return m
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// =============================================================================
// Region Labeling
// =============================================================================

// findRegions labels 4-connected components of the changed-pixel mask
// and returns their bounding boxes. Beyond regionCap components it
// falls back to a single box covering all changed pixels.
func findRegions(mask []bool, w, h int) []image.Rectangle {
	visited := make([]bool, len(mask))
	var regions []image.Rectangle

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		// BFS over this component, tracking its extent.
		minX, minY := w, h
		maxX, maxY := 0, 0
		queue := []int{start}
		visited[start] = true

		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]

			x, y := idx%w, idx/w
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			for _, n := range neighbors(idx, w, h) {
				if mask[n] && !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}

		regions = append(regions, image.Rect(minX, minY, maxX+1, maxY+1))
		if len(regions) > regionCap {
			return []image.Rectangle{boundingBox(mask, w, h)}
		}
	}
	return regions
}

func neighbors(idx, w, h int) []int {
	x, y := idx%w, idx/w
	var out []int
	if x > 0 {
		out = append(out, idx-1)
	}
	if x < w-1 {
		out = append(out, idx+1)
	}
	if y > 0 {
		out = append(out, idx-w)
	}
	if y < h-1 {
		out = append(out, idx+w)
	}
	return out
}

// boundingBox returns one rectangle covering every changed pixel.
func boundingBox(mask []bool, w, h int) image.Rectangle {
	minX, minY := w, h
	maxX, maxY := 0, 0
	for idx, set := range mask {
		if !set {
			continue
		}
		x, y := idx%w, idx/w
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	if minX > maxX {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// writeOverlay blends changed pixels red at 30% opacity onto base and
// writes the result as PNG.
func writeOverlay(base image.Image, mask []bool, w, h int, path string) error {
	bounds := base.Bounds()
	out := image.NewRGBA(bounds)
	const alpha = 0.3

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := rgb8At(base, bounds.Min.X+x, bounds.Min.Y+y)
			if mask[y*w+x] {
				r = int((1-alpha)*float64(r) + alpha*255)
				g = int((1 - alpha) * float64(g))
				b = int((1 - alpha) * float64(b))
			}
			out.SetRGBA(bounds.Min.X+x, bounds.Min.Y+y, color.RGBA{
				R: uint8(r), G: uint8(g), B: uint8(b), A: 255,
			})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}
