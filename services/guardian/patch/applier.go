// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// Applier
// =============================================================================

// Applier applies parsed patches to files under a project root.
type Applier struct {
	projectRoot string
	logger      *slog.Logger
}

// NewApplier creates an Applier rooted at projectRoot.
func NewApplier(projectRoot string, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{projectRoot: projectRoot, logger: logger}
}

// Apply applies a patch to its target file on disk.
//
// # Description
//
// A missing target is treated as file creation from the patch's Add
// lines. Otherwise every hunk must locate successfully before anything
// is written; a single failed hunk leaves the file byte-identical to
// its prior state.
//
// # Inputs
//
//	ctx - Checked once before any write. Application itself is not
//	interruptible mid-file.
//	p - Parsed patch. Must have at least one hunk.
//
// # Outputs
//
//	error - nil on success. ErrPositionNotFound (wrapped with file and
//	hunk detail) when location fails.
func (a *Applier) Apply(ctx context.Context, p *Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.Hunks) == 0 {
		return ErrEmptyPatch
	}

	target := filepath.Join(a.projectRoot, p.FilePath)

	if _, err := os.Stat(target); os.IsNotExist(err) {
		a.logger.Info("creating new file from patch", "file", p.FilePath)
		return a.createFile(target, p)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("reading %s: %w", p.FilePath, err)
	}

	result, err := ApplyToLines(splitLines(string(data)), p)
	if err != nil {
		return fmt.Errorf("applying patch to %s: %w", p.FilePath, err)
	}

	if err := os.WriteFile(target, []byte(joinLines(result)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", p.FilePath, err)
	}

	a.logger.Info("patch applied",
		"file", p.FilePath,
		"hunks", len(p.Hunks),
		"stats", p.Stats())
	return nil
}

// createFile builds a new file from the patch's Add lines, in order.
func (a *Applier) createFile(target string, p *Patch) error {
	var sb strings.Builder
	for _, hunk := range p.Hunks {
		for _, line := range hunk.Lines {
			if line.Kind == LineAdd {
				sb.WriteString(line.Text)
				sb.WriteString("\n")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating parent dir: %w", err)
	}
	if err := os.WriteFile(target, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", p.FilePath, err)
	}
	return nil
}

// =============================================================================
// Pure Application
// =============================================================================

// ApplyToLines applies every hunk of p to lines and returns the merged
// result. All-or-nothing: the input slice is never mutated and any
// failed hunk aborts the whole patch.
//
// Hunks apply in header order. The offset accumulator corrects later
// hunks' claimed positions for line drift introduced by earlier hunks
// in the same patch.
func ApplyToLines(lines []string, p *Patch) ([]string, error) {
	current := lines
	offset := 0

	for i, hunk := range p.Hunks {
		next, delta, err := applyHunk(current, hunk, offset)
		if err != nil {
			return nil, fmt.Errorf("hunk %d (%s): %w", i+1, hunk.Header(), err)
		}
		current = next
		offset += delta
	}
	return current, nil
}

// applyHunk resolves one hunk's position and splices in its replacement.
// Returns the new lines and the line-count delta (adds minus removes).
func applyHunk(lines []string, h *Hunk, offset int) ([]string, int, error) {
	hint := h.OldStart - 1 + offset

	pos := -1
	for _, locate := range locators {
		if found, ok := locate(lines, h, hint); ok {
			pos = found
			break
		}
	}
	if pos < 0 {
		return nil, 0, ErrPositionNotFound
	}

	// An insertion-only hunk has no Context or Remove lines to match, so
	// a stale header can resolve past the end of the file. Append there.
	if pos > len(lines) {
		pos = len(lines)
	}

	// Replacement window sized by the body, not the header's claim.
	end := pos + h.oldBodyCount()
	if end > len(lines) {
		end = len(lines)
	}

	replacement := h.newLines()
	result := make([]string, 0, len(lines)-(end-pos)+len(replacement))
	result = append(result, lines[:pos]...)
	result = append(result, replacement...)
	result = append(result, lines[end:]...)

	return result, h.AddCount() - h.RemoveCount(), nil
}

// splitLines splits file content into lines without terminators. A
// trailing newline does not produce a phantom empty last line.
func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// joinLines reassembles lines into file content with a trailing newline.
func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
