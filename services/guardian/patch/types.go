// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch parses unified diffs out of model output and applies them
// to files.
//
// # Description
//
// The package implements the two halves of the patch engine: extraction
// of structured Patch values from free-form generator text, and fuzzy
// application of those patches to a live file. Application tolerates
// stale or wrong line numbers from the generator by resolving each hunk
// through an ordered list of location strategies.
//
// # Thread Safety
//
// Parsed values are not safe for concurrent modification but can be read
// concurrently after creation. The Applier serializes writes per call.
package patch

import "fmt"

// =============================================================================
// Line Types
// =============================================================================

// LineKind categorizes hunk body lines.
type LineKind string

const (
	// LineContext represents unchanged context lines.
	LineContext LineKind = " "

	// LineAdd represents added lines.
	LineAdd LineKind = "+"

	// LineRemove represents removed lines.
	LineRemove LineKind = "-"
)

// Line is a single hunk body line without its leading marker.
type Line struct {
	// Kind is the line type (context, add, remove).
	Kind LineKind

	// Text is the line content without the prefix character.
	Text string
}

// String returns the line in unified diff form.
func (l Line) String() string {
	return string(l.Kind) + l.Text
}

// =============================================================================
// Hunk
// =============================================================================

// Hunk is one contiguous change region within a patch.
type Hunk struct {
	// OldStart is the 1-based starting line in the old file, as claimed
	// by the @@ header. Treated as a hint, not a fact.
	OldStart int

	// OldCount is the old-file line count claimed by the header.
	OldCount int

	// NewStart is the 1-based starting line in the new file.
	NewStart int

	// NewCount is the new-file line count claimed by the header.
	NewCount int

	// Lines holds the hunk body in order.
	Lines []Line
}

// Header returns the unified diff header for this hunk.
func (h *Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
}

// AddCount returns the number of added lines in the body.
func (h *Hunk) AddCount() int {
	count := 0
	for _, line := range h.Lines {
		if line.Kind == LineAdd {
			count++
		}
	}
	return count
}

// RemoveCount returns the number of removed lines in the body.
func (h *Hunk) RemoveCount() int {
	count := 0
	for _, line := range h.Lines {
		if line.Kind == LineRemove {
			count++
		}
	}
	return count
}

// oldBodyCount counts Context+Remove lines actually present in the body.
// This, not the header's OldCount, sizes the replacement window: the
// generator frequently miscounts its own headers.
func (h *Hunk) oldBodyCount() int {
	count := 0
	for _, line := range h.Lines {
		if line.Kind == LineContext || line.Kind == LineRemove {
			count++
		}
	}
	return count
}

// leadingContextCount counts Context lines before the first non-context line.
func (h *Hunk) leadingContextCount() int {
	count := 0
	for _, line := range h.Lines {
		if line.Kind != LineContext {
			break
		}
		count++
	}
	return count
}

// newLines returns the replacement text: Context+Add lines in body order.
func (h *Hunk) newLines() []string {
	out := make([]string, 0, len(h.Lines))
	for _, line := range h.Lines {
		if line.Kind == LineContext || line.Kind == LineAdd {
			out = append(out, line.Text)
		}
	}
	return out
}

// =============================================================================
// Patch
// =============================================================================

// Patch is all hunks targeting one file, parsed from one diff block.
type Patch struct {
	// FilePath is the target path as declared by the diff headers,
	// relative to the project root, with a/ b/ prefixes stripped.
	FilePath string

	// Hunks holds the change regions in header order.
	Hunks []*Hunk

	// RawDiff retains the original diff text for display and audit.
	RawDiff string
}

// Additions returns the total added-line count across hunks.
func (p *Patch) Additions() int {
	count := 0
	for _, hunk := range p.Hunks {
		count += hunk.AddCount()
	}
	return count
}

// Deletions returns the total removed-line count across hunks.
func (p *Patch) Deletions() int {
	count := 0
	for _, hunk := range p.Hunks {
		count += hunk.RemoveCount()
	}
	return count
}

// LinesChanged returns additions plus deletions.
func (p *Patch) LinesChanged() int {
	return p.Additions() + p.Deletions()
}

// Stats returns a formatted stats string like "+12 -3".
func (p *Patch) Stats() string {
	return fmt.Sprintf("+%d -%d", p.Additions(), p.Deletions())
}
