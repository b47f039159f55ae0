// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"regexp"
	"strings"
)

// =============================================================================
// Line Normalization
// =============================================================================

// lineNumberPrefix matches a "NNN| " listing prefix that generators echo
// back when the source was shown to them with line numbers.
var lineNumberPrefix = regexp.MustCompile(`^\s*\d+\|\s?`)

// normalizeLine prepares a line for fuzzy comparison: strip an echoed
// line-number prefix, then collapse all whitespace runs.
func normalizeLine(s string) string {
	s = lineNumberPrefix.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// matchesAt reports whether the hunk's Context and Remove lines match the
// file starting at pos, after normalization. Add lines are not checked.
func matchesAt(lines []string, pos int, h *Hunk) bool {
	if pos < 0 {
		return false
	}
	idx := pos
	for _, hl := range h.Lines {
		if hl.Kind == LineAdd {
			continue
		}
		if idx >= len(lines) {
			return false
		}
		if normalizeLine(hl.Text) != normalizeLine(lines[idx]) {
			return false
		}
		idx++
	}
	return true
}

// =============================================================================
// Location Strategies
// =============================================================================

// locateFunc resolves a hunk's true start index in lines. hint is the
// header-claimed position corrected by the running offset. The bool
// reports success; strategies never return errors because "no match"
// is an expected outcome.
type locateFunc func(lines []string, h *Hunk, hint int) (int, bool)

// locators is the ordered strategy list. Each is tried in turn until one
// succeeds.
var locators = []locateFunc{
	locateExact,
	locateWindow,
	locateContent,
}

// locateExact trusts the header position.
func locateExact(lines []string, h *Hunk, hint int) (int, bool) {
	if matchesAt(lines, hint, h) {
		return hint, true
	}
	return 0, false
}

// windowRadius bounds how far locateWindow drifts from the hint.
const windowRadius = 30

// locateWindow scans positions within windowRadius of the hint. The
// hint itself was already tried by locateExact and is skipped.
func locateWindow(lines []string, h *Hunk, hint int) (int, bool) {
	for delta := -windowRadius; delta <= windowRadius; delta++ {
		if delta == 0 {
			continue
		}
		pos := hint + delta
		if pos < 0 {
			continue
		}
		if matchesAt(lines, pos, h) {
			return pos, true
		}
	}
	return 0, false
}

// locateContent scans the whole file for the hunk's old-line sequence,
// ignoring the hint entirely. When no full match exists it anchors on
// the first Remove line and walks back past the leading context.
func locateContent(lines []string, h *Hunk, _ int) (int, bool) {
	if h.oldBodyCount() == 0 {
		return 0, false
	}

	for pos := 0; pos <= len(lines)-h.oldBodyCount(); pos++ {
		if matchesAt(lines, pos, h) {
			return pos, true
		}
	}

	// Anchor fallback: find the first removed line anywhere, then back
	// up by the hunk's leading context and re-verify.
	var anchor string
	found := false
	for _, hl := range h.Lines {
		if hl.Kind == LineRemove {
			anchor = normalizeLine(hl.Text)
			found = true
			break
		}
	}
	if !found || anchor == "" {
		return 0, false
	}

	lead := h.leadingContextCount()
	for idx, line := range lines {
		if normalizeLine(line) != anchor {
			continue
		}
		pos := idx - lead
		if matchesAt(lines, pos, h) {
			return pos, true
		}
	}
	return 0, false
}
