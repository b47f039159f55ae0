// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Extraction Patterns
// =============================================================================

var (
	fencedDiffPattern = regexp.MustCompile("(?s)```diff\\s*\\n(.*?)\\n```")

	rawDiffPattern = regexp.MustCompile(`(?m)^---\s+a/(.+)\n\+\+\+\s+b/(.+)\n((?:@@.*@@.*\n(?:[ +-].*\n?)*)+)`)

	hunkHeaderPattern = regexp.MustCompile(`@@\s*-(\d+)(?:,(\d+))?\s*\+(\d+)(?:,(\d+))?\s*@@`)

	oldPathPattern = regexp.MustCompile(`---\s+(?:a/)?(.+)`)
	newPathPattern = regexp.MustCompile(`\+\+\+\s+(?:b/)?(.+)`)
)

// Extract finds every unified diff in free-form generator text.
//
// # Description
//
// Fenced ```diff blocks are scanned first, with byte-identical blocks
// deduplicated after trimming. Raw diffs outside fences are only
// considered when no fenced block yielded a patch, because generators
// frequently repeat the same diff once inside and once outside a fence.
//
// # Inputs
//
//	text - Arbitrary UTF-8 text, typically a model response.
//
// # Outputs
//
//	[]*Patch - Parsed patches in appearance order. Malformed blocks are
//	skipped silently; the slice may be empty but is never nil.
func Extract(text string) []*Patch {
	patches := []*Patch{}
	seen := make(map[string]struct{})

	for _, match := range fencedDiffPattern.FindAllStringSubmatch(text, -1) {
		diffText := match[1]
		key := strings.TrimSpace(diffText)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if p := Parse(diffText); p != nil {
			patches = append(patches, p)
		}
	}

	if len(patches) > 0 {
		return patches
	}

	for _, match := range rawDiffPattern.FindAllString(text, -1) {
		if p := Parse(match); p != nil {
			patches = append(patches, p)
		}
	}

	return patches
}

// Parse parses a single unified diff into a Patch.
//
// Outputs:
//
//	*Patch - nil if the text has no derivable file path or no hunks.
func Parse(diffText string) *Patch {
	lines := strings.Split(strings.TrimSpace(diffText), "\n")
	if len(lines) < 3 {
		return nil
	}

	filePath := ""
	limit := len(lines)
	if limit > 4 {
		limit = 4
	}
	for _, line := range lines[:limit] {
		if strings.HasPrefix(line, "---") {
			if m := oldPathPattern.FindStringSubmatch(line); m != nil {
				filePath = strings.TrimSpace(m[1])
			}
		} else if strings.HasPrefix(line, "+++") && filePath == "" {
			if m := newPathPattern.FindStringSubmatch(line); m != nil {
				filePath = strings.TrimSpace(m[1])
			}
		}
	}
	if filePath == "" {
		return nil
	}

	p := &Patch{FilePath: filePath, RawDiff: diffText}

	var current *Hunk
	for _, line := range lines {
		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil && strings.HasPrefix(line, "@@") {
			if current != nil && len(current.Lines) > 0 {
				p.Hunks = append(p.Hunks, current)
			}
			current = &Hunk{
				OldStart: atoiDefault(m[1], 1),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 1),
				NewCount: atoiDefault(m[4], 1),
			}
			continue
		}
		if current == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, " "):
			current.Lines = append(current.Lines, Line{Kind: LineContext, Text: line[1:]})
		case strings.HasPrefix(line, "+"):
			current.Lines = append(current.Lines, Line{Kind: LineAdd, Text: line[1:]})
		case strings.HasPrefix(line, "-"):
			current.Lines = append(current.Lines, Line{Kind: LineRemove, Text: line[1:]})
		}
	}
	if current != nil && len(current.Lines) > 0 {
		p.Hunks = append(p.Hunks, current)
	}

	if len(p.Hunks) == 0 {
		return nil
	}
	return p
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
