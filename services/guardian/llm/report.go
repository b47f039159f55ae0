// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm talks to the vision collaborator over an OpenAI-compatible
// API and parses its structured reports.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VisualIssue is one problem the vision model found on a rendered page.
type VisualIssue struct {
	// Page is the 1-based page number.
	Page int `json:"page"`

	// Location describes where on the page, free-text.
	Location string `json:"location"`

	// Severity is one of error, warning, info.
	Severity string `json:"severity"`

	// Category classifies the issue (layout, typography, figure, ...).
	Category string `json:"category"`

	// Description is the human-readable problem statement.
	Description string `json:"description"`

	// SuggestedFix describes the remedy in prose.
	SuggestedFix string `json:"suggested_fix"`

	// Patch optionally carries a literal unified-diff fragment.
	Patch string `json:"patch,omitempty"`
}

// Substantive reports whether the issue should trigger patching.
// Info-level observations do not.
func (i VisualIssue) Substantive() bool {
	return i.Severity == "error" || i.Severity == "warning"
}

// VisualReport is the vision collaborator's structured response.
type VisualReport struct {
	// QualityScore rates the document 0-100.
	QualityScore int `json:"quality_score"`

	// Issues lists everything the model flagged.
	Issues []VisualIssue `json:"issues"`
}

// SubstantiveIssues filters to error and warning severity.
func (r *VisualReport) SubstantiveIssues() []VisualIssue {
	var out []VisualIssue
	for _, issue := range r.Issues {
		if issue.Substantive() {
			out = append(out, issue)
		}
	}
	return out
}

// Descriptions returns every issue description, for carrying context
// into the next round.
func (r *VisualReport) Descriptions() []string {
	out := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		out = append(out, issue.Description)
	}
	return out
}

// ParseVisualReport extracts the JSON object from model output.
//
// The model frequently wraps its JSON in prose or a code fence, so the
// parse window is everything from the first "{" to the last "}".
func ParseVisualReport(content string) (*VisualReport, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in vision response")
	}

	var report VisualReport
	if err := json.Unmarshal([]byte(content[start:end+1]), &report); err != nil {
		return nil, fmt.Errorf("parsing vision report: %w", err)
	}
	return &report, nil
}
