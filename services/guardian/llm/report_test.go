// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVisualReport_Plain(t *testing.T) {
	content := `{"quality_score": 85, "issues": [{"page": 2, "severity": "error", "description": "label cut off"}]}`

	report, err := ParseVisualReport(content)
	require.NoError(t, err)
	assert.Equal(t, 85, report.QualityScore)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, 2, report.Issues[0].Page)
}

func TestParseVisualReport_WrappedInProse(t *testing.T) {
	content := "Here is my analysis:\n\n```json\n" +
		`{"quality_score": 70, "issues": []}` +
		"\n```\n\nLet me know if you need more detail."

	report, err := ParseVisualReport(content)
	require.NoError(t, err)
	assert.Equal(t, 70, report.QualityScore)
	assert.Empty(t, report.Issues)
}

func TestParseVisualReport_NestedObjects(t *testing.T) {
	// The last "}" must close the outer object even when issues carry
	// nested braces in patch text.
	content := `{"quality_score": 90, "issues": [{"page": 1, "severity": "warning", "patch": "-\\title{Old}\n+\\title{New}"}]}`

	report, err := ParseVisualReport(content)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0].Patch, `\title{New}`)
}

func TestParseVisualReport_NoJSON(t *testing.T) {
	_, err := ParseVisualReport("the document looks fine to me")
	assert.Error(t, err)
}

func TestParseVisualReport_MalformedJSON(t *testing.T) {
	_, err := ParseVisualReport(`{"quality_score": not a number}`)
	assert.Error(t, err)
}

func TestVisualIssue_Substantive(t *testing.T) {
	assert.True(t, VisualIssue{Severity: "error"}.Substantive())
	assert.True(t, VisualIssue{Severity: "warning"}.Substantive())
	assert.False(t, VisualIssue{Severity: "info"}.Substantive())
	assert.False(t, VisualIssue{Severity: ""}.Substantive())
}

func TestVisualReport_SubstantiveIssues(t *testing.T) {
	report := &VisualReport{Issues: []VisualIssue{
		{Severity: "info", Description: "minor"},
		{Severity: "error", Description: "major"},
		{Severity: "warning", Description: "medium"},
	}}

	substantive := report.SubstantiveIssues()
	require.Len(t, substantive, 2)
	assert.Equal(t, "major", substantive[0].Description)
	assert.Equal(t, "medium", substantive[1].Description)

	assert.Len(t, report.Descriptions(), 3)
}
