// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleDiff = `--- a/main.tex
+++ b/main.tex
@@ -10,3 +10,4 @@
 \section{Intro}
-old line
+new line
+another new line
 \end{section}`

func TestExtract_FencedBlock(t *testing.T) {
	text := "Here is the fix:\n\n```diff\n" + simpleDiff + "\n```\n\nApply it."

	patches := Extract(text)
	require.Len(t, patches, 1)

	p := patches[0]
	assert.Equal(t, "main.tex", p.FilePath)
	require.Len(t, p.Hunks, 1)
	assert.Equal(t, 10, p.Hunks[0].OldStart)
	assert.Equal(t, 3, p.Hunks[0].OldCount)
	assert.Equal(t, 4, p.Hunks[0].NewCount)
	assert.Equal(t, 2, p.Additions())
	assert.Equal(t, 1, p.Deletions())
	assert.Equal(t, 3, p.LinesChanged())
}

func TestExtract_DeduplicatesIdenticalBlocks(t *testing.T) {
	text := "```diff\n" + simpleDiff + "\n```\n\nAgain:\n\n```diff\n" + simpleDiff + "\n```"

	patches := Extract(text)
	assert.Len(t, patches, 1)
}

func TestExtract_RawDiffFallback(t *testing.T) {
	text := "I suggest this change:\n\n" + simpleDiff + "\n\nDone."

	patches := Extract(text)
	require.Len(t, patches, 1)
	assert.Equal(t, "main.tex", patches[0].FilePath)
}

func TestExtract_FencedBlockSuppressesRawScan(t *testing.T) {
	// The same diff inside and outside a fence must not double-count.
	text := simpleDiff + "\n\n```diff\n" + simpleDiff + "\n```"

	patches := Extract(text)
	assert.Len(t, patches, 1)
}

func TestExtract_NoDiffs(t *testing.T) {
	patches := Extract("Nothing to change here, the document looks fine.")
	assert.Empty(t, patches)
}

func TestExtract_MultipleDistinctBlocks(t *testing.T) {
	other := `--- a/refs.bib
+++ b/refs.bib
@@ -1,1 +1,1 @@
-@article{old,
+@article{fixed,`
	text := "```diff\n" + simpleDiff + "\n```\nand\n```diff\n" + other + "\n```"

	patches := Extract(text)
	require.Len(t, patches, 2)
	assert.Equal(t, "main.tex", patches[0].FilePath)
	assert.Equal(t, "refs.bib", patches[1].FilePath)
}

func TestParse_PathFallsBackToNewHeader(t *testing.T) {
	diff := `+++ b/sections/results.tex
@@ -5,1 +5,1 @@
-before
+after`

	p := Parse(diff)
	require.NotNil(t, p)
	assert.Equal(t, "sections/results.tex", p.FilePath)
}

func TestParse_MissingCountDefaultsToOne(t *testing.T) {
	diff := `--- a/main.tex
+++ b/main.tex
@@ -7 +7 @@
-x
+y`

	p := Parse(diff)
	require.NotNil(t, p)
	require.Len(t, p.Hunks, 1)
	assert.Equal(t, 7, p.Hunks[0].OldStart)
	assert.Equal(t, 1, p.Hunks[0].OldCount)
	assert.Equal(t, 1, p.Hunks[0].NewCount)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		diff string
	}{
		{"no path header", "@@ -1,1 +1,1 @@\n-a\n+b"},
		{"no hunks", "--- a/main.tex\n+++ b/main.tex\njust prose"},
		{"too short", "--- a/main.tex"},
		{"header with empty body", "--- a/main.tex\n+++ b/main.tex\n@@ -1,0 +1,0 @@"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, Parse(tt.diff))
		})
	}
}

func TestParse_MultiHunk(t *testing.T) {
	diff := `--- a/main.tex
+++ b/main.tex
@@ -2,2 +2,3 @@
 keep
+inserted
 keep too
@@ -40,1 +41,1 @@
-gone
+here`

	p := Parse(diff)
	require.NotNil(t, p)
	require.Len(t, p.Hunks, 2)
	assert.Equal(t, 2, p.Hunks[0].OldStart)
	assert.Equal(t, 40, p.Hunks[1].OldStart)
	assert.Equal(t, 41, p.Hunks[1].NewStart)
}

func TestParse_IgnoresNoiseBetweenHunks(t *testing.T) {
	diff := `--- a/main.tex
+++ b/main.tex
@@ -1,1 +1,1 @@
-a
+b
some explanation the model slipped in
@@ -9,1 +9,1 @@
-c
+d`

	p := Parse(diff)
	require.NotNil(t, p)
	require.Len(t, p.Hunks, 2)
	// The prose line carries no diff marker and must not enter a body.
	assert.Len(t, p.Hunks[0].Lines, 2)
	assert.Len(t, p.Hunks[1].Lines, 2)
}
