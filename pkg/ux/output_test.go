// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn and returns everything it wrote to stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	require.NoError(t, w.Close())
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func forcePlain(t *testing.T, plain bool) {
	t.Helper()
	SetPlain(plain)
	t.Cleanup(func() { plainMode.Store(0) })
}

func TestSetPlain_Overrides(t *testing.T) {
	forcePlain(t, true)
	assert.True(t, Plain())

	SetPlain(false)
	assert.False(t, Plain())
}

func TestIconRender_PlainMode(t *testing.T) {
	forcePlain(t, true)
	assert.Equal(t, "✓", IconSuccess.Render())
	assert.Equal(t, "✗", IconError.Render())
}

func TestSuccess_PlainMode(t *testing.T) {
	forcePlain(t, true)
	out := captureStdout(t, func() { Success("patch applied") })
	assert.Equal(t, "OK: patch applied\n", out)
}

func TestInfo_PlainMode(t *testing.T) {
	forcePlain(t, true)
	out := captureStdout(t, func() { Info("round 2 of 5") })
	assert.Equal(t, "round 2 of 5\n", out)
}

func TestFileStatus_PlainModeIsTabSeparated(t *testing.T) {
	forcePlain(t, true)
	out := captureStdout(t, func() { FileStatus("main.tex", IconError, "denylist") })
	assert.Equal(t, "✗\tmain.tex\tdenylist\n", out)
}

func TestSummary_PlainMode(t *testing.T) {
	forcePlain(t, true)
	out := captureStdout(t, func() { Summary(2, 1, 3) })
	assert.Equal(t, "SUMMARY: applied=2 skipped=1 total=3\n", out)
}

func TestSummary_StyledModeContainsCounts(t *testing.T) {
	forcePlain(t, false)
	out := captureStdout(t, func() { Summary(2, 1, 3) })
	for _, want := range []string{"2", "1", "3", "applied", "skipped", "total"} {
		assert.Contains(t, out, want)
	}
	assert.False(t, strings.HasPrefix(out, "SUMMARY:"))
}
