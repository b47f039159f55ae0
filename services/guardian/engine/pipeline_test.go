// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TexGuardian/services/guardian/checkpoint"
	"github.com/AleutianAI/TexGuardian/services/guardian/config"
	"github.com/AleutianAI/TexGuardian/services/guardian/patch"
	"github.com/AleutianAI/TexGuardian/services/guardian/safety"
)

func newTestPipeline(t *testing.T, approver Approver) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()

	store, err := checkpoint.NewStore(filepath.Join(root, ".texguardian"), nil)
	require.NoError(t, err)

	pl := NewPipeline(
		root,
		safety.NewValidator(config.Default().Safety),
		store,
		patch.NewApplier(root, nil),
		approver,
		nil,
	)
	return pl, root
}

func writeTex(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func patchFor(t *testing.T, diff string) *patch.Patch {
	t.Helper()
	p := patch.Parse(diff)
	require.NotNil(t, p)
	return p
}

func TestApplyPatches_HappyPath(t *testing.T) {
	pl, root := newTestPipeline(t, nil)
	target := writeTex(t, root, "main.tex", "alpha\nbeta\n")

	p := patchFor(t, "--- a/main.tex\n+++ b/main.tex\n@@ -2,1 +2,1 @@\n-beta\n+BETA")

	res, err := pl.ApplyPatches(context.Background(), []*patch.Patch{p})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Total)
	assert.NotEmpty(t, res.CheckpointID)
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Applied)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nBETA\n", string(data))
}

func TestApplyPatches_CheckpointRestoresOriginal(t *testing.T) {
	pl, root := newTestPipeline(t, nil)
	target := writeTex(t, root, "main.tex", "alpha\nbeta\n")

	p := patchFor(t, "--- a/main.tex\n+++ b/main.tex\n@@ -1,1 +1,1 @@\n-alpha\n+ALPHA")

	res, err := pl.ApplyPatches(context.Background(), []*patch.Patch{p})
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)

	store, err := checkpoint.NewStore(filepath.Join(root, ".texguardian"), nil)
	require.NoError(t, err)
	require.True(t, store.Restore(context.Background(), res.CheckpointID))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", string(data))
}

func TestApplyPatches_RejectedPatchDoesNotAbortSiblings(t *testing.T) {
	pl, root := newTestPipeline(t, nil)
	writeTex(t, root, "main.tex", "alpha\n")

	denied := patchFor(t, "--- a/build/out.tex\n+++ b/build/out.tex\n@@ -1,1 +1,1 @@\n-x\n+y")
	good := patchFor(t, "--- a/main.tex\n+++ b/main.tex\n@@ -1,1 +1,1 @@\n-alpha\n+ALPHA")
	missing := patchFor(t, "--- a/main.tex\n+++ b/main.tex\n@@ -1,1 +1,1 @@\n-never there\n+z")

	res, err := pl.ApplyPatches(context.Background(), []*patch.Patch{denied, good, missing})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 3, res.Total)

	assert.False(t, res.Outcomes[0].Applied)
	assert.Contains(t, res.Outcomes[0].Reason, "denylist")
	assert.True(t, res.Outcomes[1].Applied)
	assert.False(t, res.Outcomes[2].Applied)
	assert.Contains(t, res.Outcomes[2].Reason, "not found")
}

func TestApplyPatches_ReviewGate(t *testing.T) {
	reviewDiff := "--- a/main.tex\n+++ b/main.tex\n@@ -1,1 +1,1 @@\n-\\title{Old}\n+\\title{New}"

	t.Run("nil approver skips flagged patch", func(t *testing.T) {
		pl, root := newTestPipeline(t, nil)
		writeTex(t, root, "main.tex", "\\title{Old}\n")

		res, err := pl.ApplyPatches(context.Background(), []*patch.Patch{patchFor(t, reviewDiff)})
		require.NoError(t, err)
		assert.Zero(t, res.Applied)
		assert.Contains(t, res.Outcomes[0].Reason, "human review")
	})

	t.Run("approver accepts", func(t *testing.T) {
		var seenReasons []string
		approve := func(p *patch.Patch, reasons []string) bool {
			seenReasons = reasons
			return true
		}
		pl, root := newTestPipeline(t, approve)
		target := writeTex(t, root, "main.tex", "\\title{Old}\n")

		res, err := pl.ApplyPatches(context.Background(), []*patch.Patch{patchFor(t, reviewDiff)})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Applied)
		assert.NotEmpty(t, seenReasons)

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "\\title{New}\n", string(data))
	})

	t.Run("approver declines", func(t *testing.T) {
		decline := func(p *patch.Patch, reasons []string) bool { return false }
		pl, root := newTestPipeline(t, decline)
		writeTex(t, root, "main.tex", "\\title{Old}\n")

		res, err := pl.ApplyPatches(context.Background(), []*patch.Patch{patchFor(t, reviewDiff)})
		require.NoError(t, err)
		assert.Zero(t, res.Applied)
	})
}

func TestApplyPatches_EmptyBatch(t *testing.T) {
	pl, _ := newTestPipeline(t, nil)

	res, err := pl.ApplyPatches(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, res.CheckpointID, "no checkpoint for an empty batch")
}

func TestApplyDiffText_WrapsUnfencedText(t *testing.T) {
	pl, root := newTestPipeline(t, nil)
	target := writeTex(t, root, "main.tex", "old line\n")

	applied, err := pl.ApplyDiffText(context.Background(),
		"--- a/main.tex\n+++ b/main.tex\n@@ -1,1 +1,1 @@\n-old line\n+new line")
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new line\n", string(data))
}

func TestApplyDiffText_NoPatches(t *testing.T) {
	pl, _ := newTestPipeline(t, nil)

	applied, err := pl.ApplyDiffText(context.Background(), "no diff here")
	require.NoError(t, err)
	assert.Zero(t, applied)
}
