// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	guardianDir := t.TempDir()
	store, err := NewStore(guardianDir, nil)
	require.NoError(t, err)
	return store, t.TempDir()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStore_CreateAndList(t *testing.T) {
	store, work := newTestStore(t)
	f := writeFile(t, work, "main.tex", "content\n")

	id, err := store.Create(context.Background(), "before patch", []string{f})
	require.NoError(t, err)
	assert.Len(t, id, 16)

	entries := store.List()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "before patch", entries[0].Description)
	assert.Equal(t, 1, entries[0].FileCount)
}

func TestStore_RoundTrip(t *testing.T) {
	store, work := newTestStore(t)
	f := writeFile(t, work, "main.tex", "original content\n")

	id, err := store.Create(context.Background(), "snapshot", []string{f})
	require.NoError(t, err)

	// Modify then restore.
	require.NoError(t, os.WriteFile(f, []byte("mutated\n"), 0o644))
	require.True(t, store.Restore(context.Background(), id))

	data, err := os.ReadFile(f)
	require.NoError(t, err)
	assert.Equal(t, "original content\n", string(data))
}

func TestStore_DuplicateBasenamesDoNotClobber(t *testing.T) {
	store, work := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(work, "ch1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(work, "ch2"), 0o755))
	f1 := writeFile(t, work, "ch1/main.tex", "chapter one\n")
	f2 := writeFile(t, work, "ch2/main.tex", "chapter two\n")

	id, err := store.Create(context.Background(), "both chapters", []string{f1, f2})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f1, []byte("mangled\n"), 0o644))
	require.NoError(t, os.WriteFile(f2, []byte("mangled\n"), 0o644))
	require.True(t, store.Restore(context.Background(), id))

	data1, err := os.ReadFile(f1)
	require.NoError(t, err)
	data2, err := os.ReadFile(f2)
	require.NoError(t, err)
	assert.Equal(t, "chapter one\n", string(data1))
	assert.Equal(t, "chapter two\n", string(data2))
}

func TestStore_RestoreAfterDelete(t *testing.T) {
	store, work := newTestStore(t)
	f := writeFile(t, work, "main.tex", "keep me\n")

	id, err := store.Create(context.Background(), "snapshot", []string{f})
	require.NoError(t, err)

	require.NoError(t, os.Remove(f))
	require.True(t, store.Restore(context.Background(), id))

	data, err := os.ReadFile(f)
	require.NoError(t, err)
	assert.Equal(t, "keep me\n", string(data))
}

func TestStore_RestoreUnknownID(t *testing.T) {
	store, _ := newTestStore(t)
	assert.False(t, store.Restore(context.Background(), "deadbeefdeadbeef"))
}

func TestStore_SkipsMissingFiles(t *testing.T) {
	store, work := newTestStore(t)
	exists := writeFile(t, work, "a.tex", "a\n")
	missing := filepath.Join(work, "not-there.tex")

	id, err := store.Create(context.Background(), "partial", []string{exists, missing})
	require.NoError(t, err)

	entries := store.List()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].FileCount)
	_ = id
}

func TestStore_Diff(t *testing.T) {
	store, work := newTestStore(t)
	changed := writeFile(t, work, "changed.tex", "line one\nline two\n")
	same := writeFile(t, work, "same.tex", "static\n")

	id, err := store.Create(context.Background(), "snap", []string{changed, same})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(changed, []byte("line one\nline 2\n"), 0o644))

	diffs, err := store.Diff(id)
	require.NoError(t, err)

	require.Contains(t, diffs, changed)
	assert.Contains(t, diffs[changed], "-line two")
	assert.Contains(t, diffs[changed], "+line 2")
	assert.NotContains(t, diffs, same, "unchanged files are omitted")
}

func TestStore_Delete(t *testing.T) {
	store, work := newTestStore(t)
	f := writeFile(t, work, "main.tex", "x\n")

	id, err := store.Create(context.Background(), "temp", []string{f})
	require.NoError(t, err)

	assert.True(t, store.Delete(id))
	assert.Empty(t, store.List())
	assert.False(t, store.Delete(id), "second delete reports missing")
	assert.False(t, store.Restore(context.Background(), id))
}

func TestStore_ListCapAndOrder(t *testing.T) {
	store, work := newTestStore(t)
	f := writeFile(t, work, "main.tex", "x\n")

	var lastID string
	for i := 0; i < 25; i++ {
		id, err := store.Create(context.Background(), fmt.Sprintf("cp %d", i), []string{f})
		require.NoError(t, err)
		lastID = id
	}

	entries := store.List()
	require.Len(t, entries, 20)
	assert.Equal(t, lastID, entries[0].ID, "newest first")
}

func TestStore_IndexSurvivesReopen(t *testing.T) {
	guardianDir := t.TempDir()
	work := t.TempDir()
	f := writeFile(t, work, "main.tex", "x\n")

	store, err := NewStore(guardianDir, nil)
	require.NoError(t, err)
	id, err := store.Create(context.Background(), "persisted", []string{f})
	require.NoError(t, err)

	reopened, err := NewStore(guardianDir, nil)
	require.NoError(t, err)
	entries := reopened.List()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}
