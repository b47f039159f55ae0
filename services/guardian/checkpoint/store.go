// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint snapshots files before mutation and restores them
// on demand.
//
// # Description
//
// Each checkpoint is a directory under <guardianDir>/checkpoints named
// by a 16-hex-character id, holding byte-for-byte backups plus a
// metadata.json manifest. An index.json next to the checkpoint dirs
// lists summaries newest-first. The store knows nothing about patches;
// it operates purely on file snapshots.
//
// # Thread Safety
//
// Store serializes all index mutations behind a mutex and is safe for
// concurrent use within one process. It does not coordinate across
// processes.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("guardian.checkpoint")

// listLimit caps how many entries List returns. Older checkpoint data
// stays on disk; only the listing is bounded.
const listLimit = 20

// Entry is one index.json row.
type Entry struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	FileCount   int    `json:"file_count"`
}

// fileBackup maps a captured file to its backup copy.
type fileBackup struct {
	Original string `json:"original"`
	Backup   string `json:"backup"`
}

// metadata is the per-checkpoint metadata.json manifest.
type metadata struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Timestamp   string       `json:"timestamp"`
	Files       []fileBackup `json:"files"`
}

// Store manages checkpoints under a guardian state directory.
type Store struct {
	checkpointsDir string
	indexPath      string
	logger         *slog.Logger

	mu    sync.Mutex
	index []Entry
}

// NewStore opens (creating if needed) the checkpoint store under
// guardianDir.
func NewStore(guardianDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Join(guardianDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoints dir: %w", err)
	}

	s := &Store{
		checkpointsDir: dir,
		indexPath:      filepath.Join(dir, "index.json"),
		logger:         logger,
	}
	s.index = s.loadIndex()
	return s, nil
}

// Create snapshots the given files under a new checkpoint.
//
// # Description
//
// Missing input files are skipped, not errors: a patch may target a
// file that does not exist yet. The checkpoint id is derived from the
// creation timestamp and description, so ids are stable within a call
// and collision-resistant across calls.
//
// # Inputs
//
//	ctx - Carries the trace span.
//	description - Human-readable purpose, recorded in the index.
//	files - Absolute paths to capture.
//
// # Outputs
//
//	string - The new checkpoint id. Never empty on success.
//	error - Non-nil if the snapshot could not be durably written.
func (s *Store) Create(ctx context.Context, description string, files []string) (string, error) {
	_, span := tracer.Start(ctx, "checkpoint.create")
	defer span.End()

	now := time.Now()
	sum := sha256.Sum256([]byte(now.Format(time.RFC3339Nano) + "-" + description))
	id := hex.EncodeToString(sum[:])[:16]
	span.SetAttributes(
		attribute.String("checkpoint.id", id),
		attribute.Int("checkpoint.file_count", len(files)),
	)

	dir := filepath.Join(s.checkpointsDir, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create dir failed")
		return "", fmt.Errorf("creating checkpoint dir: %w", err)
	}

	manifest := []fileBackup{}
	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		// Index-prefixed so batch targets in different directories that
		// share a basename cannot clobber each other's backup.
		backup := filepath.Join(dir, fmt.Sprintf("%03d_%s", len(manifest), filepath.Base(path)))
		if err := copyFile(path, backup); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backup copy failed")
			return "", fmt.Errorf("backing up %s: %w", path, err)
		}
		manifest = append(manifest, fileBackup{Original: path, Backup: backup})
	}

	meta := metadata{
		ID:          id,
		Description: description,
		Timestamp:   now.Format(time.RFC3339Nano),
		Files:       manifest,
	}
	if err := writeJSONAtomic(filepath.Join(dir, "metadata.json"), meta); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "metadata write failed")
		return "", fmt.Errorf("writing metadata: %w", err)
	}

	s.mu.Lock()
	s.index = append([]Entry{{
		ID:          id,
		Description: description,
		Timestamp:   now.Format("2006-01-02 15:04:05"),
		FileCount:   len(manifest),
	}}, s.index...)
	err := s.saveIndexLocked()
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index write failed")
		return "", err
	}

	s.logger.Info("checkpoint created",
		"id", id,
		"description", description,
		"files", len(manifest))
	return id, nil
}

// Restore copies every surviving backup in the checkpoint back over its
// original path.
//
// Outputs:
//
//	bool - false only when the checkpoint's metadata is missing.
//	Individual missing backups are skipped, not failures.
func (s *Store) Restore(ctx context.Context, id string) bool {
	_, span := tracer.Start(ctx, "checkpoint.restore")
	defer span.End()
	span.SetAttributes(attribute.String("checkpoint.id", id))

	meta, err := s.loadMetadata(id)
	if err != nil {
		span.SetStatus(codes.Error, "metadata not found")
		return false
	}

	restored := 0
	for _, f := range meta.Files {
		if _, err := os.Stat(f.Backup); err != nil {
			continue
		}
		if err := copyFile(f.Backup, f.Original); err != nil {
			s.logger.Warn("restore copy failed", "file", f.Original, "error", err)
			continue
		}
		restored++
	}

	s.logger.Info("checkpoint restored", "id", id, "files", restored)
	return true
}

// Diff returns unified diffs between each backup and the file's current
// content, keyed by original path. Files with no textual difference are
// omitted.
func (s *Store) Diff(id string) (map[string]string, error) {
	meta, err := s.loadMetadata(id)
	if err != nil {
		return nil, err
	}

	diffs := make(map[string]string)
	for _, f := range meta.Files {
		oldData, err := os.ReadFile(f.Backup)
		if err != nil {
			continue
		}
		newData, err := os.ReadFile(f.Original)
		if err != nil {
			continue
		}

		name := filepath.Base(f.Original)
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(oldData)),
			B:        difflib.SplitLines(string(newData)),
			FromFile: "a/" + name,
			ToFile:   "b/" + name,
			Context:  3,
		})
		if err != nil {
			return nil, fmt.Errorf("diffing %s: %w", f.Original, err)
		}
		if text != "" {
			diffs[f.Original] = text
		}
	}
	return diffs, nil
}

// List returns index entries newest-first, at most 20.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.index)
	if n > listLimit {
		n = listLimit
	}
	out := make([]Entry, n)
	copy(out, s.index[:n])
	return out
}

// Delete removes a checkpoint's data and index entry.
//
// Outputs:
//
//	bool - false when no checkpoint directory exists for id.
func (s *Store) Delete(id string) bool {
	dir := filepath.Join(s.checkpointsDir, id)
	if _, err := os.Stat(dir); err != nil {
		return false
	}

	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("checkpoint delete failed", "id", id, "error", err)
		return false
	}

	s.mu.Lock()
	kept := s.index[:0]
	for _, e := range s.index {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	s.index = kept
	if err := s.saveIndexLocked(); err != nil {
		s.logger.Warn("index save failed after delete", "error", err)
	}
	s.mu.Unlock()

	return true
}

// =============================================================================
// Internals
// =============================================================================

func (s *Store) loadMetadata(id string) (*metadata, error) {
	path := filepath.Join(s.checkpointsDir, id, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing metadata for %s: %w", id, err)
	}
	return &meta, nil
}

func (s *Store) loadIndex() []Entry {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		return []Entry{}
	}
	var index []Entry
	if err := json.Unmarshal(data, &index); err != nil {
		// A corrupt index is recoverable state, not fatal.
		s.logger.Warn("checkpoint index corrupt, starting fresh", "error", err)
		return []Entry{}
	}
	return index
}

func (s *Store) saveIndexLocked() error {
	if err := writeJSONAtomic(s.indexPath, s.index); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// writeJSONAtomic marshals v and writes it via temp file + rename so a
// crash never leaves a truncated file behind.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	success = true
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
