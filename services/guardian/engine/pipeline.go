// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine chains the patch pipeline: parse, validate,
// checkpoint, apply.
//
// # Description
//
// The pipeline is the only path through which generated diffs reach
// the filesystem. Every batch is checkpointed before the first write,
// every patch is validated independently, and per-patch failures never
// abort siblings. Human-review flags are advisory; the Approver
// callback decides whether a flagged patch proceeds.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/TexGuardian/services/guardian/checkpoint"
	"github.com/AleutianAI/TexGuardian/services/guardian/patch"
	"github.com/AleutianAI/TexGuardian/services/guardian/safety"
)

// Approver decides whether a patch flagged for human review proceeds.
// A nil Approver on the Pipeline skips every flagged patch.
type Approver func(p *patch.Patch, reasons []string) bool

// PatchOutcome reports one patch's trip through the pipeline.
type PatchOutcome struct {
	// FilePath is the patch's declared target.
	FilePath string

	// Applied is true when the patch landed on disk.
	Applied bool

	// Reason explains a rejection, skip, or failure. Empty on success.
	Reason string
}

// BatchResult summarizes one batch of patches.
type BatchResult struct {
	// CheckpointID identifies the snapshot taken before any write.
	CheckpointID string

	// Applied counts patches that landed.
	Applied int

	// Total counts patches attempted.
	Total int

	// Outcomes holds per-patch detail in input order.
	Outcomes []PatchOutcome
}

// Pipeline applies validated, checkpointed patches to a project.
type Pipeline struct {
	projectRoot string
	validator   *safety.Validator
	store       *checkpoint.Store
	applier     *patch.Applier
	approver    Approver
	logger      *slog.Logger
}

// NewPipeline wires a Pipeline for the given project root.
func NewPipeline(projectRoot string, validator *safety.Validator, store *checkpoint.Store, applier *patch.Applier, approver Approver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		projectRoot: projectRoot,
		validator:   validator,
		store:       store,
		applier:     applier,
		approver:    approver,
		logger:      logger,
	}
}

// ApplyPatches validates and applies a batch of patches.
//
// # Description
//
// A checkpoint covering every target file is durably written before
// the first patch touches disk. Each patch then runs independently:
// rejection, review skip, or application failure of one patch never
// affects the others. The batch summary is always returned, even when
// nothing applied.
//
// # Outputs
//
//	*BatchResult - Per-patch outcomes and the checkpoint id.
//	error - Non-nil only when the checkpoint itself cannot be written;
//	no patch is applied in that case.
func (pl *Pipeline) ApplyPatches(ctx context.Context, patches []*patch.Patch) (*BatchResult, error) {
	result := &BatchResult{Total: len(patches)}
	if len(patches) == 0 {
		return result, nil
	}

	targets := make([]string, 0, len(patches))
	for _, p := range patches {
		targets = append(targets, filepath.Join(pl.projectRoot, p.FilePath))
	}

	id, err := pl.store.Create(ctx, "Before patch application", targets)
	if err != nil {
		return nil, fmt.Errorf("creating checkpoint: %w", err)
	}
	result.CheckpointID = id

	for _, p := range patches {
		outcome := pl.applyOne(ctx, p)
		if outcome.Applied {
			result.Applied++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	pl.logger.Info("patch batch complete",
		"applied", result.Applied,
		"total", result.Total,
		"checkpoint", id)
	return result, nil
}

func (pl *Pipeline) applyOne(ctx context.Context, p *patch.Patch) PatchOutcome {
	outcome := PatchOutcome{FilePath: p.FilePath}
	resolved := filepath.Join(pl.projectRoot, p.FilePath)

	validation := pl.validator.Validate(p, resolved)
	if !validation.Valid {
		pl.logger.Warn("patch rejected", "file", p.FilePath, "reason", validation.Reason)
		outcome.Reason = validation.Reason
		return outcome
	}

	if validation.RequiresHumanReview {
		if pl.approver == nil || !pl.approver(p, validation.ReviewReasons) {
			pl.logger.Info("patch skipped pending review",
				"file", p.FilePath,
				"reasons", strings.Join(validation.ReviewReasons, "; "))
			outcome.Reason = "requires human review: " + strings.Join(validation.ReviewReasons, "; ")
			return outcome
		}
	}

	if err := pl.applier.Apply(ctx, p); err != nil {
		pl.logger.Warn("patch failed", "file", p.FilePath, "error", err)
		outcome.Reason = err.Error()
		return outcome
	}

	outcome.Applied = true
	return outcome
}

// ApplyDiffText extracts patches from raw diff text and applies them.
//
// Unfenced text is wrapped in a diff fence first, since embedded issue
// patches usually arrive without one. Returns the applied count; zero
// with a nil error means nothing parseable or applicable was found.
func (pl *Pipeline) ApplyDiffText(ctx context.Context, text string) (int, error) {
	if !strings.HasPrefix(strings.TrimSpace(text), "```") {
		text = "```diff\n" + text + "\n```"
	}

	patches := patch.Extract(text)
	if len(patches) == 0 {
		return 0, nil
	}

	result, err := pl.ApplyPatches(ctx, patches)
	if err != nil {
		return 0, err
	}
	return result.Applied, nil
}
