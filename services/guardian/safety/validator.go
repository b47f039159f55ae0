// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety gates patches against the project's edit policy.
//
// # Description
//
// The validator answers two separate questions about a parsed patch:
// may it be applied at all (allowlist, denylist, size ceiling, path
// containment), and should a human look at it first (large deletions,
// edits near sensitive front-matter). The second answer is advisory
// and never blocks application on its own.
package safety

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/TexGuardian/services/guardian/config"
	"github.com/AleutianAI/TexGuardian/services/guardian/patch"
)

// reviewDeletionCeiling is the removed-line count above which a patch
// is flagged for human review.
const reviewDeletionCeiling = 10

// sensitiveMarkers flag edits to front matter a paper's authors would
// want to see before they land.
var sensitiveMarkers = []string{
	"abstract",
	`\title`,
	`\author`,
	`\maketitle`,
}

// Result reports one validation pass over one patch.
type Result struct {
	// Valid is false when the patch must not be applied.
	Valid bool

	// Reason explains rejection. Empty when Valid.
	Reason string

	// RequiresHumanReview asks the caller to confirm before applying.
	// Advisory: a reviewed patch is still Valid.
	RequiresHumanReview bool

	// ReviewReasons lists why review was requested, in check order.
	ReviewReasons []string
}

// Validator checks patches against a SafetyConfig. Safe for concurrent
// use; it holds no mutable state.
type Validator struct {
	cfg config.SafetyConfig
}

// NewValidator creates a Validator for the given policy.
func NewValidator(cfg config.SafetyConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks one patch against the policy.
//
// # Inputs
//
//	p - Parsed patch. Not mutated.
//	resolvedPath - Absolute target path after joining with the project
//	root. Used in diagnostics; may be "".
//
// # Outputs
//
//	Result - Rejection reason or advisory review flags.
func (v *Validator) Validate(p *patch.Patch, resolvedPath string) Result {
	if !pathContained(p.FilePath) || filepath.IsAbs(p.FilePath) {
		target := resolvedPath
		if target == "" {
			target = p.FilePath
		}
		return Result{Valid: false, Reason: fmt.Sprintf("path escapes project root: %s", target)}
	}

	if !v.allowed(p.FilePath) {
		return Result{Valid: false, Reason: fmt.Sprintf("file not in allowlist: %s", p.FilePath)}
	}

	if v.denied(p.FilePath) {
		return Result{Valid: false, Reason: fmt.Sprintf("file in denylist: %s", p.FilePath)}
	}

	if changed := p.LinesChanged(); changed > v.cfg.MaxChangedLines {
		return Result{
			Valid:  false,
			Reason: fmt.Sprintf("too many lines changed (%d > %d)", changed, v.cfg.MaxChangedLines),
		}
	}

	reasons := v.reviewTriggers(p)
	return Result{
		Valid:               true,
		RequiresHumanReview: len(reasons) > 0,
		ReviewReasons:       reasons,
	}
}

func (v *Validator) allowed(filePath string) bool {
	for _, pattern := range v.cfg.Allowlist {
		if matchGlob(pattern, filePath) {
			return true
		}
	}
	return false
}

func (v *Validator) denied(filePath string) bool {
	for _, pattern := range v.cfg.Denylist {
		if matchGlob(pattern, filePath) {
			return true
		}
	}
	return false
}

// pathContained rejects declared paths that climb out of the project
// tree. The check runs on the declared path, before joining with the
// root, because Clean folds ".." segments away afterwards.
func pathContained(declaredPath string) bool {
	clean := filepath.ToSlash(filepath.Clean(declaredPath))
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

func (v *Validator) reviewTriggers(p *patch.Patch) []string {
	var reasons []string

	if deletions := p.Deletions(); deletions > reviewDeletionCeiling {
		reasons = append(reasons, fmt.Sprintf("large deletion (%d lines)", deletions))
	}

	rawLower := strings.ToLower(p.RawDiff)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(rawLower, strings.ToLower(marker)) {
			reasons = append(reasons, fmt.Sprintf("modifies sensitive content: %s", marker))
		}
	}

	return reasons
}
