// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visual

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/TexGuardian/services/guardian/latex"
	"github.com/AleutianAI/TexGuardian/services/guardian/llm"
)

var tracer = otel.Tracer("guardian.visual")

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Compiler builds the document into a PDF.
type Compiler interface {
	Compile(ctx context.Context, mainTex, outputDir string) (*latex.CompileResult, error)
}

// Renderer rasterizes a PDF into per-page images.
type Renderer interface {
	RenderPages(ctx context.Context, pdfPath, outputDir string) ([]string, error)
}

// Analyzer is the vision collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, imagePaths []string, previousIssues []string) (*llm.VisualReport, error)
}

// Patcher applies diff text through the full validate-checkpoint-apply
// pipeline and reports how many patches landed.
type Patcher interface {
	ApplyDiffText(ctx context.Context, text string) (int, error)
}

// =============================================================================
// Results
// =============================================================================

// StopReason is the closed set of loop termination causes.
type StopReason string

const (
	// StopConverged means consecutive renders differ below threshold.
	StopConverged StopReason = "Converged"

	// StopNoIssues means the vision model found nothing substantive.
	StopNoIssues StopReason = "NoIssues"

	// StopQualityRegression means the score strictly decreased twice
	// in a row.
	StopQualityRegression StopReason = "QualityRegression"

	// StopCompilationFailed means a round's compile did not produce a
	// PDF.
	StopCompilationFailed StopReason = "CompilationFailed"

	// StopAnalysisFailed means the vision call failed after retry
	// exhaustion. The result carries the state accumulated so far and
	// the error rides alongside it.
	StopAnalysisFailed StopReason = "AnalysisFailed"

	// StopMaxRounds means the round budget ran out.
	StopMaxRounds StopReason = "MaxRoundsReached"
)

// RoundResult is the terminal value of one verification run.
type RoundResult struct {
	// Rounds is how many rounds completed, including the stopping one.
	Rounds int

	// QualityScore is the last score the vision model reported.
	QualityScore int

	// PatchesApplied counts patches that landed across all rounds.
	PatchesApplied int

	// RemainingIssues describes issues still open at exit.
	RemainingIssues []string

	// StoppedReason says why the loop ended.
	StoppedReason StopReason
}

// Options configures one verification run.
type Options struct {
	// MainTex is the document entry point.
	MainTex string

	// OutputDir receives compile artifacts.
	OutputDir string

	// GuardianDir is the project state dir; renders land under it.
	GuardianDir string

	// MaxRounds bounds the loop. Must be at least 1.
	MaxRounds int

	// DiffThreshold is the changed-pixel percentage below which two
	// consecutive renders count as converged.
	DiffThreshold float64
}

// convergenceState is the per-run loop state, threaded explicitly
// through rounds. One value per run; never persisted.
type convergenceState struct {
	scores                 []int
	consecutiveRegressions int
	patchesApplied         int
	prevImages             []string
	prevIssues             []string
}

// trackScore appends a score and updates the regression streak. Only a
// strict decrease counts; an equal score resets the streak.
func (s convergenceState) trackScore(score int) convergenceState {
	if len(s.scores) > 0 && score < s.scores[len(s.scores)-1] {
		s.consecutiveRegressions++
	} else {
		s.consecutiveRegressions = 0
	}
	s.scores = append(s.scores, score)
	return s
}

func (s convergenceState) regressed() bool {
	return s.consecutiveRegressions >= 2
}

// =============================================================================
// Verifier
// =============================================================================

// Verifier runs the compile-render-diff-analyze-patch loop until the
// document stops changing or a terminal condition hits.
type Verifier struct {
	compiler Compiler
	renderer Renderer
	analyzer Analyzer
	patcher  Patcher
	differ   *Differ
	logger   *slog.Logger
}

// NewVerifier wires a Verifier from its collaborators.
func NewVerifier(compiler Compiler, renderer Renderer, analyzer Analyzer, patcher Patcher, differ *Differ, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		compiler: compiler,
		renderer: renderer,
		analyzer: analyzer,
		patcher:  patcher,
		differ:   differ,
		logger:   logger,
	}
}

// Run executes the verification loop.
//
// # Description
//
// Each round compiles, renders, diffs against the previous round's
// pages, and, unless the render converged, asks the vision model for a
// structured report and applies any embedded patches. Cancellation is
// honored between rounds and at the patching boundary, never mid-patch.
//
// # Outputs
//
//	*RoundResult - Always non-nil when error is nil, carrying the
//	terminal reason. Non-nil alongside an error when the vision call
//	failed, carrying the partial state accumulated before the failure.
//	error - Environment faults (renderer missing, context cancelled)
//	and exhausted vision retries. Compile failures are not errors; they
//	terminate with CompilationFailed.
func (v *Verifier) Run(ctx context.Context, opts Options) (*RoundResult, error) {
	if opts.MaxRounds < 1 {
		opts.MaxRounds = 1
	}

	runID := uuid.NewString()[:8]
	ctx, span := tracer.Start(ctx, "visual.verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("verify.run_id", runID),
		attribute.Int("verify.max_rounds", opts.MaxRounds),
	)

	state := convergenceState{}
	lastScore := 0

	for round := 1; round <= opts.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, done, err := v.runRound(ctx, opts, runID, round, &state, &lastScore)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "round failed")
			if result != nil {
				span.SetAttributes(attribute.String("verify.stopped_reason", string(result.StoppedReason)))
			}
			return result, err
		}
		if done {
			span.SetAttributes(attribute.String("verify.stopped_reason", string(result.StoppedReason)))
			return result, nil
		}
	}

	span.SetAttributes(attribute.String("verify.stopped_reason", string(StopMaxRounds)))
	return &RoundResult{
		Rounds:          opts.MaxRounds,
		QualityScore:    lastScore,
		PatchesApplied:  state.patchesApplied,
		RemainingIssues: state.prevIssues,
		StoppedReason:   StopMaxRounds,
	}, nil
}

// runRound executes one loop iteration. done=true means result is
// terminal.
func (v *Verifier) runRound(ctx context.Context, opts Options, runID string, round int, state *convergenceState, lastScore *int) (*RoundResult, bool, error) {
	ctx, span := tracer.Start(ctx, "visual.round")
	defer span.End()
	span.SetAttributes(attribute.Int("verify.round", round))

	v.logger.Info("verification round", "round", round, "max_rounds", opts.MaxRounds)

	// Compile.
	compile, err := v.compiler.Compile(ctx, opts.MainTex, opts.OutputDir)
	if err != nil {
		return nil, false, fmt.Errorf("round %d compile: %w", round, err)
	}
	if !compile.Success {
		v.logger.Warn("compilation failed", "round", round, "errors", len(compile.Errors))
		return &RoundResult{
			Rounds:          round,
			QualityScore:    0,
			PatchesApplied:  state.patchesApplied,
			RemainingIssues: compile.Errors,
			StoppedReason:   StopCompilationFailed,
		}, true, nil
	}

	// Render.
	renderDir := filepath.Join(opts.GuardianDir, "renders", runID, fmt.Sprintf("round_%d", round))
	images, err := v.renderer.RenderPages(ctx, compile.PDFPath, renderDir)
	if err != nil {
		return nil, false, fmt.Errorf("round %d render: %w", round, err)
	}
	v.logger.Info("rendered", "round", round, "pages", len(images))

	// Diff against the previous round. A page-count change skips the
	// diff and falls through to analysis.
	if len(state.prevImages) > 0 {
		if len(state.prevImages) == len(images) {
			percent, diffErr := v.differ.ComparePages(ctx, state.prevImages, images, filepath.Join(renderDir, "diffs"))
			if diffErr != nil {
				return nil, false, fmt.Errorf("round %d diff: %w", round, diffErr)
			}
			v.logger.Info("visual diff", "round", round, "percent", fmt.Sprintf("%.2f", percent))
			span.SetAttributes(attribute.Float64("verify.diff_percent", percent))

			if percent < opts.DiffThreshold {
				// Vision is not consulted on the converging round.
				return &RoundResult{
					Rounds:          round,
					QualityScore:    *lastScore,
					PatchesApplied:  state.patchesApplied,
					RemainingIssues: state.prevIssues,
					StoppedReason:   StopConverged,
				}, true, nil
			}
		} else {
			v.logger.Info("page count changed, skipping diff",
				"round", round,
				"previous", len(state.prevImages),
				"current", len(images))
		}
	}

	// Analyze. A failed vision call is terminal but must not discard
	// what the run accumulated; the partial result travels with the
	// error.
	report, err := v.analyzer.Analyze(ctx, images, state.prevIssues)
	if err != nil {
		v.logger.Error("vision analysis failed", "round", round, "error", err)
		return &RoundResult{
			Rounds:          round,
			QualityScore:    *lastScore,
			PatchesApplied:  state.patchesApplied,
			RemainingIssues: state.prevIssues,
			StoppedReason:   StopAnalysisFailed,
		}, true, fmt.Errorf("round %d analysis: %w", round, err)
	}
	*lastScore = report.QualityScore
	span.SetAttributes(
		attribute.Int("verify.quality_score", report.QualityScore),
		attribute.Int("verify.issues", len(report.Issues)),
	)

	*state = state.trackScore(report.QualityScore)
	if state.regressed() {
		v.logger.Warn("quality regressed twice, stopping", "round", round, "scores", state.scores)
		return &RoundResult{
			Rounds:          round,
			QualityScore:    report.QualityScore,
			PatchesApplied:  state.patchesApplied,
			RemainingIssues: report.Descriptions(),
			StoppedReason:   StopQualityRegression,
		}, true, nil
	}

	substantive := report.SubstantiveIssues()
	if len(substantive) == 0 {
		return &RoundResult{
			Rounds:          round,
			QualityScore:    report.QualityScore,
			PatchesApplied:  state.patchesApplied,
			StoppedReason:   StopNoIssues,
			RemainingIssues: nil,
		}, true, nil
	}

	// Patching boundary: honor cancellation before mutating files.
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	applied := v.applyIssuePatches(ctx, substantive)
	state.patchesApplied += applied
	v.logger.Info("patches applied", "round", round, "count", applied)

	state.prevImages = images
	state.prevIssues = report.Descriptions()
	return nil, false, nil
}

// applyIssuePatches runs every embedded patch through the pipeline.
// Per-issue failures are logged and skipped; one bad patch must not
// abort its siblings.
func (v *Verifier) applyIssuePatches(ctx context.Context, issues []llm.VisualIssue) int {
	applied := 0
	for _, issue := range issues {
		if issue.Patch == "" {
			continue
		}
		count, err := v.patcher.ApplyDiffText(ctx, issue.Patch)
		if err != nil {
			v.logger.Warn("patch application failed",
				"page", issue.Page,
				"category", issue.Category,
				"error", err)
			continue
		}
		applied += count
	}
	return applied
}
