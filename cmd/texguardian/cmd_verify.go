// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TexGuardian/pkg/ux"
	"github.com/AleutianAI/TexGuardian/services/guardian/config"
	"github.com/AleutianAI/TexGuardian/services/guardian/engine"
	"github.com/AleutianAI/TexGuardian/services/guardian/latex"
	"github.com/AleutianAI/TexGuardian/services/guardian/llm"
	"github.com/AleutianAI/TexGuardian/services/guardian/patch"
	"github.com/AleutianAI/TexGuardian/services/guardian/visual"
)

// runVerify drives the compile-render-analyze-patch loop until the
// paper converges or a stop condition fires.
func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guardianDir := filepath.Join(projectRoot, config.GuardianDirName)

	// During the loop, review-flagged patches are skipped unless --yes
	// is set. Prompting mid-run would stall unattended verification.
	var approve engine.Approver
	if autoYes {
		approve = func(*patch.Patch, []string) bool { return true }
	}
	pipeline, err := buildPipeline(guardianDir, approve)
	if err != nil {
		return err
	}

	rounds := cfg.Safety.MaxVisualRounds
	if maxRound > 0 {
		rounds = maxRound
	}

	verifier := visual.NewVerifier(
		latex.NewCompiler(cfg.Latex, logger.Logger),
		latex.NewRenderer(cfg.Visual.DPI, logger.Logger),
		llm.NewClient(cfg.LLM, cfg.Visual.MaxPagesToAnalyze, logger.Logger),
		pipeline,
		visual.NewDiffer(cfg.Visual.PixelThreshold),
		logger.Logger,
	)

	res, err := verifier.Run(ctx, visual.Options{
		MainTex:       filepath.Join(projectRoot, cfg.Project.MainTex),
		OutputDir:     filepath.Join(projectRoot, cfg.Project.OutputDir),
		GuardianDir:   guardianDir,
		MaxRounds:     rounds,
		DiffThreshold: cfg.Visual.DiffThreshold,
	})
	if err != nil {
		if res != nil {
			ux.Warning(fmt.Sprintf("Stopped after %d round(s): %s", res.Rounds, res.StoppedReason))
			ux.Info(fmt.Sprintf("%d patch(es) applied before the failure", res.PatchesApplied))
		}
		return err
	}

	switch res.StoppedReason {
	case visual.StopConverged, visual.StopNoIssues:
		ux.Success(fmt.Sprintf("Stopped after %d round(s): %s", res.Rounds, res.StoppedReason))
	default:
		ux.Warning(fmt.Sprintf("Stopped after %d round(s): %s", res.Rounds, res.StoppedReason))
	}
	ux.Info(fmt.Sprintf("Quality score %d, %d patch(es) applied", res.QualityScore, res.PatchesApplied))
	if len(res.RemainingIssues) > 0 {
		ux.Title("Remaining issues")
		for _, issue := range res.RemainingIssues {
			ux.FileStatus(issue, ux.IconPending, "")
		}
	}

	if res.StoppedReason == visual.StopCompilationFailed {
		return fmt.Errorf("compilation failed")
	}
	return nil
}
