// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TexGuardian/pkg/ux"
	"github.com/AleutianAI/TexGuardian/services/guardian/checkpoint"
	"github.com/AleutianAI/TexGuardian/services/guardian/config"
	"github.com/AleutianAI/TexGuardian/services/guardian/engine"
	"github.com/AleutianAI/TexGuardian/services/guardian/patch"
	"github.com/AleutianAI/TexGuardian/services/guardian/safety"
)

// buildPipeline wires the patch pipeline against the project root.
func buildPipeline(guardianDir string, approve engine.Approver) (*engine.Pipeline, error) {
	store, err := checkpoint.NewStore(guardianDir, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	return engine.NewPipeline(
		projectRoot,
		safety.NewValidator(cfg.Safety),
		store,
		patch.NewApplier(projectRoot, logger.Logger),
		approve,
		logger.Logger,
	), nil
}

// promptApprover asks on the terminal whether a flagged patch proceeds.
func promptApprover(p *patch.Patch, reasons []string) bool {
	fmt.Printf("\nPatch to %s needs review:\n", p.FilePath)
	for _, r := range reasons {
		fmt.Printf("  - %s\n", r)
	}
	fmt.Println(strings.TrimRight(p.RawDiff, "\n"))
	fmt.Print("Apply? [y/N] ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func runApply(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading diff: %w", err)
	}

	text := string(data)
	if !strings.HasPrefix(strings.TrimSpace(text), "```") {
		text = "```diff\n" + text + "\n```"
	}
	patches := patch.Extract(text)
	if len(patches) == 0 {
		ux.Muted("No patches found in input.")
		return nil
	}

	approve := engine.Approver(promptApprover)
	if autoYes {
		approve = func(*patch.Patch, []string) bool { return true }
	}

	pipeline, err := buildPipeline(filepath.Join(projectRoot, config.GuardianDirName), approve)
	if err != nil {
		return err
	}

	res, err := pipeline.ApplyPatches(cmd.Context(), patches)
	if err != nil {
		return err
	}

	for _, o := range res.Outcomes {
		if o.Applied {
			ux.FileStatus(o.FilePath, ux.IconSuccess, "")
		} else {
			ux.FileStatus(o.FilePath, ux.IconError, o.Reason)
		}
	}
	ux.Summary(res.Applied, res.Total-res.Applied, res.Total)
	ux.Muted("checkpoint " + res.CheckpointID)
	return nil
}
