// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/TexGuardian/pkg/logging"
	"github.com/AleutianAI/TexGuardian/pkg/ux"
	"github.com/AleutianAI/TexGuardian/services/guardian/config"
)

// --- Global Command Variables ---
var (
	cfg         config.Config
	projectRoot string
	logger      *logging.Logger

	verbose   bool
	autoYes   bool
	plainMode bool
	maxRound  int

	rootCmd = &cobra.Command{
		Use:   "texguardian",
		Short: "A visual quality guardian for LaTeX papers",
		Long: `TexGuardian compiles your paper, renders it, and iteratively
repairs visual issues by applying reviewed patches, with checkpoints
before every change.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; environment wins over file values.
			_ = godotenv.Load()

			if plainMode {
				ux.SetPlain(true)
			}

			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}

			configPath := config.Find(cwd)
			if configPath != "" {
				projectRoot = config.ProjectRoot(configPath)
			} else {
				projectRoot = cwd
			}

			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}

			logger, err = logging.New(logging.Config{
				Level:   level,
				Service: "texguardian",
			})
			return err
		},
	}

	// --- Verification ---
	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Run the visual verification loop until the paper converges",
		RunE:  runVerify,
	}

	// --- Patching ---
	applyCmd = &cobra.Command{
		Use:   "apply [diff-file]",
		Short: "Apply unified diff patches from a file or stdin",
		Long: `Reads diff text from the given file, or from stdin when no file
is provided, validates each patch against the safety policy, snapshots
the targets, and applies what passes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runApply,
	}

	// --- Build ---
	compileCmd = &cobra.Command{
		Use:   "compile",
		Short: "Compile the paper once and report errors and warnings",
		RunE:  runCompile,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Recompile automatically when source files change",
		RunE:  runWatch,
	}

	// --- Checkpoints ---
	checkpointCmd = &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and restore file snapshots",
	}
	checkpointListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the most recent checkpoints",
		RunE:  runCheckpointList,
	}
	checkpointRestoreCmd = &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore every file captured in a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointRestore,
	}
	checkpointDiffCmd = &cobra.Command{
		Use:   "diff <id>",
		Short: "Show changes since a checkpoint was taken",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointDiff,
	}
	checkpointDeleteCmd = &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a checkpoint's snapshot data",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointDelete,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&plainMode, "plain", false, "disable colors and animation")

	verifyCmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "auto-approve patches flagged for human review")
	verifyCmd.Flags().IntVar(&maxRound, "max-rounds", 0, "override the configured visual round limit")
	applyCmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "apply review-flagged patches without prompting")

	checkpointCmd.AddCommand(checkpointListCmd, checkpointRestoreCmd, checkpointDiffCmd, checkpointDeleteCmd)
	rootCmd.AddCommand(verifyCmd, applyCmd, compileCmd, watchCmd, checkpointCmd)
}
