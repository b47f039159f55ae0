// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TexGuardian/pkg/ux"
	"github.com/AleutianAI/TexGuardian/services/guardian/latex"
)

func runCompile(cmd *cobra.Command, args []string) error {
	compiler := latex.NewCompiler(cfg.Latex, logger.Logger)

	spinner := ux.NewSpinner("Compiling " + cfg.Project.MainTex)
	spinner.Start()
	res, err := compiler.Compile(cmd.Context(),
		filepath.Join(projectRoot, cfg.Project.MainTex),
		filepath.Join(projectRoot, cfg.Project.OutputDir))
	spinner.Stop()
	if err != nil {
		return err
	}

	printCompileResult(res)
	if !res.Success {
		return fmt.Errorf("compilation failed")
	}
	return nil
}

func printCompileResult(res *latex.CompileResult) {
	if res.Success {
		ux.Success(fmt.Sprintf("Compiled %s (%d page(s))", res.PDFPath, res.PageCount))
	}
	for _, e := range res.Errors {
		ux.Error(e)
	}
	for _, w := range res.Warnings {
		ux.Warning(w)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	compiler := latex.NewCompiler(cfg.Latex, logger.Logger)
	mainTex := filepath.Join(projectRoot, cfg.Project.MainTex)
	outputDir := filepath.Join(projectRoot, cfg.Project.OutputDir)

	recompile := func(path string) {
		res, err := compiler.Compile(ctx, mainTex, outputDir)
		if err != nil {
			logger.Error("compile failed", "error", err)
			return
		}
		printCompileResult(res)
	}

	watcher, err := latex.NewWatcher(projectRoot, recompile, logger.Logger)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	ux.Info(fmt.Sprintf("Watching %s (Ctrl-C to stop)", projectRoot))
	recompile(mainTex)

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
