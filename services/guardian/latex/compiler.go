// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package latex wraps the external LaTeX toolchain: latexmk for
// compilation, pdftoppm for page rendering, pdfinfo for page counts,
// and a file watcher for auto-recompilation.
package latex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/TexGuardian/services/guardian/config"
)

// texLogLineWidth is the column at which TeX hard-wraps .log output.
// Lines at exactly this width are rejoined before pattern matching.
const texLogLineWidth = 79

// CompileResult reports one compiler invocation.
type CompileResult struct {
	// Success is true when the compiler exited zero and the PDF exists.
	Success bool

	// PDFPath is the produced artifact. Empty on failure.
	PDFPath string

	// LogOutput is the combined stdout and stderr of the run.
	LogOutput string

	// Errors holds extracted error lines, location-annotated where the
	// log allowed it.
	Errors []string

	// Warnings holds extracted warnings, important ones first.
	Warnings []string

	// PageCount is the PDF page count, or 0 when unknown.
	PageCount int
}

// Compiler drives latexmk.
type Compiler struct {
	cfg    config.LatexConfig
	logger *slog.Logger
}

// NewCompiler creates a Compiler for the given configuration.
func NewCompiler(cfg config.LatexConfig, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{cfg: cfg, logger: logger}
}

// Compile builds mainTex into outputDir.
//
// # Description
//
// Runs latexmk in nonstop, halt-on-error mode with the configured
// engine. A "error in previous invocation" failure means latexmk
// refused to re-run the engine over stale state; the build tree is
// cleaned once and the compile retried. Errors are extracted from the
// combined output, falling back to the .log file and finally to raw
// keyword scanning so a failed run never reports an empty error list.
//
// # Outputs
//
//	*CompileResult - Always non-nil; Success=false carries the errors.
//	error - Non-nil only for environment faults such as a missing
//	compiler binary; compile failures are reported in the result.
func (c *Compiler) Compile(ctx context.Context, mainTex, outputDir string) (*CompileResult, error) {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	compilerBin, err := exec.LookPath(c.cfg.Compiler)
	if err != nil {
		return &CompileResult{
			Success:   false,
			LogOutput: "compiler not found",
			Errors:    []string{fmt.Sprintf("compiler %q not found on PATH", c.cfg.Compiler)},
		}, fmt.Errorf("%w: %s", ErrCompilerNotFound, c.cfg.Compiler)
	}

	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := c.buildArgs(mainTex, outputDir)
	c.logger.Debug("compiling", "cmd", compilerBin, "args", args)

	logOutput, exitCode := c.run(runCtx, compilerBin, args, filepath.Dir(mainTex))

	if runCtx.Err() == context.DeadlineExceeded {
		return &CompileResult{
			Success:   false,
			LogOutput: "compilation timed out",
			Errors:    []string{fmt.Sprintf("compilation timed out after %s", timeout)},
		}, nil
	}

	// Stale latexmk state: clean once and retry.
	if exitCode != 0 && strings.Contains(logOutput, "error in previous invocation") {
		c.logger.Info("stale build state detected, cleaning and retrying")
		c.Clean(ctx, mainTex, outputDir)
		logOutput, exitCode = c.run(runCtx, compilerBin, args, filepath.Dir(mainTex))
	}

	errs := extractErrors(logOutput)
	warnings := extractWarnings(logOutput)

	// stdout may be quiet; the .log file always has the engine output.
	if len(errs) == 0 && exitCode != 0 {
		logFile := filepath.Join(outputDir, texStem(mainTex)+".log")
		if data, readErr := os.ReadFile(logFile); readErr == nil {
			errs = extractErrors(string(data))
			if len(warnings) == 0 {
				warnings = extractWarnings(string(data))
			}
		}
	}
	if len(errs) == 0 && exitCode != 0 {
		errs = fallbackErrors(logOutput, exitCode)
	}

	pdfPath := filepath.Join(outputDir, texStem(mainTex)+".pdf")
	_, statErr := os.Stat(pdfPath)
	success := exitCode == 0 && statErr == nil

	result := &CompileResult{
		Success:   success,
		LogOutput: logOutput,
		Errors:    errs,
		Warnings:  warnings,
	}
	if success {
		result.PDFPath = pdfPath
		result.PageCount = PageCount(ctx, pdfPath)
	}
	return result, nil
}

// Clean runs latexmk -C to remove build artifacts. Failures are
// ignored; a dirty tree just means the next compile may also fail.
func (c *Compiler) Clean(ctx context.Context, mainTex, outputDir string) {
	compilerBin, err := exec.LookPath(c.cfg.Compiler)
	if err != nil {
		return
	}
	cleanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cleanCtx, compilerBin,
		"-C", "-output-directory="+outputDir, filepath.Base(mainTex))
	cmd.Dir = filepath.Dir(mainTex)
	_ = cmd.Run()
}

func (c *Compiler) buildArgs(mainTex, outputDir string) []string {
	engineFlag := map[string]string{
		"pdflatex": "-pdf",
		"xelatex":  "-xelatex",
		"lualatex": "-lualatex",
	}[c.cfg.Engine]
	if engineFlag == "" {
		engineFlag = "-pdf"
	}

	// latexmk runs with cwd at the source dir, so prefer a relative
	// output path when it is inside the tree.
	relOutput := outputDir
	if rel, err := filepath.Rel(filepath.Dir(mainTex), outputDir); err == nil && !strings.HasPrefix(rel, "..") {
		relOutput = rel
	}

	args := []string{
		engineFlag,
		"-interaction=nonstopmode",
		"-halt-on-error",
		"-output-directory=" + relOutput,
	}
	if c.cfg.ShellEscape {
		args = append(args, "--shell-escape")
	}
	return append(args, filepath.Base(mainTex))
}

func (c *Compiler) run(ctx context.Context, bin string, args []string, dir string) (string, int) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	return string(out), exitCode
}

// PageCount reads a PDF's page count via pdfinfo. Returns 0 when
// pdfinfo is unavailable or fails, so callers can distinguish unknown
// from a real count.
func PageCount(ctx context.Context, pdfPath string) int {
	pdfinfo, err := exec.LookPath("pdfinfo")
	if err != nil {
		return 0
	}

	cmd := exec.CommandContext(ctx, pdfinfo, pdfPath)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	return parsePageCount(string(out))
}

func parsePageCount(pdfinfoOutput string) int {
	for _, line := range strings.Split(pdfinfoOutput, "\n") {
		if strings.HasPrefix(line, "Pages:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
			if err == nil {
				return n
			}
			return 0
		}
	}
	return 0
}

func texStem(mainTex string) string {
	base := filepath.Base(mainTex)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// =============================================================================
// Log Parsing
// =============================================================================

var (
	bangErrorPattern    = regexp.MustCompile(`^! (.+)$`)
	locationPattern     = regexp.MustCompile(`^l\.(\d+) (.*)$`)
	latexErrorPattern   = regexp.MustCompile(`^LaTeX Error: (.+)$`)
	packageErrorPattern = regexp.MustCompile(`^Package (\w+) Error: (.+)$`)

	importantWarningPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^LaTeX Warning: (.+)$`),
		regexp.MustCompile(`^Package (\w+) Warning: (.+)$`),
	}
	boxWarningPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^Overfull \\hbox`),
		regexp.MustCompile(`^Underfull \\hbox`),
		regexp.MustCompile(`^Overfull \\vbox`),
		regexp.MustCompile(`^Underfull \\vbox`),
	}

	fallbackKeywordPattern = regexp.MustCompile(
		`(?i)(?:error|fatal|not found|missing|undefined|emergency stop|no such file|cannot (?:read|open))`)
)

// unwrapLogLines rejoins lines that TeX broke at the 79-column
// boundary, so multi-line warnings match single-line patterns.
func unwrapLogLines(log string) string {
	lines := strings.Split(log, "\n")
	merged := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		current := lines[i]
		for len(current) >= texLogLineWidth && i+1 < len(lines) {
			i++
			current += lines[i]
		}
		merged = append(merged, current)
		i++
	}
	return strings.Join(merged, "\n")
}

// extractErrors pulls error lines from a compile log, pairing each
// "! ..." line with its following "l.NNN" location when one appears
// within the next five lines. Capped at 20 entries.
func extractErrors(log string) []string {
	lines := strings.Split(unwrapLogLines(log), "\n")
	var errs []string

	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case bangErrorPattern.MatchString(line):
			entry := strings.TrimSpace(line)
			limit := i + 6
			if limit > len(lines) {
				limit = len(lines)
			}
			for j := i + 1; j < limit; j++ {
				if m := locationPattern.FindStringSubmatch(lines[j]); m != nil {
					entry = fmt.Sprintf("%s  [l.%s]", entry, m[1])
					i = j
					break
				}
			}
			errs = append(errs, entry)
		case latexErrorPattern.MatchString(line), packageErrorPattern.MatchString(line):
			errs = append(errs, strings.TrimSpace(line))
		}
		i++
	}

	if len(errs) > 20 {
		errs = errs[:20]
	}
	return errs
}

// extractWarnings returns important warnings (LaTeX/Package) before box
// warnings so the cap never lets box noise drown out real issues.
func extractWarnings(log string) []string {
	var important, boxes []string

outer:
	for _, line := range strings.Split(unwrapLogLines(log), "\n") {
		for _, p := range importantWarningPatterns {
			if p.MatchString(line) {
				important = append(important, strings.TrimSpace(line))
				continue outer
			}
		}
		for _, p := range boxWarningPatterns {
			if p.MatchString(line) {
				boxes = append(boxes, strings.TrimSpace(line))
				continue outer
			}
		}
	}

	all := append(important, boxes...)
	if len(all) > 20 {
		all = all[:20]
	}
	return all
}

// fallbackErrors synthesizes error entries when pattern extraction
// found nothing for a failed run, so the caller never sees a failure
// with an empty error list.
func fallbackErrors(logOutput string, exitCode int) []string {
	var fallback []string
	for _, line := range strings.Split(logOutput, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if !fallbackKeywordPattern.MatchString(stripped) {
			continue
		}
		if strings.Contains(strings.ToLower(stripped), "see the transcript") {
			continue
		}
		fallback = append(fallback, stripped)
		if len(fallback) >= 10 {
			break
		}
	}
	if len(fallback) > 0 {
		return fallback
	}

	var tail []string
	for _, line := range strings.Split(logOutput, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			tail = append(tail, s)
		}
	}
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if len(tail) > 0 {
		out := []string{fmt.Sprintf("compilation failed (exit code %d), last output lines:", exitCode)}
		return append(out, tail...)
	}

	return []string{fmt.Sprintf("compilation failed with exit code %d (no log output captured)", exitCode)}
}
