// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package visual

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TexGuardian/services/guardian/latex"
	"github.com/AleutianAI/TexGuardian/services/guardian/llm"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCompiler struct {
	results []*latex.CompileResult
	calls   int
}

func (f *fakeCompiler) Compile(ctx context.Context, mainTex, outputDir string) (*latex.CompileResult, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func okCompile(rounds int) *fakeCompiler {
	results := make([]*latex.CompileResult, rounds)
	for i := range results {
		results[i] = &latex.CompileResult{Success: true, PDFPath: "doc.pdf", PageCount: 1}
	}
	return &fakeCompiler{results: results}
}

// fakeRenderer returns a pre-staged image set per round.
type fakeRenderer struct {
	pages [][]string
	calls int
}

func (f *fakeRenderer) RenderPages(ctx context.Context, pdfPath, outputDir string) ([]string, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.pages) {
		idx = len(f.pages) - 1
	}
	return f.pages[idx], nil
}

type fakeAnalyzer struct {
	reports []*llm.VisualReport
	calls   int

	// failAt is the 1-based call number that returns err. Zero never
	// fails.
	failAt int
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, imagePaths []string, previousIssues []string) (*llm.VisualReport, error) {
	idx := f.calls
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, f.err
	}
	if idx >= len(f.reports) {
		idx = len(f.reports) - 1
	}
	return f.reports[idx], nil
}

type fakePatcher struct {
	applied int
	failAll bool
}

func (f *fakePatcher) ApplyDiffText(ctx context.Context, text string) (int, error) {
	if f.failAll {
		return 0, fmt.Errorf("position not found")
	}
	f.applied++
	return 1, nil
}

func reportWithPatch(score int) *llm.VisualReport {
	return &llm.VisualReport{
		QualityScore: score,
		Issues: []llm.VisualIssue{{
			Page:        1,
			Severity:    "error",
			Category:    "layout",
			Description: "margin violated",
			Patch:       "--- a/main.tex\n+++ b/main.tex\n@@ -1,1 +1,1 @@\n-x\n+y",
		}},
	}
}

// pageSet writes n distinct variants of a one-page render, one per
// round, so consecutive rounds never converge accidentally.
func distinctPages(t *testing.T, dir string, rounds int) [][]string {
	t.Helper()
	sets := make([][]string, rounds)
	for i := 0; i < rounds; i++ {
		path := filepath.Join(dir, fmt.Sprintf("round%d.png", i))
		writePage(t, path, 40, 40, white, image.Rect(0, 0, 5*(i+1), 40))
		sets[i] = []string{path}
	}
	return sets
}

func runVerifier(t *testing.T, compiler Compiler, renderer Renderer, analyzer Analyzer, patcher Patcher, maxRounds int) *RoundResult {
	t.Helper()
	v := NewVerifier(compiler, renderer, analyzer, patcher, NewDiffer(15), nil)
	res, err := v.Run(context.Background(), Options{
		MainTex:       "main.tex",
		OutputDir:     "build",
		GuardianDir:   t.TempDir(),
		MaxRounds:     maxRounds,
		DiffThreshold: 5.0,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_ConvergesOnIdenticalRenders(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.png")
	writePage(t, page, 40, 40, white)

	analyzer := &fakeAnalyzer{reports: []*llm.VisualReport{reportWithPatch(80)}}
	renderer := &fakeRenderer{pages: [][]string{{page}, {page}}}

	res := runVerifier(t, okCompile(2), renderer, analyzer, &fakePatcher{}, 5)

	assert.Equal(t, StopConverged, res.StoppedReason)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 80, res.QualityScore, "carries the last reported score")
	assert.Equal(t, 1, analyzer.calls, "vision not consulted on the converging round")
}

func TestRun_QualityRegressionStopsAtThirdRound(t *testing.T) {
	dir := t.TempDir()
	analyzer := &fakeAnalyzer{reports: []*llm.VisualReport{
		reportWithPatch(70),
		reportWithPatch(60),
		reportWithPatch(50),
	}}
	renderer := &fakeRenderer{pages: distinctPages(t, dir, 5)}

	res := runVerifier(t, okCompile(5), renderer, analyzer, &fakePatcher{}, 10)

	assert.Equal(t, StopQualityRegression, res.StoppedReason)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 50, res.QualityScore)
	assert.NotEmpty(t, res.RemainingIssues)
}

func TestRun_EqualScoreIsNotARegression(t *testing.T) {
	dir := t.TempDir()
	// 70 -> 60 is one decrease; 60 -> 60 resets the streak.
	analyzer := &fakeAnalyzer{reports: []*llm.VisualReport{
		reportWithPatch(70),
		reportWithPatch(60),
		reportWithPatch(60),
		reportWithPatch(60),
	}}
	renderer := &fakeRenderer{pages: distinctPages(t, dir, 4)}

	res := runVerifier(t, okCompile(4), renderer, analyzer, &fakePatcher{}, 4)

	assert.Equal(t, StopMaxRounds, res.StoppedReason)
	assert.Equal(t, 4, res.Rounds)
}

func TestRun_NoSubstantiveIssues(t *testing.T) {
	dir := t.TempDir()
	analyzer := &fakeAnalyzer{reports: []*llm.VisualReport{{
		QualityScore: 95,
		Issues:       []llm.VisualIssue{{Severity: "info", Description: "polish"}},
	}}}
	renderer := &fakeRenderer{pages: distinctPages(t, dir, 1)}

	res := runVerifier(t, okCompile(1), renderer, analyzer, &fakePatcher{}, 5)

	assert.Equal(t, StopNoIssues, res.StoppedReason)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 95, res.QualityScore)
	assert.Zero(t, res.PatchesApplied)
}

func TestRun_CompilationFailure(t *testing.T) {
	compiler := &fakeCompiler{results: []*latex.CompileResult{{
		Success: false,
		Errors:  []string{"! Undefined control sequence.  [l.10]"},
	}}}

	res := runVerifier(t, compiler, &fakeRenderer{pages: [][]string{{}}}, &fakeAnalyzer{reports: []*llm.VisualReport{{}}}, &fakePatcher{}, 5)

	assert.Equal(t, StopCompilationFailed, res.StoppedReason)
	assert.Equal(t, 1, res.Rounds)
	assert.Contains(t, res.RemainingIssues[0], "Undefined control sequence")
}

func TestRun_MaxRoundsReached(t *testing.T) {
	dir := t.TempDir()
	analyzer := &fakeAnalyzer{reports: []*llm.VisualReport{reportWithPatch(80)}}
	renderer := &fakeRenderer{pages: distinctPages(t, dir, 3)}
	patcher := &fakePatcher{}

	res := runVerifier(t, okCompile(3), renderer, analyzer, patcher, 3)

	assert.Equal(t, StopMaxRounds, res.StoppedReason)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 3, res.PatchesApplied, "one patch per round")
	assert.Equal(t, 3, patcher.applied)
}

func TestRun_PatchFailuresDoNotAbortLoop(t *testing.T) {
	dir := t.TempDir()
	analyzer := &fakeAnalyzer{reports: []*llm.VisualReport{reportWithPatch(80)}}
	renderer := &fakeRenderer{pages: distinctPages(t, dir, 2)}

	res := runVerifier(t, okCompile(2), renderer, analyzer, &fakePatcher{failAll: true}, 2)

	assert.Equal(t, StopMaxRounds, res.StoppedReason)
	assert.Zero(t, res.PatchesApplied)
}

func TestRun_AnalyzerFailureKeepsPartialState(t *testing.T) {
	dir := t.TempDir()
	analyzer := &fakeAnalyzer{
		reports: []*llm.VisualReport{reportWithPatch(80)},
		failAt:  2,
		err:     fmt.Errorf("service unavailable"),
	}
	renderer := &fakeRenderer{pages: distinctPages(t, dir, 3)}
	patcher := &fakePatcher{}

	v := NewVerifier(okCompile(3), renderer, analyzer, patcher, NewDiffer(15), nil)
	res, err := v.Run(context.Background(), Options{
		MainTex:       "main.tex",
		OutputDir:     "build",
		GuardianDir:   t.TempDir(),
		MaxRounds:     5,
		DiffThreshold: 5.0,
	})

	require.Error(t, err)
	require.NotNil(t, res, "partial state survives an analysis failure")
	assert.Equal(t, StopAnalysisFailed, res.StoppedReason)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 1, res.PatchesApplied, "round 1 patch is not discarded")
	assert.Equal(t, 80, res.QualityScore, "last successful score carried")
	assert.Equal(t, []string{"margin violated"}, res.RemainingIssues)
}

func TestRun_CancelledBeforeFirstRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewVerifier(okCompile(1), &fakeRenderer{pages: [][]string{{}}}, &fakeAnalyzer{reports: []*llm.VisualReport{{}}}, &fakePatcher{}, NewDiffer(15), nil)
	_, err := v.Run(ctx, Options{MaxRounds: 3, GuardianDir: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvergenceState_TrackScore(t *testing.T) {
	s := convergenceState{}
	s = s.trackScore(70)
	assert.False(t, s.regressed())
	s = s.trackScore(60)
	assert.False(t, s.regressed(), "one decrease is not a regression")
	s = s.trackScore(50)
	assert.True(t, s.regressed(), "two consecutive strict decreases")
}

func TestConvergenceState_IncreaseResetsStreak(t *testing.T) {
	s := convergenceState{}
	for _, score := range []int{70, 60, 65, 60, 60} {
		s = s.trackScore(score)
	}
	assert.False(t, s.regressed())
	assert.Equal(t, []int{70, 60, 65, 60, 60}, s.scores)
}
