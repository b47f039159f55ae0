// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/TexGuardian/services/guardian/config"
)

// visionSystemPrompt steers the model toward actionable, structured
// page reviews.
const visionSystemPrompt = `You are an expert academic paper visual quality reviewer. Analyze the rendered PDF page images and identify visual issues: cut-off or unreadable content, broken figures or tables, margin violations, malformed equations, inconsistent layout.

Severity levels:
- error: must fix before submission
- warning: should fix
- info: optional polish

Respond with a JSON object:
{
  "quality_score": <0-100>,
  "issues": [
    {
      "page": <n>,
      "location": "<where on the page>",
      "severity": "error|warning|info",
      "category": "<figures|tables|layout|math|references>",
      "description": "<what is wrong>",
      "suggested_fix": "<how to fix it>",
      "patch": "<optional unified diff against the source>"
    }
  ]
}

Be lenient with minor rendering variations. Focus on issues a reviewer would complain about.`

// Client is the vision collaborator over an OpenAI-compatible endpoint.
type Client struct {
	api        *openai.Client
	model      string
	maxRetries int
	maxPages   int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds a Client from configuration. A zero
// RequestsPerMinute disables rate limiting.
func NewClient(cfg config.LLMConfig, maxPages int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      cfg.VisionModel,
		maxRetries: cfg.MaxRetries,
		maxPages:   maxPages,
		limiter:    limiter,
		logger:     logger,
	}
}

// Analyze submits page images to the vision model and parses its
// structured report.
//
// # Inputs
//
//	ctx - Bounds the call including retries.
//	imagePaths - Rendered page PNGs in page order. Capped at the
//	configured page limit when one is set.
//	previousIssues - Prior round's issue descriptions, for continuity.
//
// # Outputs
//
//	*VisualReport - Parsed report. Never nil on success.
//	error - After retry exhaustion or on a non-retryable failure.
func (c *Client) Analyze(ctx context.Context, imagePaths []string, previousIssues []string) (*VisualReport, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	pages := imagePaths
	if c.maxPages > 0 && len(pages) > c.maxPages {
		pages = pages[:c.maxPages]
	}

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: buildVisionPrompt(len(pages), previousIssues),
	}}
	for _, path := range pages {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading page image %s: %w", path, err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   4000,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, c.logger, c.maxRetries, newAPIBackoff(), func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("vision request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision response has no choices")
	}

	report, err := ParseVisualReport(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Info("vision analysis complete",
		"pages", len(pages),
		"quality_score", report.QualityScore,
		"issues", len(report.Issues))
	return report, nil
}

func buildVisionPrompt(pageCount int, previousIssues []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze these %d rendered page image(s) for visual quality issues.\n", pageCount)

	if len(previousIssues) > 0 {
		sb.WriteString("\nIssues reported in the previous round (verify whether they are fixed):\n")
		for _, issue := range previousIssues {
			sb.WriteString("- ")
			sb.WriteString(issue)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
