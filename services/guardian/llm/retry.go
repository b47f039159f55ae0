// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

// retryableStatusCodes are HTTP statuses worth another attempt.
var retryableStatusCodes = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// retryablePatterns are message fragments signalling transient faults
// from providers that return them without a usable status code.
var retryablePatterns = []string{
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"connection reset",
	"connection refused",
	"timeout",
	"throttl",
}

// isRetryable classifies an API error as transient or permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatusCodes[apiErr.HTTPStatusCode]
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// newAPIBackoff returns the delay schedule for API retries: 1s base,
// doubling, capped at 30s, with 25% jitter.
func newAPIBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.25
	bo.Reset()
	return bo
}

// withRetry runs fn with the given backoff schedule on retryable
// failures, up to maxRetries additional attempts. Non-retryable errors
// and context cancellation propagate immediately.
func withRetry(ctx context.Context, logger *slog.Logger, maxRetries int, bo backoff.BackOff, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= maxRetries {
			return err
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		logger.Warn("retryable API failure",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}
