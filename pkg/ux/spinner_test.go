// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpinner_PlainModePrintsOnce(t *testing.T) {
	forcePlain(t, true)
	out := captureStdout(t, func() {
		s := NewSpinner("compiling")
		s.Start()
		s.Stop()
	})
	assert.Equal(t, "compiling...\n", out)
}

func TestSpinner_AnimatedStartStop(t *testing.T) {
	forcePlain(t, false)
	_ = captureStdout(t, func() {
		s := NewSpinner("rendering")
		s.Start()
		time.Sleep(250 * time.Millisecond)
		s.UpdateMessage("analyzing")
		s.Stop()
	})
}

func TestSpinner_DoubleStartAndStopAreSafe(t *testing.T) {
	forcePlain(t, true)
	_ = captureStdout(t, func() {
		s := NewSpinner("compiling")
		s.Start()
		s.Start()
		s.Stop()
		s.Stop()
	})
}

func TestSpinner_StopWithPrintsStatusLine(t *testing.T) {
	forcePlain(t, true)
	out := captureStdout(t, func() {
		s := NewSpinner("compiling")
		s.Start()
		s.StopWith(IconSuccess, "compiled in 3.2s")
	})
	assert.Contains(t, out, "compiling...")
	assert.Contains(t, out, "✓ compiled in 3.2s")
}
