// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import "errors"

var (
	// ErrPositionNotFound indicates every location strategy failed for a
	// hunk. The target file is left untouched.
	ErrPositionNotFound = errors.New("hunk position not found in target file")

	// ErrEmptyPatch indicates a patch with no hunks reached the applier.
	ErrEmptyPatch = errors.New("patch contains no hunks")
)
