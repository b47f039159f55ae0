// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package latex

import "errors"

var (
	// ErrCompilerNotFound indicates the configured build driver binary
	// is not installed or not on any search path.
	ErrCompilerNotFound = errors.New("latex compiler not found")

	// ErrRendererNotFound indicates pdftoppm is unavailable.
	ErrRendererNotFound = errors.New("pdftoppm not found")
)
