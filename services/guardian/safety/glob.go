// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"path/filepath"
	"strings"
)

// matchGlob matches a path against a glob pattern.
//
// Supports:
//   - * matches any non-separator characters
//   - ** matches any characters including separators (recursive)
//   - ? matches single character
//   - [abc] character class
//
// Bare-filename patterns like *.tex also match against the path's base
// name, so "sections/intro.tex" passes an "*.tex" allowlist.
func matchGlob(pattern, path string) bool {
	path = filepath.ToSlash(path)

	if strings.Contains(pattern, "**") {
		return matchDoublestar(pattern, path)
	}

	matched, _ := filepath.Match(pattern, path)
	if matched {
		return true
	}

	matched, _ = filepath.Match(pattern, filepath.Base(path))
	return matched
}

// matchDoublestar evaluates patterns containing the recursive ** token.
func matchDoublestar(pattern, path string) bool {
	segs := strings.Split(pattern, "**")
	if len(segs) == 1 {
		ok, _ := filepath.Match(pattern, path)
		return ok
	}

	if len(segs) == 2 {
		return matchPrefixSuffix(segs[0], segs[1], path)
	}

	// Several ** tokens. The literal segments between them must appear
	// left to right; the first one is anchored unless ** leads.
	rest := path
	anchored := !strings.HasPrefix(pattern, "**")
	for i, seg := range segs {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		at := strings.Index(rest, seg)
		if at < 0 {
			return false
		}
		if i == 0 && anchored && at != 0 {
			return false
		}
		rest = rest[at+len(seg):]
	}
	if strings.HasSuffix(pattern, "**") {
		return true
	}
	return rest == ""
}

// matchPrefixSuffix handles the common "prefix/**/suffix" shape: the
// prefix must hold the path's head exactly, the suffix may match any
// tail of what remains.
func matchPrefixSuffix(prefix, suffix, path string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")

	if prefix != "" {
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			return false
		}
		path = strings.TrimPrefix(path, prefix+"/")
	}
	if suffix == "" {
		return true
	}
	return matchSuffix(suffix, path)
}

// matchSuffix reports whether some tail of path matches suffix, which
// may itself carry glob metacharacters.
func matchSuffix(suffix, path string) bool {
	if !strings.ContainsAny(suffix, "*?[") {
		return path == suffix ||
			strings.HasSuffix(path, suffix) ||
			strings.Contains(path, suffix+"/")
	}

	segs := strings.Split(path, "/")
	for i := range segs {
		if ok, _ := filepath.Match(suffix, strings.Join(segs[i:], "/")); ok {
			return true
		}
	}
	return false
}
