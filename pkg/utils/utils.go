// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package utils holds small string helpers shared across the agent loop and
// tools: log-safe truncation and filesystem-safe filenames.
package utils

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most maxLen runes, appending "..." when it cuts
// anything off. Used to keep log previews and tool-call argument dumps short.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}

	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename strips path separators and any character outside a safe
// alphanumeric/dot/dash/underscore set, so a name derived from untrusted
// input (an email attachment, a URL, a Moodle resource title) can't escape
// the directory it's written into or collide with a dotfile.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}

	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}
