// Package utils provides shared helper functions.
package utils

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// TruncateString shortens s to at most maxLen runes, ending with suffix
// ("..." when empty) if anything was cut.
func TruncateString(s string, maxLen int, suffix string) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if suffix == "" {
		suffix = "..."
	}
	cutoff := maxLen - utf8.RuneCountInString(suffix)
	if cutoff < 0 {
		cutoff = 0
	}
	return string([]rune(s)[:cutoff]) + suffix
}
