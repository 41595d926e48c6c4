// Package pathfilter selects changed files that live under a single repository directory.
package pathfilter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rancher/subtree-publish-action/internal/changes"
)

var errEmptyPrefix = errors.New("path prefix cannot be empty")

// Filter matches repository-relative paths against a directory prefix, one path segment at a
// time, so "folder-to-commit-extra/x" never matches "folder-to-commit".
type Filter struct {
	prefix   string
	segments []string
}

// New normalizes and validates prefix.
func New(prefix string) (Filter, error) {
	normalized := Normalize(prefix)
	if normalized == "" {
		return Filter{}, errEmptyPrefix
	}

	segments := strings.Split(normalized, "/")
	for _, segment := range segments {
		if segment == "." || segment == ".." {
			return Filter{}, fmt.Errorf("path prefix %q cannot contain %q segments", prefix, segment)
		}
	}

	return Filter{prefix: normalized, segments: segments}, nil
}

// Prefix returns the normalized prefix.
func (f Filter) Prefix() string {
	return f.prefix
}

// Match reports whether path lies strictly below the prefix directory.
func (f Filter) Match(path string) bool {
	if len(f.segments) == 0 {
		return false
	}

	parts := strings.Split(Normalize(path), "/")
	if len(parts) <= len(f.segments) {
		return false
	}

	for i, segment := range f.segments {
		if parts[i] != segment {
			return false
		}
	}
	return true
}

// Select keeps the files whose current or previous path matches, preserving order.
func (f Filter) Select(files []changes.ChangedFile) []changes.ChangedFile {
	selected := make([]changes.ChangedFile, 0, len(files))
	for _, file := range files {
		if f.Match(file.Path) || (file.PreviousPath != "" && f.Match(file.PreviousPath)) {
			selected = append(selected, file)
		}
	}
	return selected
}

// Materializable returns the matched paths that still exist at the head revision: removed
// entries and the old side of renames are dropped, duplicates collapse to the first occurrence.
func (f Filter) Materializable(files []changes.ChangedFile) []string {
	paths := make([]string, 0, len(files))
	seen := make(map[string]struct{})

	for _, file := range files {
		if file.Status == changes.StatusRemoved {
			continue
		}
		path := Normalize(file.Path)
		if !f.Match(path) {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}

	return paths
}

// Normalize trims whitespace, converts backslashes to slashes, strips a leading "./" and any
// leading or trailing slashes, and collapses repeated separators.
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, "\\", "/")
	for strings.HasPrefix(path, "./") {
		path = path[len("./"):]
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return strings.Trim(path, "/")
}
