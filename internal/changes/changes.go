// Package changes resolves the set of files that differ between two revisions.
package changes

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Status describes how a file changed between two revisions.
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusRemoved  Status = "removed"
	StatusRenamed  Status = "renamed"
)

// ChangedFile is a repository-relative path touched between two revisions. PreviousPath is only
// populated for renames.
type ChangedFile struct {
	Path         string
	PreviousPath string
	Status       Status
}

// Range identifies the two revisions to compare. Either side may be a commit SHA or a symbolic
// ref such as a branch name.
type Range struct {
	Base string
	Head string
}

// String renders the range the way git and GitHub spell a comparison.
func (r Range) String() string {
	return fmt.Sprintf("%s...%s", r.Base, r.Head)
}

// withDefaultBase fills an empty base with the head's first parent.
func (r Range) withDefaultBase() Range {
	if strings.TrimSpace(r.Base) == "" && r.Head != "" {
		r.Base = r.Head + "^"
	}
	return r
}

// Resolver produces the files changed within a revision range. An empty result means no changes.
type Resolver interface {
	Resolve(ctx context.Context, rng Range) ([]ChangedFile, error)
}

// ResolutionError reports that a revision comparison could not be completed.
type ResolutionError struct {
	Range Range
	Err   error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("resolve changes %s: %v", e.Range, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func sortByPath(files []ChangedFile) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
}
