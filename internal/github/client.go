package gh

import (
	"context"
	"errors"
)

// CommitFile is a single entry of a commit comparison as reported by GitHub.
type CommitFile struct {
	Filename         string
	PreviousFilename string
	Status           string
}

// CompareFilesLimit is the most files GitHub returns for a single comparison. A result of this
// size may be truncated.
const CompareFilesLimit = 300

// Client exposes the GitHub operations required to resolve changed files.
type Client interface {
	CompareFiles(ctx context.Context, owner, repo, base, head string) ([]CommitFile, error)
}

// Factory builds concrete GitHub clients (e.g., REST-backed) for the runner.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

// ErrNotFound indicates the repository or one of the compared revisions does not exist.
var ErrNotFound = errors.New("github: not found")

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a retryable GitHub
// API failure (for example, a transient network problem or rate-limited request).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
