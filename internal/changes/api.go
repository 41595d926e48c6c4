package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gh "github.com/rancher/subtree-publish-action/internal/github"
)

const (
	defaultAPIRetries    = 2
	defaultAPIRetryDelay = time.Second
)

// APIResolver compares two revisions of a named repository through the GitHub REST API. It
// works with shallow clones because no local history is needed.
type APIResolver struct {
	Client gh.Client
	Owner  string
	Repo   string

	// Retries controls how many additional attempts are made for retryable API failures. When
	// zero, a default of 2 retries is used; negative values disable retries.
	Retries int

	// RetryDelay is the initial backoff between attempts. It doubles per attempt.
	RetryDelay time.Duration

	Log *slog.Logger
}

// NewAPIResolver returns an APIResolver for owner/repo using the supplied client.
func NewAPIResolver(client gh.Client, owner, repo string, logger *slog.Logger) *APIResolver {
	return &APIResolver{Client: client, Owner: owner, Repo: repo, Log: logger}
}

// Resolve lists the files changed between rng.Base and rng.Head.
func (r *APIResolver) Resolve(ctx context.Context, rng Range) ([]ChangedFile, error) {
	rng = rng.withDefaultBase()
	if r.Client == nil {
		return nil, &ResolutionError{Range: rng, Err: errors.New("github client is required")}
	}
	if rng.Head == "" {
		return nil, &ResolutionError{Range: rng, Err: errors.New("head revision is required")}
	}

	raw, err := r.compareWithRetry(ctx, rng)
	if err != nil {
		return nil, &ResolutionError{Range: rng, Err: err}
	}

	files := make([]ChangedFile, 0, len(raw))
	for _, f := range raw {
		status, ok := mapGitHubStatus(f.Status)
		if !ok || strings.TrimSpace(f.Filename) == "" {
			continue
		}
		file := ChangedFile{Path: f.Filename, Status: status}
		if status == StatusRenamed {
			file.PreviousPath = f.PreviousFilename
		}
		files = append(files, file)
	}
	sortByPath(files)

	if len(raw) >= gh.CompareFilesLimit && r.Log != nil {
		r.Log.Warn("github comparison hit the file limit, the change set may be incomplete",
			"owner", r.Owner, "repo", r.Repo, "base", rng.Base, "head", rng.Head, "limit", gh.CompareFilesLimit)
	}

	if r.Log != nil {
		r.Log.Debug("resolved changed files via github api", "owner", r.Owner, "repo", r.Repo, "base", rng.Base, "head", rng.Head, "count", len(files))
	}

	return files, nil
}

func (r *APIResolver) compareWithRetry(ctx context.Context, rng Range) ([]gh.CommitFile, error) {
	retries := r.Retries
	if retries == 0 {
		retries = defaultAPIRetries
	}
	if retries < 0 {
		retries = 0
	}
	delay := r.RetryDelay
	if delay <= 0 {
		delay = defaultAPIRetryDelay
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		files, err := r.Client.CompareFiles(ctx, r.Owner, r.Repo, rng.Base, rng.Head)
		if err == nil {
			return files, nil
		}
		lastErr = err

		if !gh.IsRetryable(err) || attempt == retries {
			break
		}

		if r.Log != nil {
			r.Log.Warn("retrying github comparison", "attempt", attempt+1, "delay", delay, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("compare %s/%s: %w", r.Owner, r.Repo, lastErr)
}

func mapGitHubStatus(status string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "added", "copied":
		return StatusAdded, true
	case "modified", "changed":
		return StatusModified, true
	case "removed":
		return StatusRemoved, true
	case "renamed":
		return StatusRenamed, true
	default:
		return "", false
	}
}
