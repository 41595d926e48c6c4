// Package publish republishes the files of one monorepo directory onto a branch of a separate
// destination repository.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rancher/subtree-publish-action/internal/changes"
	"github.com/rancher/subtree-publish-action/internal/git"
)

// Step names reported by PublishError.
const (
	StepValidate     = "validate"
	StepOpen         = "open"
	StepCheckout     = "checkout"
	StepRead         = "read"
	StepCreateBranch = "create-branch"
	StepStage        = "stage"
	StepStatus       = "status"
	StepCommit       = "commit"
	StepRemote       = "remote"
	StepPush         = "push"
)

// PublishError reports the step of the republish procedure that failed.
type PublishError struct {
	Step string
	Err  error
}

func (e *PublishError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("publish %s: %v", e.Step, e.Err)
}

func (e *PublishError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stepError(step string, err error) error {
	return &PublishError{Step: step, Err: err}
}

// Status describes how a publish attempt ended.
type Status string

const (
	StatusPushed           Status = "pushed"
	StatusDryRun           Status = "dry_run"
	StatusSkippedNoMatches Status = "skipped_no_matches"
	StatusSkippedNoStaged  Status = "skipped_nothing_staged"
)

// Target describes where and as whom the directory is republished. Empty author fields and an
// empty message are taken from the head commit.
type Target struct {
	Revision    string
	RemoteURL   string
	Branch      string
	AuthorName  string
	AuthorEmail string
	Message     string
}

// Outcome captures the result of a single Publish call.
type Outcome struct {
	Status     Status
	Pushed     bool
	DryRun     bool
	Branch     string
	TempBranch string
	Commit     string
	Files      []string
	Matched    []changes.ChangedFile
}

// Publisher coordinates path filtering and git operations to mirror a directory into another
// repository.
type Publisher struct {
	cfg Config
	git git.Executor
	log *slog.Logger
}

// New returns a configured Publisher instance.
func New(cfg Config, gitExecutor git.Executor, logger *slog.Logger) *Publisher {
	return &Publisher{cfg: cfg.withDefaults(), git: gitExecutor, log: logger}
}

// Publish filters changed down to the configured directory and, when anything matches, commits
// those files onto a fresh orphan branch and force-pushes it to target.Branch. A best-effort
// Outcome is returned alongside every error.
func (p *Publisher) Publish(ctx context.Context, changed []changes.ChangedFile, target Target) (Outcome, error) {
	matched := p.cfg.Filter.Select(changed)
	files := p.cfg.Filter.Materializable(matched)

	outcome := Outcome{Matched: matched, Files: files}

	if len(matched) == 0 {
		p.info("nothing to publish: no changes under prefix", "prefix", p.cfg.Filter.Prefix(), "changed", len(changed))
		outcome.Status = StatusSkippedNoMatches
		return outcome, nil
	}

	branch, err := p.validateTarget(target)
	if err != nil {
		return outcome, stepError(StepValidate, err)
	}
	outcome.Branch = branch

	if p.cfg.DryRun {
		p.info("dry run: skipping publish", "prefix", p.cfg.Filter.Prefix(), "branch", branch, "files", files)
		outcome.Status = StatusDryRun
		outcome.DryRun = true
		return outcome, nil
	}

	if p.cfg.Mode == ModeChanged && len(files) == 0 {
		p.info("nothing to publish: matched changes only removed files", "prefix", p.cfg.Filter.Prefix(), "matched", len(matched))
		outcome.Status = StatusSkippedNoStaged
		return outcome, nil
	}

	if p.git == nil {
		return outcome, stepError(StepOpen, errors.New("git executor is required"))
	}

	workspace, err := p.git.Open(ctx, p.cfg.Dir)
	if err != nil {
		return outcome, stepError(StepOpen, err)
	}

	defer func() {
		if err := workspace.Cleanup(ctx); err != nil {
			p.warn("failed to cleanup workspace", "error", err, "branch", outcome.TempBranch)
		}
	}()

	outcome, err = p.publish(ctx, workspace, target, outcome)
	return outcome, err
}

func (p *Publisher) publish(ctx context.Context, workspace git.Workspace, target Target, outcome Outcome) (Outcome, error) {
	head, err := workspace.ResolveCommit(ctx, target.Revision)
	if err != nil {
		return outcome, stepError(StepCheckout, err)
	}
	outcome.Commit = head.SHA

	if err := workspace.Checkout(ctx, head.SHA); err != nil {
		return outcome, stepError(StepCheckout, err)
	}

	var entries []git.TreeEntry
	if p.cfg.Mode == ModeSnapshot {
		listed, err := workspace.ListFiles(ctx, head.SHA, p.cfg.Filter.Prefix())
		if err != nil {
			return outcome, stepError(StepRead, err)
		}
		files := make([]string, 0, len(listed))
		for _, entry := range listed {
			if p.cfg.Filter.Match(entry.Path) {
				entries = append(entries, entry)
				files = append(files, entry.Path)
			}
		}
		outcome.Files = files

		if len(entries) == 0 {
			p.info("nothing to publish: prefix has no files at head", "prefix", p.cfg.Filter.Prefix(), "revision", head.SHA)
			outcome.Status = StatusSkippedNoStaged
			return outcome, nil
		}
	} else {
		for _, file := range outcome.Files {
			entry, err := workspace.ReadEntry(ctx, head.SHA, file)
			if err != nil {
				return outcome, stepError(StepRead, fmt.Errorf("%s: %w", file, err))
			}
			entries = append(entries, entry)
		}
	}

	tempBranch := TempBranchName(p.cfg.NewID(), BranchNamingOptions{Prefix: p.cfg.BranchPrefix})
	outcome.TempBranch = tempBranch

	if err := workspace.CreateOrphanBranch(ctx, tempBranch); err != nil {
		return outcome, stepError(StepCreateBranch, err)
	}

	for _, entry := range entries {
		if err := workspace.StageEntry(ctx, entry); err != nil {
			return outcome, stepError(StepStage, fmt.Errorf("%s: %w", entry.Path, err))
		}
	}

	// A snapshot commit may repeat the destination's tree.
	allowEmpty := p.cfg.Mode == ModeSnapshot
	if !allowEmpty {
		staged, err := workspace.HasStagedChanges(ctx)
		if err != nil {
			return outcome, stepError(StepStatus, err)
		}
		if !staged {
			p.info("nothing to publish: no files staged", "prefix", p.cfg.Filter.Prefix(), "revision", head.SHA)
			outcome.Status = StatusSkippedNoStaged
			return outcome, nil
		}
	}

	opts := git.CommitOptions{
		AuthorName:  firstNonEmpty(target.AuthorName, head.AuthorName),
		AuthorEmail: firstNonEmpty(target.AuthorEmail, head.AuthorEmail),
		Message:     firstNonEmpty(target.Message, head.Message),
		AllowEmpty:  allowEmpty,
	}
	if err := workspace.Commit(ctx, opts); err != nil {
		return outcome, stepError(StepCommit, err)
	}

	if err := workspace.EnsureRemote(ctx, p.cfg.RemoteName, target.RemoteURL); err != nil {
		return outcome, stepError(StepRemote, err)
	}

	if err := workspace.ForcePush(ctx, p.cfg.RemoteName, tempBranch, outcome.Branch); err != nil {
		return outcome, stepError(StepPush, err)
	}

	outcome.Status = StatusPushed
	outcome.Pushed = true

	p.info("published directory", "prefix", p.cfg.Filter.Prefix(), "revision", head.SHA, "remote", p.cfg.RemoteName, "branch", outcome.Branch, "files", len(entries), "author", opts.AuthorName)

	return outcome, nil
}

func (p *Publisher) validateTarget(target Target) (string, error) {
	branch := NormalizeBranch(target.Branch)
	if err := ValidateBranchName(branch); err != nil {
		return "", fmt.Errorf("destination branch %q: %w", target.Branch, err)
	}

	if p.cfg.DryRun {
		return branch, nil
	}

	if strings.TrimSpace(target.Revision) == "" {
		return "", errors.New("head revision is required")
	}
	if strings.TrimSpace(target.RemoteURL) == "" {
		return "", errors.New("destination repository url is required")
	}

	return branch, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (p *Publisher) info(msg string, args ...any) {
	if p.log != nil {
		p.log.Info(msg, args...)
	}
}

func (p *Publisher) warn(msg string, args ...any) {
	if p.log != nil {
		p.log.Warn(msg, args...)
	}
}
