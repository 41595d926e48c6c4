package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rancher/subtree-publish-action/internal/changes"
	"github.com/rancher/subtree-publish-action/internal/git"
	gh "github.com/rancher/subtree-publish-action/internal/github"
	"github.com/rancher/subtree-publish-action/internal/pathfilter"
	"github.com/rancher/subtree-publish-action/internal/publish"
)

// Runner glues together change resolution, filtering and the publisher to execute one run.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	ghFactory gh.Factory
	gitExec   git.Executor // only set for testing via NewRunnerWithDeps
	stdout    io.Writer
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		log:       logger,
		ghFactory: gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL),
		stdout:    os.Stdout,
	}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, ghFactory gh.Factory, gitExec git.Executor) *Runner {
	return &Runner{cfg: cfg, log: log, ghFactory: ghFactory, gitExec: gitExec, stdout: os.Stdout}
}

// result is everything the step summary reports about a run.
type result struct {
	Range      changes.Range
	Prefix     string
	Changed    int
	Matched    []changes.ChangedFile
	ResolveErr error
	Outcome    publish.Outcome
	PublishErr error
	SkipReason string
}

// Run executes the application using the provided context.
func (r *Runner) Run(ctx context.Context) error {
	r.logInfo("starting subtree publish run",
		"repository", r.cfg.Repository,
		"base", r.cfg.BaseCommit,
		"head", r.cfg.HeadCommit,
		"path", r.cfg.Path,
		"resolver", r.cfg.Resolver,
		"mode", r.cfg.Mode,
		"dry_run", r.cfg.DryRun)
	r.logDebug("loaded configuration", "config", r.cfg)

	filter, err := pathfilter.New(r.cfg.Path)
	if err != nil {
		return &ConfigError{Field: "INPUT_PATH", Reason: err.Error()}
	}

	res := result{
		Range:  changes.Range{Base: r.cfg.BaseCommit, Head: r.cfg.HeadCommit},
		Prefix: filter.Prefix(),
	}

	if r.cfg.BranchDeleted {
		res.SkipReason = "skipped: push deleted the branch"
		r.logInfo("push deleted its branch; nothing to publish", "branch", r.cfg.DestinationBranch)
		if err := r.writeGitHubOutputs(false); err != nil {
			r.logWarn("failed to write action outputs", "error", err)
		}
		if err := r.writeStepSummary(res); err != nil {
			r.logWarn("failed to write step summary", "error", err)
		}
		return nil
	}

	changed, err := r.resolveChanges(ctx, res.Range)
	if err != nil {
		if r.cfg.FailOnResolveError {
			return fmt.Errorf("resolve changed files: %w", err)
		}
		res.ResolveErr = err
		r.logWarn("could not resolve changed files; treating the run as having no changes", "error", err)
		r.annotate("warning", "Changed files unavailable", err.Error())
		changed = nil
	}

	res.Changed = len(changed)
	res.Matched = filter.Select(changed)
	hasChanges := len(res.Matched) > 0

	r.logInfo("resolved changed files", "changed", res.Changed, "matched", len(res.Matched), "has_changes", hasChanges)
	for _, file := range res.Matched {
		r.logDebug("matched changed file", "path", file.Path, "previous_path", file.PreviousPath, "status", file.Status)
	}

	if err := r.writeGitHubOutputs(hasChanges); err != nil {
		r.logWarn("failed to write action outputs", "error", err)
	}

	if hasChanges {
		res.Outcome, res.PublishErr = r.publish(ctx, filter, changed)
	} else {
		res.Outcome = publish.Outcome{Status: publish.StatusSkippedNoMatches}
	}

	if err := r.writeStepSummary(res); err != nil {
		r.logWarn("failed to write step summary", "error", err)
	}

	if res.PublishErr != nil {
		return fmt.Errorf("publish %s: %w", filter.Prefix(), res.PublishErr)
	}

	r.logInfo("finished subtree publish run", "status", res.Outcome.Status, "branch", res.Outcome.Branch, "files", len(res.Outcome.Files))
	return nil
}

func (r *Runner) resolveChanges(ctx context.Context, rng changes.Range) ([]changes.ChangedFile, error) {
	switch r.cfg.Resolver {
	case ResolverLocal:
		return changes.NewLocalResolver(r.cfg.WorkingDirectory, r.log).Resolve(ctx, rng)
	default:
		if r.ghFactory == nil {
			return nil, errors.New("github client factory is required")
		}
		client, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
		if err != nil {
			return nil, &changes.ResolutionError{Range: rng, Err: fmt.Errorf("initialize github client: %w", err)}
		}
		return changes.NewAPIResolver(client, r.cfg.Owner(), r.cfg.RepoName(), r.log).Resolve(ctx, rng)
	}
}

func (r *Runner) publish(ctx context.Context, filter pathfilter.Filter, changed []changes.ChangedFile) (publish.Outcome, error) {
	gitExec := r.gitExec
	if gitExec == nil {
		if r.cfg.DryRun {
			gitExec = git.NewNoopExecutor()
		} else {
			gitExec = r.buildGitExecutor()
		}
	}

	publisher := publish.New(publish.Config{
		Filter:     filter,
		Mode:       r.cfg.Mode,
		DryRun:     r.cfg.DryRun,
		Dir:        r.cfg.WorkingDirectory,
		RemoteName: r.cfg.DestinationRemote,
	}, gitExec, r.log)

	return publisher.Publish(ctx, changed, publish.Target{
		Revision:    r.cfg.HeadCommit,
		RemoteURL:   r.cfg.DestinationURL,
		Branch:      r.cfg.DestinationBranch,
		AuthorName:  r.cfg.AuthorName,
		AuthorEmail: r.cfg.AuthorEmail,
		Message:     r.cfg.CommitMessage,
	})
}

func (r *Runner) buildGitExecutor() git.Executor {
	exec := git.NewShellExecutor()
	exec.Token = r.cfg.DestinationToken
	return exec
}

// annotate emits a workflow command so the message shows up on the run page.
func (r *Runner) annotate(level, title, message string) {
	if r.stdout == nil {
		return
	}
	fmt.Fprintf(r.stdout, "::%s title=%s::%s\n", level, escapeProperty(title), escapeData(message))
}

func escapeData(value string) string {
	value = strings.ReplaceAll(value, "%", "%25")
	value = strings.ReplaceAll(value, "\r", "%0D")
	return strings.ReplaceAll(value, "\n", "%0A")
}

func escapeProperty(value string) string {
	value = escapeData(value)
	value = strings.ReplaceAll(value, ":", "%3A")
	return strings.ReplaceAll(value, ",", "%2C")
}

func (r *Runner) logDebug(msg string, args ...any) {
	if r.log != nil {
		r.log.Debug(msg, args...)
	}
}

func (r *Runner) logInfo(msg string, args ...any) {
	if r.log != nil {
		r.log.Info(msg, args...)
	}
}

func (r *Runner) logWarn(msg string, args ...any) {
	if r.log != nil {
		r.log.Warn(msg, args...)
	}
}
