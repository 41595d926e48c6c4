package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ShellExecutor shells out to the system git binary to operate on an existing checkout.
type ShellExecutor struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// Token, if provided, authenticates pushes to HTTPS remotes using the x-access-token
	// format. It is only ever passed on the push command line and never written to the
	// repository configuration.
	Token string

	// FetchRemote is the remote used to fetch revisions that are missing from the
	// local clone. Defaults to "origin".
	FetchRemote string

	// NetworkRetries controls how many additional attempts should be made for network
	// oriented git commands (clone, fetch, push). When zero, a default of 2 retries is used.
	NetworkRetries int

	// NetworkRetryDelay controls the initial backoff delay between retries. When zero,
	// a default of 1 second is used. Backoff grows exponentially per attempt.
	NetworkRetryDelay time.Duration

	// NetworkTimeout bounds network commands that would otherwise inherit an unbounded
	// context. When zero, a default of 2 minutes is used.
	NetworkTimeout time.Duration
}

// NewShellExecutor returns an Executor backed by system git commands.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) gitBinary() string {
	if e.Git == "" {
		return "git"
	}
	return e.Git
}

func (e *ShellExecutor) fetchRemote() string {
	if e.FetchRemote == "" {
		return "origin"
	}
	return e.FetchRemote
}

func (e *ShellExecutor) authenticatedURL(raw string) string {
	if e.Token == "" || !strings.HasPrefix(raw, "https://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User != nil {
		return raw
	}
	parsed.User = url.UserPassword("x-access-token", e.Token)
	return parsed.String()
}

// Open locates the repository containing dir and records the current checkout so Cleanup can
// restore it.
func (e *ShellExecutor) Open(ctx context.Context, dir string) (Workspace, error) {
	if dir == "" {
		dir = "."
	}

	top, err := e.captureGit(ctx, "-C", dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("locate repository root from %s: %w", dir, err)
	}

	ws := &shellWorkspace{
		executor: e,
		path:     strings.TrimSpace(top),
	}

	if branch, err := ws.capture(ctx, "symbolic-ref", "-q", "--short", "HEAD"); err == nil {
		ws.originalBranch = strings.TrimSpace(branch)
	}
	if sha, err := ws.capture(ctx, "rev-parse", "--verify", "-q", "HEAD"); err == nil {
		ws.originalSHA = strings.TrimSpace(sha)
	}

	return ws, nil
}

type shellWorkspace struct {
	path           string
	executor       *ShellExecutor
	originalBranch string
	originalSHA    string
	branches       []string
	remotes        []remoteChange
}

// remoteChange records a remote touched by EnsureRemote. previousURL is empty when the remote
// did not exist before.
type remoteChange struct {
	name        string
	previousURL string
}

func (w *shellWorkspace) ResolveCommit(ctx context.Context, rev string) (Commit, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return Commit{}, fmt.Errorf("revision is required")
	}

	sha, err := w.revParse(ctx, rev)
	if err != nil {
		remote := w.executor.fetchRemote()
		if fetchErr := w.exec(ctx, "fetch", "--no-tags", remote, rev); fetchErr != nil {
			return Commit{}, fmt.Errorf("revision %s not found locally and fetch from %s failed: %w", rev, remote, errors.Join(err, fetchErr))
		}
		sha, err = w.revParse(ctx, rev)
		if err != nil {
			sha, err = w.revParse(ctx, "FETCH_HEAD")
		}
		if err != nil {
			return Commit{}, fmt.Errorf("resolve %s after fetch: %w", rev, err)
		}
	}

	out, err := w.capture(ctx, "log", "-1", "--format=%H%x00%an%x00%ae%x00%B", sha)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit %s: %w", sha, err)
	}

	return parseCommit(out)
}

func parseCommit(out string) (Commit, error) {
	fields := strings.SplitN(out, "\x00", 4)
	if len(fields) != 4 {
		return Commit{}, fmt.Errorf("unexpected git log output %q", out)
	}
	return Commit{
		SHA:         strings.TrimSpace(fields[0]),
		AuthorName:  fields[1],
		AuthorEmail: fields[2],
		Message:     strings.TrimRight(fields[3], "\n"),
	}, nil
}

func (w *shellWorkspace) revParse(ctx context.Context, rev string) (string, error) {
	out, err := w.capture(ctx, "rev-parse", "--verify", "-q", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (w *shellWorkspace) Checkout(ctx context.Context, rev string) error {
	if err := w.exec(ctx, "checkout", "-q", "--force", "--detach", rev); err != nil {
		return fmt.Errorf("git checkout %s: %w", rev, err)
	}
	return nil
}

// ReadEntry looks up file in the tree of rev. Directories are rejected; submodule entries are
// returned as gitlinks.
func (w *shellWorkspace) ReadEntry(ctx context.Context, rev, file string) (TreeEntry, error) {
	if err := validateRelativePath(file); err != nil {
		return TreeEntry{}, err
	}
	out, err := w.capture(ctx, "ls-tree", "-z", "--full-tree", rev, "--", file)
	if err != nil {
		return TreeEntry{}, fmt.Errorf("git ls-tree %s -- %s: %w", rev, file, err)
	}
	entries, err := parseTreeEntries(out)
	if err != nil {
		return TreeEntry{}, err
	}
	for _, entry := range entries {
		if entry.Path != file {
			continue
		}
		if entry.Type == "tree" {
			return TreeEntry{}, fmt.Errorf("%s is a directory at %s", file, rev)
		}
		return entry, nil
	}
	return TreeEntry{}, fmt.Errorf("%s does not exist at %s", file, rev)
}

func (w *shellWorkspace) ListFiles(ctx context.Context, rev, prefix string) ([]TreeEntry, error) {
	args := []string{"ls-tree", "-r", "-z", "--full-tree", rev}
	if prefix != "" {
		args = append(args, "--", prefix)
	}
	out, err := w.capture(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git ls-tree %s: %w", rev, err)
	}
	return parseTreeEntries(out)
}

// parseTreeEntries decodes NUL terminated "<mode> <type> <object>\t<path>" records.
func parseTreeEntries(out string) ([]TreeEntry, error) {
	var entries []TreeEntry
	for _, record := range strings.Split(out, "\x00") {
		if record == "" {
			continue
		}
		meta, file, ok := strings.Cut(record, "\t")
		if !ok {
			return nil, fmt.Errorf("unexpected git ls-tree entry %q", record)
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected git ls-tree entry %q", record)
		}
		entries = append(entries, TreeEntry{Mode: fields[0], Type: fields[1], Object: fields[2], Path: file})
	}
	return entries, nil
}

// CreateOrphanBranch switches to a branch without history and removes every tracked file from
// the index and the working tree, leaving an empty starting point.
func (w *shellWorkspace) CreateOrphanBranch(ctx context.Context, branch string) error {
	if err := w.exec(ctx, "checkout", "-q", "--orphan", branch); err != nil {
		return fmt.Errorf("git checkout --orphan %s: %w", branch, err)
	}
	w.branches = append(w.branches, branch)

	if err := w.exec(ctx, "rm", "-r", "-q", "-f", "--ignore-unmatch", "--", "."); err != nil {
		return fmt.Errorf("git rm tracked files on %s: %w", branch, err)
	}
	return nil
}

// StageEntry adds entry to the index with its original mode and object id, then checks blobs out
// into the working tree. Gitlinks are only recorded in the index.
func (w *shellWorkspace) StageEntry(ctx context.Context, entry TreeEntry) error {
	if err := validateRelativePath(entry.Path); err != nil {
		return err
	}
	if entry.Mode == "" || entry.Object == "" {
		return fmt.Errorf("%s has no mode or object id", entry.Path)
	}

	cacheinfo := fmt.Sprintf("%s,%s,%s", entry.Mode, entry.Object, entry.Path)
	if err := w.exec(ctx, "update-index", "--add", "--cacheinfo", cacheinfo); err != nil {
		return fmt.Errorf("git update-index %s: %w", entry.Path, err)
	}
	if entry.Type == "commit" {
		return nil
	}
	if err := w.exec(ctx, "checkout-index", "-f", "--", entry.Path); err != nil {
		return fmt.Errorf("git checkout-index %s: %w", entry.Path, err)
	}
	return nil
}

// HasStagedChanges reports whether the index holds any entry. On a freshly created orphan
// branch that is exactly the net change against the empty starting point.
func (w *shellWorkspace) HasStagedChanges(ctx context.Context) (bool, error) {
	out, err := w.capture(ctx, "ls-files", "--cached", "-z")
	if err != nil {
		return false, fmt.Errorf("git ls-files: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

func (w *shellWorkspace) Commit(ctx context.Context, opts CommitOptions) error {
	var args []string
	if opts.AuthorName != "" {
		args = append(args, "-c", "user.name="+opts.AuthorName)
	}
	if opts.AuthorEmail != "" {
		args = append(args, "-c", "user.email="+opts.AuthorEmail)
	}
	args = append(args, "commit", "-q", "--no-verify", "--allow-empty-message", "-m", opts.Message)
	if opts.AuthorName != "" && opts.AuthorEmail != "" {
		args = append(args, "--author", fmt.Sprintf("%s <%s>", opts.AuthorName, opts.AuthorEmail))
	}
	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}

	if err := w.exec(ctx, args...); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}

// EnsureRemote registers name as url. An existing remote with the same URL is left alone and
// one pointing elsewhere is repointed. Cleanup undoes either change.
func (w *shellWorkspace) EnsureRemote(ctx context.Context, name, remoteURL string) error {
	current, err := w.capture(ctx, "remote", "get-url", name)
	if err == nil {
		current = strings.TrimSpace(current)
		if current == remoteURL {
			return nil
		}
		if err := w.exec(ctx, "remote", "set-url", name, remoteURL); err != nil {
			return fmt.Errorf("git remote set-url %s: %w", name, err)
		}
		w.remotes = append(w.remotes, remoteChange{name: name, previousURL: current})
		return nil
	}

	if err := w.exec(ctx, "remote", "add", name, remoteURL); err != nil {
		return fmt.Errorf("git remote add %s: %w", name, err)
	}
	w.remotes = append(w.remotes, remoteChange{name: name})
	return nil
}

// ForcePush pushes branch over destination on remote. When a token is configured the push goes
// to the remote's URL with the credentials inlined, so they never reach the git config.
func (w *shellWorkspace) ForcePush(ctx context.Context, remote, branch, destination string) error {
	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, destination)

	target := remote
	if w.executor.Token != "" {
		remoteURL, err := w.capture(ctx, "remote", "get-url", "--push", remote)
		if err != nil {
			return fmt.Errorf("git remote get-url %s: %w", remote, err)
		}
		target = w.executor.authenticatedURL(strings.TrimSpace(remoteURL))
	}

	if err := w.exec(ctx, "push", "--force", target, refspec); err != nil {
		return fmt.Errorf("git push %s %s: %w", remote, refspec, err)
	}
	return nil
}

// Cleanup restores the checkout recorded by Open and undoes the branches and remotes this
// workspace created or changed.
func (w *shellWorkspace) Cleanup(ctx context.Context) error {
	var errs []error

	switch {
	case w.originalBranch != "":
		if err := w.exec(ctx, "checkout", "-q", "--force", w.originalBranch); err != nil {
			errs = append(errs, fmt.Errorf("restore branch %s: %w", w.originalBranch, err))
		}
	case w.originalSHA != "":
		if err := w.exec(ctx, "checkout", "-q", "--force", "--detach", w.originalSHA); err != nil {
			errs = append(errs, fmt.Errorf("restore commit %s: %w", w.originalSHA, err))
		}
	}

	for _, branch := range w.branches {
		if branch == w.originalBranch {
			continue
		}
		if err := w.exec(ctx, "branch", "-q", "-D", branch); err != nil && !isMissingBranch(err) {
			errs = append(errs, fmt.Errorf("delete branch %s: %w", branch, err))
		}
	}
	w.branches = nil

	for i := len(w.remotes) - 1; i >= 0; i-- {
		change := w.remotes[i]
		if change.previousURL == "" {
			if err := w.exec(ctx, "remote", "remove", change.name); err != nil {
				errs = append(errs, fmt.Errorf("remove remote %s: %w", change.name, err))
			}
			continue
		}
		if err := w.exec(ctx, "remote", "set-url", change.name, change.previousURL); err != nil {
			errs = append(errs, fmt.Errorf("restore remote %s: %w", change.name, err))
		}
	}
	w.remotes = nil

	return errors.Join(errs...)
}

func (w *shellWorkspace) exec(ctx context.Context, args ...string) error {
	cmd := append([]string{"-C", w.path}, args...)
	return w.executor.runGit(ctx, cmd...)
}

func (w *shellWorkspace) capture(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"-C", w.path}, args...)
	return w.executor.captureGit(ctx, cmd...)
}

func validateRelativePath(file string) error {
	if file == "" {
		return fmt.Errorf("path is required")
	}
	if path.IsAbs(file) || filepath.IsAbs(file) {
		return fmt.Errorf("path %q must be relative to the repository root", file)
	}
	for _, segment := range strings.Split(file, "/") {
		if segment == ".." {
			return fmt.Errorf("path %q escapes the repository root", file)
		}
	}
	return nil
}

func (e *ShellExecutor) runGit(ctx context.Context, args ...string) error {
	_, err := e.captureGit(ctx, args...)
	return err
}

// captureGit runs git and returns its standard output. Network commands are retried with
// exponential backoff and bounded by NetworkTimeout.
func (e *ShellExecutor) captureGit(ctx context.Context, args ...string) (string, error) {
	primary := primaryGitCommand(args)
	isNetwork := isNetworkCommand(primary)

	retries := 0
	if isNetwork {
		retries = e.networkRetriesValue()
	}

	delay := e.networkRetryDelayValue()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := e.applyNetworkTimeout(ctx, isNetwork)
		out, err := e.runGitOnce(attemptCtx, args...)
		cancel()

		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isNetwork {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return "", lastErr
}

func (e *ShellExecutor) runGitOnce(ctx context.Context, args ...string) (string, error) {
	cmd := exec.Command(e.gitBinary(), args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	setProcessGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", &GitError{Args: e.redact(args), Output: stderr.String(), Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		<-done
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			output := stderr.String()
			if strings.TrimSpace(output) == "" {
				output = stdout.String()
			}
			return "", &GitError{Args: e.redact(args), Output: e.redactString(output), Err: err}
		}
	}

	return stdout.String(), nil
}

func (e *ShellExecutor) redact(args []string) []string {
	if e.Token == "" {
		return args
	}
	redacted := make([]string, len(args))
	for i, arg := range args {
		redacted[i] = e.redactString(arg)
	}
	return redacted
}

func (e *ShellExecutor) redactString(s string) string {
	if e.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, e.Token, "***")
}

func primaryGitCommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "-") {
			switch arg {
			case "-C", "--git-dir", "-c":
				i++
			}
			continue
		}
		return arg
	}
	return ""
}

func isNetworkCommand(cmd string) bool {
	switch cmd {
	case "clone", "fetch", "push", "pull":
		return true
	default:
		return false
	}
}

func (e *ShellExecutor) networkRetriesValue() int {
	if e.NetworkRetries < 0 {
		return 0
	}
	if e.NetworkRetries == 0 {
		return 2
	}
	return e.NetworkRetries
}

func (e *ShellExecutor) networkRetryDelayValue() time.Duration {
	if e.NetworkRetryDelay <= 0 {
		return time.Second
	}
	return e.NetworkRetryDelay
}

func (e *ShellExecutor) networkTimeoutValue() time.Duration {
	if e.NetworkTimeout <= 0 {
		return 2 * time.Minute
	}
	return e.NetworkTimeout
}

func (e *ShellExecutor) applyNetworkTimeout(ctx context.Context, network bool) (context.Context, context.CancelFunc) {
	if !network {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.IsZero() {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.networkTimeoutValue())
}

// GitError wraps failures when invoking the git binary.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func isMissingBranch(err error) bool {
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	return strings.Contains(gitErr.Output, "not found")
}
