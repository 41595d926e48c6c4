package git

import (
	"context"
)

// NewNoopExecutor returns an Executor that performs no actual git operations.
// All workspace methods succeed without side effects and report an empty tree, useful for
// testing and dry-run scenarios.
func NewNoopExecutor() Executor {
	return &noopExecutor{}
}

type noopExecutor struct{}

func (e *noopExecutor) Open(ctx context.Context, dir string) (Workspace, error) {
	return &noopWorkspace{}, nil
}

type noopWorkspace struct{}

func (w *noopWorkspace) ResolveCommit(ctx context.Context, rev string) (Commit, error) {
	return Commit{SHA: rev}, nil
}

func (w *noopWorkspace) Checkout(ctx context.Context, rev string) error {
	return nil
}

func (w *noopWorkspace) ReadEntry(ctx context.Context, rev, path string) (TreeEntry, error) {
	return TreeEntry{Mode: "100644", Type: "blob", Path: path}, nil
}

func (w *noopWorkspace) ListFiles(ctx context.Context, rev, prefix string) ([]TreeEntry, error) {
	return nil, nil
}

func (w *noopWorkspace) CreateOrphanBranch(ctx context.Context, branch string) error {
	return nil
}

func (w *noopWorkspace) StageEntry(ctx context.Context, entry TreeEntry) error {
	return nil
}

func (w *noopWorkspace) HasStagedChanges(ctx context.Context) (bool, error) {
	return false, nil
}

func (w *noopWorkspace) Commit(ctx context.Context, opts CommitOptions) error {
	return nil
}

func (w *noopWorkspace) EnsureRemote(ctx context.Context, name, url string) error {
	return nil
}

func (w *noopWorkspace) ForcePush(ctx context.Context, remote, branch, destination string) error {
	return nil
}

func (w *noopWorkspace) Cleanup(ctx context.Context) error {
	return nil
}
