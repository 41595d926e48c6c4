package git

import "context"

// Executor opens the local checkout that the republish procedure mutates in place.
type Executor interface {
	Open(ctx context.Context, dir string) (Workspace, error)
}

// Commit is the metadata of a resolved revision.
type Commit struct {
	SHA         string
	AuthorName  string
	AuthorEmail string
	Message     string
}

// CommitOptions controls the identity and content of a new commit.
type CommitOptions struct {
	AuthorName  string
	AuthorEmail string
	Message     string
	AllowEmpty  bool
}

// TreeEntry is a single path of a commit's tree as reported by git ls-tree. Mode keeps the
// executable bit, symlinks (120000) and gitlinks (160000) intact when restaged.
type TreeEntry struct {
	Mode   string
	Type   string
	Object string
	Path   string
}

// Workspace exposes the git primitives required by the publisher. Implementations
// may shell out to git or use a pure Go library.
type Workspace interface {
	ResolveCommit(ctx context.Context, rev string) (Commit, error)
	Checkout(ctx context.Context, rev string) error
	ReadEntry(ctx context.Context, rev, path string) (TreeEntry, error)
	ListFiles(ctx context.Context, rev, prefix string) ([]TreeEntry, error)
	CreateOrphanBranch(ctx context.Context, branch string) error
	StageEntry(ctx context.Context, entry TreeEntry) error
	HasStagedChanges(ctx context.Context) (bool, error)
	Commit(ctx context.Context, opts CommitOptions) error
	EnsureRemote(ctx context.Context, name, url string) error
	ForcePush(ctx context.Context, remote, branch, destination string) error
	Cleanup(ctx context.Context) error
}
