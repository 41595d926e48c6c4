package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// LocalResolver compares two revisions using the history of a local clone. Both revisions must
// be present in the clone; a shallow checkout without the base commit fails to resolve.
type LocalResolver struct {
	// Dir is any path inside the working tree of the repository.
	Dir string
	Log *slog.Logger
}

// NewLocalResolver returns a LocalResolver rooted at dir.
func NewLocalResolver(dir string, logger *slog.Logger) *LocalResolver {
	return &LocalResolver{Dir: dir, Log: logger}
}

// Resolve diffs the trees of rng.Base and rng.Head with rename detection.
func (r *LocalResolver) Resolve(ctx context.Context, rng Range) ([]ChangedFile, error) {
	rng = rng.withDefaultBase()
	if rng.Head == "" {
		return nil, &ResolutionError{Range: rng, Err: errors.New("head revision is required")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ResolutionError{Range: rng, Err: err}
	}

	repo, err := git.PlainOpenWithOptions(r.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &ResolutionError{Range: rng, Err: fmt.Errorf("open repository %s: %w", r.Dir, err)}
	}

	baseTree, err := treeAt(repo, rng.Base)
	if err != nil {
		return nil, &ResolutionError{Range: rng, Err: err}
	}
	headTree, err := treeAt(repo, rng.Head)
	if err != nil {
		return nil, &ResolutionError{Range: rng, Err: err}
	}

	diff, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, &ResolutionError{Range: rng, Err: fmt.Errorf("diff trees: %w", err)}
	}

	files := make([]ChangedFile, 0, len(diff))
	for _, change := range diff {
		file, err := toChangedFile(change)
		if err != nil {
			return nil, &ResolutionError{Range: rng, Err: err}
		}
		files = append(files, file)
	}
	sortByPath(files)

	if r.Log != nil {
		r.Log.Debug("resolved changed files from local history", "base", rng.Base, "head", rng.Head, "count", len(files))
	}

	return files, nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve revision %q: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", hash, err)
	}
	return tree, nil
}

func toChangedFile(change *object.Change) (ChangedFile, error) {
	action, err := change.Action()
	if err != nil {
		return ChangedFile{}, fmt.Errorf("classify change: %w", err)
	}

	switch action {
	case merkletrie.Insert:
		return ChangedFile{Path: change.To.Name, Status: StatusAdded}, nil
	case merkletrie.Delete:
		return ChangedFile{Path: change.From.Name, Status: StatusRemoved}, nil
	default:
		if change.From.Name != change.To.Name {
			return ChangedFile{Path: change.To.Name, PreviousPath: change.From.Name, Status: StatusRenamed}, nil
		}
		return ChangedFile{Path: change.To.Name, Status: StatusModified}, nil
	}
}
