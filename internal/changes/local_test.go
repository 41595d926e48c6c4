package changes_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/subtree-publish-action/internal/changes"
)

type localRepo struct {
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func newLocalRepo() *localRepo {
	dir := GinkgoT().TempDir()
	repo, err := git.PlainInit(dir, false)
	Expect(err).NotTo(HaveOccurred())
	wt, err := repo.Worktree()
	Expect(err).NotTo(HaveOccurred())
	return &localRepo{dir: dir, repo: repo, wt: wt}
}

func (r *localRepo) write(path, contents string) {
	full := filepath.Join(r.dir, filepath.FromSlash(path))
	Expect(os.MkdirAll(filepath.Dir(full), 0o755)).To(Succeed())
	Expect(os.WriteFile(full, []byte(contents), 0o644)).To(Succeed())
	_, err := r.wt.Add(path)
	Expect(err).NotTo(HaveOccurred())
}

func (r *localRepo) remove(path string) {
	_, err := r.wt.Remove(path)
	Expect(err).NotTo(HaveOccurred())
}

func (r *localRepo) move(from, to string) {
	Expect(os.MkdirAll(filepath.Dir(filepath.Join(r.dir, filepath.FromSlash(to))), 0o755)).To(Succeed())
	_, err := r.wt.Move(from, to)
	Expect(err).NotTo(HaveOccurred())
}

func (r *localRepo) commit(message string) string {
	hash, err := r.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "Jane Doe", Email: "jane@example.com", When: time.Now()},
	})
	Expect(err).NotTo(HaveOccurred())
	return hash.String()
}

var _ = Describe("LocalResolver", func() {
	var (
		ctx  context.Context
		repo *localRepo
		base string
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newLocalRepo()
		repo.write("folder-to-commit/keep.txt", "keep\n")
		repo.write("folder-to-commit/old.txt", "stable content for rename detection\n")
		repo.write("docs/readme.md", "docs\n")
		base = repo.commit("initial commit")
	})

	It("reports added, modified, removed and renamed files", func() {
		repo.write("folder-to-commit/a.txt", "a\n")
		repo.write("docs/readme.md", "docs v2\n")
		repo.remove("folder-to-commit/keep.txt")
		repo.move("folder-to-commit/old.txt", "folder-to-commit/new.txt")
		head := repo.commit("second commit")

		files, err := changes.NewLocalResolver(repo.dir, nil).Resolve(ctx, changes.Range{Base: base, Head: head})
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(Equal([]changes.ChangedFile{
			{Path: "docs/readme.md", Status: changes.StatusModified},
			{Path: "folder-to-commit/a.txt", Status: changes.StatusAdded},
			{Path: "folder-to-commit/keep.txt", Status: changes.StatusRemoved},
			{Path: "folder-to-commit/new.txt", PreviousPath: "folder-to-commit/old.txt", Status: changes.StatusRenamed},
		}))
	})

	It("accepts symbolic revisions and defaults the base to the parent", func() {
		repo.write("folder-to-commit/a.txt", "a\n")
		repo.commit("add a")

		files, err := changes.NewLocalResolver(filepath.Join(repo.dir, "folder-to-commit"), nil).Resolve(ctx, changes.Range{Head: "HEAD"})
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(Equal([]changes.ChangedFile{{Path: "folder-to-commit/a.txt", Status: changes.StatusAdded}}))
	})

	It("returns an empty change set for identical revisions", func() {
		files, err := changes.NewLocalResolver(repo.dir, nil).Resolve(ctx, changes.Range{Base: base, Head: "HEAD"})
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(BeEmpty())
	})

	It("fails with a ResolutionError when the base has no parent", func() {
		_, err := changes.NewLocalResolver(repo.dir, nil).Resolve(ctx, changes.Range{Head: base})
		Expect(err).To(HaveOccurred())

		var resErr *changes.ResolutionError
		Expect(errors.As(err, &resErr)).To(BeTrue())
		Expect(resErr.Range.Base).To(Equal(base + "^"))
	})

	It("fails with a ResolutionError for unknown revisions", func() {
		_, err := changes.NewLocalResolver(repo.dir, nil).Resolve(ctx, changes.Range{Base: "0123456789abcdef0123456789abcdef01234567", Head: "HEAD"})

		var resErr *changes.ResolutionError
		Expect(errors.As(err, &resErr)).To(BeTrue())
	})

	It("fails with a ResolutionError outside a repository", func() {
		_, err := changes.NewLocalResolver(GinkgoT().TempDir(), nil).Resolve(ctx, changes.Range{Base: "HEAD^", Head: "HEAD"})

		var resErr *changes.ResolutionError
		Expect(errors.As(err, &resErr)).To(BeTrue())
	})
})
