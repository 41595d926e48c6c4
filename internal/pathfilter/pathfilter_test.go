package pathfilter_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/subtree-publish-action/internal/changes"
	"github.com/rancher/subtree-publish-action/internal/pathfilter"
)

var _ = Describe("Filter", func() {
	Describe("New", func() {
		It("normalizes the prefix", func() {
			f, err := pathfilter.New(" ./folder-to-commit/ ")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Prefix()).To(Equal("folder-to-commit"))

			f, err = pathfilter.New(`services\api\`)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Prefix()).To(Equal("services/api"))
		})

		It("rejects empty prefixes", func() {
			_, err := pathfilter.New(" / ")
			Expect(err).To(HaveOccurred())
		})

		It("rejects relative segments", func() {
			_, err := pathfilter.New("folder/../other")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Match", func() {
		var f pathfilter.Filter

		BeforeEach(func() {
			var err error
			f, err = pathfilter.New("folder-to-commit")
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("segment-exact matching",
			func(path string, expected bool) {
				Expect(f.Match(path)).To(Equal(expected))
			},
			Entry("file directly below the prefix", "folder-to-commit/x", true),
			Entry("nested file", "folder-to-commit/a/b/c.txt", true),
			Entry("sibling sharing a name prefix", "folder-to-commit-extra/x", false),
			Entry("file named like the prefix", "folder-to-commit", false),
			Entry("prefix nested elsewhere", "docs/folder-to-commit/x", false),
			Entry("unrelated file", "docs/readme.md", false),
			Entry("leading dot slash", "./folder-to-commit/x", true),
		)

		It("matches multi-segment prefixes", func() {
			nested, err := pathfilter.New("services/api")
			Expect(err).NotTo(HaveOccurred())
			Expect(nested.Match("services/api/main.go")).To(BeTrue())
			Expect(nested.Match("services/api-v2/main.go")).To(BeFalse())
			Expect(nested.Match("services/main.go")).To(BeFalse())
		})

		It("never matches with a zero-value filter", func() {
			Expect(pathfilter.Filter{}.Match("folder-to-commit/x")).To(BeFalse())
		})
	})

	Describe("Select", func() {
		It("keeps only matching files in order", func() {
			f, err := pathfilter.New("folder-to-commit")
			Expect(err).NotTo(HaveOccurred())

			selected := f.Select([]changes.ChangedFile{
				{Path: "folder-to-commit/a.txt", Status: changes.StatusAdded},
				{Path: "other/b.txt", Status: changes.StatusModified},
				{Path: "folder-to-commit-extra/c.txt", Status: changes.StatusAdded},
				{Path: "elsewhere/moved.txt", PreviousPath: "folder-to-commit/moved.txt", Status: changes.StatusRenamed},
			})
			Expect(selected).To(Equal([]changes.ChangedFile{
				{Path: "folder-to-commit/a.txt", Status: changes.StatusAdded},
				{Path: "elsewhere/moved.txt", PreviousPath: "folder-to-commit/moved.txt", Status: changes.StatusRenamed},
			}))
		})

		It("returns an empty selection when nothing matches", func() {
			f, err := pathfilter.New("folder-to-commit")
			Expect(err).NotTo(HaveOccurred())

			Expect(f.Select([]changes.ChangedFile{{Path: "docs/readme.md", Status: changes.StatusModified}})).To(BeEmpty())
		})
	})

	Describe("Materializable", func() {
		It("drops removed files, renames out of the prefix and duplicates", func() {
			f, err := pathfilter.New("folder-to-commit")
			Expect(err).NotTo(HaveOccurred())

			paths := f.Materializable([]changes.ChangedFile{
				{Path: "folder-to-commit/a.txt", Status: changes.StatusAdded},
				{Path: "folder-to-commit/gone.txt", Status: changes.StatusRemoved},
				{Path: "elsewhere/moved.txt", PreviousPath: "folder-to-commit/moved.txt", Status: changes.StatusRenamed},
				{Path: "folder-to-commit/new.txt", PreviousPath: "folder-to-commit/old.txt", Status: changes.StatusRenamed},
				{Path: "folder-to-commit/a.txt", Status: changes.StatusModified},
			})
			Expect(paths).To(Equal([]string{"folder-to-commit/a.txt", "folder-to-commit/new.txt"}))
		})
	})
})
