package event_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/subtree-publish-action/internal/event"
)

var _ = Describe("Parse", func() {
	const pushSample = `{
		"ref": "refs/heads/main",
		"before": "1111111111111111111111111111111111111111",
		"after": "2222222222222222222222222222222222222222",
		"deleted": false,
		"repository": {
			"name": "monorepo",
			"full_name": "rancher/monorepo",
			"owner": {"name": "rancher", "login": "rancher"}
		}
	}`

	It("parses the revision range of a push", func() {
		payload, err := event.Parse("push", strings.NewReader(pushSample))
		Expect(err).NotTo(HaveOccurred())

		Expect(payload.Name).To(Equal(event.NamePush))
		Expect(payload.Repository).To(Equal("rancher/monorepo"))
		Expect(payload.Base).To(Equal("1111111111111111111111111111111111111111"))
		Expect(payload.Head).To(Equal("2222222222222222222222222222222222222222"))
		Expect(payload.Branch).To(Equal("main"))
		Expect(payload.Deleted).To(BeFalse())
	})

	It("treats the zero before SHA of a new branch as no base", func() {
		payload, err := event.Parse("push", strings.NewReader(`{
			"ref": "refs/heads/feature/x",
			"before": "0000000000000000000000000000000000000000",
			"after": "3333333333333333333333333333333333333333"
		}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Base).To(BeEmpty())
		Expect(payload.Head).To(Equal("3333333333333333333333333333333333333333"))
		Expect(payload.Branch).To(Equal("feature/x"))
	})

	It("reports branch deletions without a head", func() {
		payload, err := event.Parse("push", strings.NewReader(`{
			"ref": "refs/heads/old",
			"before": "4444444444444444444444444444444444444444",
			"after": "0000000000000000000000000000000000000000",
			"deleted": true
		}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Deleted).To(BeTrue())
		Expect(payload.Head).To(BeEmpty())
	})

	It("ignores tag refs when deriving the branch", func() {
		payload, err := event.Parse("push", strings.NewReader(`{"ref": "refs/tags/v1.0.0", "after": "5555555555555555555555555555555555555555"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Branch).To(BeEmpty())
	})

	DescribeTable("parses pull request revisions",
		func(name string) {
			payload, err := event.Parse(name, strings.NewReader(`{
				"action": "synchronize",
				"repository": {"name": "monorepo", "full_name": "rancher/monorepo", "owner": {"login": "rancher"}},
				"pull_request": {
					"number": 7,
					"base": {"sha": "abc123", "ref": "main"},
					"head": {"sha": "def456", "ref": "feature/docs"}
				}
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(payload.Name).To(Equal(name))
			Expect(payload.Repository).To(Equal("rancher/monorepo"))
			Expect(payload.Base).To(Equal("abc123"))
			Expect(payload.Head).To(Equal("def456"))
			Expect(payload.Branch).To(Equal("feature/docs"))
		},
		Entry("pull_request", event.NamePullRequest),
		Entry("pull_request_target", event.NamePullRequestTarget),
	)

	It("rejects events without a revision range", func() {
		payload, err := event.Parse("workflow_dispatch", strings.NewReader(`{}`))
		Expect(errors.Is(err, event.ErrUnsupported)).To(BeTrue())
		Expect(payload.Name).To(Equal("workflow_dispatch"))
	})

	It("fails on malformed payloads", func() {
		_, err := event.Parse("push", strings.NewReader(`{"ref":`))
		Expect(err).To(MatchError(ContainSubstring("decode push event")))
	})

	It("reads payloads from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "event.json")
		Expect(os.WriteFile(path, []byte(pushSample), 0o600)).To(Succeed())

		payload, err := event.ParseFile("push", path)
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Head).To(Equal("2222222222222222222222222222222222222222"))

		_, err = event.ParseFile("push", filepath.Join(GinkgoT().TempDir(), "missing.json"))
		Expect(err).To(MatchError(ContainSubstring("open event file")))
	})
})
