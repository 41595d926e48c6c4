// Package event decodes the GitHub Actions event payload into the revision range and branch the
// publisher defaults to.
package event

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/go-github/v55/github"
)

const (
	NamePush              = "push"
	NamePullRequest       = "pull_request"
	NamePullRequestTarget = "pull_request_target"
)

// ErrUnsupported is returned for event types that carry no revision range.
var ErrUnsupported = errors.New("unsupported event")

// Payload captures the subset of an event used to default the action inputs. Base is empty when
// the event has no usable parent revision, such as the first push of a new branch.
type Payload struct {
	Name       string
	Repository string
	Base       string
	Head       string
	Branch     string
	Deleted    bool
}

// Parse decodes the payload of the named event from r.
func Parse(name string, r io.Reader) (Payload, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case NamePush:
		return parsePush(r)
	case NamePullRequest, NamePullRequestTarget:
		payload, err := parsePullRequest(r)
		payload.Name = name
		return payload, err
	default:
		return Payload{Name: name}, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

func parsePush(r io.Reader) (Payload, error) {
	var raw github.PushEvent
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Payload{Name: NamePush}, fmt.Errorf("decode push event: %w", err)
	}

	return Payload{
		Name:       NamePush,
		Repository: strings.TrimSpace(raw.GetRepo().GetFullName()),
		Base:       revision(raw.GetBefore()),
		Head:       revision(raw.GetAfter()),
		Branch:     branchFromRef(raw.GetRef()),
		Deleted:    raw.GetDeleted(),
	}, nil
}

func parsePullRequest(r io.Reader) (Payload, error) {
	var raw github.PullRequestEvent
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Payload{}, fmt.Errorf("decode pull_request event: %w", err)
	}

	pr := raw.GetPullRequest()
	return Payload{
		Repository: strings.TrimSpace(raw.GetRepo().GetFullName()),
		Base:       revision(pr.GetBase().GetSHA()),
		Head:       revision(pr.GetHead().GetSHA()),
		Branch:     strings.TrimSpace(pr.GetHead().GetRef()),
	}, nil
}

// ParseFile reads the named event's JSON payload from disk.
func ParseFile(name, path string) (Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return Payload{Name: name}, fmt.Errorf("open event file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close event file: %v\n", closeErr)
		}
	}()

	return Parse(name, f)
}

// revision drops the all-zero SHA GitHub reports for a missing side of a push.
func revision(sha string) string {
	sha = strings.TrimSpace(sha)
	if strings.Trim(sha, "0") == "" {
		return ""
	}
	return sha
}

func branchFromRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "refs/heads/") {
		return ""
	}
	return strings.TrimPrefix(ref, "refs/heads/")
}
