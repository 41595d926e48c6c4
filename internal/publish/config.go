package publish

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rancher/subtree-publish-action/internal/pathfilter"
)

// Mode selects which files under the prefix are staged on the orphan branch.
type Mode string

const (
	// ModeChanged stages only the matched files that changed within the range.
	ModeChanged Mode = "changed"
	// ModeSnapshot stages every file under the prefix as of the head revision.
	ModeSnapshot Mode = "snapshot"
)

// ParseMode accepts the textual form of a Mode. An empty value selects ModeChanged.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeChanged:
		return ModeChanged, nil
	case ModeSnapshot:
		return ModeSnapshot, nil
	default:
		return "", fmt.Errorf("unsupported publish mode %q (expected %q or %q)", raw, ModeChanged, ModeSnapshot)
	}
}

const defaultRemoteName = "destination"

// Config captures the runtime controls the publisher needs.
type Config struct {
	Filter       pathfilter.Filter
	Mode         Mode
	DryRun       bool
	Dir          string
	RemoteName   string
	BranchPrefix string
	// NewID returns the unique suffix of the temporary branch. Defaults to a random UUID.
	NewID func() string
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeChanged
	}
	if strings.TrimSpace(c.RemoteName) == "" {
		c.RemoteName = defaultRemoteName
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}
