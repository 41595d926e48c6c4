package publish

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

var disallowedBranchChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// BranchNamingOptions controls how temporary branch names are generated.
type BranchNamingOptions struct {
	Prefix            string
	MaxLength         int
	HashLength        int
	SanitizeEmptyWith string
}

var defaultBranchNaming = BranchNamingOptions{
	Prefix:            "temp-branch",
	MaxLength:         63,
	HashLength:        8,
	SanitizeEmptyWith: "run",
}

// TempBranchName computes the name of the orphan branch for a run, ensuring the id portion is
// sanitized into a single ref segment and the result is length-limited. Optional
// BranchNamingOptions can be supplied to tweak the naming behavior.
func TempBranchName(id string, opts ...BranchNamingOptions) string {
	config := defaultBranchNaming
	if len(opts) > 0 {
		o := opts[0]
		if o.Prefix != "" {
			config.Prefix = o.Prefix
		}
		if o.MaxLength > 0 {
			config.MaxLength = o.MaxLength
		}
		if o.HashLength > 0 {
			config.HashLength = o.HashLength
		}
		if o.SanitizeEmptyWith != "" {
			config.SanitizeEmptyWith = o.SanitizeEmptyWith
		}
	}

	sanitized := sanitizeIDSegment(id, config)
	branch := fmt.Sprintf("%s-%s", config.Prefix, sanitized)

	if len(branch) <= config.MaxLength {
		return branch
	}

	available := config.MaxLength - len(config.Prefix) - 1
	if available < 1 {
		available = 1
	}

	return fmt.Sprintf("%s-%s", config.Prefix, shortenSegment(sanitized, available, config))
}

func sanitizeIDSegment(segment string, config BranchNamingOptions) string {
	segment = strings.TrimSpace(segment)
	segment = disallowedBranchChars.ReplaceAllString(segment, "-")
	for strings.Contains(segment, "--") {
		segment = strings.ReplaceAll(segment, "--", "-")
	}
	for strings.Contains(segment, "..") {
		segment = strings.ReplaceAll(segment, "..", ".")
	}
	segment = strings.Trim(segment, "-.")
	segment = strings.TrimSuffix(segment, ".lock")

	if segment == "" {
		segment = config.SanitizeEmptyWith
	}

	return strings.ToLower(segment)
}

func shortenSegment(segment string, available int, config BranchNamingOptions) string {
	if len(segment) <= available {
		return segment
	}

	hashLen := config.HashLength
	if hashLen <= 0 {
		hashLen = 8
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(segment))
	hex := fmt.Sprintf("%0*x", hashLen, h.Sum32())
	suffix := "-" + hex

	if len(suffix) > available {
		// Not enough room for hyphen + full hash; fall back to hash prefix.
		if len(hex) >= available {
			return hex[:available]
		}
		return hex
	}

	base := strings.TrimRight(segment[:available-len(suffix)], "-.")
	if base == "" {
		return hex
	}

	return base + suffix
}

// NormalizeBranch trims whitespace, removes leading/trailing slashes, and strips
// refs/heads prefixes from a branch name. It returns an empty string when the
// normalized branch would otherwise be empty.
func NormalizeBranch(branch string) string {
	const prefix = "refs/heads"

	branch = strings.TrimLeft(strings.TrimSpace(branch), "/")

	if len(branch) >= len(prefix) && strings.EqualFold(branch[:len(prefix)], prefix) {
		if rest := branch[len(prefix):]; rest == "" || strings.HasPrefix(rest, "/") {
			branch = rest
		}
	}

	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	return strings.TrimSpace(branch)
}

// ValidateBranchName rejects names git would refuse as a destination ref.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return errors.New("branch cannot be empty")
	}

	if strings.ContainsAny(branch, " \t\n\r") {
		return errors.New("branch cannot contain whitespace")
	}

	if strings.Contains(branch, "..") || strings.Contains(branch, "//") {
		return errors.New("branch cannot contain '..' or '//'")
	}

	if strings.ContainsAny(branch, "~^:?*[]\\") || strings.Contains(branch, "@{") {
		return errors.New("branch contains forbidden git characters")
	}

	if strings.HasSuffix(branch, ".lock") || strings.HasSuffix(branch, ".") || branch == "@" {
		return errors.New("branch has a forbidden suffix")
	}

	return nil
}
