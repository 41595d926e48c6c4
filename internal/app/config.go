package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rancher/subtree-publish-action/internal/event"
	"github.com/rancher/subtree-publish-action/internal/pathfilter"
	"github.com/rancher/subtree-publish-action/internal/publish"
)

const (
	defaultPath              = "folder-to-commit"
	defaultDestinationBranch = "main"
	defaultDestinationRemote = "destination"
	defaultResolver          = ResolverAPI
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultGitHubHost        = "https://github.com"
	localHead                = "HEAD"
)

// Resolver strategies accepted by INPUT_RESOLVER.
const (
	ResolverAPI   = "api"
	ResolverLocal = "local"
)

// ConfigError reports a missing or malformed input. It is returned before any git or network
// operation is attempted.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Config captures runtime options sourced from GitHub Action inputs, the legacy script variables
// and the triggering event.
type Config struct {
	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string

	// Repository is the owner/name of the monorepo the revisions belong to.
	Repository string
	BaseCommit string
	HeadCommit string
	Path       string

	// DestinationURL is the fetchable URL of DESTINATION_REPOSITORY. An owner/name shorthand is
	// expanded against the GitHub host.
	DestinationURL    string
	DestinationBranch string
	DestinationRemote string
	DestinationToken  string

	Resolver         string
	Mode             publish.Mode
	WorkingDirectory string

	AuthorName    string
	AuthorEmail   string
	CommitMessage string

	DryRun             bool
	Verbose            bool
	FailOnResolveError bool
	LogLevel           string
	LogFormat          string

	EventName string
	// BranchDeleted is set when the triggering push deleted its branch. Such runs publish nothing.
	BranchDeleted bool
}

// Owner returns the owner half of Repository.
func (c Config) Owner() string {
	owner, _, _ := strings.Cut(c.Repository, "/")
	return owner
}

// RepoName returns the name half of Repository.
func (c Config) RepoName() string {
	_, name, _ := strings.Cut(c.Repository, "/")
	return name
}

// LoadConfig reads action inputs from the environment, applies defaults, and performs validation.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogLevel:          strings.ToLower(envOrDefault("INPUT_LOG_LEVEL", defaultLogLevel)),
		LogFormat:         strings.ToLower(envOrDefault("INPUT_LOG_FORMAT", defaultLogFormat)),
		Path:              envOrDefault("INPUT_PATH", defaultPath),
		DestinationRemote: envOrDefault("INPUT_DESTINATION_REMOTE", defaultDestinationRemote),
		Resolver:          strings.ToLower(envOrDefault("INPUT_RESOLVER", defaultResolver)),
		GitHubToken:       firstEnv("INPUT_GITHUB_TOKEN", "GITHUB_TOKEN"),
		GitHubBaseURL:     firstEnv("INPUT_GITHUB_BASE_URL"),
		GitHubUploadURL:   firstEnv("INPUT_GITHUB_UPLOAD_URL"),
		DestinationToken:  firstEnv("INPUT_DESTINATION_TOKEN"),
		AuthorName:        firstEnv("INPUT_AUTHOR_NAME"),
		AuthorEmail:       firstEnv("INPUT_AUTHOR_EMAIL"),
		CommitMessage:     strings.TrimSpace(os.Getenv("INPUT_COMMIT_MESSAGE")),
		WorkingDirectory:  envOrDefault("INPUT_WORKING_DIRECTORY", envOrDefault("GITHUB_WORKSPACE", ".")),
		EventName:         firstEnv("GITHUB_EVENT_NAME"),
	}

	var err error
	if cfg.DryRun, err = boolEnv("INPUT_DRY_RUN"); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = boolEnv("INPUT_VERBOSE"); err != nil {
		return Config{}, err
	}
	if cfg.FailOnResolveError, err = boolEnv("INPUT_FAIL_ON_RESOLVE_ERROR"); err != nil {
		return Config{}, err
	}

	if cfg.Mode, err = publish.ParseMode(os.Getenv("INPUT_MODE")); err != nil {
		return Config{}, &ConfigError{Field: "INPUT_MODE", Reason: err.Error()}
	}

	payload, err := loadEvent(cfg.EventName, firstEnv("GITHUB_EVENT_PATH"))
	if err != nil {
		return Config{}, err
	}

	cfg.BranchDeleted = payload.Deleted
	cfg.Repository = firstNonEmpty(firstEnv("INPUT_REPOSITORY", "GITHUB_REPOSITORY"), payload.Repository)
	cfg.BaseCommit = firstNonEmpty(firstEnv("INPUT_BASE_COMMIT", "BASE_COMMIT"), payload.Base)
	cfg.HeadCommit = firstNonEmpty(firstEnv("INPUT_HEAD_COMMIT", "HEAD_COMMIT"), payload.Head, firstEnv("GITHUB_SHA"))
	cfg.DestinationBranch = publish.NormalizeBranch(firstNonEmpty(
		firstEnv("INPUT_DESTINATION_BRANCH", "GITHUB_REF_NAME"),
		payload.Branch,
		defaultDestinationBranch,
	))

	if err := cfg.validate(firstEnv("INPUT_DESTINATION_REPOSITORY", "DESTINATION_REPOSITORY")); err != nil {
		return Config{}, err
	}

	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func (c *Config) validate(destination string) error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return &ConfigError{Field: "INPUT_LOG_LEVEL", Reason: err.Error()}
	}

	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[c.LogFormat]; !ok {
		return &ConfigError{Field: "INPUT_LOG_FORMAT", Reason: fmt.Sprintf("unsupported log format %q", c.LogFormat)}
	}

	if (c.GitHubBaseURL == "") != (c.GitHubUploadURL == "") {
		return &ConfigError{Field: "INPUT_GITHUB_BASE_URL", Reason: "INPUT_GITHUB_BASE_URL and INPUT_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise"}
	}

	switch c.Resolver {
	case ResolverAPI:
		if c.GitHubToken == "" {
			return &ConfigError{Field: "INPUT_GITHUB_TOKEN", Reason: "github token is required for the api resolver (set INPUT_GITHUB_TOKEN or GITHUB_TOKEN)"}
		}
		if !isOwnerName(c.Repository) {
			return &ConfigError{Field: "INPUT_REPOSITORY", Reason: fmt.Sprintf("expected owner/name, got %q", c.Repository)}
		}
	case ResolverLocal:
		if c.HeadCommit == "" {
			c.HeadCommit = localHead
		}
	default:
		return &ConfigError{Field: "INPUT_RESOLVER", Reason: fmt.Sprintf("unsupported resolver %q (expected %q or %q)", c.Resolver, ResolverAPI, ResolverLocal)}
	}

	if c.HeadCommit == "" && !c.BranchDeleted {
		return &ConfigError{Field: "INPUT_HEAD_COMMIT", Reason: "head revision is required (set INPUT_HEAD_COMMIT, HEAD_COMMIT or GITHUB_SHA)"}
	}

	if _, err := pathfilter.New(c.Path); err != nil {
		return &ConfigError{Field: "INPUT_PATH", Reason: err.Error()}
	}

	if err := publish.ValidateBranchName(c.DestinationBranch); err != nil {
		return &ConfigError{Field: "INPUT_DESTINATION_BRANCH", Reason: err.Error()}
	}

	if err := publish.ValidateBranchName(c.DestinationRemote); err != nil || strings.Contains(c.DestinationRemote, "/") {
		return &ConfigError{Field: "INPUT_DESTINATION_REMOTE", Reason: fmt.Sprintf("invalid remote name %q", c.DestinationRemote)}
	}

	if destination == "" {
		if !c.DryRun {
			return &ConfigError{Field: "INPUT_DESTINATION_REPOSITORY", Reason: "destination repository is required (set INPUT_DESTINATION_REPOSITORY or DESTINATION_REPOSITORY)"}
		}
		return nil
	}

	remoteURL, err := destinationURL(destination, c.GitHubBaseURL)
	if err != nil {
		return &ConfigError{Field: "INPUT_DESTINATION_REPOSITORY", Reason: err.Error()}
	}
	c.DestinationURL = remoteURL

	return nil
}

func loadEvent(name, path string) (event.Payload, error) {
	if name == "" || path == "" {
		return event.Payload{}, nil
	}

	payload, err := event.ParseFile(name, path)
	if err != nil {
		if errors.Is(err, event.ErrUnsupported) {
			return event.Payload{}, nil
		}
		return event.Payload{}, &ConfigError{Field: "GITHUB_EVENT_PATH", Reason: err.Error()}
	}

	return payload, nil
}

// destinationURL expands an owner/name shorthand into a clone URL on the configured GitHub host.
// Anything that already looks like a URL, an scp-style address or a local path is used as is.
func destinationURL(raw, githubBaseURL string) (string, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case strings.Contains(raw, "://"):
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse destination url: %w", err)
		}
		if parsed.Host == "" && parsed.Scheme != "file" {
			return "", fmt.Errorf("destination url %q must include a host", raw)
		}
		return raw, nil
	case strings.HasPrefix(raw, "git@"), filepath.IsAbs(raw), strings.HasPrefix(raw, "."):
		return raw, nil
	case isOwnerName(raw):
		return fmt.Sprintf("%s/%s.git", githubRoot(githubBaseURL), strings.TrimSuffix(raw, ".git")), nil
	default:
		return "", fmt.Errorf("unrecognized destination repository %q (expected a URL or owner/name)", raw)
	}
}

func githubRoot(baseURL string) string {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return defaultGitHubHost
	}

	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return defaultGitHubHost
	}

	root := (&url.URL{Scheme: parsed.Scheme, Host: parsed.Host}).String()
	return strings.TrimRight(root, "/")
}

func isOwnerName(value string) bool {
	owner, name, ok := strings.Cut(value, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return false
	}
	return !strings.ContainsAny(value, " \t:@\\")
}

func boolEnv(key string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &ConfigError{Field: key, Reason: fmt.Sprintf("expected a boolean, got %q", raw)}
	}
	return value, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// firstEnv returns the first non-empty trimmed value among keys.
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
