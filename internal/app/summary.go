package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rancher/subtree-publish-action/internal/publish"
)

func (r *Runner) writeStepSummary(res result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	ensureParentDir(path, "summary")

	var builder strings.Builder
	builder.WriteString("## Subtree publish summary\n\n")
	builder.WriteString(r.renderResultDetails(res))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close step summary file: %v\n", closeErr)
		}
	}()

	if _, err := file.WriteString(builder.String()); err != nil {
		return fmt.Errorf("write step summary: %w", err)
	}

	if !strings.HasSuffix(builder.String(), "\n") {
		if _, err := file.WriteString("\n"); err != nil {
			return fmt.Errorf("terminate step summary: %w", err)
		}
	}

	return nil
}

func (r *Runner) writeGitHubOutputs(hasChanges bool) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	ensureParentDir(path, "outputs")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open github output: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close github output file: %v\n", closeErr)
		}
	}()

	return writeOutput(file, "has_changes", fmt.Sprintf("%t", hasChanges))
}

// ensureParentDir creates the directory of an Actions-provided file when the runner has not.
// A failure is only reported: opening the file may still succeed.
func ensureParentDir(path, kind string) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create %s directory: %v\n", kind, mkErr)
		}
	}
}

func (r *Runner) renderResultDetails(res result) string {
	var builder strings.Builder

	builder.WriteString("| Field | Value |\n")
	builder.WriteString("| --- | --- |\n")
	writeRow := func(field, value string) {
		builder.WriteString(fmt.Sprintf("| %s | %s |\n", field, sanitizeMarkdownCell(value)))
	}

	writeRow("Path", res.Prefix)
	writeRow("Range", res.Range.String())
	writeRow("Changed files", fmt.Sprintf("%d", res.Changed))
	writeRow("Matched files", fmt.Sprintf("%d", len(res.Matched)))
	writeRow("Status", statusText(res))
	if res.Outcome.Branch != "" {
		writeRow("Destination branch", res.Outcome.Branch)
	}
	if res.Outcome.Commit != "" {
		writeRow("Source commit", res.Outcome.Commit)
	}

	if res.ResolveErr != nil {
		builder.WriteString(fmt.Sprintf("\n> **Warning:** changed files could not be resolved: %s\n", sanitizeMarkdownCell(res.ResolveErr.Error())))
	}

	if res.PublishErr != nil {
		builder.WriteString(fmt.Sprintf("\n> **Error:** %s\n", sanitizeMarkdownCell(res.PublishErr.Error())))
	}

	if len(res.Outcome.Files) > 0 {
		heading := "Published files"
		if !res.Outcome.Pushed {
			heading = "Files selected for publishing"
		}
		builder.WriteString(fmt.Sprintf("\n### %s\n\n", heading))
		for _, file := range res.Outcome.Files {
			builder.WriteString(fmt.Sprintf("- `%s`\n", strings.ReplaceAll(file, "`", "'")))
		}
	}

	return builder.String()
}

func statusText(res result) string {
	if res.PublishErr != nil {
		return "failed"
	}
	if res.SkipReason != "" {
		return res.SkipReason
	}
	switch res.Outcome.Status {
	case publish.StatusPushed:
		return "pushed"
	case publish.StatusDryRun:
		return "dry run (nothing pushed)"
	case publish.StatusSkippedNoStaged:
		return "skipped: nothing to commit"
	case publish.StatusSkippedNoMatches, "":
		return "skipped: no changes under path"
	default:
		return string(res.Outcome.Status)
	}
}

func writeOutput(file *os.File, key, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		if _, err := fmt.Fprintf(file, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
			return fmt.Errorf("write output %s: %w", key, err)
		}
		return nil
	}
	if _, err := fmt.Fprintf(file, "%s=%s\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
