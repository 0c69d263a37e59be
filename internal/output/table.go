// Package output provides terminal output utilities for crucible.
//
// This package includes:
//   - Table rendering for package listings, remotes and test results
//   - Progress bars for the compile stage
//   - Spinners for indeterminate operations such as remote sync
//
// Rendering uses plain text (table rules use the box-drawing character
// "─") plus ANSI color codes when stdout is a terminal. Progress indicators are thread-safe and can be used
// from multiple worker goroutines.
package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/plan"
)

// ANSI color codes for test-result display
const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderListingTable renders the known package listings, as shown by
// `crucible pkg ls`. The caller provides them pre-sorted.
func RenderListingTable(listings []pkgdb.Listing) string {
	if len(listings) == 0 {
		return "No packages known. Add a remote with 'crucible repo add <url>'.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-24s %-12s %-6s %s\n", "Package", "Version", "Deps", "Description"))
	sb.WriteString(strings.Repeat("─", 76))
	sb.WriteString("\n")

	for _, l := range listings {
		sb.WriteString(fmt.Sprintf("%-24s %-12s %-6d %s\n",
			truncate(l.ID.Name, 24),
			truncate(l.ID.Version.String(), 12),
			len(l.Deps),
			truncate(l.Description, 34)))
	}
	return sb.String()
}

// RenderRemoteTable renders the registered remotes, as shown by
// `crucible repo ls`.
func RenderRemoteTable(remotes []pkgdb.Remote) string {
	if len(remotes) == 0 {
		return "No remotes registered. Add one with 'crucible repo add <url>'.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-20s %s\n", "Remote", "URL"))
	sb.WriteString(strings.Repeat("─", 60))
	sb.WriteString("\n")
	for _, r := range remotes {
		sb.WriteString(fmt.Sprintf("%-20s %s\n", truncate(r.Name, 20), r.URL))
	}
	return sb.String()
}

// RenderTestResults renders the outcome of the test stage.
func RenderTestResults(results []plan.TestResult) string {
	if len(results) == 0 {
		return "No tests were run.\n"
	}

	var sb strings.Builder
	failed := 0
	for _, res := range results {
		status := colorize(colorGreen, "PASS")
		if res.ExitCode != 0 {
			status = colorize(colorRed, "FAIL")
			failed++
		}
		sb.WriteString(fmt.Sprintf("%s  %s\n", status, res.Path))
		if res.ExitCode != 0 && strings.TrimSpace(res.Output) != "" {
			for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
				sb.WriteString("      " + line + "\n")
			}
		}
	}
	sb.WriteString(fmt.Sprintf("\n%d/%d tests passed\n", len(results)-failed, len(results)))
	return sb.String()
}

// RenderArtifactSummary lists produced artifacts with humanized sizes,
// shown after a successful build.
func RenderArtifactSummary(paths []string) string {
	var sb strings.Builder
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("  %-10s %s\n", humanize.Bytes(uint64(info.Size())), path))
	}
	return sb.String()
}

// truncate shortens s to max characters, ellipsizing when needed.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
