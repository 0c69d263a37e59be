package plan

import (
	"fmt"
	"strings"
)

// NodeFailure is one failed node within a stage, carrying enough to
// reproduce the failure by hand.
type NodeFailure struct {
	Node     string
	Command  string
	Output   string
	ExitCode int
	Err      error
}

func (f *NodeFailure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s failed", f.Node)
	if f.ExitCode != 0 {
		fmt.Fprintf(&sb, " (exit code %d)", f.ExitCode)
	}
	if f.Command != "" {
		fmt.Fprintf(&sb, "\n  command: %s", f.Command)
	}
	if out := strings.TrimSpace(f.Output); out != "" {
		fmt.Fprintf(&sb, "\n%s", out)
	}
	return sb.String()
}

// StageError aggregates every failure of one build stage. Peer nodes run
// to completion before it is surfaced, and a failed stage prevents the
// next stage from starting.
type StageError struct {
	Stage    string // "compile", "archive", "link" or "test"
	Failures []*NodeFailure
}

func (e *StageError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s failure(s):", len(e.Failures), e.Stage)
	for _, f := range e.Failures {
		fmt.Fprintf(&sb, "\n%s", f.Error())
	}
	return sb.String()
}
