// Package errs defines the error kinds crucible reports to users and the
// mapping from those kinds to process exit codes.
package errs

import (
	"errors"
	"fmt"
)

// Exit codes for the crucible process.
const (
	ExitOK        = 0
	ExitUser      = 1
	ExitCancelled = 2
	ExitInvariant = 42
)

// Sentinel errors for broad error classes.
var (
	// ErrCancelled indicates the user interrupted the build.
	ErrCancelled = errors.New("operation cancelled by user")
	// ErrDB indicates a database schema or integrity violation.
	ErrDB = errors.New("database error")
	// ErrIO indicates a filesystem or network failure.
	ErrIO = errors.New("I/O error")
	// ErrUser indicates invalid input: a malformed manifest, a bad
	// argument, or an unknown configuration key.
	ErrUser = errors.New("invalid input")
)

// Nonesuch reports that a named entity (package, remote, usage key) does
// not exist. Suggestion, when non-empty, is the nearest known name.
type Nonesuch struct {
	What       string // kind of entity, e.g. "package", "remote"
	Given      string
	Suggestion string
}

func (e *Nonesuch) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("no %s named %q (did you mean %q?)", e.What, e.Given, e.Suggestion)
	}
	return fmt.Sprintf("no %s named %q", e.What, e.Given)
}

// Invariant reports an internal bug. It maps to exit code 42 and is never
// swallowed or rephrased.
type Invariant struct {
	Msg string
}

func (e *Invariant) Error() string {
	return "internal invariant violation: " + e.Msg
}

// Invariantf builds an Invariant error from a format string.
func Invariantf(format string, args ...any) error {
	return &Invariant{Msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error to the process exit code documented for it.
// nil maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var inv *Invariant
	if errors.As(err, &inv) {
		return ExitInvariant
	}
	if errors.Is(err, ErrCancelled) {
		return ExitCancelled
	}
	return ExitUser
}
