package parser

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrEmptyInput is returned when there is no text to parse.
	ErrEmptyInput = errors.New("empty input")
	// ErrNoHeader is returned when tabular text has no recognizable header row.
	ErrNoHeader = errors.New("no recognizable header")
	// ErrUnknownCommand is returned when no parser is registered for a command.
	ErrUnknownCommand = errors.New("unknown command")
)

// FormatError reports input that cannot be parsed as the expected format at
// all. Degraded input never produces a FormatError; it is reported through
// the snapshot diagnostics instead.
type FormatError struct {
	Expected string
	Reason   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Expected, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Reason }

func formatError(expected string, reason error) error {
	return &FormatError{Expected: expected, Reason: reason}
}
