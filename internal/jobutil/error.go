// Package jobutil holds the failure taxonomy shared by every stage of the
// adder job and the mapping from failure kind to process exit status.
//
// The exit codes are part of the contract with the batch scheduler and must
// stay stable: operators discriminate causes from the exit code alone.
package jobutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind categorizes job failures.
type Kind int

const (
	// KindInternal is an unclassified failure.
	KindInternal Kind = iota
	// KindConfig indicates missing or invalid configuration. Fails before any I/O.
	KindConfig
	// KindNotFound indicates the object or bucket does not exist.
	KindNotFound
	// KindAuth indicates access was denied.
	KindAuth
	// KindTransient indicates a retryable network or service failure.
	KindTransient
	// KindParse indicates a token that is not a number under the strict policy.
	KindParse
	// KindStore indicates the output object could not be written.
	KindStore
)

// Exit codes reported to the scheduler.
const (
	ExitOK        = 0
	ExitInternal  = 1
	ExitConfig    = 2
	ExitNotFound  = 3
	ExitAuth      = 4
	ExitParse     = 5
	ExitStore     = 6
	ExitTransient = 7
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigurationError"
	case KindNotFound:
		return "NotFoundError"
	case KindAuth:
		return "AuthError"
	case KindTransient:
		return "TransientStorageError"
	case KindParse:
		return "ParseError"
	case KindStore:
		return "StoreError"
	default:
		return "InternalError"
	}
}

// ExitCode returns the process exit status for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfig:
		return ExitConfig
	case KindNotFound:
		return ExitNotFound
	case KindAuth:
		return ExitAuth
	case KindTransient:
		return ExitTransient
	case KindParse:
		return ExitParse
	case KindStore:
		return ExitStore
	default:
		return ExitInternal
	}
}

// Error is a classified job failure. Optional fields carry the context an
// operator needs to diagnose it from the log line alone.
type Error struct {
	Kind     Kind
	Op       string // "config", "fetch", "aggregate", "store"
	Key      string
	Token    string
	Position int
	Attempts int
	Problems []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key %q)", e.Key)
	}
	if e.Token != "" {
		fmt.Fprintf(&b, ": invalid token %q at position %d", e.Token, e.Position)
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return KindInternal
}

// ExitCode maps err to the process exit status. A nil error is success.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return KindOf(err).ExitCode()
}

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// LogFailure emits the single failure line for a job. The line names the
// failure kind, the stage, and whatever context the error carries.
func LogFailure(runID string, err error) {
	evt := log.Error().
		Str("runId", runID).
		Str("kind", KindOf(err).String()).
		Int("exitCode", ExitCode(err))

	var jobErr *Error
	if errors.As(err, &jobErr) {
		if jobErr.Op != "" {
			evt = evt.Str("stage", jobErr.Op)
		}
		if jobErr.Key != "" {
			evt = evt.Str("key", jobErr.Key)
		}
		if jobErr.Token != "" {
			evt = evt.Str("token", jobErr.Token).Int("position", jobErr.Position)
		}
		if jobErr.Attempts > 0 {
			evt = evt.Int("attempts", jobErr.Attempts)
		}
		if len(jobErr.Problems) > 0 {
			evt = evt.Strs("problems", jobErr.Problems)
		}
	}
	evt.Err(err).Msg("Job failed")
}
