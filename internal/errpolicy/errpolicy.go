// Package errpolicy implements the process-wide error policy:
// "exit" treats any transient or driver error as fatal, "log" swallows
// Kafka delivery failures and frame-reader client errors and treats them
// as handled. A fixed set of structurally-fatal error kinds bypasses the
// policy entirely in both modes.
package errpolicy

import (
	"errors"
	"fmt"

	"github.com/bottledwater/bwkafka/internal/logging"
)

type Policy int

const (
	Exit Policy = iota
	Log
)

func Parse(s string) (Policy, error) {
	switch s {
	case "", "exit":
		return Exit, nil
	case "log":
		return Log, nil
	default:
		return Exit, fmt.Errorf("errpolicy: unknown policy %q, want \"exit\" or \"log\"", s)
	}
}

func (p Policy) String() string {
	if p == Log {
		return "log"
	}
	return "exit"
}

// Kind enumerates the structurally-fatal error classes, which are fatal
// under both policies.
type Kind int

const (
	MissingConninfo Kind = iota
	InvalidConfig
	RingInvariantViolation
	CommitBeginMismatch
	UnknownRelID
	KeepaliveFailure
)

func (k Kind) String() string {
	switch k {
	case MissingConninfo:
		return "missing-conninfo"
	case InvalidConfig:
		return "invalid-config"
	case RingInvariantViolation:
		return "ring-invariant-violation"
	case CommitBeginMismatch:
		return "commit-begin-mismatch"
	case UnknownRelID:
		return "unknown-relid"
	case KeepaliveFailure:
		return "keepalive-failure"
	default:
		return "unknown"
	}
}

// FatalError wraps an error that must terminate the process regardless of
// the configured policy.
type FatalError struct {
	Kind Kind
	Err  error
}

func NewFatal(kind Kind, err error) *FatalError {
	return &FatalError{Kind: kind, Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Handler applies the configured policy to errors arising from Kafka
// delivery and the frame reader's client-error callback.
type Handler struct {
	policy Policy
	logger *logging.Logger
}

func New(policy Policy) *Handler {
	return &Handler{policy: policy, logger: logging.NewLogger("ErrorPolicy")}
}

func (h *Handler) Policy() Policy { return h.policy }

// Handle applies the policy to err, which occurred in the given context
// (e.g. a topic name for a delivery failure). It returns nil when the
// error was handled and execution may continue ("log" mode), or a non-nil
// error the caller must treat as fatal and use to drive shutdown.
//
// A structurally-fatal error always returns non-nil, regardless of policy.
func (h *Handler) Handle(context string, err error) error {
	if err == nil {
		return nil
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		h.logger.Fatalf("%s: %v (structurally fatal, policy does not apply)", context, fatal)
		return err
	}

	switch h.policy {
	case Log:
		h.logger.Errorf("%s: %v (continuing under log policy, data loss accepted)", context, err)
		return nil
	default:
		h.logger.Fatalf("%s: %v (exiting under exit policy)", context, err)
		return err
	}
}
