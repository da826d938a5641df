package workitem

import (
	"fmt"
	"strings"
)

// State is the release state of a work item.
type State string

const (
	StateUnprocessed State = "UNPROCESSED"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// ParseState accepts the canonical names case-insensitively. "COMPLETED" is
// accepted as an alias of DONE since the remote API reports it that way.
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNPROCESSED", "":
		return StateUnprocessed, nil
	case "DONE", "COMPLETED":
		return StateDone, nil
	case "FAILED":
		return StateFailed, nil
	default:
		return "", fmt.Errorf("invalid work item state: %q", s)
	}
}

// ExceptionType classifies why an input item failed.
type ExceptionType string

const (
	ExceptionBusiness    ExceptionType = "BUSINESS"
	ExceptionApplication ExceptionType = "APPLICATION"
)

// ParseExceptionType parses one of the closed set of exception types.
func ParseExceptionType(s string) (ExceptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUSINESS":
		return ExceptionBusiness, nil
	case "APPLICATION":
		return ExceptionApplication, nil
	default:
		return "", fmt.Errorf("invalid exception type: %q (must be BUSINESS or APPLICATION)", s)
	}
}

// Exception describes a FAILED release.
type Exception struct {
	Type    ExceptionType `json:"type"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Kind tells inputs and outputs apart.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
)
