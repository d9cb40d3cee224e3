package ai

import (
	"errors"
	"fmt"
)

// Kind classifies why an analysis call failed.
type Kind int

const (
	// KindTransport covers network errors and non-2xx statuses. Retried.
	KindTransport Kind = iota + 1
	// KindEmpty means the provider answered without any candidate. Retried.
	KindEmpty
	// KindTruncated means the output hit the token budget. Terminal, never parsed.
	KindTruncated
	// KindMalformed means the reply text is not the expected JSON object.
	// Analyze converts it into a placeholder result instead of returning it.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindEmpty:
		return "empty"
	case KindTruncated:
		return "truncated"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by Analyze when no usable result could be produced.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTruncated:
		return "ai response truncated: output exceeded the token budget"
	case KindTransport, KindEmpty:
		return fmt.Sprintf("ai request failed after %d attempt(s): %v", e.Attempts, e.Err)
	default:
		return fmt.Sprintf("ai %s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err carries an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var aiErr *Error
	return errors.As(err, &aiErr) && aiErr.Kind == k
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error: status %d", e.Provider, e.StatusCode)
}

var errNoCandidates = errors.New("no candidates in response")
