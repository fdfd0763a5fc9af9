package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure.
type Kind int

const (
	NetworkError Kind = iota + 1
	RateLimitExceeded
	InvalidResponseKind
	Timeout
)

func (k Kind) String() string {
	switch k {
	case NetworkError:
		return "network error"
	case RateLimitExceeded:
		return "rate limit exceeded"
	case InvalidResponseKind:
		return "invalid response"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is returned by providers. All kinds are retryable from the point of
// view of the failover chain.
type Error struct {
	Kind     Kind
	Provider string
	Msg      string
	Err      error
}

var (
	ErrNetwork         = &Error{Kind: NetworkError}
	ErrRateLimited     = &Error{Kind: RateLimitExceeded}
	ErrInvalidResponse = &Error{Kind: InvalidResponseKind}
	ErrTimeout         = &Error{Kind: Timeout}

	// ErrNotStreaming is returned by StartStreaming on pull-only providers.
	ErrNotStreaming = errors.New("provider does not support streaming")
)

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Provider != "" {
		s = e.Provider + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func Network(provider string, err error) error {
	return &Error{Kind: NetworkError, Provider: provider, Err: err}
}

func RateLimited(provider string) error {
	return &Error{Kind: RateLimitExceeded, Provider: provider}
}

func InvalidResponse(provider, format string, args ...any) error {
	return &Error{Kind: InvalidResponseKind, Provider: provider, Msg: fmt.Sprintf(format, args...)}
}

func TimedOut(provider string, err error) error {
	return &Error{Kind: Timeout, Provider: provider, Err: err}
}
