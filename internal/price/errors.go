package price

import (
	"fmt"
	"time"
)

// ErrorKind classifies a failed read.
type ErrorKind int

const (
	// NotAvailable means the asset was never populated.
	NotAvailable ErrorKind = iota + 1
	// Stale means a value exists but is older than the threshold.
	Stale
	// ProviderFailure means every provider in the chain failed.
	ProviderFailure
)

func (k ErrorKind) String() string {
	switch k {
	case NotAvailable:
		return "not available"
	case Stale:
		return "stale"
	case ProviderFailure:
		return "provider failure"
	default:
		return "unknown"
	}
}

// Error is returned to callers of the tracker. Use errors.Is with the
// sentinels below to branch on the kind.
type Error struct {
	Kind  ErrorKind
	Asset Asset
	// Age is set for Stale.
	Age time.Duration
	// Err is the last provider error for ProviderFailure.
	Err error
}

var (
	ErrNotAvailable    = &Error{Kind: NotAvailable}
	ErrStale           = &Error{Kind: Stale}
	ErrProviderFailure = &Error{Kind: ProviderFailure}
)

func (e *Error) Error() string {
	switch e.Kind {
	case NotAvailable:
		if e.Asset == "" {
			return "price data not available"
		}
		return fmt.Sprintf("price data not available for %s", e.Asset)
	case Stale:
		return fmt.Sprintf("price data for %s is stale (age: %s)", e.Asset, e.Age.Truncate(time.Millisecond))
	case ProviderFailure:
		if e.Err == nil {
			return "all providers failed"
		}
		return fmt.Sprintf("all providers failed: %v", e.Err)
	default:
		return "price error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func notAvailable(a Asset) error { return &Error{Kind: NotAvailable, Asset: a} }

func stale(a Asset, age time.Duration) error { return &Error{Kind: Stale, Asset: a, Age: age} }

// Failure wraps the last provider error once a chain is exhausted.
func Failure(last error) error { return &Error{Kind: ProviderFailure, Err: last} }
