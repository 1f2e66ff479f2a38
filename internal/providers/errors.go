package providers

import (
	"errors"
	"fmt"
)

// Error kinds returned by adapters. Callers match them with errors.Is.
var (
	ErrNotFound    = errors.New("symbol not found")
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("provider unavailable")
	ErrMalformed   = errors.New("malformed response")
)

// ErrUnknownProvider is returned by the factory for names it has no adapter for.
var ErrUnknownProvider = errors.New("unknown provider")

// Error carries the provider and symbol a failure belongs to.
type Error struct {
	Provider string
	Symbol   string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v: %v", e.Provider, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Symbol, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(provider, symbol string, kind, err error) *Error {
	return &Error{Provider: provider, Symbol: symbol, Kind: kind, Err: err}
}

// CountsAsBreakerFailure reports whether err should trip a circuit breaker.
// Malformed payloads are handled like an unavailable upstream.
func CountsAsBreakerFailure(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformed)
}

// IsRateLimited reports whether err signals quota exhaustion.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsNotFound reports whether the provider has no data for the symbol.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
