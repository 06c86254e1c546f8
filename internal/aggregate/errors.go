package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/chain-explorer/internal/fetch"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
	"github.com/yourorg/chain-explorer/internal/validation"
)

var (
	// ErrAllProvidersExhausted is matched by every *ExhaustedError
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrInvalidQuery is returned for missing or malformed call parameters
	ErrInvalidQuery = errors.New("invalid query")
)

// Kind classifies why one provider attempt failed
type Kind string

// Failure kinds
const (
	KindTransport  Kind = "transport"
	KindRateLimit  Kind = "rate_limit"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindParse      Kind = "parse"
	KindBackoff    Kind = "backoff"
)

// Failure is the diagnostic for one provider within an exhausted call
type Failure struct {
	Provider string `json:"provider"`
	Kind     Kind   `json:"kind"`
	Err      error  `json:"-"`
}

// ExhaustedError is returned when no candidate produced a valid result.
// Failures lists the candidates in the order they were considered.
type ExhaustedError struct {
	Network   types.Network
	Operation types.Operation
	Failures  []Failure
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s for %s on %s", ErrAllProvidersExhausted, e.Operation, e.Network)
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s (%s)", f.Provider, f.Kind)
		if f.Err != nil {
			fmt.Fprintf(&b, ": %v", f.Err)
		}
	}
	return b.String()
}

// Is makes errors.Is(err, ErrAllProvidersExhausted) hold
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// kindOf maps an attempt error onto the failure taxonomy
func kindOf(err error) Kind {
	switch {
	case errors.Is(err, fetch.ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, fetch.ErrAuth):
		return KindAuth
	case errors.Is(err, parse.ErrValidation):
		return KindValidation
	case errors.Is(err, parse.ErrParse), errors.Is(err, validation.ErrInvariant):
		return KindParse
	default:
		return KindTransport
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
