// Package errors defines the error taxonomy of the public server surface.
// Internal failures are classified into these sentinels so callers can
// branch on errors.Is without depending on internal packages.
package errors

import (
	"context"
	"errors"

	"github.com/tradeloop/tradeloop/internal/facts"
	"github.com/tradeloop/tradeloop/internal/sampling"
	"github.com/tradeloop/tradeloop/internal/tenant"
	internalerrors "github.com/tradeloop/tradeloop/internal/errors"
)

var (
	// ErrTenantNotFound is returned when an operation names an unknown
	// tenant.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrCollectionNotFound is returned when a collection want names a
	// collection the engine has no facts or metadata for.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrLoopNotFound is returned when an operation names an unknown
	// trade loop.
	ErrLoopNotFound = errors.New("trade loop not found")

	// ErrInvalidFact is returned when an event carries a malformed fact.
	// State is never mutated in that case.
	ErrInvalidFact = errors.New("invalid fact")

	// ErrSearchTimeout is returned when the caller's context expires
	// before discovery produces even a partial result.
	ErrSearchTimeout = errors.New("search timed out")

	// ErrCapacityExceeded is returned when a fact would push a tenant past
	// its configured capacity.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrStateCorrupted is returned when a tenant's fact store violates
	// its invariants and must be restored from a checkpoint.
	ErrStateCorrupted = errors.New("tenant state corrupted")
)

// Classify maps internal errors onto the public sentinels, preserving the
// original error for unwrapping. Unrecognized errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, tenant.ErrNotFound):
		return internalerrors.With(err, ErrTenantNotFound)
	case errors.Is(err, tenant.ErrLoopNotFound):
		return internalerrors.With(err, ErrLoopNotFound)
	case errors.Is(err, tenant.ErrCapacityExceeded):
		return internalerrors.With(err, ErrCapacityExceeded)
	case errors.Is(err, sampling.ErrCollectionNotFound):
		return internalerrors.With(err, ErrCollectionNotFound)
	case errors.Is(err, facts.ErrInvalidFact):
		return internalerrors.With(err, ErrInvalidFact)
	case errors.Is(err, facts.ErrCorrupted):
		return internalerrors.With(err, ErrStateCorrupted)
	case errors.Is(err, context.DeadlineExceeded):
		return internalerrors.With(err, ErrSearchTimeout)
	}
	return err
}
