package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so the allocation service can translate them into
// domain errors:
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: revision mismatch on write, or duplicate insert
//   - ErrUnavailable: backing service unreachable or timed out
//
// For validation errors (bad input, illegal transitions), use pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
