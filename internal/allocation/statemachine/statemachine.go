// Package statemachine holds the authoritative allocation transition table.
// It is pure: it never loads or mutates entities.
package statemachine

import (
	"fmt"

	"organlink/internal/allocation/models"
	dErrors "organlink/pkg/domain-errors"
)

var transitions = map[models.AllocationStatus][]models.AllocationStatus{
	models.AllocationPendingConfirmation: {
		models.AllocationMatched,
		models.AllocationRejected,
		models.AllocationFailed,
	},
	models.AllocationMatched: {
		models.AllocationCompleted,
		models.AllocationFailed,
	},
	models.AllocationCompleted: nil,
	models.AllocationFailed:    nil,
	models.AllocationRejected:  nil,
}

// TransitionError carries the rejected pair for diagnostics.
type TransitionError struct {
	From models.AllocationStatus
	To   models.AllocationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal allocation transition %s -> %s", e.From, e.To)
}

// ValidateTransition returns nil when from -> to is in the table, otherwise an
// invalid_transition domain error wrapping *TransitionError.
func ValidateTransition(from, to models.AllocationStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	te := &TransitionError{From: from, To: to}
	return dErrors.Wrap(te, dErrors.CodeInvalidTransition, te.Error())
}

// AllowedTargets returns a copy of the legal targets from status.
func AllowedTargets(from models.AllocationStatus) []models.AllocationStatus {
	return append([]models.AllocationStatus(nil), transitions[from]...)
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.AllocationStatus) bool {
	targets, known := transitions[status]
	return known && len(targets) == 0
}
