package models

import (
	"time"

	id "organlink/pkg/domain"
)

// OfferMatchScore is the score recorded for human-confirmed offers.
const OfferMatchScore = 100.0

// AuditEntry is one link of an allocation's hash chain. ExternalTxRef is the
// anchor sink's reference and is not part of the hash.
type AuditEntry struct {
	Status        AllocationStatus `json:"status"`
	Hash          string           `json:"hash"`
	ExternalTxRef string           `json:"external_tx_ref,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Allocation binds one organ to one request, or to a hospital directly.
//
// Invariants:
//   - BlockchainHistory is non-empty after creation and append-only
//   - LastBlockchainHash equals the hash of the last history entry
//   - FailureReason is set only when FAILED
//   - CompletionTime and CompletedBy are set only when COMPLETED
//   - Status moves only along statemachine.ValidateTransition
type Allocation struct {
	ID                 id.AllocationID  `json:"id"`
	OrganID            id.OrganID       `json:"organ_id"`
	RequestID          *id.RequestID    `json:"request_id,omitempty"`
	HospitalID         id.HospitalID    `json:"hospital_id"`
	MatchScore         float64          `json:"match_score"`
	Status             AllocationStatus `json:"status"`
	FailureReason      string           `json:"failure_reason,omitempty"`
	CompletionTime     *time.Time       `json:"completion_time,omitempty"`
	CompletedBy        *id.UserID       `json:"completed_by,omitempty"`
	LastBlockchainHash string           `json:"last_blockchain_hash"`
	BlockchainHistory  []AuditEntry     `json:"blockchain_history"`
	Revision           int64            `json:"revision"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewAllocation creates a PENDING_CONFIRMATION allocation with no history.
// The caller appends the first audit entry before saving.
func NewAllocation(allocationID id.AllocationID, organID id.OrganID, requestID *id.RequestID, hospital id.HospitalID, now time.Time) *Allocation {
	return &Allocation{
		ID:         allocationID,
		OrganID:    organID,
		RequestID:  requestID,
		HospitalID: hospital,
		MatchScore: OfferMatchScore,
		Status:     AllocationPendingConfirmation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ApplyStatus sets the status. Validate with the state machine first.
func (a *Allocation) ApplyStatus(to AllocationStatus, now time.Time) {
	a.Status = to
	a.UpdatedAt = now
}

func (a *Allocation) ApplyCompletion(by id.UserID, now time.Time) {
	a.ApplyStatus(AllocationCompleted, now)
	t := now
	a.CompletionTime = &t
	a.CompletedBy = &by
}

func (a *Allocation) ApplyFailure(reason string, now time.Time) {
	a.ApplyStatus(AllocationFailed, now)
	a.FailureReason = reason
}

// AppendAudit adds entry to the history and advances LastBlockchainHash.
func (a *Allocation) AppendAudit(entry AuditEntry) {
	a.BlockchainHistory = append(a.BlockchainHistory, entry)
	a.LastBlockchainHash = entry.Hash
}

// LastEntry returns the most recent audit entry, if any.
func (a *Allocation) LastEntry() (AuditEntry, bool) {
	if len(a.BlockchainHistory) == 0 {
		return AuditEntry{}, false
	}
	return a.BlockchainHistory[len(a.BlockchainHistory)-1], true
}

func (a *Allocation) Clone() *Allocation {
	c := *a
	if a.RequestID != nil {
		r := *a.RequestID
		c.RequestID = &r
	}
	if a.CompletionTime != nil {
		t := *a.CompletionTime
		c.CompletionTime = &t
	}
	if a.CompletedBy != nil {
		u := *a.CompletedBy
		c.CompletedBy = &u
	}
	c.BlockchainHistory = append([]AuditEntry(nil), a.BlockchainHistory...)
	return &c
}
