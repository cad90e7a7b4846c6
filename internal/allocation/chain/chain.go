// Package chain implements the hash-linked audit history attached to each
// allocation, and best-effort anchoring of entry hashes in an external sink.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
)

// Timestamps are stored at millisecond precision so a persisted entry
// recomputes to the same hash.
const precision = time.Millisecond

// ComputeHash derives an entry hash from the previous hash ("" for the first
// entry), the status, the timestamp and the allocation id.
func ComputeHash(prevHash string, status models.AllocationStatus, ts time.Time, allocationID id.AllocationID) string {
	var b strings.Builder
	b.WriteString(prevHash)
	b.WriteByte('|')
	b.WriteString(string(status))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(ts.UnixMilli(), 10))
	b.WriteByte('|')
	b.WriteString(allocationID.String())
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Append builds the next entry for history. It does not modify history.
func Append(allocationID id.AllocationID, history []models.AuditEntry, status models.AllocationStatus, ts time.Time) models.AuditEntry {
	prev := ""
	if n := len(history); n > 0 {
		prev = history[n-1].Hash
	}
	ts = ts.UTC().Truncate(precision)
	return models.AuditEntry{
		Status:    status,
		Hash:      ComputeHash(prev, status, ts, allocationID),
		Timestamp: ts,
	}
}

// VerifyResult reports the first entry whose stored hash does not recompute,
// or Valid with FirstInvalidIndex -1.
type VerifyResult struct {
	Valid             bool
	FirstInvalidIndex int
}

// Verify recomputes every hash in order. An empty history is invalid at 0.
func Verify(allocationID id.AllocationID, history []models.AuditEntry) VerifyResult {
	if len(history) == 0 {
		return VerifyResult{Valid: false, FirstInvalidIndex: 0}
	}
	prev := ""
	for i, e := range history {
		if ComputeHash(prev, e.Status, e.Timestamp, allocationID) != e.Hash {
			return VerifyResult{Valid: false, FirstInvalidIndex: i}
		}
		prev = e.Hash
	}
	return VerifyResult{Valid: true, FirstInvalidIndex: -1}
}
