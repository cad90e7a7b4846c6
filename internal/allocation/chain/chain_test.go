package chain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
)

type ChainSuite struct {
	suite.Suite
	allocationID id.AllocationID
	start        time.Time
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) SetupTest() {
	s.allocationID = id.NewAllocationID()
	s.start = time.Date(2026, 5, 4, 10, 30, 0, 123456789, time.UTC)
}

func (s *ChainSuite) build(statuses ...models.AllocationStatus) []models.AuditEntry {
	var history []models.AuditEntry
	for i, st := range statuses {
		history = append(history, Append(s.allocationID, history, st, s.start.Add(time.Duration(i)*time.Minute)))
	}
	return history
}

// =============================================================================
// Append
// =============================================================================

func (s *ChainSuite) TestAppend() {
	s.Run("first entry chains from empty previous hash", func() {
		e := Append(s.allocationID, nil, models.AllocationPendingConfirmation, s.start)
		s.Equal(ComputeHash("", models.AllocationPendingConfirmation, e.Timestamp, s.allocationID), e.Hash)
		s.Len(e.Hash, 64)
		s.Empty(e.ExternalTxRef)
	})

	s.Run("timestamp truncated to milliseconds", func() {
		e := Append(s.allocationID, nil, models.AllocationPendingConfirmation, s.start)
		s.Equal(0, e.Timestamp.Nanosecond()%int(time.Millisecond))
	})

	s.Run("later entries link to the previous hash", func() {
		h := s.build(models.AllocationPendingConfirmation, models.AllocationMatched)
		s.Equal(ComputeHash(h[0].Hash, models.AllocationMatched, h[1].Timestamp, s.allocationID), h[1].Hash)
	})

	s.Run("append does not modify the input history", func() {
		h := s.build(models.AllocationPendingConfirmation)
		_ = Append(s.allocationID, h, models.AllocationMatched, s.start)
		s.Len(h, 1)
	})

	s.Run("allocation id is part of the hash", func() {
		a := Append(s.allocationID, nil, models.AllocationPendingConfirmation, s.start)
		b := Append(id.NewAllocationID(), nil, models.AllocationPendingConfirmation, s.start)
		s.NotEqual(a.Hash, b.Hash)
	})
}

// =============================================================================
// Verify
// =============================================================================

func (s *ChainSuite) TestVerify() {
	s.Run("untouched chain is valid", func() {
		h := s.build(models.AllocationPendingConfirmation, models.AllocationMatched, models.AllocationCompleted)
		s.Equal(VerifyResult{Valid: true, FirstInvalidIndex: -1}, Verify(s.allocationID, h))
	})

	s.Run("verify is idempotent", func() {
		h := s.build(models.AllocationPendingConfirmation, models.AllocationFailed)
		s.Equal(Verify(s.allocationID, h), Verify(s.allocationID, h))
	})

	s.Run("empty history is invalid at index 0", func() {
		s.Equal(VerifyResult{Valid: false, FirstInvalidIndex: 0}, Verify(s.allocationID, nil))
	})

	s.Run("tampered status reports its index", func() {
		h := s.build(models.AllocationPendingConfirmation, models.AllocationMatched, models.AllocationCompleted)
		h[1].Status = models.AllocationRejected
		s.Equal(VerifyResult{Valid: false, FirstInvalidIndex: 1}, Verify(s.allocationID, h))
	})

	s.Run("tampered timestamp reports its index", func() {
		h := s.build(models.AllocationPendingConfirmation, models.AllocationMatched)
		h[0].Timestamp = h[0].Timestamp.Add(time.Second)
		s.Equal(0, Verify(s.allocationID, h).FirstInvalidIndex)
	})

	s.Run("rewritten hash breaks the next link", func() {
		h := s.build(models.AllocationPendingConfirmation, models.AllocationMatched, models.AllocationCompleted)
		h[1].Hash = ComputeHash("forged", h[1].Status, h[1].Timestamp, s.allocationID)
		s.Equal(1, Verify(s.allocationID, h).FirstInvalidIndex)
	})

	s.Run("wrong allocation id fails at the first entry", func() {
		h := s.build(models.AllocationPendingConfirmation)
		s.Equal(0, Verify(id.NewAllocationID(), h).FirstInvalidIndex)
	})

	s.Run("external reference is not hashed", func() {
		h := s.build(models.AllocationPendingConfirmation)
		h[0].ExternalTxRef = "ldb:42"
		s.True(Verify(s.allocationID, h).Valid)
	})
}

func TestVerify_SurvivesJSONRoundTrip(t *testing.T) {
	allocID := id.NewAllocationID()
	var h []models.AuditEntry
	h = append(h, Append(allocID, h, models.AllocationPendingConfirmation, time.Now()))
	h = append(h, Append(allocID, h, models.AllocationMatched, time.Now().In(time.FixedZone("X", 3600))))

	b, err := json.Marshal(h)
	require.NoError(t, err)
	var decoded []models.AuditEntry
	require.NoError(t, json.Unmarshal(b, &decoded))

	assert.True(t, Verify(allocID, decoded).Valid)
}
