package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports/mocks"
	"organlink/internal/allocation/store/memory"
	dErrors "organlink/pkg/domain-errors"
	"organlink/pkg/platform/sentinel"
)

// conflictingStore fails the next n allocation writes with a revision conflict.
type conflictingStore struct {
	*memory.InMemory
	mu              sync.Mutex
	conflicts       int
	allocationSaves int
}

func (c *conflictingStore) SaveAllocation(ctx context.Context, a *models.Allocation) error {
	c.mu.Lock()
	c.allocationSaves++
	fail := c.conflicts > 0
	if fail {
		c.conflicts--
	}
	c.mu.Unlock()
	if fail {
		return fmt.Errorf("injected: %w", sentinel.ErrConflict)
	}
	return c.InMemory.SaveAllocation(ctx, a)
}

// =============================================================================
// Conflicts and retries
// =============================================================================

func (s *ServiceSuite) TestConflictRetry() {
	s.Run("one conflict is retried transparently", func() {
		alloc, _, _ := s.offered()
		store := &conflictingStore{InMemory: s.store, conflicts: 1}
		svc := s.newService(store)
		retriesBefore := testutil.ToFloat64(s.metrics.ConflictRetries)

		got, err := svc.DonorConfirm(s.ctx, alloc.ID, s.donor.ID)
		s.Require().NoError(err)
		s.Equal(models.AllocationMatched, got.Status)
		s.Equal(2, store.allocationSaves)
		s.Equal(retriesBefore+1, testutil.ToFloat64(s.metrics.ConflictRetries))

		_, organ, req := s.reload(alloc)
		s.Equal(models.OrganAllocated, organ.Status)
		s.Equal(models.RequestMatched, req.Status)
	})

	s.Run("a second conflict is surfaced and nothing is written", func() {
		alloc, _, _ := s.offered()
		before, beforeOrgan, beforeReq := s.reload(alloc)
		store := &conflictingStore{InMemory: s.store, conflicts: 5}
		svc := s.newService(store)

		_, err := svc.DonorConfirm(s.ctx, alloc.ID, s.donor.ID)
		s.requireCode(err, dErrors.CodeConflict)
		s.Equal(2, store.allocationSaves)

		after, afterOrgan, afterReq := s.reload(alloc)
		s.Equal(before, after)
		s.Equal(beforeOrgan, afterOrgan)
		s.Equal(beforeReq, afterReq)
	})
}

func (s *ServiceSuite) TestConcurrentDonorDecisions() {
	for round := 0; round < 20; round++ {
		alloc, _, _ := s.offered()

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make([]error, 2)
		decisions := []func() error{
			func() error { _, err := s.service.DonorConfirm(s.ctx, alloc.ID, s.donor.ID); return err },
			func() error { _, err := s.service.DonorReject(s.ctx, alloc.ID, s.donor.ID); return err },
		}
		for i, decide := range decisions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs[i] = decide()
			}()
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition) || dErrors.HasCode(err, dErrors.CodeConflict),
				"loser must see a transition or conflict error, got %v", err)
		}
		s.Equal(1, wins, "round %d", round)

		final, _, _ := s.reload(alloc)
		s.Len(final.BlockchainHistory, 2)
		findings, err := s.service.CheckConsistency(s.ctx, &alloc.ID)
		s.Require().NoError(err)
		s.Empty(findings)
	}
}

func (s *ServiceSuite) TestParallelOffersOnDistinctOrgans() {
	const n = 16
	organs := make([]*models.Organ, n)
	for i := range organs {
		organs[i] = s.availableOrgan(s.donor)
	}
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, organ := range organs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.OfferOrgan(s.ctx, organ.ID, nil, s.clinician.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		s.NoError(err)
	}
	active, err := s.service.ListHospitalAllocations(s.ctx, s.clinician.ID, FilterAllActive)
	s.Require().NoError(err)
	s.Len(active, n)
}

// =============================================================================
// Best-effort side effects
// =============================================================================

func (s *ServiceSuite) TestAuditSinkFailureDoesNotBlock() {
	failing := mocks.NewMockAuditSink(s.ctrl)
	failing.EXPECT().Record(gomock.Any(), gomock.Any()).Return("", errors.New("ledger offline")).AnyTimes()
	svc := s.newService(s.store, WithAuditSink(failing, 0))

	organ := s.availableOrgan(s.donor)
	alloc, err := svc.OfferOrgan(s.ctx, organ.ID, nil, s.clinician.ID)
	s.Require().NoError(err)
	s.Require().Len(alloc.BlockchainHistory, 1)
	s.Empty(alloc.BlockchainHistory[0].ExternalTxRef)
	s.NotEmpty(alloc.BlockchainHistory[0].Hash)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AnchorFailures.WithLabelValues("error")))
}

func (s *ServiceSuite) TestNotifierFailureDoesNotBlock() {
	failing := mocks.NewMockNotifier(s.ctrl)
	failing.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).AnyTimes()
	svc := s.newService(s.store, WithNotifier(failing))

	alloc, _, _ := s.offered()
	got, err := svc.DonorConfirm(s.ctx, alloc.ID, s.donor.ID)
	s.Require().NoError(err)
	s.Equal(models.AllocationMatched, got.Status)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.NotifyFailures))
}
