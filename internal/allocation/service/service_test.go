package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"organlink/internal/allocation/chain"
	allocmetrics "organlink/internal/allocation/metrics"
	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports/mocks"
	"organlink/internal/allocation/store/memory"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	store    *memory.InMemory
	sink     *mocks.MockAuditSink
	notifier *mocks.MockNotifier
	distance *mocks.MockDistanceProvider
	metrics  *allocmetrics.Metrics
	service  *Service

	mu   sync.Mutex
	sent []models.Notification

	hospital      id.HospitalID
	otherHospital id.HospitalID
	donor         *models.User
	otherDonor    *models.User
	clinician     *models.User
	outsider      *models.User
	admin         *models.User
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.store = memory.NewInMemory()
	s.sink = mocks.NewMockAuditSink(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.distance = mocks.NewMockDistanceProvider(s.ctrl)
	s.metrics = allocmetrics.New(prometheus.NewRegistry())
	s.sent = nil

	s.sink.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, hash string) (string, error) { return "anchor:" + hash[:8], nil },
	).AnyTimes()
	s.notifier.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n models.Notification) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sent = append(s.sent, n)
			return nil
		},
	).AnyTimes()

	s.service = s.newService(s.store)
	s.seedUsers()
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(store Store, extra ...Option) *Service {
	opts := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditSink(s.sink, 0),
		WithNotifier(s.notifier),
		WithDistanceProvider(s.distance),
	}
	return New(store, append(opts, extra...)...)
}

func (s *ServiceSuite) seedUsers() {
	s.hospital = id.HospitalID(uuid.New())
	s.otherHospital = id.HospitalID(uuid.New())
	mk := func(name string, role models.Role, hospital *id.HospitalID, loc *models.Location) *models.User {
		u := &models.User{ID: id.UserID(uuid.New()), Name: name, Role: role, HospitalID: hospital, Location: loc}
		s.Require().NoError(s.store.SaveUser(s.ctx, u))
		return u
	}
	s.donor = mk("donor", models.RoleDonor, nil, &models.Location{Lat: 51.50, Lng: -0.12})
	s.otherDonor = mk("other donor", models.RoleDonor, nil, nil)
	s.clinician = mk("clinician", models.RoleClinician, &s.hospital, &models.Location{Lat: 51.52, Lng: -0.10})
	s.outsider = mk("outsider", models.RoleClinician, &s.otherHospital, nil)
	s.admin = mk("admin", models.RoleAdmin, &s.hospital, nil)
}

// availableOrgan registers and confirms a kidney for donor.
func (s *ServiceSuite) availableOrgan(donor *models.User) *models.Organ {
	organ, err := s.service.RegisterDonation(s.ctx, donor.ID, id.OrganKidney, id.BloodGroupOPos, nil)
	s.Require().NoError(err)
	organ, err = s.service.ConfirmDonation(s.ctx, organ.ID, donor.ID, models.ConsentLiving)
	s.Require().NoError(err)
	return organ
}

func (s *ServiceSuite) waitingRequest(urgency int) *models.Request {
	req, err := s.service.SubmitRequest(s.ctx, s.clinician.ID, id.OrganKidney, id.BloodGroupOPos, urgency, "")
	s.Require().NoError(err)
	return req
}

// offered returns a PENDING_CONFIRMATION allocation bound to a fresh organ and request.
func (s *ServiceSuite) offered() (*models.Allocation, *models.Organ, *models.Request) {
	organ := s.availableOrgan(s.donor)
	req := s.waitingRequest(7)
	rid := req.ID
	alloc, err := s.service.OfferOrgan(s.ctx, organ.ID, &rid, s.clinician.ID)
	s.Require().NoError(err)
	return alloc, organ, req
}

func (s *ServiceSuite) matched() (*models.Allocation, *models.Organ, *models.Request) {
	alloc, organ, req := s.offered()
	alloc, err := s.service.DonorConfirm(s.ctx, alloc.ID, s.donor.ID)
	s.Require().NoError(err)
	return alloc, organ, req
}

func (s *ServiceSuite) reload(alloc *models.Allocation) (*models.Allocation, *models.Organ, *models.Request) {
	a, err := s.store.FindAllocation(s.ctx, alloc.ID)
	s.Require().NoError(err)
	o, err := s.store.FindOrgan(s.ctx, a.OrganID)
	s.Require().NoError(err)
	var r *models.Request
	if a.RequestID != nil {
		r, err = s.store.FindRequest(s.ctx, *a.RequestID)
		s.Require().NoError(err)
	}
	return a, o, r
}

func (s *ServiceSuite) notificationsFor(userID id.UserID) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.sent {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, code), "expected %s, got %v", code, err)
}

// =============================================================================
// Donations and requests
// =============================================================================

func (s *ServiceSuite) TestDonations() {
	s.Run("registered organ awaits consent with donor location", func() {
		organ, err := s.service.RegisterDonation(s.ctx, s.donor.ID, id.OrganLiver, id.BloodGroupANeg, &s.hospital)
		s.Require().NoError(err)
		s.Equal(models.OrganPendingConsent, organ.Status)
		s.Require().NotNil(organ.Location)
		s.Equal(*s.donor.Location, *organ.Location)
	})

	s.Run("clinicians cannot register donations", func() {
		_, err := s.service.RegisterDonation(s.ctx, s.clinician.ID, id.OrganLiver, id.BloodGroupANeg, nil)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("confirmation attaches a verified consent", func() {
		organ := s.availableOrgan(s.donor)
		s.Equal(models.OrganAvailable, organ.Status)
		s.Require().NotNil(organ.ConsentID)
		consent, err := s.store.FindConsent(s.ctx, *organ.ConsentID)
		s.Require().NoError(err)
		s.True(consent.IsVerified())
		s.Equal(s.donor.ID, consent.DonorID)
	})

	s.Run("only the owner can confirm", func() {
		organ, err := s.service.RegisterDonation(s.ctx, s.donor.ID, id.OrganKidney, id.BloodGroupOPos, nil)
		s.Require().NoError(err)
		_, err = s.service.ConfirmDonation(s.ctx, organ.ID, s.otherDonor.ID, models.ConsentLiving)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("confirming twice is invalid state", func() {
		organ := s.availableOrgan(s.donor)
		_, err := s.service.ConfirmDonation(s.ctx, organ.ID, s.donor.ID, models.ConsentLiving)
		s.requireCode(err, dErrors.CodeInvalidState)
	})

	s.Run("unknown consent type is rejected", func() {
		organ, err := s.service.RegisterDonation(s.ctx, s.donor.ID, id.OrganKidney, id.BloodGroupOPos, nil)
		s.Require().NoError(err)
		_, err = s.service.ConfirmDonation(s.ctx, organ.ID, s.donor.ID, models.ConsentType("MAYBE"))
		s.requireCode(err, dErrors.CodeInvalidArgument)
	})
}

func (s *ServiceSuite) TestSubmitRequest() {
	s.Run("request is waiting at the clinician's hospital", func() {
		req := s.waitingRequest(9)
		s.Equal(models.RequestWaiting, req.Status)
		s.Equal(s.hospital, req.HospitalID)
		s.Nil(req.AllocationID)
	})

	s.Run("urgency out of range", func() {
		for _, urgency := range []int{0, 11, -3} {
			_, err := s.service.SubmitRequest(s.ctx, s.clinician.ID, id.OrganKidney, id.BloodGroupOPos, urgency, "")
			s.requireCode(err, dErrors.CodeInvalidArgument)
		}
	})

	s.Run("donors cannot submit requests", func() {
		_, err := s.service.SubmitRequest(s.ctx, s.donor.ID, id.OrganKidney, id.BloodGroupOPos, 5, "")
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("unknown user is unauthorized", func() {
		_, err := s.service.SubmitRequest(s.ctx, id.UserID(uuid.New()), id.OrganKidney, id.BloodGroupOPos, 5, "")
		s.requireCode(err, dErrors.CodeUnauthorized)
	})
}

// =============================================================================
// Offer
// =============================================================================

func (s *ServiceSuite) TestOfferOrgan() {
	s.Run("offer against a waiting request", func() {
		alloc, organ, req := s.offered()

		s.Equal(models.AllocationPendingConfirmation, alloc.Status)
		s.Equal(models.OfferMatchScore, alloc.MatchScore)
		s.Equal(s.hospital, alloc.HospitalID)
		s.Require().Len(alloc.BlockchainHistory, 1)
		s.Equal(alloc.BlockchainHistory[0].Hash, alloc.LastBlockchainHash)
		s.NotEmpty(alloc.BlockchainHistory[0].ExternalTxRef)

		_, storedOrgan, storedReq := s.reload(alloc)
		s.Equal(models.OrganReserved, storedOrgan.Status)
		s.True(storedOrgan.BoundTo(alloc.ID))
		s.Equal(models.RequestPendingConfirmation, storedReq.Status)
		s.True(storedReq.BoundTo(alloc.ID))
		s.Equal(organ.ID, alloc.OrganID)
		s.Equal(req.ID, *alloc.RequestID)

		notes := s.notificationsFor(s.donor.ID)
		s.Require().NotEmpty(notes)
		s.Equal(KindOfferReceived, notes[len(notes)-1].Kind)
	})

	s.Run("offer without request uses the actor's hospital", func() {
		organ := s.availableOrgan(s.donor)
		alloc, err := s.service.OfferOrgan(s.ctx, organ.ID, nil, s.admin.ID)
		s.Require().NoError(err)
		s.Nil(alloc.RequestID)
		s.Equal(s.hospital, alloc.HospitalID)
	})

	s.Run("reserved organ cannot be offered again", func() {
		alloc, _, _ := s.offered()
		_, err := s.service.OfferOrgan(s.ctx, alloc.OrganID, nil, s.clinician.ID)
		s.requireCode(err, dErrors.CodeInvalidState)
	})

	s.Run("organ without consent is not available", func() {
		organ, err := s.service.RegisterDonation(s.ctx, s.donor.ID, id.OrganKidney, id.BloodGroupOPos, nil)
		s.Require().NoError(err)
		_, err = s.service.OfferOrgan(s.ctx, organ.ID, nil, s.clinician.ID)
		s.requireCode(err, dErrors.CodeInvalidState)
	})

	s.Run("donors cannot offer", func() {
		organ := s.availableOrgan(s.donor)
		_, err := s.service.OfferOrgan(s.ctx, organ.ID, nil, s.donor.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("request must be waiting", func() {
		first, _, req := s.offered()
		s.Require().NotNil(first.RequestID)
		organ := s.availableOrgan(s.donor)
		rid := req.ID
		_, err := s.service.OfferOrgan(s.ctx, organ.ID, &rid, s.clinician.ID)
		s.requireCode(err, dErrors.CodeInvalidState)

		stored, err := s.store.FindOrgan(s.ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganAvailable, stored.Status, "validation failures write nothing")
	})

	s.Run("organ must match the request", func() {
		organ, err := s.service.RegisterDonation(s.ctx, s.donor.ID, id.OrganHeart, id.BloodGroupABNeg, nil)
		s.Require().NoError(err)
		_, err = s.service.ConfirmDonation(s.ctx, organ.ID, s.donor.ID, models.ConsentLiving)
		s.Require().NoError(err)
		req := s.waitingRequest(6)

		_, err = s.service.OfferOrgan(s.ctx, organ.ID, &req.ID, s.clinician.ID)
		s.requireCode(err, dErrors.CodeInvalidState)

		storedReq, err := s.store.FindRequest(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.RequestWaiting, storedReq.Status)
	})

	s.Run("request of another hospital", func() {
		organ := s.availableOrgan(s.donor)
		req := s.waitingRequest(6)

		_, err := s.service.OfferOrgan(s.ctx, organ.ID, &req.ID, s.outsider.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)

		stored, err := s.store.FindOrgan(s.ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganAvailable, stored.Status)
	})

	s.Run("unknown organ", func() {
		_, err := s.service.OfferOrgan(s.ctx, id.NewOrganID(), nil, s.clinician.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

// =============================================================================
// Donor decisions
// =============================================================================

func (s *ServiceSuite) TestDonorConfirm() {
	s.Run("foreign donor cannot confirm and nothing changes", func() {
		alloc, _, _ := s.offered()
		before, beforeOrgan, beforeReq := s.reload(alloc)

		_, err := s.service.DonorConfirm(s.ctx, alloc.ID, s.otherDonor.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)

		after, afterOrgan, afterReq := s.reload(alloc)
		s.Equal(before, after)
		s.Equal(beforeOrgan, afterOrgan)
		s.Equal(beforeReq, afterReq)
	})

	s.Run("confirm matches all three entities and extends the chain", func() {
		alloc, _, req := s.matched()

		s.Equal(models.AllocationMatched, alloc.Status)
		s.Require().Len(alloc.BlockchainHistory, 2)
		s.Equal(models.AllocationPendingConfirmation, alloc.BlockchainHistory[0].Status)
		s.Equal(models.AllocationMatched, alloc.BlockchainHistory[1].Status)
		s.Equal(
			chain.ComputeHash(alloc.BlockchainHistory[0].Hash, models.AllocationMatched, alloc.BlockchainHistory[1].Timestamp, alloc.ID),
			alloc.BlockchainHistory[1].Hash,
		)
		s.True(chain.Verify(alloc.ID, alloc.BlockchainHistory).Valid)

		_, organ, storedReq := s.reload(alloc)
		s.Equal(models.OrganAllocated, organ.Status)
		s.Equal(models.RequestMatched, storedReq.Status)
		s.True(storedReq.BoundTo(alloc.ID))

		notes := s.notificationsFor(req.ClinicianID)
		s.Require().NotEmpty(notes)
		s.Equal(KindOfferConfirmed, notes[len(notes)-1].Kind)
	})

	s.Run("confirming twice is an invalid transition", func() {
		alloc, _, _ := s.matched()
		_, err := s.service.DonorConfirm(s.ctx, alloc.ID, s.donor.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("unknown allocation", func() {
		_, err := s.service.DonorConfirm(s.ctx, id.NewAllocationID(), s.donor.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestDonorReject() {
	s.Run("reject releases organ and reopens request", func() {
		alloc, _, _ := s.offered()
		alloc, err := s.service.DonorReject(s.ctx, alloc.ID, s.donor.ID)
		s.Require().NoError(err)
		s.Equal(models.AllocationRejected, alloc.Status)
		s.Len(alloc.BlockchainHistory, 2)

		_, organ, req := s.reload(alloc)
		s.Equal(models.OrganAvailable, organ.Status)
		s.Nil(organ.AllocationID)
		s.Equal(models.RequestWaiting, req.Status)
		s.Nil(req.AllocationID)
	})

	s.Run("matched allocation cannot be rejected", func() {
		alloc, _, _ := s.matched()
		_, err := s.service.DonorReject(s.ctx, alloc.ID, s.donor.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("released organ can be offered again", func() {
		alloc, _, req := s.offered()
		_, err := s.service.DonorReject(s.ctx, alloc.ID, s.donor.ID)
		s.Require().NoError(err)
		rid := req.ID
		again, err := s.service.OfferOrgan(s.ctx, alloc.OrganID, &rid, s.clinician.ID)
		s.Require().NoError(err)
		s.NotEqual(alloc.ID, again.ID)
	})
}

// =============================================================================
// Clinician outcomes
// =============================================================================

func (s *ServiceSuite) TestFailAllocation() {
	s.Run("fail with reason returns organ and request to their pools", func() {
		alloc, _, _ := s.matched()
		alloc, err := s.service.FailAllocation(s.ctx, alloc.ID, s.clinician.ID, "  transport delay  ")
		s.Require().NoError(err)

		s.Equal(models.AllocationFailed, alloc.Status)
		s.Equal("transport delay", alloc.FailureReason)
		s.Require().Len(alloc.BlockchainHistory, 3)
		s.True(chain.Verify(alloc.ID, alloc.BlockchainHistory).Valid)

		_, organ, req := s.reload(alloc)
		s.Equal(models.OrganAvailable, organ.Status)
		s.Nil(organ.AllocationID)
		s.Equal(models.RequestWaiting, req.Status)
		s.Nil(req.AllocationID)

		notes := s.notificationsFor(s.donor.ID)
		s.Require().NotEmpty(notes)
		last := notes[len(notes)-1]
		s.Equal(KindAllocationFailed, last.Kind)
		s.Contains(last.Message, "transport delay")
	})

	s.Run("pending allocation can fail", func() {
		alloc, _, _ := s.offered()
		_, err := s.service.FailAllocation(s.ctx, alloc.ID, s.clinician.ID, "donor unreachable")
		s.Require().NoError(err)
	})

	s.Run("blank reason is rejected", func() {
		alloc, _, _ := s.matched()
		_, err := s.service.FailAllocation(s.ctx, alloc.ID, s.clinician.ID, "   ")
		s.requireCode(err, dErrors.CodeInvalidArgument)
	})

	s.Run("clinician of another hospital is unauthorized", func() {
		alloc, _, _ := s.matched()
		_, err := s.service.FailAllocation(s.ctx, alloc.ID, s.outsider.ID, "not ours")
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("admins are not hospital clinicians", func() {
		alloc, _, _ := s.matched()
		_, err := s.service.FailAllocation(s.ctx, alloc.ID, s.admin.ID, "override")
		s.requireCode(err, dErrors.CodeUnauthorized)
	})
}

func (s *ServiceSuite) TestCompleteAllocation() {
	s.Run("complete records the transplant", func() {
		alloc, _, _ := s.matched()
		alloc, err := s.service.CompleteAllocation(s.ctx, alloc.ID, s.clinician.ID)
		s.Require().NoError(err)

		s.Equal(models.AllocationCompleted, alloc.Status)
		s.Require().NotNil(alloc.CompletionTime)
		s.Require().NotNil(alloc.CompletedBy)
		s.Equal(s.clinician.ID, *alloc.CompletedBy)
		s.Len(alloc.BlockchainHistory, 3)

		_, organ, req := s.reload(alloc)
		s.Equal(models.OrganTransplanted, organ.Status)
		s.Equal(models.RequestTransplanted, req.Status)
		s.Nil(req.AllocationID)
		s.NoError(req.CheckCoupling())
		s.Require().NotNil(alloc.RequestID, "allocation keeps its request reference")
	})

	s.Run("completing a completed allocation changes nothing", func() {
		alloc, _, _ := s.matched()
		_, err := s.service.CompleteAllocation(s.ctx, alloc.ID, s.clinician.ID)
		s.Require().NoError(err)
		before, beforeOrgan, beforeReq := s.reload(alloc)

		_, err = s.service.CompleteAllocation(s.ctx, alloc.ID, s.clinician.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)

		after, afterOrgan, afterReq := s.reload(alloc)
		s.Equal(before, after)
		s.Equal(beforeOrgan, afterOrgan)
		s.Equal(beforeReq, afterReq)
	})

	s.Run("pending allocation cannot complete", func() {
		alloc, _, _ := s.offered()
		_, err := s.service.CompleteAllocation(s.ctx, alloc.ID, s.clinician.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})
}

// =============================================================================
// Donor-initiated acceptance
// =============================================================================

func (s *ServiceSuite) TestAcceptRequest() {
	s.Run("donor acceptance creates a matched allocation", func() {
		req := s.waitingRequest(8)
		alloc, err := s.service.AcceptRequest(s.ctx, req.ID, s.donor.ID, models.ConsentPostDeath)
		s.Require().NoError(err)

		s.Equal(models.AllocationMatched, alloc.Status)
		s.Equal(s.hospital, alloc.HospitalID)
		s.Require().Len(alloc.BlockchainHistory, 2)
		s.Equal(models.AllocationPendingConfirmation, alloc.BlockchainHistory[0].Status)
		s.True(chain.Verify(alloc.ID, alloc.BlockchainHistory).Valid)

		_, organ, storedReq := s.reload(alloc)
		s.Equal(models.OrganAllocated, organ.Status)
		s.Equal(req.OrganType, organ.OrganType)
		s.Equal(s.donor.ID, organ.DonorID)
		s.Require().NotNil(organ.ConsentID)
		s.Equal(models.RequestMatched, storedReq.Status)

		notes := s.notificationsFor(s.clinician.ID)
		s.Require().NotEmpty(notes)
		s.Equal(KindDonorAccepted, notes[len(notes)-1].Kind)
	})

	s.Run("matched request cannot be accepted again", func() {
		req := s.waitingRequest(8)
		_, err := s.service.AcceptRequest(s.ctx, req.ID, s.donor.ID, models.ConsentLiving)
		s.Require().NoError(err)
		_, err = s.service.AcceptRequest(s.ctx, req.ID, s.otherDonor.ID, models.ConsentLiving)
		s.requireCode(err, dErrors.CodeInvalidState)
	})

	s.Run("clinicians cannot accept", func() {
		req := s.waitingRequest(8)
		_, err := s.service.AcceptRequest(s.ctx, req.ID, s.clinician.ID, models.ConsentLiving)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})
}
