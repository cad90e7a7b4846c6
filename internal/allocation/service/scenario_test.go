package service_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/service"
	"organlink/internal/allocation/store/memory"
	"organlink/internal/anchor"
	"organlink/internal/distance"
	"organlink/internal/notify"
	id "organlink/pkg/domain"
	"organlink/pkg/testutil"
)

// TestTransplantScenario drives one organ from donation to transplant with
// the local adapters the server uses in development.
func TestTransplantScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemory()
	sent := notify.NewMemory()
	ledger, err := anchor.OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	svc := service.New(store,
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithNotifier(sent),
		service.WithAuditSink(ledger, 0),
		service.WithDistanceProvider(distance.Haversine{}),
	)

	hospital := id.HospitalID(uuid.New())
	donor := &models.User{ID: id.UserID(uuid.New()), Name: "donor", Role: models.RoleDonor, Location: &models.Location{Lat: 48.137, Lng: 11.575}}
	clinician := &models.User{ID: id.UserID(uuid.New()), Name: "clinician", Role: models.RoleClinician, HospitalID: &hospital, Location: &models.Location{Lat: 52.52, Lng: 13.405}}
	require.NoError(t, store.SaveUser(ctx, donor))
	require.NoError(t, store.SaveUser(ctx, clinician))

	testutil.Given(t, "a consented liver and a waiting request at a Berlin hospital", func(t *testing.T) {
		organ, err := svc.RegisterDonation(ctx, donor.ID, id.OrganLiver, id.BloodGroupANeg, nil)
		require.NoError(t, err)
		_, err = svc.ConfirmDonation(ctx, organ.ID, donor.ID, models.ConsentPostDeath)
		require.NoError(t, err)
		req, err := svc.SubmitRequest(ctx, clinician.ID, id.OrganLiver, id.BloodGroupANeg, 9, "fulminant failure")
		require.NoError(t, err)

		testutil.When(t, "the clinician lists candidates", func(t *testing.T) {
			candidates, err := svc.ListCandidatesFor(ctx, clinician.ID, models.CandidateCriteria{
				OrganType:    id.OrganLiver,
				BloodGroup:   id.BloodGroupANeg,
				UrgencyScore: 9,
			})
			require.NoError(t, err)

			testutil.Then(t, "the Munich organ is scored with a road estimate", func(t *testing.T) {
				require.Len(t, candidates, 1)
				require.NotNil(t, candidates[0].DistanceKm)
				assert.InDelta(t, 504, *candidates[0].DistanceKm, 5)
				assert.Positive(t, candidates[0].MatchScore)
			})
		})

		testutil.When(t, "the organ is offered, confirmed and transplanted", func(t *testing.T) {
			rid := req.ID
			alloc, err := svc.OfferOrgan(ctx, organ.ID, &rid, clinician.ID)
			require.NoError(t, err)
			_, err = svc.DonorConfirm(ctx, alloc.ID, donor.ID)
			require.NoError(t, err)
			done, err := svc.CompleteAllocation(ctx, alloc.ID, clinician.ID)
			require.NoError(t, err)

			testutil.Then(t, "every audit entry is chained and anchored", func(t *testing.T) {
				require.Len(t, done.BlockchainHistory, 3)
				for _, entry := range done.BlockchainHistory {
					assert.True(t, strings.HasPrefix(entry.ExternalTxRef, "ldb:"), entry.ExternalTxRef)
					_, err := ledger.Lookup(ctx, entry.Hash)
					assert.NoError(t, err)
				}
				report, err := svc.VerifyAllocation(ctx, alloc.ID)
				require.NoError(t, err)
				assert.True(t, report.Valid)
			})

			testutil.Then(t, "organ and request are closed out", func(t *testing.T) {
				o, err := store.FindOrgan(ctx, organ.ID)
				require.NoError(t, err)
				assert.Equal(t, models.OrganTransplanted, o.Status)
				r, err := store.FindRequest(ctx, req.ID)
				require.NoError(t, err)
				assert.Equal(t, models.RequestTransplanted, r.Status)

				findings, err := svc.CheckConsistency(ctx, nil)
				require.NoError(t, err)
				assert.Empty(t, findings)
			})

			testutil.Then(t, "the donor heard about each step", func(t *testing.T) {
				var kinds []string
				for _, n := range sent.Sent() {
					if n.UserID == donor.ID {
						kinds = append(kinds, n.Kind)
					}
				}
				assert.Contains(t, kinds, service.KindAllocationDone)
			})
		})
	})
}
