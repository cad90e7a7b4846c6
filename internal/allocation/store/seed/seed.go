// Package seed creates the fixed demo directory used by local development.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
)

type UserSaver interface {
	SaveUser(ctx context.Context, u *models.User) error
}

// Stable ids so tokens minted for one run keep working after a restart.
var (
	DemoHospital  = id.HospitalID(uuid.MustParse("6f1c9a52-3a6e-4c38-9a0b-1d4e6c2f0a01"))
	DemoDonor     = id.UserID(uuid.MustParse("0b8f5a7e-2c1d-4f5e-8a9b-3c2d1e0f4a01"))
	DemoClinician = id.UserID(uuid.MustParse("0b8f5a7e-2c1d-4f5e-8a9b-3c2d1e0f4a02"))
	DemoAdmin     = id.UserID(uuid.MustParse("0b8f5a7e-2c1d-4f5e-8a9b-3c2d1e0f4a03"))
)

// DemoUsers returns a donor, a clinician and an admin around one hospital.
func DemoUsers(now time.Time) []*models.User {
	hospital := DemoHospital
	return []*models.User{
		{
			ID:        DemoDonor,
			Name:      "Demo Donor",
			Role:      models.RoleDonor,
			Location:  &models.Location{Lat: 52.5200, Lng: 13.4050},
			Address:   "Alexanderplatz 1, Berlin",
			CreatedAt: now,
		},
		{
			ID:         DemoClinician,
			Name:       "Demo Clinician",
			Role:       models.RoleClinician,
			HospitalID: &hospital,
			Location:   &models.Location{Lat: 52.5256, Lng: 13.3766},
			Address:    "Charitéplatz 1, Berlin",
			CreatedAt:  now,
		},
		{
			ID:         DemoAdmin,
			Name:       "Demo Admin",
			Role:       models.RoleAdmin,
			HospitalID: &hospital,
			CreatedAt:  now,
		},
	}
}

// Demo saves the demo users. Users that already exist are left untouched.
func Demo(ctx context.Context, store UserSaver, now time.Time) ([]*models.User, error) {
	users := DemoUsers(now)
	for _, u := range users {
		if finder, ok := store.(interface {
			FindUser(ctx context.Context, userID id.UserID) (*models.User, error)
		}); ok {
			if _, err := finder.FindUser(ctx, u.ID); err == nil {
				continue
			}
		}
		if err := store.SaveUser(ctx, u); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.Name, err)
		}
	}
	return users, nil
}
