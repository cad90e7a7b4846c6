// Package memory is the in-process entity store. Writes inside RunInTx are
// staged and committed together under one lock after every revision check
// passes, so a transaction either applies completely or not at all.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
)

type InMemory struct {
	mu          sync.RWMutex
	organs      map[id.OrganID]*models.Organ
	requests    map[id.RequestID]*models.Request
	allocations map[id.AllocationID]*models.Allocation
	consents    map[id.ConsentID]*models.Consent
	users       map[id.UserID]*models.User
}

func NewInMemory() *InMemory {
	return &InMemory{
		organs:      make(map[id.OrganID]*models.Organ),
		requests:    make(map[id.RequestID]*models.Request),
		allocations: make(map[id.AllocationID]*models.Allocation),
		consents:    make(map[id.ConsentID]*models.Consent),
		users:       make(map[id.UserID]*models.User),
	}
}

// op is one staged write: check runs against committed state under the write
// lock, apply runs only if every check in the transaction passed.
type op struct {
	check func() error
	apply func()
}

type pending struct {
	ops []op
}

type txKey struct{}

func saveOp[K comparable, T any](rows map[K]T, key K, entity T, revOf func(T) *int64, clone func(T) T) op {
	expected := *revOf(entity)
	return op{
		check: func() error {
			current, exists := rows[key]
			switch {
			case expected == 0 && exists:
				return fmt.Errorf("insert %v: %w", key, sentinel.ErrConflict)
			case expected == 0:
				return nil
			case !exists:
				return fmt.Errorf("update %v: %w", key, sentinel.ErrNotFound)
			case *revOf(current) != expected:
				return fmt.Errorf("update %v: revision %d is stale: %w", key, expected, sentinel.ErrConflict)
			}
			return nil
		},
		apply: func() {
			*revOf(entity) = expected + 1
			rows[key] = clone(entity)
		},
	}
}

// RunInTx stages every Save made with the context passed to fn and commits
// them atomically when fn returns nil. Nested calls join the outer transaction.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(txKey{}).(*pending); nested {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := &pending{}
	if err := fn(context.WithValue(ctx, txKey{}, p)); err != nil {
		return err
	}
	// an abandoned caller commits nothing
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(p.ops...)
}

func (s *InMemory) commit(ops ...op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range ops {
		if err := o.check(); err != nil {
			return err
		}
	}
	for _, o := range ops {
		o.apply()
	}
	return nil
}

func (s *InMemory) write(ctx context.Context, o op) error {
	if p, ok := ctx.Value(txKey{}).(*pending); ok {
		p.ops = append(p.ops, o)
		return nil
	}
	return s.commit(o)
}

func organRev(o *models.Organ) *int64           { return &o.Revision }
func requestRev(r *models.Request) *int64       { return &r.Revision }
func allocationRev(a *models.Allocation) *int64 { return &a.Revision }
func consentRev(c *models.Consent) *int64       { return &c.Revision }
func userRev(u *models.User) *int64             { return &u.Revision }

func (s *InMemory) SaveOrgan(ctx context.Context, o *models.Organ) error {
	return s.write(ctx, saveOp(s.organs, o.ID, o, organRev, (*models.Organ).Clone))
}

func (s *InMemory) SaveRequest(ctx context.Context, r *models.Request) error {
	return s.write(ctx, saveOp(s.requests, r.ID, r, requestRev, (*models.Request).Clone))
}

func (s *InMemory) SaveAllocation(ctx context.Context, a *models.Allocation) error {
	return s.write(ctx, saveOp(s.allocations, a.ID, a, allocationRev, (*models.Allocation).Clone))
}

func (s *InMemory) SaveConsent(ctx context.Context, c *models.Consent) error {
	return s.write(ctx, saveOp(s.consents, c.ID, c, consentRev, (*models.Consent).Clone))
}

func (s *InMemory) SaveUser(ctx context.Context, u *models.User) error {
	return s.write(ctx, saveOp(s.users, u.ID, u, userRev, (*models.User).Clone))
}

func find[K comparable, T any](s *InMemory, rows map[K]T, key K, clone func(T) T) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := rows[key]
	if !ok {
		var zero T
		return zero, sentinel.ErrNotFound
	}
	return clone(v), nil
}

func (s *InMemory) FindOrgan(_ context.Context, organID id.OrganID) (*models.Organ, error) {
	return find(s, s.organs, organID, (*models.Organ).Clone)
}

func (s *InMemory) FindRequest(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	return find(s, s.requests, requestID, (*models.Request).Clone)
}

func (s *InMemory) FindAllocation(_ context.Context, allocationID id.AllocationID) (*models.Allocation, error) {
	return find(s, s.allocations, allocationID, (*models.Allocation).Clone)
}

func (s *InMemory) FindConsent(_ context.Context, consentID id.ConsentID) (*models.Consent, error) {
	return find(s, s.consents, consentID, (*models.Consent).Clone)
}

func (s *InMemory) FindUser(_ context.Context, userID id.UserID) (*models.User, error) {
	return find(s, s.users, userID, (*models.User).Clone)
}

// ListOrgans returns matching organs, newest first.
func (s *InMemory) ListOrgans(_ context.Context, f models.OrganFilter) ([]*models.Organ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Organ
	for _, o := range s.organs {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
			continue
		}
		if f.OrganType != "" && o.OrganType != f.OrganType {
			continue
		}
		if f.BloodGroup != "" && o.BloodGroup != f.BloodGroup {
			continue
		}
		if f.DonorID != nil && o.DonorID != *f.DonorID {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListRequests returns matching requests, most urgent first, then oldest first.
func (s *InMemory) ListRequests(_ context.Context, f models.RequestFilter) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Request
	for _, r := range s.requests {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		if f.OrganType != "" && r.OrganType != f.OrganType {
			continue
		}
		if f.BloodGroup != "" && r.BloodGroup != f.BloodGroup {
			continue
		}
		if f.HospitalID != nil && r.HospitalID != *f.HospitalID {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UrgencyScore != out[j].UrgencyScore {
			return out[i].UrgencyScore > out[j].UrgencyScore
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListAllocations returns matching allocations, newest first.
func (s *InMemory) ListAllocations(_ context.Context, f models.AllocationFilter) ([]*models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Allocation
	for _, a := range s.allocations {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
			continue
		}
		if f.HospitalID != nil && a.HospitalID != *f.HospitalID {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
