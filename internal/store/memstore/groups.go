// Package memstore keeps users, groups and messages in process memory. It is
// the default backing store when no MongoDB URI is configured and the store
// used by the test suites.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/membership"
)

// Groups is an in-memory membership.Repository. Mutations of one group are
// serialized by a per-group mutex; different groups mutate in parallel.
type Groups struct {
	mu     sync.RWMutex
	groups map[string]domain.Group
	order  []string
	locks  map[string]*sync.Mutex
}

var _ membership.Repository = (*Groups)(nil)

// NewGroups returns an empty group collection.
func NewGroups() *Groups {
	return &Groups{
		groups: make(map[string]domain.Group),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Insert stores g under a fresh id.
func (s *Groups) Insert(_ context.Context, g domain.Group) (domain.Group, error) {
	now := time.Now().UTC()
	g = g.Clone()
	g.ID = uuid.NewString()
	g.Version = 1
	g.CreatedAt = now
	g.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	s.locks[g.ID] = &sync.Mutex{}
	s.order = append(s.order, g.ID)
	return g.Clone(), nil
}

// FindByID returns domain.ErrGroupNotFound for an unknown id.
func (s *Groups) FindByID(_ context.Context, id string) (domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	return g.Clone(), nil
}

// FindAll returns every group in creation order.
func (s *Groups) FindAll(_ context.Context) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Group, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.groups[id].Clone())
	}
	return out, nil
}

// FindSecureByAdmin returns the secure groups administered by adminID.
func (s *Groups) FindSecureByAdmin(_ context.Context, adminID string) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Group
	for _, id := range s.order {
		g := s.groups[id]
		if g.IsSecure && g.AdminID == adminID {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

// Mutate runs fn on a copy of the group while holding that group's lock and
// commits the copy when fn succeeds.
func (s *Groups) Mutate(ctx context.Context, id string, fn membership.MutateFunc) (domain.Group, error) {
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Group{}, domain.ErrGroupNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Group{}, err
	}

	s.mu.RLock()
	working := s.groups[id].Clone()
	s.mu.RUnlock()

	if err := fn(&working); err != nil {
		return domain.Group{}, err
	}
	working.ID = id
	working.Version++

	s.mu.Lock()
	s.groups[id] = working
	s.mu.Unlock()
	return working.Clone(), nil
}
