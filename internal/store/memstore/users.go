package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// Users is an in-memory user collection with a unique email index.
type Users struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewUsers returns an empty user collection.
func NewUsers() *Users {
	return &Users{
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]string),
	}
}

// Insert stores u under a fresh id. A taken email yields domain.ErrUserExists.
func (s *Users) Insert(_ context.Context, u domain.User) (domain.User, error) {
	key := strings.ToLower(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[key]; taken {
		return domain.User{}, domain.ErrUserExists
	}
	now := time.Now().UTC()
	u.ID = uuid.NewString()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.byID[u.ID] = u
	s.byEmail[key] = u.ID
	return u, nil
}

// FindByID returns domain.ErrNotFound for an unknown id.
func (s *Users) FindByID(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

// FindByEmail looks a user up by (case-insensitive) email.
func (s *Users) FindByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

// FindByIDs returns the known users among ids keyed by id. Unknown ids are skipped.
func (s *Users) FindByIDs(_ context.Context, ids []string) (map[string]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if u, ok := s.byID[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// SetAdmin flips the admin flag on a user. Used to seed administrators.
func (s *Users) SetAdmin(_ context.Context, id string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.IsAdmin = isAdmin
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	return nil
}
