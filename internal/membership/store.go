// Package membership implements the group membership store: atomic per-group
// mutations over a durable Repository, with the group invariants re-checked
// inside every mutation.
package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// MutateFunc edits a private copy of a group. Returning an error aborts the
// mutation and leaves the stored group untouched.
type MutateFunc func(g *domain.Group) error

// Repository is the durable group collection.
//
// Mutate must be linearizable per group id: fn observes the latest committed
// state and its result is committed only if no other mutation of the same
// group committed in between. Implementations either hold a per-group lock
// around fn or retry fn on an optimistic version conflict.
type Repository interface {
	Insert(ctx context.Context, g domain.Group) (domain.Group, error)
	FindByID(ctx context.Context, id string) (domain.Group, error)
	FindAll(ctx context.Context) ([]domain.Group, error)
	FindSecureByAdmin(ctx context.Context, adminID string) ([]domain.Group, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (domain.Group, error)
}

// Store exposes the membership operations of a group. Each call validates
// the invariants on the freshest state immediately before committing.
type Store struct {
	repo Repository
	now  func() time.Time
}

// NewStore wraps repo.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Repository returns the underlying repository for read paths.
func (s *Store) Repository() Repository {
	return s.repo
}

// AddMember adds userID to the group's members.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) (domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) error {
		return g.AddMember(userID)
	})
}

// RemoveMember removes userID from the group's members.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) (domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) error {
		return g.RemoveMember(userID)
	})
}

// AddPending records a join request from userID.
func (s *Store) AddPending(ctx context.Context, groupID, userID string) (domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) error {
		return g.AddPending(userID, s.now())
	})
}

// ResolvePending approves or rejects userID's request. A second resolution of
// the same request fails with domain.ErrNoSuchRequest.
func (s *Store) ResolvePending(ctx context.Context, groupID, userID string, outcome domain.Outcome) (domain.Group, domain.PendingRequest, error) {
	var resolved domain.PendingRequest
	g, err := s.mutate(ctx, groupID, func(g *domain.Group) error {
		req, err := g.ResolvePending(userID, outcome)
		if err != nil {
			return err
		}
		resolved = req
		return nil
	})
	if err != nil {
		return domain.Group{}, domain.PendingRequest{}, err
	}
	return g, resolved, nil
}

// mutate applies fn and refuses to commit a state that breaks an invariant.
func (s *Store) mutate(ctx context.Context, groupID string, fn MutateFunc) (domain.Group, error) {
	return s.repo.Mutate(ctx, groupID, func(g *domain.Group) error {
		if err := fn(g); err != nil {
			return err
		}
		if err := g.Validate(); err != nil {
			return fmt.Errorf("membership invariant: %w", err)
		}
		g.UpdatedAt = s.now()
		return nil
	})
}
