// Package groups implements the group service: creating groups and driving
// the open/secure membership state machine on top of the membership store.
package groups

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/membership"
	"github.com/Tyrowin/groupchat/internal/sanitize"
)

// JoinOutcome is the result of a successful join request.
type JoinOutcome string

const (
	// Joined means the caller is now a member.
	Joined JoinOutcome = "joined"
	// PendingApproval means the request waits for the group admin.
	PendingApproval JoinOutcome = "pending"
)

// Authorizer answers the elevated-privilege capability check.
type Authorizer interface {
	IsAdmin(ctx context.Context, p domain.Principal) (bool, error)
}

// UserDirectory resolves user ids for populated responses and events.
type UserDirectory interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.User, error)
}

// CreateInput carries the fields of a new group.
type CreateInput struct {
	Name        string
	Description string
	IsSecure    bool
}

// Service is safe for concurrent use; consistency per group comes from the
// membership store.
type Service struct {
	store  *membership.Store
	repo   membership.Repository
	authz  Authorizer
	users  UserDirectory
	events EventSink
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithEvents sets the sink that receives domain events.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithUserDirectory sets the directory used to populate user summaries.
func WithUserDirectory(users UserDirectory) Option {
	return func(s *Service) { s.users = users }
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service over store. authz gates group creation.
func NewService(store *membership.Store, authz Authorizer, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		repo:   store.Repository(),
		authz:  authz,
		events: discardSink{},
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create makes a new group owned by creator, who must hold elevated privilege.
func (s *Service) Create(ctx context.Context, creator domain.Principal, in CreateInput) (domain.Group, error) {
	if creator.Anonymous() {
		return domain.Group{}, domain.ErrUnauthenticated
	}
	ok, err := s.authz.IsAdmin(ctx, creator)
	if err != nil {
		return domain.Group{}, fmt.Errorf("authorize create group: %w", err)
	}
	if !ok {
		return domain.Group{}, domain.ErrNotPrivileged
	}

	name := sanitize.Text(in.Name)
	desc := sanitize.Text(in.Description)
	if name == "" {
		return domain.Group{}, domain.Validation("Group name is required")
	}
	if desc == "" {
		return domain.Group{}, domain.Validation("Group description is required")
	}

	g, err := s.repo.Insert(ctx, domain.NewGroup(creator.ID, name, desc, in.IsSecure))
	if err != nil {
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}

	s.logger.Info("group created",
		zap.String("group_id", g.ID),
		zap.String("admin_id", creator.ID),
		zap.Bool("secure", g.IsSecure))
	s.emit(ctx, GroupCreated, g, creator, summaryOf(creator))
	return g, nil
}

// Get returns one group.
func (s *Service) Get(ctx context.Context, groupID string) (domain.Group, error) {
	return s.repo.FindByID(ctx, groupID)
}

// List returns every group.
func (s *Service) List(ctx context.Context) ([]domain.Group, error) {
	return s.repo.FindAll(ctx)
}

// RequestJoin adds the caller to an open group or queues a request on a
// secure one.
func (s *Service) RequestJoin(ctx context.Context, groupID string, p domain.Principal) (JoinOutcome, error) {
	if p.Anonymous() {
		return "", domain.ErrUnauthenticated
	}
	g, err := s.repo.FindByID(ctx, groupID)
	if err != nil {
		return "", err
	}

	if !g.IsSecure {
		g, err = s.store.AddMember(ctx, groupID, p.ID)
		if err != nil {
			return "", err
		}
		s.logger.Info("member joined", zap.String("group_id", groupID), zap.String("user_id", p.ID))
		s.emit(ctx, MemberJoined, g, p, summaryOf(p))
		return Joined, nil
	}

	g, err = s.store.AddPending(ctx, groupID, p.ID)
	if err != nil {
		return "", err
	}
	s.logger.Info("join requested", zap.String("group_id", groupID), zap.String("user_id", p.ID))
	s.emit(ctx, JoinRequested, g, p, summaryOf(p))
	return PendingApproval, nil
}

// Leave removes the caller from the group. The admin may not leave.
func (s *Service) Leave(ctx context.Context, groupID string, p domain.Principal) error {
	if p.Anonymous() {
		return domain.ErrUnauthenticated
	}
	g, err := s.store.RemoveMember(ctx, groupID, p.ID)
	if err != nil {
		return err
	}
	s.logger.Info("member left", zap.String("group_id", groupID), zap.String("user_id", p.ID))
	s.emit(ctx, MemberLeft, g, p, summaryOf(p))
	return nil
}

// ListPending returns the open requests of a group to its admin.
func (s *Service) ListPending(ctx context.Context, groupID string, requester domain.Principal) ([]PendingView, error) {
	g, err := s.repo.FindByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(requester.ID) {
		return nil, domain.ErrNotGroupAdmin
	}
	dir, err := s.directory(ctx, pendingIDs(g))
	if err != nil {
		return nil, err
	}
	return pendingViews(g, dir), nil
}

// Approve moves targetUserID from pending into members.
func (s *Service) Approve(ctx context.Context, groupID string, requester domain.Principal, targetUserID string) error {
	return s.resolve(ctx, groupID, requester, targetUserID, domain.Approve)
}

// Reject discards targetUserID's pending request.
func (s *Service) Reject(ctx context.Context, groupID string, requester domain.Principal, targetUserID string) error {
	return s.resolve(ctx, groupID, requester, targetUserID, domain.Reject)
}

func (s *Service) resolve(ctx context.Context, groupID string, requester domain.Principal, target string, outcome domain.Outcome) error {
	g, err := s.repo.FindByID(ctx, groupID)
	if err != nil {
		return err
	}
	// AdminID never changes after creation, so checking it outside the
	// mutation cannot race.
	if !g.IsAdmin(requester.ID) {
		return domain.ErrNotGroupAdmin
	}

	g, _, err = s.store.ResolvePending(ctx, groupID, target, outcome)
	if err != nil {
		return err
	}

	subject := domain.UserSummary{ID: target}
	if dir, derr := s.directory(ctx, []string{target}); derr == nil {
		if u, ok := dir[target]; ok {
			subject = u.Summary()
		}
	}

	s.logger.Info("join request resolved",
		zap.String("group_id", groupID),
		zap.String("user_id", target),
		zap.Stringer("outcome", outcome))

	ev := RequestApproved
	if outcome == domain.Reject {
		ev = RequestRejected
	}
	s.emit(ctx, ev, g, requester, subject)
	return nil
}

// AdminPending lists, for every secure group the requester administers, the
// pending requests with populated users.
func (s *Service) AdminPending(ctx context.Context, requester domain.Principal) ([]AdminPendingView, error) {
	gs, err := s.repo.FindSecureByAdmin(ctx, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("list administered groups: %w", err)
	}
	var ids []string
	for _, g := range gs {
		ids = append(ids, pendingIDs(g)...)
	}
	dir, err := s.directory(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]AdminPendingView, 0, len(gs))
	for _, g := range gs {
		out = append(out, AdminPendingView{
			GroupID:        g.ID,
			GroupName:      g.Name,
			PendingMembers: pendingViews(g, dir),
		})
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, t EventType, g domain.Group, actor domain.Principal, subject domain.UserSummary) {
	s.events.Publish(ctx, Event{
		Type:    t,
		Group:   g,
		Actor:   actor,
		Subject: subject,
		At:      s.now(),
	})
}

func (s *Service) directory(ctx context.Context, ids []string) (map[string]domain.User, error) {
	if s.users == nil || len(ids) == 0 {
		return map[string]domain.User{}, nil
	}
	dir, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	return dir, nil
}

func summaryOf(p domain.Principal) domain.UserSummary {
	return domain.UserSummary{ID: p.ID, Username: p.Username}
}

func pendingIDs(g domain.Group) []string {
	ids := make([]string, 0, len(g.PendingRequests))
	for _, p := range g.PendingRequests {
		ids = append(ids, p.UserID)
	}
	return ids
}
