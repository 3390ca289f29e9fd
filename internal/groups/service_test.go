package groups_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/groups"
	"github.com/Tyrowin/groupchat/internal/membership"
	"github.com/Tyrowin/groupchat/internal/store/memstore"
)

type roleAuthz struct{}

func (roleAuthz) IsAdmin(_ context.Context, p domain.Principal) (bool, error) {
	return p.IsAdmin, nil
}

type recorder struct {
	mu     sync.Mutex
	events []groups.Event
}

func (r *recorder) Publish(_ context.Context, ev groups.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []groups.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]groups.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc    *groups.Service
	repo   *memstore.Groups
	users  *memstore.Users
	events *recorder
	admin  domain.Principal
	bob    domain.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	users := memstore.NewUsers()
	a, err := users.Insert(ctx, domain.User{Username: "alice", Email: "alice@example.com", IsAdmin: true})
	require.NoError(t, err)
	b, err := users.Insert(ctx, domain.User{Username: "bob", Email: "bob@example.com"})
	require.NoError(t, err)

	repo := memstore.NewGroups()
	rec := &recorder{}
	svc := groups.NewService(membership.NewStore(repo), roleAuthz{}, zap.NewNop(),
		groups.WithEvents(rec), groups.WithUserDirectory(users))
	return &fixture{svc: svc, repo: repo, users: users, events: rec, admin: a.Principal(), bob: b.Principal()}
}

func (f *fixture) create(t *testing.T, name string, secure bool) domain.Group {
	t.Helper()
	g, err := f.svc.Create(context.Background(), f.admin, groups.CreateInput{Name: name, Description: name + " group", IsSecure: secure})
	require.NoError(t, err)
	return g
}

func (f *fixture) group(t *testing.T, id string) domain.Group {
	t.Helper()
	g, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return g
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.create(t, "Eng", true)
	assert.Equal(t, f.admin.ID, g.AdminID)
	assert.Equal(t, []string{f.admin.ID}, g.Members)
	assert.Empty(t, g.PendingRequests)
	assert.Equal(t, []groups.EventType{groups.GroupCreated}, f.events.types())

	_, err := f.svc.Create(ctx, f.bob, groups.CreateInput{Name: "x", Description: "y"})
	assert.ErrorIs(t, err, domain.ErrNotPrivileged)

	_, err = f.svc.Create(ctx, f.admin, groups.CreateInput{Name: "<b></b>", Description: "y"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.svc.Create(ctx, domain.Principal{}, groups.CreateInput{Name: "x", Description: "y"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestRequestJoin_OpenGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Open", false)

	outcome, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, groups.Joined, outcome)

	got := f.group(t, g.ID)
	assert.True(t, got.IsMember(f.bob.ID))
	assert.Empty(t, got.PendingRequests)

	_, err = f.svc.RequestJoin(ctx, g.ID, f.bob)
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	_, err = f.svc.RequestJoin(ctx, "missing", f.bob)
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestRequestJoin_SecureGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Eng", true)

	outcome, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, groups.PendingApproval, outcome)

	got := f.group(t, g.ID)
	assert.False(t, got.IsMember(f.bob.ID))
	assert.True(t, got.HasPending(f.bob.ID))
	assert.Equal(t, []string{f.admin.ID}, got.Members)

	_, err = f.svc.RequestJoin(ctx, g.ID, f.bob)
	assert.ErrorIs(t, err, domain.ErrAlreadyPending)

	assert.Equal(t, []groups.EventType{groups.GroupCreated, groups.JoinRequested}, f.events.types())
}

func TestApprove_SecondCallFailsNoSuchRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Eng", true)
	_, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)

	require.NoError(t, f.svc.Approve(ctx, g.ID, f.admin, f.bob.ID))
	assert.ErrorIs(t, f.svc.Approve(ctx, g.ID, f.admin, f.bob.ID), domain.ErrNoSuchRequest)

	got := f.group(t, g.ID)
	assert.True(t, got.IsMember(f.bob.ID))
	assert.Empty(t, got.PendingRequests)
}

func TestApprove_RoundTripMatchesOpenJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	secure := f.create(t, "Secure", true)
	open := f.create(t, "Open", false)

	_, err := f.svc.RequestJoin(ctx, secure.ID, f.bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(ctx, secure.ID, f.admin, f.bob.ID))
	_, err = f.svc.RequestJoin(ctx, open.ID, f.bob)
	require.NoError(t, err)

	s, o := f.group(t, secure.ID), f.group(t, open.ID)
	assert.Equal(t, o.Members, s.Members)
	assert.Equal(t, o.PendingRequests, s.PendingRequests)
}

func TestApproveReject_RequireGroupAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Eng", true)
	_, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)

	otherAdmin := domain.Principal{ID: "other-admin", Username: "carol", IsAdmin: true}
	assert.ErrorIs(t, f.svc.Approve(ctx, g.ID, otherAdmin, f.bob.ID), domain.ErrNotGroupAdmin)
	assert.ErrorIs(t, f.svc.Reject(ctx, g.ID, f.bob, f.bob.ID), domain.ErrNotGroupAdmin)
	_, err = f.svc.ListPending(ctx, g.ID, otherAdmin)
	assert.ErrorIs(t, err, domain.ErrNotGroupAdmin)

	assert.ErrorIs(t, f.svc.Approve(ctx, "missing", f.admin, f.bob.ID), domain.ErrGroupNotFound)
	assert.ErrorIs(t, f.svc.Reject(ctx, g.ID, f.admin, "nobody"), domain.ErrNoSuchRequest)
	assert.True(t, f.group(t, g.ID).HasPending(f.bob.ID))
}

func TestSecureScenario_RejectThenRequestAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Eng", true)

	outcome, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)
	require.Equal(t, groups.PendingApproval, outcome)

	pending, err := f.svc.ListPending(ctx, g.ID, f.admin)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f.bob.ID, pending[0].User.ID)
	assert.Equal(t, "bob", pending[0].User.Username)
	assert.Equal(t, "bob@example.com", pending[0].User.Email)

	require.NoError(t, f.svc.Reject(ctx, g.ID, f.admin, f.bob.ID))
	got := f.group(t, g.ID)
	assert.False(t, got.IsMember(f.bob.ID))
	assert.False(t, got.HasPending(f.bob.ID))

	outcome, err = f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, groups.PendingApproval, outcome)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	rejected := f.events.events[2]
	assert.Equal(t, groups.RequestRejected, rejected.Type)
	assert.Equal(t, "bob", rejected.Subject.Username)
	assert.Equal(t, f.admin.ID, rejected.Actor.ID)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Open", false)

	assert.ErrorIs(t, f.svc.Leave(ctx, g.ID, f.bob), domain.ErrNotAMember)

	_, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.Leave(ctx, g.ID, f.bob))
	assert.False(t, f.group(t, g.ID).IsMember(f.bob.ID))

	assert.ErrorIs(t, f.svc.Leave(ctx, g.ID, f.admin), domain.ErrAdminCannotLeave)
	assert.ErrorIs(t, f.svc.Leave(ctx, "missing", f.bob), domain.ErrGroupNotFound)

	assert.Equal(t, []groups.EventType{groups.GroupCreated, groups.MemberJoined, groups.MemberLeft}, f.events.types())
}

func TestNoEventOnFailedMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Eng", true)

	_, err := f.svc.RequestJoin(ctx, g.ID, f.admin)
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
	assert.ErrorIs(t, f.svc.Approve(ctx, g.ID, f.admin, f.bob.ID), domain.ErrNoSuchRequest)
	assert.ErrorIs(t, f.svc.Leave(ctx, g.ID, f.bob), domain.ErrNotAMember)
	assert.ErrorIs(t, f.svc.Leave(ctx, g.ID, f.admin), domain.ErrAdminCannotLeave)

	assert.Equal(t, []groups.EventType{groups.GroupCreated}, f.events.types())
}

func TestApprove_ConcurrentCallsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		g := f.create(t, "Eng", true)
		_, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := f.svc.Approve(ctx, g.ID, f.admin, f.bob.ID); err == nil {
					succeeded.Add(1)
				} else {
					assert.ErrorIs(t, err, domain.ErrNoSuchRequest)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), succeeded.Load(), "round %d", round)
		got := f.group(t, g.ID)
		assert.True(t, got.IsMember(f.bob.ID))
		assert.False(t, got.HasPending(f.bob.ID))
		require.NoError(t, got.Validate())
	}
}

func TestAdminPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.create(t, "Eng", true)
	f.create(t, "Open", false)
	ops := f.create(t, "Ops", true)

	_, err := f.svc.RequestJoin(ctx, eng.ID, f.bob)
	require.NoError(t, err)

	views, err := f.svc.AdminPending(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, eng.ID, views[0].GroupID)
	require.Len(t, views[0].PendingMembers, 1)
	assert.Equal(t, "bob", views[0].PendingMembers[0].User.Username)
	assert.Equal(t, ops.ID, views[1].GroupID)
	assert.Empty(t, views[1].PendingMembers)
}

func TestViews_PopulatesUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.create(t, "Eng", true)
	_, err := f.svc.RequestJoin(ctx, g.ID, f.bob)
	require.NoError(t, err)

	views, err := f.svc.Views(ctx, f.group(t, g.ID))
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "alice", v.Admin.Username)
	require.Len(t, v.Members, 1)
	assert.Equal(t, "alice@example.com", v.Members[0].Email)
	require.Len(t, v.PendingRequests, 1)
	assert.Equal(t, "bob", v.PendingRequests[0].User.Username)
}
