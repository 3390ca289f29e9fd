package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/store/memstore"
)

func newTestService(t *testing.T) (*Service, *memstore.Users) {
	t.Helper()
	users := memstore.NewUsers()
	svc := NewService(users, NewTokens("test-secret", time.Hour), zap.NewNop())
	svc.cost = bcrypt.MinCost
	return svc, users
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "  Bob@Example.com ", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", u.Email)
	assert.NotEqual(t, "hunter22", u.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Username: "bob2", Email: "bob@example.com", Password: "x"})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	sess, err := svc.Login(ctx, "BOB@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.User.ID)
	assert.NotEmpty(t, sess.Token)

	_, err = svc.Login(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestRegister_RequiresFields(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@b.c", Password: "x"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestAuthenticate(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, users.SetAdmin(ctx, u.ID, true))

	tok, err := svc.tokens.Issue(u.ID)
	require.NoError(t, err)

	p, err := svc.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, domain.Principal{ID: u.ID, Username: "alice", IsAdmin: true}, p)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrTokenMissing)
	_, err = svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	ghost, err := svc.tokens.Issue("ghost")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, ghost)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokens_Expiry(t *testing.T) {
	tokens := NewTokens("s", time.Minute)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }
	tok, err := tokens.Issue("u1")
	require.NoError(t, err)

	sub, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	tokens.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = tokens.Verify(tok)
	assert.Error(t, err)

	other := NewTokens("different", time.Minute)
	other.now = func() time.Time { return issued }
	_, err = other.Verify(tok)
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	admin, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, users.SetAdmin(ctx, admin.ID, true))
	plain, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "bob@example.com", Password: "pw"})
	require.NoError(t, err)

	var failed error
	fail := func(w http.ResponseWriter, _ *http.Request, err error) {
		failed = err
		w.WriteHeader(http.StatusTeapot)
	}
	var seen domain.Principal
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := RequireUser(svc, fail)(RequireAdmin(fail)(final))

	do := func(userID string) int {
		failed = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if userID != "" {
			tok, err := svc.tokens.Issue(userID)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusTeapot, do(""))
	assert.ErrorIs(t, failed, ErrTokenMissing)

	assert.Equal(t, http.StatusTeapot, do(plain.ID))
	assert.ErrorIs(t, failed, domain.ErrNotPrivileged)

	assert.Equal(t, http.StatusOK, do(admin.ID))
	assert.Equal(t, admin.ID, seen.ID)
}

func TestRoleAuthorizer(t *testing.T) {
	ok, err := RoleAuthorizer{}.IsAdmin(context.Background(), domain.Principal{ID: "a", IsAdmin: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = RoleAuthorizer{}.IsAdmin(context.Background(), domain.Principal{IsAdmin: true})
	assert.False(t, ok)
}

func TestPromoteAdmins(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Username: "carol", Email: "carol@example.com", Password: "pw"})
	require.NoError(t, err)

	err = PromoteAdmins(ctx, users, []string{" CAROL@example.com", "", "ghost@example.com"}, zap.NewNop())
	require.NoError(t, err)

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	// Running again is a no-op.
	require.NoError(t, PromoteAdmins(ctx, users, []string{"carol@example.com"}, zap.NewNop()))
}
