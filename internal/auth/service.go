// Package auth owns credentials: bcrypt password hashes, bearer tokens and
// the HTTP middleware that turns a token into a domain.Principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/sanitize"
)

// PasswordCost is the bcrypt work factor for new hashes.
const PasswordCost = 10

// Token failures, with the messages the REST clients already display.
var (
	ErrTokenMissing = &domain.Error{Kind: domain.KindUnauthenticated, Code: "token_missing", Message: "Not authorized, token not found"}
	ErrTokenInvalid = &domain.Error{Kind: domain.KindUnauthenticated, Code: "token_invalid", Message: "Not authorized, token failed"}
)

// UserRepository is the slice of the user store auth needs.
type UserRepository interface {
	Insert(ctx context.Context, u domain.User) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
}

// RegisterInput carries a new account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Session is a logged in user and their bearer token.
type Session struct {
	User  domain.User
	Token string
}

// Service registers users, checks passwords and resolves tokens.
type Service struct {
	users  UserRepository
	tokens *Tokens
	cost   int
	logger *zap.Logger
}

// NewService returns an auth service over users.
func NewService(users UserRepository, tokens *Tokens, logger *zap.Logger) *Service {
	return &Service{users: users, tokens: tokens, cost: PasswordCost, logger: logger}
}

// Register creates an account. Emails are compared case-insensitively.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	username := sanitize.Text(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" || email == "" || in.Password == "" {
		return domain.User{}, domain.Validation("Username, email and password are required")
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return domain.User{}, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Insert(ctx, domain.User{Username: username, Email: email, PasswordHash: string(hash)})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID))
	return u, nil
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, domain.ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Session{}, domain.ErrInvalidCredentials
	}
	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: tok}, nil
}

// Authenticate resolves a bearer token to a principal. The user record is
// re-read so role changes apply without a new token.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, ErrTokenMissing
	}
	sub, err := s.tokens.Verify(token)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		return domain.Principal{}, ErrTokenInvalid
	}
	u, err := s.users.FindByID(ctx, sub)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, ErrTokenInvalid
		}
		return domain.Principal{}, fmt.Errorf("load principal: %w", err)
	}
	return u.Principal(), nil
}

// RoleAuthorizer grants elevated privilege from the principal's role flag.
type RoleAuthorizer struct{}

// IsAdmin reports p.IsAdmin.
func (RoleAuthorizer) IsAdmin(_ context.Context, p domain.Principal) (bool, error) {
	return !p.Anonymous() && p.IsAdmin, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
