package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// AdminStore finds accounts by email and flips their admin flag.
type AdminStore interface {
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
}

// PromoteAdmins marks the accounts registered under emails as administrators.
// Emails with no account yet are skipped; they take effect on a later start.
func PromoteAdmins(ctx context.Context, users AdminStore, emails []string, logger *zap.Logger) error {
	for _, email := range emails {
		email = normalizeEmail(email)
		if email == "" {
			continue
		}
		u, err := users.FindByEmail(ctx, email)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("admin account not registered yet", zap.String("email", email))
			continue
		}
		if err != nil {
			return fmt.Errorf("promote %s: %w", email, err)
		}
		if u.IsAdmin {
			continue
		}
		if err := users.SetAdmin(ctx, u.ID, true); err != nil {
			return fmt.Errorf("promote %s: %w", email, err)
		}
		logger.Info("promoted administrator", zap.String("user_id", u.ID))
	}
	return nil
}
