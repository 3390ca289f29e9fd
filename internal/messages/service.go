// Package messages persists chat messages for group members.
package messages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/sanitize"
)

// MaxContentLength bounds a stored message body in bytes.
const MaxContentLength = 4000

// Repository is the durable message log.
type Repository interface {
	Insert(ctx context.Context, m domain.Message) (domain.Message, error)
	ListByGroup(ctx context.Context, groupID string) ([]domain.Message, error)
}

// GroupFinder loads groups for membership checks.
type GroupFinder interface {
	FindByID(ctx context.Context, id string) (domain.Group, error)
}

// UserDirectory resolves senders.
type UserDirectory interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.User, error)
}

// Service stores and lists messages.
type Service struct {
	repo   Repository
	groups GroupFinder
	users  UserDirectory
	logger *zap.Logger
}

// NewService returns a message service.
func NewService(repo Repository, groups GroupFinder, users UserDirectory, logger *zap.Logger) *Service {
	return &Service{repo: repo, groups: groups, users: users, logger: logger}
}

// Post stores a text message from sender in groupID.
func (s *Service) Post(ctx context.Context, sender domain.Principal, groupID, content string) (domain.Message, error) {
	if sender.Anonymous() {
		return domain.Message{}, domain.ErrUnauthenticated
	}
	body := sanitize.Text(content)
	if body == "" {
		return domain.Message{}, domain.Validation("Message content is required")
	}
	if len(body) > MaxContentLength {
		return domain.Message{}, domain.Validation("Message content is too long")
	}
	if err := s.requireMember(ctx, groupID, sender.ID); err != nil {
		return domain.Message{}, err
	}

	m, err := s.repo.Insert(ctx, domain.Message{
		GroupID:  groupID,
		SenderID: sender.ID,
		Content:  body,
		Type:     domain.MessageText,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("store message: %w", err)
	}

	populated, err := s.populate(ctx, []domain.Message{m})
	if err != nil {
		return domain.Message{}, err
	}
	s.logger.Debug("message stored", zap.String("group_id", groupID), zap.String("message_id", m.ID))
	return populated[0], nil
}

// List returns a group's messages oldest first with senders populated.
func (s *Service) List(ctx context.Context, reader domain.Principal, groupID string) ([]domain.Message, error) {
	if reader.Anonymous() {
		return nil, domain.ErrUnauthenticated
	}
	if err := s.requireMember(ctx, groupID, reader.ID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return s.populate(ctx, msgs)
}

func (s *Service) requireMember(ctx context.Context, groupID, userID string) error {
	g, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsMember(userID) {
		return domain.ErrNotGroupMember
	}
	return nil
}

func (s *Service) populate(ctx context.Context, msgs []domain.Message) ([]domain.Message, error) {
	if len(msgs) == 0 {
		return []domain.Message{}, nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			ids = append(ids, m.SenderID)
		}
	}
	dir, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve senders: %w", err)
	}
	for i := range msgs {
		if u, ok := dir[msgs[i].SenderID]; ok {
			msgs[i].Sender = u.Summary()
		} else {
			msgs[i].Sender = domain.UserSummary{ID: msgs[i].SenderID}
		}
	}
	return msgs, nil
}
