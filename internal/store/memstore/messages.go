package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// Messages is an append-only in-memory message log partitioned by group.
type Messages struct {
	mu      sync.RWMutex
	byGroup map[string][]domain.Message
}

// NewMessages returns an empty message log.
func NewMessages() *Messages {
	return &Messages{byGroup: make(map[string][]domain.Message)}
}

// Insert appends m to its group's log under a fresh id.
func (s *Messages) Insert(_ context.Context, m domain.Message) (domain.Message, error) {
	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGroup[m.GroupID] = append(s.byGroup[m.GroupID], m)
	return m, nil
}

// ListByGroup returns a group's messages oldest first.
func (s *Messages) ListByGroup(_ context.Context, groupID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.byGroup[groupID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
