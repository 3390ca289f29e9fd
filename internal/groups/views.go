package groups

import (
	"context"
	"time"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// PendingView is one pending request with its user resolved.
type PendingView struct {
	User        domain.UserSummary `json:"user"`
	RequestedAt time.Time          `json:"requestedAt"`
}

// AdminPendingView groups the pending requests of one administered group.
type AdminPendingView struct {
	GroupID        string        `json:"groupId"`
	GroupName      string        `json:"groupName"`
	PendingMembers []PendingView `json:"pendingMembers"`
}

// GroupView is a group with admin, members and requests populated.
type GroupView struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	IsSecure         bool                 `json:"isSecure"`
	Admin            domain.UserSummary   `json:"admin"`
	Members          []domain.UserSummary `json:"members"`
	PendingRequests  []PendingView        `json:"pendingRequests"`
	AllowFileSharing bool                 `json:"allowFileSharing"`
	MaxFileSize      int64                `json:"maxFileSize"`
	AllowedFileTypes []string             `json:"allowedFileTypes"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// Views populates gs with user summaries in one directory lookup.
func (s *Service) Views(ctx context.Context, gs ...domain.Group) ([]GroupView, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, g := range gs {
		add(g.AdminID)
		for _, m := range g.Members {
			add(m)
		}
		for _, p := range g.PendingRequests {
			add(p.UserID)
		}
	}

	dir, err := s.directory(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]GroupView, 0, len(gs))
	for _, g := range gs {
		members := make([]domain.UserSummary, 0, len(g.Members))
		for _, m := range g.Members {
			members = append(members, lookup(dir, m))
		}
		out = append(out, GroupView{
			ID:               g.ID,
			Name:             g.Name,
			Description:      g.Description,
			IsSecure:         g.IsSecure,
			Admin:            lookup(dir, g.AdminID),
			Members:          members,
			PendingRequests:  pendingViews(g, dir),
			AllowFileSharing: g.AllowFileSharing,
			MaxFileSize:      g.MaxFileSize,
			AllowedFileTypes: g.AllowedFileTypes,
			CreatedAt:        g.CreatedAt,
			UpdatedAt:        g.UpdatedAt,
		})
	}
	return out, nil
}

func pendingViews(g domain.Group, dir map[string]domain.User) []PendingView {
	out := make([]PendingView, 0, len(g.PendingRequests))
	for _, p := range g.PendingRequests {
		out = append(out, PendingView{User: lookup(dir, p.UserID), RequestedAt: p.RequestedAt})
	}
	return out
}

func lookup(dir map[string]domain.User, id string) domain.UserSummary {
	if u, ok := dir[id]; ok {
		return u.Summary()
	}
	return domain.UserSummary{ID: id}
}
