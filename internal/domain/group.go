package domain

import (
	"fmt"
	"slices"
	"time"
)

// Defaults for the per-group file sharing settings.
const (
	DefaultMaxFileSize = 10 * 1024 * 1024
)

// DefaultAllowedFileTypes is applied to groups created without an explicit list.
var DefaultAllowedFileTypes = []string{"image/*"}

// PendingRequest is a user's unresolved ask to join a secure group.
type PendingRequest struct {
	UserID      string    `json:"userId" bson:"user_id"`
	RequestedAt time.Time `json:"requestedAt" bson:"requested_at"`
}

// Outcome resolves a pending request.
type Outcome int

const (
	// Approve promotes the pending user into Members.
	Approve Outcome = iota + 1
	// Reject discards the request.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Approve:
		return "approved"
	case Reject:
		return "rejected"
	default:
		return "unknown"
	}
}

// Group is one chat group together with its membership state.
//
// Invariants, enforced by the mutators below and checked by Validate:
//   - AdminID is a member.
//   - a user id is in at most one of Members or PendingRequests.
//   - PendingRequests is empty unless IsSecure.
//   - Members and PendingRequests hold no duplicate user ids.
type Group struct {
	ID               string           `json:"id" bson:"_id"`
	Name             string           `json:"name" bson:"name"`
	Description      string           `json:"description" bson:"description"`
	IsSecure         bool             `json:"isSecure" bson:"is_secure"`
	AdminID          string           `json:"adminId" bson:"admin_id"`
	Members          []string         `json:"members" bson:"members"`
	PendingRequests  []PendingRequest `json:"pendingRequests" bson:"pending_requests"`
	AllowFileSharing bool             `json:"allowFileSharing" bson:"allow_file_sharing"`
	MaxFileSize      int64            `json:"maxFileSize" bson:"max_file_size"`
	AllowedFileTypes []string         `json:"allowedFileTypes" bson:"allowed_file_types"`
	Version          int64            `json:"-" bson:"version"`
	CreatedAt        time.Time        `json:"createdAt" bson:"created_at"`
	UpdatedAt        time.Time        `json:"updatedAt" bson:"updated_at"`
}

// NewGroup returns a group owned by adminID with the admin as its only member.
func NewGroup(adminID, name, description string, isSecure bool) Group {
	return Group{
		Name:             name,
		Description:      description,
		IsSecure:         isSecure,
		AdminID:          adminID,
		Members:          []string{adminID},
		PendingRequests:  []PendingRequest{},
		AllowFileSharing: true,
		MaxFileSize:      DefaultMaxFileSize,
		AllowedFileTypes: slices.Clone(DefaultAllowedFileTypes),
	}
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (g Group) Clone() Group {
	g.Members = slices.Clone(g.Members)
	g.PendingRequests = slices.Clone(g.PendingRequests)
	g.AllowedFileTypes = slices.Clone(g.AllowedFileTypes)
	return g
}

// IsMember reports whether userID is in Members.
func (g Group) IsMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

// IsAdmin reports whether userID owns the group.
func (g Group) IsAdmin(userID string) bool {
	return userID != "" && g.AdminID == userID
}

// HasPending reports whether userID has an unresolved join request.
func (g Group) HasPending(userID string) bool {
	return g.pendingIndex(userID) >= 0
}

func (g Group) pendingIndex(userID string) int {
	return slices.IndexFunc(g.PendingRequests, func(p PendingRequest) bool {
		return p.UserID == userID
	})
}

// AddMember puts userID straight into Members.
func (g *Group) AddMember(userID string) error {
	if g.IsMember(userID) {
		return ErrAlreadyMember
	}
	if g.HasPending(userID) {
		return ErrAlreadyPending
	}
	g.Members = append(g.Members, userID)
	return nil
}

// RemoveMember drops userID from Members. The admin cannot be removed.
func (g *Group) RemoveMember(userID string) error {
	i := slices.Index(g.Members, userID)
	if i < 0 {
		return ErrNotAMember
	}
	if g.IsAdmin(userID) {
		return ErrAdminCannotLeave
	}
	g.Members = slices.Delete(g.Members, i, i+1)
	return nil
}

// AddPending queues a join request for userID on a secure group.
func (g *Group) AddPending(userID string, at time.Time) error {
	if g.IsMember(userID) {
		return ErrAlreadyMember
	}
	if !g.IsSecure {
		return ErrNotSecure
	}
	if g.HasPending(userID) {
		return ErrAlreadyPending
	}
	g.PendingRequests = append(g.PendingRequests, PendingRequest{UserID: userID, RequestedAt: at})
	return nil
}

// ResolvePending removes userID's request and, on Approve, adds them to Members.
func (g *Group) ResolvePending(userID string, outcome Outcome) (PendingRequest, error) {
	i := g.pendingIndex(userID)
	if i < 0 {
		return PendingRequest{}, ErrNoSuchRequest
	}
	req := g.PendingRequests[i]
	switch outcome {
	case Approve:
		if g.IsMember(userID) {
			return PendingRequest{}, ErrAlreadyMember
		}
		g.Members = append(g.Members, userID)
	case Reject:
	default:
		return PendingRequest{}, fmt.Errorf("resolve pending: unknown outcome %d", outcome)
	}
	g.PendingRequests = slices.Delete(g.PendingRequests, i, i+1)
	return req, nil
}

// Validate checks every membership invariant.
func (g *Group) Validate() error {
	if g.AdminID == "" {
		return fmt.Errorf("group %s: missing admin", g.ID)
	}
	if !g.IsMember(g.AdminID) {
		return fmt.Errorf("group %s: admin %s is not a member", g.ID, g.AdminID)
	}
	if !g.IsSecure && len(g.PendingRequests) > 0 {
		return fmt.Errorf("group %s: open group has pending requests", g.ID)
	}
	seen := make(map[string]struct{}, len(g.Members)+len(g.PendingRequests))
	for _, m := range g.Members {
		if _, dup := seen[m]; dup {
			return fmt.Errorf("group %s: duplicate member %s", g.ID, m)
		}
		seen[m] = struct{}{}
	}
	for _, p := range g.PendingRequests {
		if _, dup := seen[p.UserID]; dup {
			return fmt.Errorf("group %s: user %s both member and pending, or pending twice", g.ID, p.UserID)
		}
		seen[p.UserID] = struct{}{}
	}
	return nil
}
