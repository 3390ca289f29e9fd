package groups

import (
	"context"
	"time"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// EventType names a committed membership change.
type EventType string

// Domain events, one per successful mutating call.
const (
	GroupCreated    EventType = "group_created"
	MemberJoined    EventType = "member_joined"
	MemberLeft      EventType = "member_left"
	JoinRequested   EventType = "join_requested"
	RequestApproved EventType = "request_approved"
	RequestRejected EventType = "request_rejected"
)

// Event describes a committed change. Subject is the user whose membership
// changed; Actor is the caller that caused it.
type Event struct {
	Type    EventType
	Group   domain.Group
	Actor   domain.Principal
	Subject domain.UserSummary
	At      time.Time
}

// EventSink receives events after the store mutation has committed.
// Publish must not block on slow consumers.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

type discardSink struct{}

func (discardSink) Publish(context.Context, Event) {}
