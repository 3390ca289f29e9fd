package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/groups"
	"github.com/Tyrowin/groupchat/internal/metrics"
)

// Broadcaster delivers a frame to every live connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, frame []byte) error
}

// Fanout publishes group events to all connections. Clients filter personal
// outcomes such as approvals by their own user id.
type Fanout struct {
	out     Broadcaster
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ groups.EventSink = (*Fanout)(nil)

// NewFanout returns a fan-out over out.
func NewFanout(out Broadcaster, m *metrics.Metrics, logger *zap.Logger) *Fanout {
	return &Fanout{out: out, metrics: m, logger: logger}
}

// Publish implements groups.EventSink. Each event becomes exactly one frame.
func (f *Fanout) Publish(ctx context.Context, ev groups.Event) {
	f.metrics.GroupEvent(string(ev.Type))

	event, notice, ok := Translate(ev)
	if !ok {
		f.logger.Warn("no broadcast for group event", zap.String("type", string(ev.Type)))
		return
	}
	frame, err := Encode(event, notice)
	if err != nil {
		f.logger.Error("failed to encode group event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := f.out.Broadcast(ctx, frame); err != nil {
		f.logger.Warn("group event not broadcast",
			zap.String("type", string(ev.Type)),
			zap.String("group_id", ev.Group.ID),
			zap.Error(err))
		return
	}
	f.metrics.FrameSent(event, 1)
}

// Translate maps a group event to its frame name and payload.
func Translate(ev groups.Event) (string, GroupNotice, bool) {
	subject := ev.Subject
	notice := GroupNotice{
		GroupID:   ev.Group.ID,
		GroupName: ev.Group.Name,
		Timestamp: ev.At,
	}

	switch ev.Type {
	case groups.GroupCreated:
		g := ev.Group.Clone()
		creator := domain.UserSummary{ID: ev.Actor.ID, Username: ev.Actor.Username}
		notice.Group = &g
		notice.CreatedBy = &creator
		return EventNewGroup, notice, true
	case groups.MemberJoined:
		notice.User = &subject
		notice.Action = "joined"
		return EventGroupUpdated, notice, true
	case groups.MemberLeft:
		notice.User = &subject
		notice.Action = "left"
		return EventGroupUpdated, notice, true
	case groups.JoinRequested:
		notice.User = &subject
		return EventGroupJoinRequest, notice, true
	case groups.RequestApproved:
		notice.User = &subject
		notice.Status = domain.Approve.String()
		return EventJoinRequestStatus, notice, true
	case groups.RequestRejected:
		notice.User = &subject
		notice.Status = domain.Reject.String()
		return EventJoinRequestStatus, notice, true
	default:
		return "", GroupNotice{}, false
	}
}
