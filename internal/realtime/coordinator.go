// Package realtime turns websocket frames into presence changes and room
// broadcasts, and turns group events into lifecycle broadcasts.
package realtime

import (
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/metrics"
	"github.com/Tyrowin/groupchat/internal/presence"
	"github.com/Tyrowin/groupchat/internal/sanitize"
)

// Sender delivers a frame to specific connections without blocking.
type Sender interface {
	SendTo(connIDs []string, frame []byte)
}

// Coordinator applies connection events to the presence registry and tells
// the affected rooms. Its methods never return errors: bad input is logged
// and dropped.
type Coordinator struct {
	registry *presence.Registry
	out      Sender
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewCoordinator wires a coordinator to registry and out.
func NewCoordinator(registry *presence.Registry, out Sender, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{registry: registry, out: out, metrics: m, logger: logger}
}

// Connect records a new connection with no room.
func (c *Coordinator) Connect(connID string, user domain.Principal) {
	c.registry.Connect(connID, user)
	c.logger.Debug("connected", zap.String("conn_id", connID), zap.String("user", user.Username))
}

// Handle decodes one client frame and dispatches it.
func (c *Coordinator) Handle(connID string, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.FrameDropped("panic")
			c.logger.Error("recovered from panic while handling frame",
				zap.String("conn_id", connID), zap.Any("panic", r))
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.drop(connID, "malformed", fmt.Errorf("decode envelope: %w", err))
		return
	}
	if env.Event == "" {
		c.drop(connID, "malformed", errMissingEvent)
		return
	}
	if !inboundEvents[env.Event] {
		c.drop(connID, "unknown_event", fmt.Errorf("unknown event %q", env.Event))
		return
	}
	c.metrics.FrameReceived(env.Event)

	switch env.Event {
	case EventJoinRoom:
		room, err := decodeRoom(env.Data)
		if err != nil {
			c.drop(connID, "malformed", err)
			return
		}
		c.JoinRoom(connID, room)
	case EventLeaveRoom:
		room, err := decodeRoom(env.Data)
		if err != nil {
			c.drop(connID, "malformed", err)
			return
		}
		c.LeaveRoom(connID, room)
	case EventTyping:
		p, err := decodeTyping(env.Data)
		if err != nil {
			c.drop(connID, "malformed", err)
			return
		}
		c.Typing(connID, p.room(), p.Username)
	case EventStopTyping:
		p, err := decodeTyping(env.Data)
		if err != nil {
			c.drop(connID, "malformed", err)
			return
		}
		c.StopTyping(connID, p.room(), p.Username)
	case EventNewMessage:
		room, err := decodeMessageRoom(env.Data)
		if err != nil {
			c.drop(connID, "malformed", err)
			return
		}
		c.NewMessage(connID, room, env.Data)
	}
}

// JoinRoom moves connID into room. A connection sits in one room at a time,
// so joining elsewhere first leaves the previous room. USER_JOINED is sent
// only when the user was not already present through another connection.
func (c *Coordinator) JoinRoom(connID, room string) {
	conn, ok := c.registry.Lookup(connID)
	if !ok {
		c.drop(connID, "unknown_connection", nil)
		return
	}

	wasPresent := present(c.registry.UsersInRoom(room), conn.User)
	previous, joined := c.registry.SetConnection(connID, conn.User, room)
	if previous != "" {
		c.afterLeave(previous, conn.User, UserLeft, "%s has left the room")
	}

	snap := c.registry.Snapshot(room)
	c.send(snap.Connections, EventUsersInRoom, snap.Users)
	if joined && !wasPresent {
		c.send(without(snap.Connections, connID), EventNotification, Notification{
			Type:    UserJoined,
			Message: fmt.Sprintf("%s has joined the room", displayName(conn.User)),
			User:    conn.User,
		})
	}
	if joined {
		c.logger.Debug("joined room", zap.String("conn_id", connID), zap.String("room", room))
	}
	c.metrics.SetOccupiedRooms(c.registry.OccupiedRooms())
}

// LeaveRoom takes connID out of room. Leaving a room the connection is not
// in does nothing.
func (c *Coordinator) LeaveRoom(connID, room string) {
	conn, ok := c.registry.Lookup(connID)
	if !ok || conn.Room != room {
		c.drop(connID, "not_in_room", nil)
		return
	}
	c.registry.LeaveRoom(connID)
	c.afterLeave(room, conn.User, UserLeft, "%s has left the room")
	c.metrics.SetOccupiedRooms(c.registry.OccupiedRooms())
}

// Disconnect forgets connID. It is safe to call more than once.
func (c *Coordinator) Disconnect(connID string) {
	conn, ok := c.registry.ClearConnection(connID)
	if !ok {
		return
	}
	if conn.Room != "" {
		c.afterLeave(conn.Room, conn.User, UserDisconnected, "%s has disconnected")
	}
	c.metrics.SetOccupiedRooms(c.registry.OccupiedRooms())
	c.logger.Debug("disconnected", zap.String("conn_id", connID), zap.String("room", conn.Room))
}

// Typing relays a typing indicator to the rest of room.
func (c *Coordinator) Typing(connID, room, username string) {
	c.relay(connID, room, EventUserTyping, UserRef{Username: c.username(connID, username)})
}

// StopTyping relays the end of a typing indicator to the rest of room.
func (c *Coordinator) StopTyping(connID, room, username string) {
	c.relay(connID, room, EventUserStopTyping, UserRef{Username: c.username(connID, username)})
}

// NewMessage relays an already stored message to the rest of room.
func (c *Coordinator) NewMessage(connID, room string, message json.RawMessage) {
	c.relay(connID, room, EventMessageReceived, message)
}

// afterLeave refreshes the room's user list. The leave notification is
// skipped while the user is still present through another connection.
func (c *Coordinator) afterLeave(room string, user domain.Principal, kind, format string) {
	snap := c.registry.Snapshot(room)
	c.send(snap.Connections, EventUsersInRoom, snap.Users)
	if present(snap.Users, user) {
		return
	}
	c.send(snap.Connections, EventNotification, Notification{
		Type:    kind,
		Message: fmt.Sprintf(format, displayName(user)),
		User:    user,
	})
}

func present(users []domain.Principal, u domain.Principal) bool {
	if u.Anonymous() {
		return false
	}
	return slices.ContainsFunc(users, func(p domain.Principal) bool { return p.ID == u.ID })
}

func (c *Coordinator) relay(connID, room, event string, data any) {
	c.send(without(c.registry.ConnectionsInRoom(room), connID), event, data)
}

func (c *Coordinator) send(to []string, event string, data any) {
	if len(to) == 0 {
		return
	}
	frame, err := Encode(event, data)
	if err != nil {
		c.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	c.out.SendTo(to, frame)
	c.metrics.FrameSent(event, len(to))
}

// username prefers the authenticated name over whatever the client sent.
func (c *Coordinator) username(connID, claimed string) string {
	if conn, ok := c.registry.Lookup(connID); ok && !conn.User.Anonymous() {
		return conn.User.Username
	}
	return sanitize.Text(claimed)
}

func (c *Coordinator) drop(connID, reason string, err error) {
	c.metrics.FrameDropped(reason)
	fields := []zap.Field{zap.String("conn_id", connID), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.logger.Debug("dropping frame", fields...)
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == id })
}

func displayName(p domain.Principal) string {
	if p.Username == "" {
		return "Anonymous"
	}
	return p.Username
}
