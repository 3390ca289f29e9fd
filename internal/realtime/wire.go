package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// Client to server events.
const (
	EventJoinRoom   = "join room"
	EventLeaveRoom  = "leave room"
	EventTyping     = "typing"
	EventStopTyping = "stop typing"
	EventNewMessage = "new message"
)

var inboundEvents = map[string]bool{
	EventJoinRoom:   true,
	EventLeaveRoom:  true,
	EventTyping:     true,
	EventStopTyping: true,
	EventNewMessage: true,
}

// Server to client events.
const (
	EventUsersInRoom       = "users in room"
	EventNotification      = "notification"
	EventUserTyping        = "user typing"
	EventUserStopTyping    = "user stop typing"
	EventMessageReceived   = "message received"
	EventNewGroup          = "new group available"
	EventGroupUpdated      = "group updated"
	EventGroupJoinRequest  = "group join request"
	EventJoinRequestStatus = "join request status"
)

// Notification types.
const (
	UserJoined       = "USER_JOINED"
	UserLeft         = "USER_LEFT"
	UserDisconnected = "USER_DISCONNECTED"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Notification is the payload of a "notification" frame.
type Notification struct {
	Type    string           `json:"type"`
	Message string           `json:"message"`
	User    domain.Principal `json:"user"`
}

// UserRef is the payload of typing frames.
type UserRef struct {
	Username string `json:"username"`
}

// GroupNotice is the payload of every group lifecycle frame.
type GroupNotice struct {
	GroupID   string              `json:"groupId"`
	GroupName string              `json:"groupName"`
	Group     *domain.Group       `json:"group,omitempty"`
	CreatedBy *domain.UserSummary `json:"createdBy,omitempty"`
	User      *domain.UserSummary `json:"user,omitempty"`
	Action    string              `json:"action,omitempty"`
	Status    string              `json:"status,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	GroupID  string `json:"groupId"`
	Username string `json:"username"`
}

func (p typingPayload) room() string {
	if p.RoomID != "" {
		return p.RoomID
	}
	return p.GroupID
}

var (
	errNoRoom       = errors.New("missing room id")
	errMissingEvent = errors.New("missing event name")
)

// Encode builds an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %q payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// decodeRoom accepts either a bare room id string or {"roomId": "..."}.
func decodeRoom(data json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(data, &room); err == nil {
		if room == "" {
			return "", errNoRoom
		}
		return room, nil
	}
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("decode room: %w", err)
	}
	if p.room() == "" {
		return "", errNoRoom
	}
	return p.room(), nil
}

func decodeTyping(data json.RawMessage) (typingPayload, error) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode typing: %w", err)
	}
	if p.room() == "" {
		return p, errNoRoom
	}
	return p, nil
}

// decodeMessageRoom pulls the room id out of a relayed message object.
func decodeMessageRoom(data json.RawMessage) (string, error) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("decode message: %w", err)
	}
	if p.room() == "" {
		return "", errNoRoom
	}
	return p.room(), nil
}
