// Package integration drives a complete in-process server over real HTTP
// and websocket connections.
package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/realtime"
	"github.com/Tyrowin/groupchat/test/testhelpers"
)

const quietPeriod = 300 * time.Millisecond

func usernames(users []domain.Principal) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return names
}

// TestRoomPresenceLifecycle follows two users through join, typing,
// message relay, leave and disconnect in one room.
func TestRoomPresenceLifecycle(t *testing.T) {
	stack := testhelpers.NewStack(t, nil)
	alice := stack.Register(t, "alice")
	bob := stack.Register(t, "bob")

	aliceWS := stack.Connect(t, alice.Token)
	bobWS := stack.Connect(t, bob.Token)

	var present []domain.Principal
	aliceWS.Send(t, realtime.EventJoinRoom, "room-1")
	aliceWS.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"alice"}, usernames(present))

	bobWS.Send(t, realtime.EventJoinRoom, map[string]string{"roomId": "room-1"})
	bobWS.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"alice", "bob"}, usernames(present))

	aliceWS.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"alice", "bob"}, usernames(present))
	var joined realtime.Notification
	aliceWS.Expect(t, realtime.EventNotification, &joined)
	assert.Equal(t, realtime.UserJoined, joined.Type)
	assert.Equal(t, "bob has joined the room", joined.Message)
	assert.Equal(t, bob.ID, joined.User.ID)

	t.Run("typing is relayed to the rest of the room", func(t *testing.T) {
		var who realtime.UserRef
		bobWS.Send(t, realtime.EventTyping, map[string]string{"roomId": "room-1", "username": "mallory"})
		aliceWS.Expect(t, realtime.EventUserTyping, &who)
		assert.Equal(t, "bob", who.Username, "authenticated name wins over the claimed one")

		bobWS.Send(t, realtime.EventStopTyping, map[string]string{"roomId": "room-1"})
		aliceWS.Expect(t, realtime.EventUserStopTyping, &who)
		assert.Equal(t, "bob", who.Username)
		bobWS.ExpectNone(t, realtime.EventUserTyping, quietPeriod)
	})

	t.Run("messages are relayed to everyone but the sender", func(t *testing.T) {
		aliceWS.Send(t, realtime.EventNewMessage, map[string]any{
			"groupId": "room-1",
			"content": "hello bob",
		})
		var msg struct {
			Content string `json:"content"`
		}
		bobWS.Expect(t, realtime.EventMessageReceived, &msg)
		assert.Equal(t, "hello bob", msg.Content)
		aliceWS.ExpectNone(t, realtime.EventMessageReceived, quietPeriod)
	})

	t.Run("leaving updates the remaining members", func(t *testing.T) {
		bobWS.Send(t, realtime.EventLeaveRoom, "room-1")
		aliceWS.Expect(t, realtime.EventUsersInRoom, &present)
		assert.Equal(t, []string{"alice"}, usernames(present))
		var left realtime.Notification
		aliceWS.Expect(t, realtime.EventNotification, &left)
		assert.Equal(t, realtime.UserLeft, left.Type)
		assert.Equal(t, "bob has left the room", left.Message)
	})

	t.Run("disconnecting updates the remaining members", func(t *testing.T) {
		bobWS.Send(t, realtime.EventJoinRoom, "room-1")
		aliceWS.Expect(t, realtime.EventNotification, nil)

		bobWS.Close()
		aliceWS.Expect(t, realtime.EventUsersInRoom, &present)
		assert.Equal(t, []string{"alice"}, usernames(present))
		var gone realtime.Notification
		aliceWS.Expect(t, realtime.EventNotification, &gone)
		assert.Equal(t, realtime.UserDisconnected, gone.Type)
		assert.Equal(t, "bob has disconnected", gone.Message)
	})
}

// TestRoomSwitching checks that a connection sits in one room at a time.
func TestRoomSwitching(t *testing.T) {
	stack := testhelpers.NewStack(t, nil)
	alice := stack.Register(t, "alice")
	bob := stack.Register(t, "bob")

	aliceWS := stack.Connect(t, alice.Token)
	bobWS := stack.Connect(t, bob.Token)

	aliceWS.Send(t, realtime.EventJoinRoom, "red")
	aliceWS.Expect(t, realtime.EventUsersInRoom, nil)
	bobWS.Send(t, realtime.EventJoinRoom, "red")
	bobWS.Expect(t, realtime.EventUsersInRoom, nil)
	aliceWS.Expect(t, realtime.EventNotification, nil)

	var present []domain.Principal
	bobWS.Send(t, realtime.EventJoinRoom, "blue")
	bobWS.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"bob"}, usernames(present))

	aliceWS.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"alice"}, usernames(present))
	var left realtime.Notification
	aliceWS.Expect(t, realtime.EventNotification, &left)
	assert.Equal(t, realtime.UserLeft, left.Type)

	// Frames for the old room no longer reach bob.
	aliceWS.Send(t, realtime.EventTyping, map[string]string{"roomId": "red"})
	bobWS.ExpectNone(t, realtime.EventUserTyping, quietPeriod)

	// Re-joining the current room does not announce bob again.
	bobWS.Send(t, realtime.EventJoinRoom, "blue")
	bobWS.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"bob"}, usernames(present))
	bobWS.ExpectNone(t, realtime.EventNotification, quietPeriod)
}

// TestAnonymousConnections covers sockets opened without a token.
func TestAnonymousConnections(t *testing.T) {
	stack := testhelpers.NewStack(t, nil)
	alice := stack.Register(t, "alice")

	aliceWS := stack.Connect(t, alice.Token)
	anonWS := stack.Connect(t, "")

	aliceWS.Send(t, realtime.EventJoinRoom, "lobby")
	aliceWS.Expect(t, realtime.EventUsersInRoom, nil)

	var present []domain.Principal
	anonWS.Send(t, realtime.EventJoinRoom, "lobby")
	anonWS.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"alice"}, usernames(present), "anonymous connections are not listed")

	var joined realtime.Notification
	aliceWS.Expect(t, realtime.EventNotification, &joined)
	assert.Equal(t, "Anonymous has joined the room", joined.Message)

	var who realtime.UserRef
	anonWS.Send(t, realtime.EventTyping, map[string]string{"roomId": "lobby", "username": "<b>guest</b>"})
	aliceWS.Expect(t, realtime.EventUserTyping, &who)
	assert.Equal(t, "guest", who.Username)
}

// TestSameUserTwoConnections lists a user once however many sockets they hold
// and announces only their first join and their last departure.
func TestSameUserTwoConnections(t *testing.T) {
	stack := testhelpers.NewStack(t, nil)
	alice := stack.Register(t, "alice")
	bob := stack.Register(t, "bob")

	watcher := stack.Connect(t, bob.Token)
	watcher.Send(t, realtime.EventJoinRoom, "room")
	watcher.Expect(t, realtime.EventUsersInRoom, nil)

	first := stack.Connect(t, alice.Token)
	second := stack.Connect(t, alice.Token)

	first.Send(t, realtime.EventJoinRoom, "room")
	first.Expect(t, realtime.EventUsersInRoom, nil)
	var joined realtime.Notification
	watcher.Expect(t, realtime.EventNotification, &joined)
	assert.Equal(t, realtime.UserJoined, joined.Type)

	var present []domain.Principal
	second.Send(t, realtime.EventJoinRoom, "room")
	second.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"bob", "alice"}, usernames(present))
	watcher.ExpectNone(t, realtime.EventNotification, quietPeriod)

	second.Close()
	watcher.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"bob", "alice"}, usernames(present), "the remaining connection keeps alice present")
	watcher.ExpectNone(t, realtime.EventNotification, quietPeriod)

	first.Close()
	var gone realtime.Notification
	watcher.Expect(t, realtime.EventNotification, &gone)
	assert.Equal(t, realtime.UserDisconnected, gone.Type)
	assert.Equal(t, alice.ID, gone.User.ID)
}

// TestMalformedFramesKeepConnectionOpen sends garbage and then a valid join.
func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	stack := testhelpers.NewStack(t, nil)
	alice := stack.Register(t, "alice")
	ws := stack.Connect(t, alice.Token)

	for _, raw := range []string{
		`not json`,
		`{"data":"room"}`,
		`{"event":"join room"}`,
		`{"event":"join room","data":42}`,
		`{"event":"explode","data":{}}`,
	} {
		require.NoError(t, ws.SendRaw([]byte(raw)))
	}

	var present []domain.Principal
	ws.Send(t, realtime.EventJoinRoom, "room")
	ws.Expect(t, realtime.EventUsersInRoom, &present)
	assert.Equal(t, []string{"alice"}, usernames(present))
}
