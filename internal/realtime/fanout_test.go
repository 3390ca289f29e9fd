package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/groups"
	"github.com/Tyrowin/groupchat/internal/metrics"
	"github.com/Tyrowin/groupchat/internal/realtime"
)

type broadcaster struct {
	frames [][]byte
	err    error
}

func (b *broadcaster) Broadcast(_ context.Context, frame []byte) error {
	if b.err != nil {
		return b.err
	}
	b.frames = append(b.frames, frame)
	return nil
}

func TestTranslate(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := domain.NewGroup("u-admin", "Eng", "engineering", true)
	g.ID = "g1"
	admin := domain.Principal{ID: "u-admin", Username: "alice", IsAdmin: true}
	bob := domain.UserSummary{ID: "u-bob", Username: "bob", Email: "bob@example.com"}

	tests := []struct {
		typ    groups.EventType
		event  string
		action string
		status string
	}{
		{groups.GroupCreated, realtime.EventNewGroup, "", ""},
		{groups.MemberJoined, realtime.EventGroupUpdated, "joined", ""},
		{groups.MemberLeft, realtime.EventGroupUpdated, "left", ""},
		{groups.JoinRequested, realtime.EventGroupJoinRequest, "", ""},
		{groups.RequestApproved, realtime.EventJoinRequestStatus, "", "approved"},
		{groups.RequestRejected, realtime.EventJoinRequestStatus, "", "rejected"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			event, notice, ok := realtime.Translate(groups.Event{Type: tt.typ, Group: g, Actor: admin, Subject: bob, At: at})
			require.True(t, ok)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, "g1", notice.GroupID)
			assert.Equal(t, "Eng", notice.GroupName)
			assert.Equal(t, at, notice.Timestamp)
			assert.Equal(t, tt.action, notice.Action)
			assert.Equal(t, tt.status, notice.Status)
			if tt.typ == groups.GroupCreated {
				require.NotNil(t, notice.Group)
				assert.Equal(t, "alice", notice.CreatedBy.Username)
			} else {
				require.NotNil(t, notice.User)
				assert.Equal(t, bob, *notice.User)
			}
		})
	}

	_, _, ok := realtime.Translate(groups.Event{Type: "mystery"})
	assert.False(t, ok)
}

func TestFanout_Publish(t *testing.T) {
	b := &broadcaster{}
	m := metrics.New(prometheus.NewRegistry())
	f := realtime.NewFanout(b, m, zap.NewNop())

	g := domain.NewGroup("u-admin", "Eng", "engineering", false)
	g.ID = "g1"
	f.Publish(context.Background(), groups.Event{
		Type:    groups.MemberJoined,
		Group:   g,
		Subject: domain.UserSummary{ID: "u-bob", Username: "bob"},
		At:      time.Now(),
	})

	require.Len(t, b.frames, 1)
	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(b.frames[0], &env))
	assert.Equal(t, realtime.EventGroupUpdated, env.Event)
	var notice realtime.GroupNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, "joined", notice.Action)
	assert.Equal(t, "bob", notice.User.Username)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GroupEvents.WithLabelValues("member_joined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesOut.WithLabelValues(realtime.EventGroupUpdated)))
}

func TestFanout_BroadcastFailureIsSwallowed(t *testing.T) {
	b := &broadcaster{err: errors.New("hub stopped")}
	f := realtime.NewFanout(b, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		f.Publish(context.Background(), groups.Event{Type: groups.GroupCreated, Group: domain.Group{ID: "g"}})
	})
}
