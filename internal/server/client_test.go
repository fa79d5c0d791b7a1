package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chatgenius/internal/database"
	"chatgenius/internal/stats"
	"chatgenius/internal/types"
)

func TestNewClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	cs := newTestChatServer(t, &database.MockRepository{}, su)

	user := types.User{Id: 1, Email: "test@example.com"}
	sess := &Session{Id: "abc123", User: user}

	c := NewClient(sess, nil, cs, cs.log, su)
	assert.Equal(t, user, c.user, "expected user to be taken from the session")
	assert.Equal(t, sess, c.session, "expected session to be set")
	assert.NotNil(t, c.send, "expected send channel to be initialized")
	assert.NotNil(t, c.rooms, "expected rooms map to be initialized")
}

func Test_queueMessage(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(cs, types.User{Id: 1})
	c.send = make(chan *ServerMessage, 1)

	ok := c.queueMessage(&ServerMessage{Timestamp: Now()})
	assert.True(t, ok, "expected message to be queued")

	// a full buffer drops the message instead of blocking
	ok = c.queueMessage(&ServerMessage{Timestamp: Now()})
	assert.False(t, ok, "expected message to be dropped when buffer is full")
	assert.Len(t, c.send, 1, "expected only the first message to be queued")
}

func Test_addRoom_getRoom_delRoom(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(cs, types.User{Id: 1})
	room := &Room{channelId: 3}

	c.addRoom(room)
	assert.Equal(t, room, c.getRoom(3), "expected room to be tracked")

	c.delRoom(3)
	assert.Nil(t, c.getRoom(3), "expected room to be removed")
}

func Test_stopClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(cs, types.User{Id: 1})

	c.stopClient()
	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}

	// stopping twice must not panic
	c.stopClient()
}

func Test_leaveAllRooms(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(cs, types.User{Id: 1})

	r1 := &Room{channelId: 1, leaveChan: make(chan *ClientMessage, 1)}
	r2 := &Room{channelId: 2, leaveChan: make(chan *ClientMessage, 1)}
	c.addRoom(r1)
	c.addRoom(r2)

	c.leaveAllRooms()

	for _, r := range []*Room{r1, r2} {
		select {
		case msg := <-r.leaveChan:
			assert.NotNil(t, msg.LeaveChannel, "expected leave event")
			assert.Equal(t, r.channelId, msg.LeaveChannel.ChannelId, "expected channel id to match")
		default:
			t.Errorf("expected leave message for channel %d", r.channelId)
		}
	}
}
