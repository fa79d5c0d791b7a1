package server

import (
	"log"
	"sync"
	"time"

	"chatgenius/internal/database"
	"chatgenius/internal/types"
)

// idleRoomTimeout is how long a room with no subscribed connections stays
// loaded before it is unloaded from memory.
const idleRoomTimeout = time.Second * 30

type exitReq struct {
	done chan struct{}
}

// publishRequest asks the room to persist a message and broadcast it. Both
// delivery paths use it: the push path sets client, the REST path sets
// result.
type publishRequest struct {
	user    types.User
	content string
	client  *Client
	result  chan publishResult
}

type publishResult struct {
	msg database.Message
	err error
}

type deleteRequest struct {
	requester types.User
	messageId int
	client    *Client
	result    chan error
}

// Room is the in-memory set of connections subscribed to one channel's live
// events. Its goroutine serializes persistence and broadcast, so messages
// become visible to subscribers in commit order.
type Room struct {
	channelId   int
	cs          *ChatServer
	joinChan    chan *ClientMessage
	leaveChan   chan *ClientMessage
	publishChan chan *publishRequest
	deleteChan  chan *deleteRequest
	clients     map[*Client]struct{}
	userMap     map[int]map[*Client]struct{}
	clientLock  sync.RWMutex
	log         *log.Logger
	// killTimer unloads the room once it has had no clients for a while
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(channelId int, cs *ChatServer) *Room {
	return &Room{
		channelId:   channelId,
		cs:          cs,
		joinChan:    make(chan *ClientMessage, 256),
		leaveChan:   make(chan *ClientMessage, 256),
		publishChan: make(chan *publishRequest, 256),
		deleteChan:  make(chan *deleteRequest, 256),
		clients:     make(map[*Client]struct{}),
		userMap:     make(map[int]map[*Client]struct{}),
		log:         cs.log,
		exit:        make(chan exitReq),
		done:        make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room for channel %d", r.channelId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	defer close(r.done)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case req := <-r.publishChan:
			r.handlePublish(req)
		case req := <-r.deleteChan:
			r.handleDelete(req)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

// handleJoin subscribes the connection to the room after verifying the user
// is a member of the channel. Non-members get an error event and are never
// added to the subscriber set.
func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	member, err := r.cs.db.IsMember(c.user.Id, r.channelId)
	if err != nil {
		r.log.Println("IsMember:", err)
		c.queueMessage(errEvent(err))
		r.resetKillTimerIfEmpty()
		return
	}

	if !member {
		c.queueMessage(errEvent(database.NewAuthorizationError("user is not a member of this channel")))
		r.resetKillTimerIfEmpty()
		return
	}

	r.addClient(c)

	c.queueMessage(&ServerMessage{
		Timestamp:       Now(),
		JoinedChannelOk: &JoinedChannelOk{ChannelId: r.channelId},
	})

	// everyone already in the room learns about the join, the joining
	// connection does not
	r.broadcast(&ServerMessage{
		UserJoined: &UserJoined{
			UserId:    c.user.Id,
			ChannelId: r.channelId,
		},
		skipClient: c,
	})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	r.removeClient(leaveMsg.client)
}

// handlePublish persists the message, then broadcasts it to every subscriber
// including the sender. The sender sees its message through the same
// broadcast as everyone else, which keeps ordering identical across
// subscribers. A failed persist produces no broadcast.
func (r *Room) handlePublish(req *publishRequest) {
	msg, err := r.cs.db.CreateMessage(r.channelId, req.user.Id, req.content)
	if err != nil {
		r.log.Println("CreateMessage:", err)
		r.respondPublish(req, publishResult{err: err})
		return
	}

	r.cs.stats.Incr("MessagesSent")
	msg.UserEmail = req.user.Email
	r.respondPublish(req, publishResult{msg: msg})

	r.broadcast(&ServerMessage{
		NewMessage: &types.Message{
			Id:        msg.Id,
			ChannelId: msg.ChannelId,
			UserId:    msg.UserId,
			UserEmail: msg.UserEmail,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		},
	})
}

func (r *Room) respondPublish(req *publishRequest, res publishResult) {
	if req.result != nil {
		req.result <- res
	}
	if req.client != nil && res.err != nil {
		req.client.queueMessage(errEvent(res.err))
	}
}

func (r *Room) handleDelete(req *deleteRequest) {
	err := r.cs.db.DeleteMessage(req.messageId, req.requester.Id)
	if req.result != nil {
		req.result <- err
	}
	if err != nil {
		if req.client != nil {
			req.client.queueMessage(errEvent(err))
		}
		return
	}

	r.broadcast(&ServerMessage{
		MessageDeleted: &MessageDeleted{
			MessageId: req.messageId,
			ChannelId: r.channelId,
		},
	})
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room for channel %d timed out", r.channelId)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{channelId: r.channelId}:
	default:
		// unload request dropped, try again later
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleRoomExit detaches every client from the room. Channel-deleted
// notifications are delivered per-user by the chat server so that members
// without a live subscription receive them too.
func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room for channel %d is exiting", r.channelId)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.channelId)
		delete(r.clients, c)
	}
	r.userMap = make(map[int]map[*Client]struct{})
	r.clientLock.Unlock()

	if e.done != nil {
		close(e.done)
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.channelId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in room for channel %d, starting kill timer", r.channelId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) hasClients() bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients) > 0
}

func (r *Room) resetKillTimerIfEmpty() {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// broadcast delivers the event to every subscribed connection except
// skipClient. Delivery to each connection is best-effort: one slow or dead
// subscriber never blocks the rest and never unwinds persisted state.
func (r *Room) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.skipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
