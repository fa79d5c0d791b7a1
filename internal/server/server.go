package server

import (
	"context"
	"errors"
	"log"
	"time"

	"chatgenius/internal/database"
	"chatgenius/internal/stats"
	"chatgenius/internal/types"
)

type unloadRoomRequest struct {
	channelId int
	deleted   bool
}

// userNotification delivers an event to every live connection of the listed
// users, whether or not they are subscribed to a room.
type userNotification struct {
	userIds []int
	msg     *ServerMessage
}

type postRequest struct {
	channelId int
	user      types.User
	content   string
	result    chan publishResult
}

type deleteMsgRequest struct {
	channelId int
	messageId int
	requester types.User
	result    chan error
}

type logoutRequest struct {
	userId int
}

// ChatServer owns the room and client registries. All registry mutation
// happens on its run loop, so the maps need no further synchronization.
type ChatServer struct {
	log            *log.Logger
	db             database.Repository
	stats          stats.Provider
	sessions       *SessionRegistry
	joinChan       chan *ClientMessage
	registerChan   chan *Client
	deregisterChan chan *Client
	notifyChan     chan *userNotification
	postChan       chan *postRequest
	deleteMsgChan  chan *deleteMsgRequest
	logoutChan     chan logoutRequest
	unloadRoomChan chan unloadRoomRequest
	rooms          map[int]*Room
	clients        map[*Client]struct{}
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, su stats.Provider, idleSessionTimeout time.Duration) (*ChatServer, error) {
	su.RegisterMetric("ActiveConnections")
	su.RegisterMetric("ActiveRooms")
	su.RegisterMetric("MessagesSent")

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		sessions:       NewSessionRegistry(logger, su, idleSessionTimeout),
		joinChan:       make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		notifyChan:     make(chan *userNotification, 512),
		postChan:       make(chan *postRequest, 256),
		deleteMsgChan:  make(chan *deleteMsgRequest, 256),
		logoutChan:     make(chan logoutRequest, 16),
		unloadRoomChan: make(chan unloadRoomRequest, 16),
		rooms:          make(map[int]*Room),
		clients:        make(map[*Client]struct{}),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Sessions() *SessionRegistry {
	return cs.sessions
}

func (cs *ChatServer) Run() {
	cs.sessions.Run()

	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.registerChan:
			cs.addClient(client)
		case client := <-cs.deregisterChan:
			cs.removeClient(client)
		case n := <-cs.notifyChan:
			cs.handleNotify(n)
		case req := <-cs.postChan:
			cs.handlePost(req)
		case req := <-cs.deleteMsgChan:
			cs.handleDeleteMessage(req)
		case req := <-cs.logoutChan:
			cs.handleLogout(req)
		case u := <-cs.unloadRoomChan:
			cs.handleUnloadRoom(u)
		case <-cs.stop:
			cs.log.Println("stopping clients")
			for c := range cs.clients {
				c.stopClient()
			}

			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				done := make(chan struct{})
				r.exit <- exitReq{done: done}
				<-done
				<-r.done
			}

			cs.sessions.Stop()
			close(cs.done)
			return
		}
	}
}

// handleJoin routes a join request into the channel's room, loading the room
// if the channel exists and no room is live yet.
func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	channelId := joinMsg.JoinChannel.ChannelId
	room, err := cs.roomFor(channelId)
	if err != nil {
		joinMsg.client.queueMessage(errEvent(err))
		return
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		cs.log.Printf("join channel full on room %d", channelId)
		joinMsg.client.queueMessage(errServiceUnavailable())
	}
}

// roomFor returns the live room for the channel, starting one if needed.
func (cs *ChatServer) roomFor(channelId int) (*Room, error) {
	if room, ok := cs.rooms[channelId]; ok {
		return room, nil
	}

	if _, err := cs.db.GetChannelById(channelId); err != nil {
		return nil, err
	}

	room := newRoom(channelId, cs)
	cs.rooms[channelId] = room
	cs.stats.Incr("ActiveRooms")
	go room.start()

	return room, nil
}

func (cs *ChatServer) handlePost(req *postRequest) {
	room, err := cs.roomFor(req.channelId)
	if err != nil {
		req.result <- publishResult{err: err}
		return
	}

	select {
	case room.publishChan <- &publishRequest{user: req.user, content: req.content, result: req.result}:
	default:
		cs.log.Printf("publish channel full on room %d", req.channelId)
		req.result <- publishResult{err: errors.New("channel is busy")}
	}
}

func (cs *ChatServer) handleDeleteMessage(req *deleteMsgRequest) {
	if room, ok := cs.rooms[req.channelId]; ok {
		select {
		case room.deleteChan <- &deleteRequest{requester: req.requester, messageId: req.messageId, result: req.result}:
			return
		default:
			cs.log.Printf("delete channel full on room %d", req.channelId)
		}
	}

	// no live room means no subscribers to notify
	req.result <- cs.db.DeleteMessage(req.messageId, req.requester.Id)
}

func (cs *ChatServer) handleNotify(n *userNotification) {
	for _, userId := range n.userIds {
		for _, c := range cs.sessions.ClientsForUser(userId) {
			c.queueMessage(n.msg)
		}
	}
}

func (cs *ChatServer) handleLogout(req logoutRequest) {
	msg := &ServerMessage{
		Timestamp:       Now(),
		LogoutBroadcast: &LogoutBroadcast{},
	}

	for _, c := range cs.sessions.ClientsForUser(req.userId) {
		c.queueMessage(msg)
		c.stopClient()
	}
}

func (cs *ChatServer) handleUnloadRoom(u unloadRoomRequest) {
	room, ok := cs.rooms[u.channelId]
	if !ok {
		return
	}

	// a client may have joined between the idle timeout firing and this
	// request being handled
	if !u.deleted && room.hasClients() {
		return
	}

	cs.log.Printf("unloading room for channel %d", u.channelId)
	delete(cs.rooms, u.channelId)
	cs.stats.Decr("ActiveRooms")

	done := make(chan struct{})
	room.exit <- exitReq{done: done}
	<-done
	<-room.done
}

func (cs *ChatServer) addClient(c *Client) {
	cs.log.Printf("adding connection from %q", c.user.Email)
	cs.clients[c] = struct{}{}
	cs.stats.Incr("ActiveConnections")
}

func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	cs.log.Printf("removing connection from %q", c.user.Email)
	delete(cs.clients, c)
	cs.stats.Decr("ActiveConnections")
}

func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) DeregisterClient(c *Client) {
	select {
	case cs.deregisterChan <- c:
	case <-cs.done:
	}
}

// PostMessage persists a message through the channel's room so REST writes
// serialize with push writes, and returns the stored message.
func (cs *ChatServer) PostMessage(ctx context.Context, user types.User, channelId int, content string) (database.Message, error) {
	result := make(chan publishResult, 1)
	req := &postRequest{
		channelId: channelId,
		user:      user,
		content:   content,
		result:    result,
	}

	select {
	case cs.postChan <- req:
	case <-ctx.Done():
		return database.Message{}, ctx.Err()
	}

	select {
	case res := <-result:
		return res.msg, res.err
	case <-ctx.Done():
		return database.Message{}, ctx.Err()
	}
}

// DeleteMessage soft-deletes a message through the channel's room, so the
// message_deleted event reaches subscribers in order with other events.
func (cs *ChatServer) DeleteMessage(ctx context.Context, requester types.User, channelId, messageId int) error {
	result := make(chan error, 1)
	req := &deleteMsgRequest{
		channelId: channelId,
		messageId: messageId,
		requester: requester,
		result:    result,
	}

	select {
	case cs.deleteMsgChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyChannelCreated tells every live connection of the channel's members
// about the new channel.
func (cs *ChatServer) NotifyChannelCreated(ch types.Channel, memberIds []int) {
	cs.notify(&userNotification{
		userIds: memberIds,
		msg: &ServerMessage{
			Timestamp:  Now(),
			NewChannel: &ch,
		},
	})
}

// NotifyChannelDeleted unloads the channel's room and tells the members'
// live connections.
func (cs *ChatServer) NotifyChannelDeleted(channelId int, memberIds []int) {
	select {
	case cs.unloadRoomChan <- unloadRoomRequest{channelId: channelId, deleted: true}:
	default:
		cs.log.Printf("unload channel full, room for channel %d unloads on idle", channelId)
	}

	cs.notify(&userNotification{
		userIds: memberIds,
		msg: &ServerMessage{
			Timestamp:      Now(),
			ChannelDeleted: &ChannelDeleted{ChannelId: channelId},
		},
	})
}

// LogoutUser broadcasts logout to all of the user's connections and closes
// them.
func (cs *ChatServer) LogoutUser(userId int) {
	select {
	case cs.logoutChan <- logoutRequest{userId: userId}:
	default:
		cs.log.Printf("logout channel full for user %d", userId)
	}
}

func (cs *ChatServer) notify(n *userNotification) {
	select {
	case cs.notifyChan <- n:
	default:
		cs.log.Println("notify channel full, dropping notification")
	}
}

// Shutdown stops all clients, rooms and the session sweep.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
