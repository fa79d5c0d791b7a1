package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatgenius/internal/stats"
	"chatgenius/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one websocket connection bound to an authenticated session.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	stats      stats.Provider
	session    *Session
	user       types.User
	send       chan *ServerMessage
	rooms      map[int]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(sess *Session, conn *websocket.Conn, cs *ChatServer, l *log.Logger, su stats.Provider) *Client {
	c := &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		stats:      su,
		session:    sess,
		user:       sess.User,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[int]*Room),
		stop:       make(chan struct{}),
	}

	return c
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(errInvalidMessage())
			continue
		}

		msg.client = c
		c.chatServer.sessions.Touch(c.session.Id)

		switch {
		case msg.JoinChannel != nil:
			c.joinChannel(&msg)
		case msg.LeaveChannel != nil:
			c.leaveChannel(&msg)
		case msg.SendMessage != nil:
			r := c.getRoom(msg.SendMessage.ChannelId)
			if r == nil {
				c.queueMessage(errEvent(errNotJoined(msg.SendMessage.ChannelId)))
				continue
			}

			req := &publishRequest{
				user:    c.user,
				content: msg.SendMessage.Content,
				client:  c,
			}
			select {
			case r.publishChan <- req:
			default:
				c.queueMessage(errServiceUnavailable())
				c.log.Printf("publish channel full for channel %d", r.channelId)
			}
		case msg.DeleteMessage != nil:
			r := c.getRoom(msg.DeleteMessage.ChannelId)
			if r == nil {
				c.queueMessage(errEvent(errNotJoined(msg.DeleteMessage.ChannelId)))
				continue
			}

			req := &deleteRequest{
				requester: c.user,
				messageId: msg.DeleteMessage.MessageId,
				client:    c,
			}
			select {
			case r.deleteChan <- req:
			default:
				c.queueMessage(errServiceUnavailable())
				c.log.Printf("delete channel full for channel %d", r.channelId)
			}
		default:
			c.queueMessage(errInvalidMessage())
		}
	}
}

// queueMessage enqueues a message for delivery, dropping it if the client's
// buffer is full. Delivery to one client is best-effort and never blocks a
// broadcast.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("dropping message for user %q, send buffer full", c.user.Email)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.DeregisterClient(c)
	c.leaveAllRooms()
	c.chatServer.sessions.Close(c.session.Id)
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		room.leaveChan <- &ClientMessage{
			LeaveChannel: &LeaveChannel{ChannelId: room.channelId},
			client:       c,
		}
	}
}

func (c *Client) joinChannel(msg *ClientMessage) {
	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Printf("join channel full")
		c.queueMessage(errServiceUnavailable())
	}
}

func (c *Client) leaveChannel(msg *ClientMessage) {
	r := c.getRoom(msg.LeaveChannel.ChannelId)
	if r == nil {
		c.queueMessage(errEvent(errNotJoined(msg.LeaveChannel.ChannelId)))
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Printf("leave channel full for channel %d", r.channelId)
		c.queueMessage(errServiceUnavailable())
	}
}

func (c *Client) delRoom(channelId int) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, channelId)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.channelId] = r
}

func (c *Client) getRoom(channelId int) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[channelId]
}
