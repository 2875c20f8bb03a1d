package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// SessionState is the lifecycle stage of a connection.
type SessionState int

const (
	StateConnected SessionState = iota
	StateIdentified
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Client is one websocket connection. It starts Connected, becomes
// Identified once the user announces itself with online, and ends
// Disconnected when the transport closes.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	// tokenUserId is the identity proven by the upgrade request, if any.
	tokenUserId string
	userId      string
	state       SessionState
	stateLock   sync.RWMutex
	send        chan *ServerMessage
	rooms       map[string]*Room
	roomsLock   sync.RWMutex
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, tokenUserId string, l *log.Logger) *Client {
	return &Client{
		conn:        conn,
		chatServer:  cs,
		log:         l,
		tokenUserId: tokenUserId,
		send:        make(chan *ServerMessage, 256),
		rooms:       make(map[string]*Room),
		stop:        make(chan struct{}),
	}
}

// Send queues a pushed event for the client.
func (c *Client) Send(event string, data any) bool {
	return c.queueMessage(Event(event, data))
}

func (c *Client) UserId() string {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.userId
}

func (c *Client) State() SessionState {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.state
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
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
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
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
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	msg.client = c
	msg.UserId = c.UserId()
	msg.Timestamp = Now()

	if msg.Online != nil {
		c.identify(msg)
		return
	}

	if msg.UserId == "" {
		c.queueMessage(ErrUnauthorized(msg.Id))
		return
	}
	if claimed := msg.claimedUserId(); claimed != "" && claimed != msg.UserId {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	switch {
	case msg.JoinRoom != nil:
		c.joinRoom(msg)
	case msg.LeaveRoom != nil:
		c.leaveRoom(msg)
	case msg.SendMessage != nil:
		if !c.chatServer.limiter.Allow(context.Background(), msg.UserId, c.chatServer.messageRule) {
			c.queueMessage(ErrTooManyRequests(msg.Id))
			return
		}
		c.forward(msg)
	case msg.Typing != nil, msg.StopTyping != nil, msg.EditMessage != nil,
		msg.DeleteMessage != nil, msg.Seen != nil:
		c.forward(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// identify moves the session to Identified and records it in the presence
// registry.
func (c *Client) identify(msg *ClientMessage) {
	userId := msg.Online.UserId
	if userId == "" {
		c.queueMessage(ErrBadRequest(msg.Id, "userId is required"))
		return
	}
	if c.tokenUserId != "" && c.tokenUserId != userId {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	c.stateLock.Lock()
	if c.state == StateDisconnected || (c.userId != "" && c.userId != userId) {
		c.stateLock.Unlock()
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}
	c.userId = userId
	c.state = StateIdentified
	c.stateLock.Unlock()

	c.chatServer.identify(c, userId)
	c.queueMessage(NoErrOK(msg.Id, PresencePayload{UserId: userId}))
}

// forward hands a room-scoped frame to the room it addresses.
func (c *Client) forward(msg *ClientMessage) {
	r := c.getRoom(msg.roomId())
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	if resp := r.push(r.clientMsgChan, msg); resp != nil {
		c.queueMessage(resp)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
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
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup runs once the transport is gone, whatever state the session was in.
func (c *Client) cleanup() {
	c.stateLock.Lock()
	c.state = StateDisconnected
	c.stateLock.Unlock()

	c.chatServer.disconnect(c)
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		room.push(room.leaveChan, &ClientMessage{
			LeaveRoom: &LeaveRoom{RoomId: room.id, disconnect: true},
			UserId:    c.UserId(),
			client:    c,
		})
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	conv, err := c.chatServer.gateway.Conversation(context.Background(), msg.JoinRoom.RoomId)
	if err != nil {
		c.log.Printf("join %q: %v", msg.JoinRoom.RoomId, err)
		c.queueMessage(ErrFromApp(msg.Id, err))
		return
	}
	if !conv.HasParticipant(msg.UserId) {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	select {
	case c.chatServer.joinChan <- &joinRequest{msg: msg, conv: conv}:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	r := c.getRoom(msg.LeaveRoom.RoomId)
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	if resp := r.push(r.leaveChan, msg); resp != nil {
		c.queueMessage(resp)
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}

// InRooms returns the number of rooms the session has joined.
func (c *Client) InRooms() int {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return len(c.rooms)
}
