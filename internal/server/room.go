package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/liwz/realtime/internal/chat"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/events"
	"github.com/liwz/realtime/internal/stats"
)

const idleRoomTimeout = time.Second * 30

type exitReq struct {
	// idleOnly asks the room to exit only if it has no clients.
	idleOnly bool
	done     chan bool
}

// Room routes events for one conversation. A single goroutine owns the room,
// so persistence for a conversation happens one operation at a time and each
// broadcast follows the write it reports.
type Room struct {
	id            string
	conv          database.Conversation
	cs            *ChatServer
	joinChan      chan *joinRequest
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once it has been empty for idleRoomTimeout
	killTimer *time.Timer
	exit      chan exitReq
	// exited is set under exitLock before the exit path drains the channels
	exitLock sync.RWMutex
	exited   bool
}

func newRoom(cs *ChatServer, conv database.Conversation) *Room {
	return &Room{
		id:            conv.Id,
		conv:          conv,
		cs:            cs,
		joinChan:      make(chan *joinRequest, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
	}
}

func (r *Room) start() {
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join.msg)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if e.idleOnly && r.clientCount() > 0 {
				e.done <- false
				continue
			}
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleClientMessage(msg *ClientMessage) {
	// the sender may have left between forwarding and now
	if !r.hasClient(msg.client) {
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	switch {
	case msg.Typing != nil:
		r.relayTyping(msg, EventTyping)
	case msg.StopTyping != nil:
		r.relayTyping(msg, EventStopTyping)
	case msg.SendMessage != nil:
		r.saveAndBroadcast(msg)
	case msg.EditMessage != nil:
		r.editAndBroadcast(msg)
	case msg.DeleteMessage != nil:
		r.deleteAndBroadcast(msg)
	case msg.Seen != nil:
		r.markSeenAndBroadcast(msg)
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.id)
	select {
	case r.cs.unloadRoomChan <- r.id:
	default:
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// push queues msg on ch for the room goroutine. It returns the ack to send
// back when the frame cannot be queued.
func (r *Room) push(ch chan *ClientMessage, msg *ClientMessage) *ServerMessage {
	r.exitLock.RLock()
	defer r.exitLock.RUnlock()

	if r.exited {
		return ErrRoomNotFound(msg.Id)
	}

	select {
	case ch <- msg:
		return nil
	default:
		r.log.Printf("channel full for room %q", r.id)
		return ErrServiceUnavailable(msg.Id)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clients = make(map[*Client]struct{})
	r.clientLock.Unlock()

	r.exitLock.Lock()
	r.exited = true
	r.exitLock.Unlock()

	// frames that were queued before the room closed get an answer
	for _, ch := range []chan *ClientMessage{r.clientMsgChan, r.leaveChan} {
	frames:
		for {
			select {
			case msg := <-ch:
				if msg.LeaveRoom != nil && msg.LeaveRoom.disconnect {
					continue
				}
				msg.client.queueMessage(ErrRoomNotFound(msg.Id))
			default:
				break frames
			}
		}
	}

	// joins that raced the unload go back to the server to load a fresh room
drain:
	for {
		select {
		case join := <-r.joinChan:
			select {
			case r.cs.joinChan <- join:
			default:
				join.msg.client.queueMessage(ErrServiceUnavailable(join.msg.Id))
			}
		default:
			break drain
		}
	}

	if e.done != nil {
		e.done <- true
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	ctx := context.Background()
	if err := r.cs.db.ResetUnread(ctx, join.UserId); err != nil {
		r.log.Printf("ResetUnread %q: %v", join.UserId, err)
		if r.clientCount() == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		c.queueMessage(ErrInternalError(join.Id))
		return
	}

	r.addClient(c)

	c.queueMessage(NoErrOK(join.Id, chat.ToConversation(r.conv)))
	c.Send(EventUnreadUpdate, UnreadUpdatePayload{Count: 0})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	c := leaveMsg.client
	r.removeClient(c)

	if !leaveMsg.LeaveRoom.disconnect {
		c.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

func (r *Room) relayTyping(msg *ClientMessage, event string) {
	m := Event(event, TypingPayload{RoomId: r.id, UserId: msg.UserId})
	m.SkipClient = msg.client
	r.broadcast(m)
}

func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	ctx := context.Background()
	sm := msg.SendMessage

	saved, err := r.cs.gateway.Append(ctx, r.id, msg.UserId, database.Body{
		Text:      sm.Text,
		MediaURL:  sm.MediaURL,
		MediaType: sm.MediaType,
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrFromApp(msg.Id, err))
		return
	}

	r.cs.stats.Incr(stats.MetricMessages)
	msg.client.queueMessage(NoErrAccepted(msg.Id, map[string]string{"messageId": saved.Id}))

	r.broadcast(Event(EventNewMessage, saved))

	receiver := r.conv.Other(msg.UserId)
	count, err := r.cs.db.IncrementUnread(ctx, receiver)
	if err != nil {
		r.log.Printf("IncrementUnread %q: %v", receiver, err)
	} else if h, ok := r.cs.registry.Lookup(receiver); ok {
		h.Send(EventUnreadUpdate, UnreadUpdatePayload{Count: count})
		h.Send(EventDelivered, DeliveredPayload{MessageId: saved.Id, RoomId: r.id})
	}

	if err := r.cs.publisher.Publish(events.SubjectMessageCreated, events.MessageCreated{
		MessageId: saved.Id,
		RoomId:    r.id,
		SenderId:  msg.UserId,
		At:        saved.CreatedAt,
	}); err != nil {
		r.log.Printf("publish %s: %v", events.SubjectMessageCreated, err)
	}
}

func (r *Room) editAndBroadcast(msg *ClientMessage) {
	em := msg.EditMessage
	edited, err := r.cs.gateway.Edit(context.Background(), r.id, em.MessageId, msg.UserId, database.Body{Text: em.NewText})
	if err != nil {
		r.log.Printf("edit message %q: %v", em.MessageId, err)
		msg.client.queueMessage(ErrFromApp(msg.Id, err))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
	r.broadcast(Event(EventMessageEdited, edited))
}

func (r *Room) deleteAndBroadcast(msg *ClientMessage) {
	dm := msg.DeleteMessage
	if err := r.cs.gateway.Delete(context.Background(), r.id, dm.MessageId, msg.UserId); err != nil {
		r.log.Printf("delete message %q: %v", dm.MessageId, err)
		msg.client.queueMessage(ErrFromApp(msg.Id, err))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
	r.broadcast(Event(EventMessageDeleted, MessageDeletedPayload{MessageId: dm.MessageId, RoomId: r.id}))
}

func (r *Room) markSeenAndBroadcast(msg *ClientMessage) {
	if err := r.cs.gateway.MarkSeen(context.Background(), r.id, msg.UserId); err != nil {
		r.log.Printf("mark seen in %q: %v", r.id, err)
		msg.client.queueMessage(ErrFromApp(msg.Id, err))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))

	m := Event(EventSeen, SeenPayload{RoomId: r.id, UserId: msg.UserId})
	m.SkipClient = msg.client
	r.broadcast(m)
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.id)

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) hasClient(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) clientCount() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
