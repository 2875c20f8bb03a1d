package server

import (
	"context"
	"log"
	"sync"

	"github.com/liwz/realtime/internal/chat"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/events"
	"github.com/liwz/realtime/internal/presence"
	"github.com/liwz/realtime/internal/ratelimit"
	"github.com/liwz/realtime/internal/stats"
)

type joinRequest struct {
	msg  *ClientMessage
	conv database.Conversation
}

// Options carries the optional collaborators of a ChatServer.
type Options struct {
	Registry    *presence.Registry
	Publisher   events.Publisher
	Limiter     *ratelimit.Limiter
	MessageRule ratelimit.Rule
}

// ChatServer owns the connected clients and the loaded rooms. Room loading
// and unloading is serialized through Run; client bookkeeping is guarded by
// clientsLock.
type ChatServer struct {
	log            *log.Logger
	db             database.Repository
	gateway        *chat.Gateway
	registry       *presence.Registry
	publisher      events.Publisher
	limiter        *ratelimit.Limiter
	messageRule    ratelimit.Rule
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.RWMutex
	// clientsWg counts registered clients whose cleanup has not finished
	clientsWg      sync.WaitGroup
	joinChan       chan *joinRequest
	unloadRoomChan chan string
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, st stats.StatsProvider, opts Options) (*ChatServer, error) {
	if opts.Registry == nil {
		opts.Registry = presence.NewRegistry()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.MessageRule.Key == "" {
		opts.MessageRule = ratelimit.RuleMessage
	}

	for _, name := range []string{stats.MetricClients, stats.MetricRooms, stats.MetricOnline, stats.MetricMessages} {
		st.RegisterMetric(name)
	}

	return &ChatServer{
		log:            logger,
		db:             db,
		gateway:        chat.NewGateway(db),
		registry:       opts.Registry,
		publisher:      opts.Publisher,
		limiter:        opts.Limiter,
		messageRule:    opts.MessageRule,
		stats:          st,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *joinRequest, 256),
		unloadRoomChan: make(chan string, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Registry() *presence.Registry {
	return cs.registry
}

func (cs *ChatServer) Gateway() *chat.Gateway {
	return cs.gateway
}

func (cs *ChatServer) Run() {
	for {
		select {
		case join := <-cs.joinChan:
			room, ok := cs.rooms[join.conv.Id]
			if !ok {
				room = newRoom(cs, join.conv)
				cs.rooms[room.id] = room
				cs.stats.Incr(stats.MetricRooms)
				go room.start()
			}

			select {
			case room.joinChan <- join:
			default:
				cs.log.Printf("join channel full on room %q", room.id)
				join.msg.client.queueMessage(ErrServiceUnavailable(join.msg.Id))
			}
		case id := <-cs.unloadRoomChan:
			r, ok := cs.rooms[id]
			if !ok {
				continue
			}

			done := make(chan bool)
			r.exit <- exitReq{idleOnly: true, done: done}
			if <-done {
				cs.unloadRoom(id)
			}
		case <-cs.stop:
			for id, r := range cs.rooms {
				done := make(chan bool)
				r.exit <- exitReq{done: done}
				<-done
				cs.unloadRoom(id)
			}

			close(cs.done)
			return
		}
	}
}

// Register adds a newly upgraded connection.
func (cs *ChatServer) Register(c *Client) {
	cs.clientsLock.Lock()
	cs.clients[c] = struct{}{}
	cs.clientsWg.Add(1)
	cs.clientsLock.Unlock()

	cs.stats.Incr(stats.MetricClients)
}

// identify records c as the live connection for userId, mirrors the
// transition into the user store, and tells every other client. Transitions
// for one user run one at a time so the store and the broadcasts end in the
// same state as the registry.
func (cs *ChatServer) identify(c *Client, userId string) {
	unlock := cs.registry.LockUser(userId)
	defer unlock()

	prev, replaced := cs.registry.SetOnline(userId, c)
	if replaced && prev == c {
		return
	}
	if !replaced {
		cs.stats.Incr(stats.MetricOnline)
	}

	cs.mirrorPresence(userId, true)
	cs.broadcast(Event(EventUserOnline, PresencePayload{UserId: userId}), c)
}

// disconnect removes c. The user goes offline only if c is still their
// registered connection.
func (cs *ChatServer) disconnect(c *Client) {
	cs.clientsLock.Lock()
	_, ok := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	if ok {
		defer cs.clientsWg.Done()
		cs.stats.Decr(stats.MetricClients)
	}

	userId := c.UserId()
	if userId == "" {
		return
	}

	unlock := cs.registry.LockUser(userId)
	defer unlock()

	if !cs.registry.ClearOnline(userId, c) {
		return
	}

	cs.stats.Decr(stats.MetricOnline)
	cs.mirrorPresence(userId, false)
	cs.broadcast(Event(EventUserOffline, PresencePayload{UserId: userId}), c)
}

func (cs *ChatServer) mirrorPresence(userId string, online bool) {
	if err := cs.db.SetPresence(context.Background(), userId, online, Now()); err != nil {
		cs.log.Printf("SetPresence %q: %v", userId, err)
	}
}

// broadcast queues msg on every connected client except skip.
func (cs *ChatServer) broadcast(msg *ServerMessage, skip *Client) {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	for c := range cs.clients {
		if c == skip {
			continue
		}
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) unloadRoom(roomId string) {
	if _, ok := cs.rooms[roomId]; ok {
		delete(cs.rooms, roomId)
		cs.stats.Decr(stats.MetricRooms)
	}
}

// Shutdown disconnects every client and stops all rooms. It returns once
// the rooms have stopped and every client finished its cleanup, or early
// with ctx's error.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.RLock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.RUnlock()

	close(cs.stop)

	cleaned := make(chan struct{})
	go func() {
		cs.clientsWg.Wait()
		close(cleaned)
	}()

	for _, ch := range []chan struct{}{cs.done, cleaned} {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
