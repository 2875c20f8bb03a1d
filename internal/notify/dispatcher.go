// Package notify stores notifications and pushes them to users who are
// online.
package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/liwz/realtime/internal/apperr"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/presence"
	"github.com/liwz/realtime/internal/types"
)

const (
	EventNotification = "notification"
	EventLiked        = "liked"

	KindLike    = "like"
	KindMessage = "message"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 512
	deliverTimeout   = 5 * time.Second
)

// Notice describes a notification to deliver. Event names the live event and
// defaults to EventNotification.
type Notice struct {
	Event string
	Kind  string
	Text  string
	Link  string
}

type job struct {
	userId string
	notice Notice
}

type Dispatcher struct {
	db       database.Repository
	registry *presence.Registry
	log      *log.Logger
	queue    chan job
	done     chan struct{}
	wg       sync.WaitGroup

	// stopMu orders Enqueue against Stop: once stopped is set no job can
	// reach the queue.
	stopMu  sync.RWMutex
	stopped bool
}

func NewDispatcher(db database.Repository, registry *presence.Registry, l *log.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		registry: registry,
		log:      l,
		queue:    make(chan job, defaultQueueSize),
		done:     make(chan struct{}),
	}
}

// Notify stores the notification for userId and, if the user is online,
// pushes it on their connection. The stored copy is written even when live
// delivery is not possible.
func (d *Dispatcher) Notify(ctx context.Context, userId string, n Notice) (types.Notification, error) {
	stored, err := d.db.CreateNotification(ctx, database.Notification{
		UserId: userId,
		Kind:   n.Kind,
		Text:   n.Text,
		Link:   n.Link,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Notification{}, apperr.InvalidTarget("user not found")
		}
		return types.Notification{}, apperr.Persistence("create notification", err)
	}

	out := ToNotification(stored)

	if h, ok := d.registry.Lookup(userId); ok {
		event := n.Event
		if event == "" {
			event = EventNotification
		}
		if !h.Send(event, out) {
			d.log.Printf("notify: live delivery to %q dropped", userId)
		}
	}

	return out, nil
}

// Enqueue schedules an asynchronous Notify. It never blocks; when the queue is
// full the notification is dropped and logged.
func (d *Dispatcher) Enqueue(userId string, n Notice) bool {
	d.stopMu.RLock()
	defer d.stopMu.RUnlock()

	if d.stopped {
		return false
	}

	select {
	case d.queue <- job{userId: userId, notice: n}:
		return true
	default:
		d.log.Printf("notify: queue full, dropping notification for %q", userId)
		return false
	}
}

// Run starts the workers that drain the queue.
func (d *Dispatcher) Run() {
	for range defaultWorkers {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		case <-d.done:
			// finish what was already accepted
			for {
				select {
				case j := <-d.queue:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if _, err := d.Notify(ctx, j.userId, j.notice); err != nil {
		d.log.Printf("notify %q: %v", j.userId, err)
	}
}

// Stop stops accepting work and returns once every accepted notification
// has been delivered.
func (d *Dispatcher) Stop() {
	d.stopMu.Lock()
	if d.stopped {
		d.stopMu.Unlock()
		return
	}
	d.stopped = true
	close(d.done)
	d.stopMu.Unlock()

	d.wg.Wait()

	// without running workers the queue is drained here
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		default:
			return
		}
	}
}

// List returns userId's notifications newest first, then marks them read.
// The returned records carry their state from before the call.
func (d *Dispatcher) List(ctx context.Context, userId string) ([]types.Notification, error) {
	stored, err := d.db.ListNotifications(ctx, userId)
	if err != nil {
		return nil, apperr.Persistence("list notifications", err)
	}

	if err := d.db.MarkNotificationsRead(ctx, userId); err != nil {
		return nil, apperr.Persistence("mark notifications read", err)
	}

	out := make([]types.Notification, len(stored))
	for i, n := range stored {
		out[i] = ToNotification(n)
	}
	return out, nil
}

func ToNotification(n database.Notification) types.Notification {
	return types.Notification{
		Id:        n.Id,
		Kind:      n.Kind,
		Text:      n.Text,
		Link:      n.Link,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
