// Package match records likes and detects mutual likes.
package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/liwz/realtime/internal/apperr"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/events"
	"github.com/liwz/realtime/internal/notify"
	"github.com/liwz/realtime/internal/presence"
	"github.com/liwz/realtime/internal/stats"
)

const EventMatch = "match"

type Outcome struct {
	Matched bool
}

// Notifier queues a notification for asynchronous delivery.
type Notifier interface {
	Enqueue(userId string, n notify.Notice) bool
}

// MatchPayload is pushed to each side of a new match and describes the
// counterpart.
type MatchPayload struct {
	UserId string `json:"userId"`
	Name   string `json:"name"`
	Photo  string `json:"photo,omitempty"`
}

type Engine struct {
	db        database.Repository
	registry  *presence.Registry
	notifier  Notifier
	publisher events.Publisher
	stats     stats.StatsProvider
	log       *log.Logger
}

func NewEngine(db database.Repository, registry *presence.Registry, n Notifier, p events.Publisher, s stats.StatsProvider, l *log.Logger) *Engine {
	return &Engine{
		db:        db,
		registry:  registry,
		notifier:  n,
		publisher: p,
		stats:     s,
		log:       l,
	}
}

// Like records that likerId likes likedId and reports whether the pair now
// matches. Repeating a like is harmless: the like is stored once and the
// match is recorded and announced at most once per pair.
func (e *Engine) Like(ctx context.Context, likerId, likedId string) (Outcome, error) {
	if likerId == "" || likedId == "" {
		return Outcome{}, apperr.InvalidArgument("liker and liked ids are required")
	}
	if likerId == likedId {
		return Outcome{}, apperr.InvalidArgument("cannot like yourself")
	}

	liker, err := e.db.GetUser(ctx, likerId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Outcome{}, apperr.NotFound("user not found")
		}
		return Outcome{}, apperr.Persistence("load liker", err)
	}

	if _, err := e.db.GetUser(ctx, likedId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// liking a user that does not exist changes nothing
			return Outcome{Matched: false}, nil
		}
		return Outcome{}, apperr.Persistence("load liked user", err)
	}

	added, err := e.db.AddLike(ctx, likerId, likedId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Outcome{Matched: false}, nil
		}
		return Outcome{}, apperr.Persistence("add like", err)
	}

	if added {
		e.stats.Incr(stats.MetricLikes)
		e.notifier.Enqueue(likedId, notify.Notice{
			Event: notify.EventLiked,
			Kind:  notify.KindLike,
			Text:  fmt.Sprintf("%s liked your profile", displayName(liker)),
			Link:  "/profile/" + likerId,
		})
		e.publish(events.SubjectLikeCreated, events.LikeCreated{LikerId: likerId, LikedId: likedId, At: time.Now().UTC()})
	}

	// read the liked user again so a like that landed concurrently is seen
	liked, err := e.db.GetUser(ctx, likedId)
	if err != nil {
		return Outcome{}, apperr.Persistence("load liked user", err)
	}
	if !liked.HasLiked(likerId) {
		return Outcome{Matched: false}, nil
	}

	created, err := e.db.AddMatch(ctx, likerId, likedId)
	if err != nil {
		return Outcome{}, apperr.Persistence("add match", err)
	}
	if created {
		e.announce(liker, liked)
	}

	return Outcome{Matched: true}, nil
}

// announce pushes a live match event to whichever side is online.
func (e *Engine) announce(a, b database.User) {
	e.stats.Incr(stats.MetricMatches)
	e.log.Printf("match created between %q and %q", a.Id, b.Id)

	e.sendMatch(a.Id, b)
	e.sendMatch(b.Id, a)

	e.publish(events.SubjectMatchCreated, events.MatchCreated{Users: [2]string{a.Id, b.Id}, At: time.Now().UTC()})
}

func (e *Engine) sendMatch(to string, counterpart database.User) {
	h, ok := e.registry.Lookup(to)
	if !ok {
		return
	}

	if !h.Send(EventMatch, MatchPayload{
		UserId: counterpart.Id,
		Name:   counterpart.Name,
		Photo:  counterpart.Photo,
	}) {
		e.log.Printf("match: live delivery to %q dropped", to)
	}
}

func (e *Engine) publish(subject string, payload any) {
	if err := e.publisher.Publish(subject, payload); err != nil {
		e.log.Printf("publish %s: %v", subject, err)
	}
}

func displayName(u database.User) string {
	if u.Name != "" {
		return u.Name
	}
	return "Someone"
}
