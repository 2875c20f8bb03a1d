// Package events publishes domain events for other services to consume.
// Publishing is best-effort: the real-time engine never waits on a consumer.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectLikeCreated    = "like.created"
	SubjectMatchCreated   = "match.created"
	SubjectMessageCreated = "message.created"
)

type Publisher interface {
	Publish(subject string, payload any) error
}

type LikeCreated struct {
	LikerId string    `json:"likerId"`
	LikedId string    `json:"likedId"`
	At      time.Time `json:"at"`
}

type MatchCreated struct {
	Users [2]string `json:"users"`
	At    time.Time `json:"at"`
}

type MessageCreated struct {
	MessageId string    `json:"messageId"`
	RoomId    string    `json:"roomId"`
	SenderId  string    `json:"senderId"`
	At        time.Time `json:"at"`
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, l *log.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("liwz-realtime"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Printf("nats: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	l.Printf("nats: connected to %s", nc.ConnectedUrl())
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return p.conn.Publish(subject, data)
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Noop discards every event. It is used when no NATS url is configured.
type Noop struct{}

func (Noop) Publish(string, any) error { return nil }
