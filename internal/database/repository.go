package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user, conversation or message does not exist.
var ErrNotFound = errors.New("record not found")

type Repository interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id string) (User, error)
	SaveUser(ctx context.Context, u User) error
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
	ResetUnread(ctx context.Context, id string) error
	IncrementUnread(ctx context.Context, id string) (int, error)
	AddLike(ctx context.Context, likerId, likedId string) (bool, error)
	AddMatch(ctx context.Context, a, b string) (bool, error)

	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, userId string) ([]Notification, error)
	MarkNotificationsRead(ctx context.Context, userId string) error

	GetConversation(ctx context.Context, id string) (Conversation, error)
	FindConversation(ctx context.Context, a, b string) (Conversation, error)
	ListConversations(ctx context.Context, userId string) ([]Conversation, error)
	CreateConversation(ctx context.Context, a, b string) (Conversation, error)

	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	UpdateMessageBody(ctx context.Context, id string, body Body) (Message, error)
	DeleteMessage(ctx context.Context, id string) error
	MarkSeen(ctx context.Context, conversationId, viewerId string) (int64, error)
	ListMessages(ctx context.Context, conversationId string) ([]Message, error)
}
