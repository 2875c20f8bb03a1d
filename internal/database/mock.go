package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) GetUser(ctx context.Context, id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) SaveUser(ctx context.Context, u User) error {
	args := m.Called(u)
	return args.Error(0)
}
func (m *MockRepository) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	args := m.Called(id, online, at)
	return args.Error(0)
}
func (m *MockRepository) ResetUnread(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) IncrementUnread(ctx context.Context, id string) (int, error) {
	args := m.Called(id)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) AddLike(ctx context.Context, likerId, likedId string) (bool, error) {
	args := m.Called(likerId, likedId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) AddMatch(ctx context.Context, a, b string) (bool, error) {
	args := m.Called(a, b)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	args := m.Called(n)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockRepository) ListNotifications(ctx context.Context, userId string) ([]Notification, error) {
	args := m.Called(userId)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockRepository) MarkNotificationsRead(ctx context.Context, userId string) error {
	args := m.Called(userId)
	return args.Error(0)
}
func (m *MockRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) FindConversation(ctx context.Context, a, b string) (Conversation, error) {
	args := m.Called(a, b)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) ListConversations(ctx context.Context, userId string) ([]Conversation, error) {
	args := m.Called(userId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockRepository) CreateConversation(ctx context.Context, a, b string) (Conversation, error) {
	args := m.Called(a, b)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) UpdateMessageBody(ctx context.Context, id string, body Body) (Message, error) {
	args := m.Called(id, body)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) DeleteMessage(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) MarkSeen(ctx context.Context, conversationId, viewerId string) (int64, error) {
	args := m.Called(conversationId, viewerId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) ListMessages(ctx context.Context, conversationId string) ([]Message, error) {
	args := m.Called(conversationId)
	return args.Get(0).([]Message), args.Error(1)
}
