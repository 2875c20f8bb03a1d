package database

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// MemoryRepository is a process-local Repository used by tests and by the
// "memory" store mode. All methods are safe for concurrent use.
type MemoryRepository struct {
	mu            sync.Mutex
	users         map[string]*User
	conversations map[string]*Conversation
	pairs         map[[2]string]string
	messages      map[string]*Message
	seq           map[string]int64
	nextSeq       int64
	notifications map[string][]Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		pairs:         make(map[[2]string]string),
		messages:      make(map[string]*Message),
		seq:           make(map[string]int64),
		notifications: make(map[string][]Notification),
	}
}

func (m *MemoryRepository) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryRepository) GetUser(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}

	return copyUser(u), nil
}

func (m *MemoryRepository) SaveUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.users[u.Id]; ok {
		existing.Name = u.Name
		existing.Photo = u.Photo
		existing.UpdatedAt = now
		return nil
	}

	stored := copyUser(&u)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.LastActive.IsZero() {
		stored.LastActive = now
	}
	m.users[u.Id] = &stored
	return nil
}

func (m *MemoryRepository) SetPresence(_ context.Context, id string, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Online = online
	u.LastActive = at
	return nil
}

func (m *MemoryRepository) ResetUnread(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.UnreadCount = 0
	return nil
}

func (m *MemoryRepository) IncrementUnread(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	u.UnreadCount++
	return u.UnreadCount, nil
}

func (m *MemoryRepository) AddLike(_ context.Context, likerId, likedId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	liker, ok := m.users[likerId]
	if !ok {
		return false, ErrNotFound
	}
	if _, ok := m.users[likedId]; !ok {
		return false, ErrNotFound
	}
	if slices.Contains(liker.Likes, likedId) {
		return false, nil
	}

	liker.Likes = append(liker.Likes, likedId)
	return true, nil
}

func (m *MemoryRepository) AddMatch(_ context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ua, ok := m.users[a]
	if !ok {
		return false, ErrNotFound
	}
	ub, ok := m.users[b]
	if !ok {
		return false, ErrNotFound
	}

	created := false
	if !slices.Contains(ua.Matches, b) {
		ua.Matches = append(ua.Matches, b)
		created = true
	}
	if !slices.Contains(ub.Matches, a) {
		ub.Matches = append(ub.Matches, a)
		created = true
	}

	return created, nil
}

func (m *MemoryRepository) CreateNotification(_ context.Context, n Notification) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[n.UserId]; !ok {
		return Notification{}, ErrNotFound
	}

	n.Id = uuid.NewString()
	n.SchemaVersion = SchemaVersion
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	m.notifications[n.UserId] = append(m.notifications[n.UserId], n)
	return n, nil
}

func (m *MemoryRepository) ListNotifications(_ context.Context, userId string) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.notifications[userId]
	out := make([]Notification, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (m *MemoryRepository) MarkNotificationsRead(_ context.Context, userId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications[userId] {
		m.notifications[userId][i].Read = true
	}
	return nil
}

func (m *MemoryRepository) GetConversation(_ context.Context, id string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

func (m *MemoryRepository) FindConversation(_ context.Context, a, b string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, b = orderedPair(a, b)
	id, ok := m.pairs[[2]string{a, b}]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *m.conversations[id], nil
}

func (m *MemoryRepository) ListConversations(_ context.Context, userId string) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Conversation, 0)
	for _, c := range m.conversations {
		if c.HasParticipant(userId) {
			out = append(out, *c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (m *MemoryRepository) CreateConversation(_ context.Context, a, b string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, b = orderedPair(a, b)
	if a == b {
		return Conversation{}, fmt.Errorf("conversation requires two distinct participants")
	}
	if id, ok := m.pairs[[2]string{a, b}]; ok {
		return *m.conversations[id], nil
	}

	id, err := shortid.Generate()
	if err != nil {
		return Conversation{}, fmt.Errorf("generate conversation id: %w", err)
	}

	now := time.Now().UTC()
	c := &Conversation{
		Id:           id,
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[id] = c
	m.pairs[[2]string{a, b}] = id
	return *c, nil
}

func (m *MemoryRepository) CreateMessage(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationId]
	if !ok {
		return Message{}, ErrNotFound
	}

	msg.Id = uuid.NewString()
	msg.SchemaVersion = SchemaVersion
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt

	stored := msg
	m.messages[msg.Id] = &stored
	m.nextSeq++
	m.seq[msg.Id] = m.nextSeq

	c.LastMessageId = msg.Id
	c.UpdatedAt = msg.CreatedAt
	return msg, nil
}

func (m *MemoryRepository) GetMessage(_ context.Context, id string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return *msg, nil
}

func (m *MemoryRepository) UpdateMessageBody(_ context.Context, id string, body Body) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	msg.Body = body
	msg.Edited = true
	msg.UpdatedAt = time.Now().UTC()
	return *msg, nil
}

func (m *MemoryRepository) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil
	}
	delete(m.messages, id)
	delete(m.seq, id)

	if c, ok := m.conversations[msg.ConversationId]; ok && c.LastMessageId == id {
		c.LastMessageId = ""
		remaining := m.sortedLocked(msg.ConversationId)
		if len(remaining) > 0 {
			c.LastMessageId = remaining[len(remaining)-1].Id
		}
	}
	return nil
}

func (m *MemoryRepository) MarkSeen(_ context.Context, conversationId, viewerId string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, msg := range m.messages {
		if msg.ConversationId == conversationId && msg.SenderId != viewerId && !msg.Seen {
			msg.Seen = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListMessages(_ context.Context, conversationId string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sortedLocked(conversationId), nil
}

// sortedLocked returns the conversation's messages oldest first. Ties on
// creation time fall back to insertion order.
func (m *MemoryRepository) sortedLocked(conversationId string) []Message {
	out := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.ConversationId == conversationId {
			out = append(out, *msg)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.seq[out[i].Id] < m.seq[out[j].Id]
	})
	return out
}

func copyUser(u *User) User {
	c := *u
	c.Likes = slices.Clone(u.Likes)
	c.Matches = slices.Clone(u.Matches)
	return c
}
