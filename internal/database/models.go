package database

import (
	"slices"
	"time"
)

// SchemaVersion is stamped on every message and notification row written by
// this service. Rows with an older version are normalized by the store before
// they reach the engine.
const SchemaVersion = 1

type User struct {
	Id          string
	Name        string
	Photo       string
	Online      bool
	LastActive  time.Time
	UnreadCount int
	Likes       []string
	Matches     []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (u User) HasLiked(id string) bool {
	return slices.Contains(u.Likes, id)
}

func (u User) HasMatched(id string) bool {
	return slices.Contains(u.Matches, id)
}

// Conversation is identified by its unordered participant pair. ParticipantA
// always sorts before ParticipantB.
type Conversation struct {
	Id            string
	ParticipantA  string
	ParticipantB  string
	LastMessageId string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

func (c Conversation) HasParticipant(userId string) bool {
	return userId != "" && (c.ParticipantA == userId || c.ParticipantB == userId)
}

// Other returns the participant that is not userId.
func (c Conversation) Other(userId string) string {
	switch userId {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

type Body struct {
	Text      string
	MediaURL  string
	MediaType string
}

func (b Body) Empty() bool {
	return b.Text == "" && b.MediaURL == ""
}

type Message struct {
	Id             string
	ConversationId string
	SenderId       string
	Body           Body
	Seen           bool
	Edited         bool
	SchemaVersion  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Notification struct {
	Id            string
	UserId        string
	Kind          string
	Text          string
	Link          string
	Read          bool
	SchemaVersion int
	CreatedAt     time.Time
}

// orderedPair returns a and b sorted so that an unordered pair always maps
// to the same key.
func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
