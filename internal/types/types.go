package types

import (
	"time"
)

type User struct {
	Id         string    `json:"id"`
	Name       string    `json:"name"`
	Photo      string    `json:"photo,omitempty"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

type Conversation struct {
	Id            string    `json:"id"`
	Participants  []string  `json:"participants"`
	LastMessageId string    `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

type Message struct {
	Id        string    `json:"id"`
	RoomId    string    `json:"roomId"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	MediaType string    `json:"mediaType,omitempty"`
	Seen      bool      `json:"seen"`
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notification struct {
	Id        string    `json:"id"`
	Kind      string    `json:"kind,omitempty"`
	Text      string    `json:"text"`
	Link      string    `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}

type LikeResult struct {
	Match bool `json:"match"`
}

// InboxEntry is one row of a user's conversation list. Matched users without
// a conversation yet have no Conversation and no LastMessage.
type InboxEntry struct {
	User         User          `json:"user"`
	Conversation *Conversation `json:"conversation,omitempty"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
}
