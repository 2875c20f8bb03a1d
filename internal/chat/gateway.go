// Package chat is the persistence boundary for conversations and messages.
// Every mutation either completes in the store or returns an apperr error;
// broadcasting the result is left to the caller.
package chat

import (
	"context"
	"errors"

	"github.com/liwz/realtime/internal/apperr"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/types"
)

const (
	MediaImage = "image"
	MediaAudio = "audio"
)

type Gateway struct {
	db database.Repository
}

func NewGateway(db database.Repository) *Gateway {
	return &Gateway{db: db}
}

// Conversation loads a conversation by id.
func (g *Gateway) Conversation(ctx context.Context, roomId string) (database.Conversation, error) {
	c, err := g.db.GetConversation(ctx, roomId)
	if err != nil {
		return database.Conversation{}, storeErr("conversation not found", "load conversation", err)
	}
	return c, nil
}

// Append stores a new unseen message and moves the conversation's last
// message pointer to it.
func (g *Gateway) Append(ctx context.Context, roomId, senderId string, body database.Body) (types.Message, error) {
	if err := validateBody(body); err != nil {
		return types.Message{}, err
	}

	msg, err := g.db.CreateMessage(ctx, database.Message{
		ConversationId: roomId,
		SenderId:       senderId,
		Body:           body,
	})
	if err != nil {
		// an unresolvable conversation is a persistence failure, not a no-op
		return types.Message{}, apperr.Persistence("append message", err)
	}

	return ToMessage(msg), nil
}

// MarkSeen marks every message in the room not sent by viewerId as seen.
// Calling it again is a no-op.
func (g *Gateway) MarkSeen(ctx context.Context, roomId, viewerId string) error {
	if _, err := g.db.MarkSeen(ctx, roomId, viewerId); err != nil {
		return apperr.Persistence("mark seen", err)
	}
	return nil
}

// Edit replaces the body of a message in roomId sent by editorId.
func (g *Gateway) Edit(ctx context.Context, roomId, messageId, editorId string, body database.Body) (types.Message, error) {
	if err := validateBody(body); err != nil {
		return types.Message{}, err
	}

	existing, err := g.db.GetMessage(ctx, messageId)
	if err != nil {
		return types.Message{}, storeErr("message not found", "load message", err)
	}
	if existing.ConversationId != roomId {
		return types.Message{}, apperr.NotFound("message not found")
	}
	if existing.SenderId != editorId {
		return types.Message{}, apperr.Forbidden("only the sender may edit a message")
	}

	msg, err := g.db.UpdateMessageBody(ctx, messageId, body)
	if err != nil {
		return types.Message{}, storeErr("message not found", "edit message", err)
	}
	return ToMessage(msg), nil
}

// Delete removes a message in roomId sent by requesterId. A missing message
// is not an error.
func (g *Gateway) Delete(ctx context.Context, roomId, messageId, requesterId string) error {
	existing, err := g.db.GetMessage(ctx, messageId)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Persistence("load message", err)
	}
	if existing.ConversationId != roomId {
		return nil
	}
	if existing.SenderId != requesterId {
		return apperr.Forbidden("only the sender may delete a message")
	}

	if err := g.db.DeleteMessage(ctx, messageId); err != nil {
		return apperr.Persistence("delete message", err)
	}
	return nil
}

// Messages returns the room's messages oldest first.
func (g *Gateway) Messages(ctx context.Context, roomId string) ([]types.Message, error) {
	msgs, err := g.db.ListMessages(ctx, roomId)
	if err != nil {
		return nil, apperr.Persistence("list messages", err)
	}

	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = ToMessage(m)
	}
	return out, nil
}

// Resolve returns the conversation between a and b along with its messages,
// creating the conversation on first access.
func (g *Gateway) Resolve(ctx context.Context, a, b string) (types.ConversationWithMessages, error) {
	if a == b {
		return types.ConversationWithMessages{}, apperr.InvalidArgument("cannot open a conversation with yourself")
	}
	for _, id := range []string{a, b} {
		if _, err := g.db.GetUser(ctx, id); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return types.ConversationWithMessages{}, apperr.InvalidTarget("user not found")
			}
			return types.ConversationWithMessages{}, apperr.Persistence("load user", err)
		}
	}

	conv, err := g.db.FindConversation(ctx, a, b)
	if errors.Is(err, database.ErrNotFound) {
		conv, err = g.db.CreateConversation(ctx, a, b)
	}
	if err != nil {
		return types.ConversationWithMessages{}, apperr.Persistence("resolve conversation", err)
	}

	msgs, err := g.Messages(ctx, conv.Id)
	if err != nil {
		return types.ConversationWithMessages{}, err
	}

	return types.ConversationWithMessages{
		Conversation: ToConversation(conv),
		Messages:     msgs,
	}, nil
}

// Inbox lists userId's conversations, most recently updated first, each with
// the counterpart and the last message. Matched users that have no
// conversation yet follow at the end.
func (g *Gateway) Inbox(ctx context.Context, userId string) ([]types.InboxEntry, error) {
	me, err := g.db.GetUser(ctx, userId)
	if err != nil {
		return nil, storeErr("user not found", "load user", err)
	}

	convs, err := g.db.ListConversations(ctx, userId)
	if err != nil {
		return nil, apperr.Persistence("list conversations", err)
	}

	out := make([]types.InboxEntry, 0, len(convs)+len(me.Matches))
	talking := make(map[string]bool, len(convs))
	for _, c := range convs {
		otherId := c.Other(userId)
		talking[otherId] = true

		other, err := g.db.GetUser(ctx, otherId)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Persistence("load counterpart", err)
		}

		conv := ToConversation(c)
		entry := types.InboxEntry{User: ToUser(other), Conversation: &conv}
		if c.LastMessageId != "" {
			last, err := g.db.GetMessage(ctx, c.LastMessageId)
			switch {
			case err == nil:
				m := ToMessage(last)
				entry.LastMessage = &m
			case !errors.Is(err, database.ErrNotFound):
				return nil, apperr.Persistence("load last message", err)
			}
		}
		out = append(out, entry)
	}

	for _, id := range me.Matches {
		if talking[id] {
			continue
		}
		u, err := g.db.GetUser(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Persistence("load match", err)
		}
		out = append(out, types.InboxEntry{User: ToUser(u)})
	}

	return out, nil
}

func validateBody(b database.Body) error {
	if b.Empty() {
		return apperr.InvalidArgument("message body is empty")
	}
	if b.MediaURL != "" && b.MediaType != MediaImage && b.MediaType != MediaAudio {
		return apperr.InvalidArgument("unsupported media type")
	}
	return nil
}

func storeErr(notFoundMsg, op string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperr.NotFound(notFoundMsg)
	}
	return apperr.Persistence(op, err)
}

func ToMessage(m database.Message) types.Message {
	return types.Message{
		Id:        m.Id,
		RoomId:    m.ConversationId,
		Sender:    m.SenderId,
		Text:      m.Body.Text,
		MediaURL:  m.Body.MediaURL,
		MediaType: m.Body.MediaType,
		Seen:      m.Seen,
		Edited:    m.Edited,
		CreatedAt: m.CreatedAt,
	}
}

func ToConversation(c database.Conversation) types.Conversation {
	return types.Conversation{
		Id:            c.Id,
		Participants:  c.Participants(),
		LastMessageId: c.LastMessageId,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func ToUser(u database.User) types.User {
	return types.User{
		Id:         u.Id,
		Name:       u.Name,
		Photo:      u.Photo,
		Online:     u.Online,
		LastActive: u.LastActive,
	}
}
