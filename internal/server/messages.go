package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/liwz/realtime/internal/apperr"
)

// Events pushed by the server.
const (
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
	EventTyping         = "typing"
	EventStopTyping     = "stopTyping"
	EventNewMessage     = "newMessage"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventSeen           = "seen"
	EventUnreadUpdate   = "unreadUpdate"
	EventDelivered      = "delivered"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a client. Exactly one of the event fields
// is expected to be set.
type ClientMessage struct {
	BaseMessage
	Online        *Online        `json:"online,omitempty"`
	JoinRoom      *JoinRoom      `json:"joinRoom,omitempty"`
	LeaveRoom     *LeaveRoom     `json:"leaveRoom,omitempty"`
	Typing        *Typing        `json:"typing,omitempty"`
	StopTyping    *Typing        `json:"stopTyping,omitempty"`
	SendMessage   *SendMessage   `json:"sendMessage,omitempty"`
	EditMessage   *EditMessage   `json:"editMessage,omitempty"`
	DeleteMessage *DeleteMessage `json:"deleteMessage,omitempty"`
	Seen          *Seen          `json:"seen,omitempty"`
	UserId        string         `json:"-"`
	client        *Client        `json:"-"`
}

type Online struct {
	UserId string `json:"userId"`
}

type JoinRoom struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId,omitempty"`
}

type LeaveRoom struct {
	RoomId     string `json:"roomId"`
	disconnect bool
}

type Typing struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId,omitempty"`
}

type SendMessage struct {
	RoomId    string `json:"roomId"`
	Sender    string `json:"sender,omitempty"`
	Receiver  string `json:"receiver,omitempty"`
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

type EditMessage struct {
	MessageId string `json:"messageId"`
	NewText   string `json:"newText"`
	RoomId    string `json:"roomId"`
}

type DeleteMessage struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

type Seen struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId,omitempty"`
}

// roomId returns the room a room-scoped frame is addressed to.
func (m *ClientMessage) roomId() string {
	switch {
	case m.Typing != nil:
		return m.Typing.RoomId
	case m.StopTyping != nil:
		return m.StopTyping.RoomId
	case m.SendMessage != nil:
		return m.SendMessage.RoomId
	case m.EditMessage != nil:
		return m.EditMessage.RoomId
	case m.DeleteMessage != nil:
		return m.DeleteMessage.RoomId
	case m.Seen != nil:
		return m.Seen.RoomId
	}
	return ""
}

// claimedUserId returns the user id the frame's payload claims to act as, if
// any.
func (m *ClientMessage) claimedUserId() string {
	switch {
	case m.JoinRoom != nil:
		return m.JoinRoom.UserId
	case m.Typing != nil:
		return m.Typing.UserId
	case m.StopTyping != nil:
		return m.StopTyping.UserId
	case m.SendMessage != nil:
		return m.SendMessage.Sender
	case m.Seen != nil:
		return m.Seen.UserId
	}
	return ""
}

// ServerMessage is either an acknowledgement of a client frame (Response set)
// or a pushed event (Event set).
type ServerMessage struct {
	BaseMessage
	Response   *Response `json:"response,omitempty"`
	Event      string    `json:"event,omitempty"`
	Data       any       `json:"data,omitempty"`
	SkipClient *Client   `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type PresencePayload struct {
	UserId string `json:"userId"`
}

type TypingPayload struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

type SeenPayload struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

type MessageDeletedPayload struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

type UnreadUpdatePayload struct {
	Count int `json:"count"`
}

type DeliveredPayload struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

func Event(name string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: name,
		Data:  data,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

func errResponse(id, code int, text string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        text,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "room not found")
}

func ErrNotFound(id int, text string) *ServerMessage {
	return errResponse(id, http.StatusNotFound, text)
}

func ErrForbidden(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "forbidden")
}

func ErrUnauthorized(id int) *ServerMessage {
	return errResponse(id, http.StatusUnauthorized, "identify with online first")
}

func ErrBadRequest(id int, text string) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, text)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return errResponse(id, http.StatusTooManyRequests, "too many requests")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

// ErrFromApp converts an apperr error into an acknowledgement for the
// originating client.
func ErrFromApp(id int, err error) *ServerMessage {
	msg := ""
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound, apperr.CodeInvalidTarget:
		return ErrNotFound(id, msg)
	case apperr.CodeForbidden:
		return ErrForbidden(id)
	case apperr.CodeInvalidArgument:
		return ErrBadRequest(id, msg)
	case apperr.CodeUnauthenticated:
		return ErrUnauthorized(id)
	}

	return ErrInternalError(id)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
