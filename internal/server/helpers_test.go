package server

import (
	"context"
	"testing"
	"time"

	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/stats"
	"github.com/liwz/realtime/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestStats() *stats.MockStatsUpdater {
	st := &stats.MockStatsUpdater{}
	st.On("RegisterMetric", mock.Anything).Return().Maybe()
	st.On("Incr", mock.Anything).Return().Maybe()
	st.On("Decr", mock.Anything).Return().Maybe()
	return st
}

func newTestChatServer(t *testing.T, db database.Repository, st stats.StatsProvider) *ChatServer {
	t.Helper()
	cs, err := NewChatServer(testutil.TestLogger(t), db, st, Options{})
	require.NoError(t, err)
	return cs
}

// newTestRepo returns a store with users u1 and u2 and their conversation.
func newTestRepo(t *testing.T) (*database.MemoryRepository, database.Conversation) {
	t.Helper()
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	require.NoError(t, repo.SaveUser(ctx, database.User{Id: "u1", Name: "Ana"}))
	require.NoError(t, repo.SaveUser(ctx, database.User{Id: "u2", Name: "Ben"}))
	require.NoError(t, repo.SaveUser(ctx, database.User{Id: "u3", Name: "Cy"}))
	conv, err := repo.CreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	return repo, conv
}

// newTestClient returns a client without a transport. Queued frames can be
// read back with drain.
func newTestClient(t *testing.T, cs *ChatServer, userId string) *Client {
	c := &Client{
		chatServer: cs,
		log:        testutil.TestLogger(t),
		send:       make(chan *ServerMessage, 64),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
	if userId != "" {
		c.userId = userId
		c.state = StateIdentified
	}
	return c
}

func newTestRoom(cs *ChatServer, conv database.Conversation) *Room {
	r := newRoom(cs, conv)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()
	return r
}

func drain(c *Client) []*ServerMessage {
	var out []*ServerMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func eventsNamed(msgs []*ServerMessage, name string) []*ServerMessage {
	var out []*ServerMessage
	for _, m := range msgs {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func responses(msgs []*ServerMessage) []*Response {
	var out []*Response
	for _, m := range msgs {
		if m.Response != nil {
			out = append(out, m.Response)
		}
	}
	return out
}
