package database

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPgRepository connects to the database named by LIWZ_TEST_DSN and
// applies the migrations. Tests are skipped when it is not set.
func newTestPgRepository(t *testing.T) *PgRepository {
	t.Helper()
	dsn := os.Getenv("LIWZ_TEST_DSN")
	if dsn == "" {
		t.Skip("LIWZ_TEST_DSN not set")
	}

	require.NoError(t, Migrate(dsn))

	repo, err := NewPgRepository(dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}

	t.Cleanup(func() {
		repo.conn.Exec("TRUNCATE messages, conversations, notifications, matches, likes, users CASCADE")
		repo.Close()
	})
	return repo
}

func TestPgRepository_MessageRoundTrip(t *testing.T) {
	repo := newTestPgRepository(t)
	ctx := context.Background()
	seedUsers(t, repo, "pg-u1", "pg-u2")

	conv, err := repo.CreateConversation(ctx, "pg-u2", "pg-u1")
	require.NoError(t, err)
	again, err := repo.CreateConversation(ctx, "pg-u1", "pg-u2")
	require.NoError(t, err)
	assert.Equal(t, conv.Id, again.Id)

	msg, err := repo.CreateMessage(ctx, Message{ConversationId: conv.Id, SenderId: "pg-u1", Body: Body{Text: "hello"}})
	require.NoError(t, err)

	_, err = repo.MarkSeen(ctx, conv.Id, "pg-u2")
	require.NoError(t, err)

	edited, err := repo.UpdateMessageBody(ctx, msg.Id, Body{Text: "hello!"})
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.True(t, edited.Seen)

	require.NoError(t, repo.DeleteMessage(ctx, msg.Id))
	require.NoError(t, repo.DeleteMessage(ctx, msg.Id))

	msgs, err := repo.ListMessages(ctx, conv.Id)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = repo.CreateMessage(ctx, Message{ConversationId: "missing", SenderId: "pg-u1", Body: Body{Text: "x"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgRepository_LikesAndMatches(t *testing.T) {
	repo := newTestPgRepository(t)
	ctx := context.Background()
	seedUsers(t, repo, "pg-u1", "pg-u2")

	added, err := repo.AddLike(ctx, "pg-u1", "pg-u2")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.AddLike(ctx, "pg-u1", "pg-u2")
	require.NoError(t, err)
	assert.False(t, added)

	created, err := repo.AddMatch(ctx, "pg-u1", "pg-u2")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.AddMatch(ctx, "pg-u2", "pg-u1")
	require.NoError(t, err)
	assert.False(t, created)

	u1, err := repo.GetUser(ctx, "pg-u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"pg-u2"}, u1.Likes)
	assert.Equal(t, []string{"pg-u2"}, u1.Matches)

	_, err = repo.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgRepository_ConcurrentMutualMatch(t *testing.T) {
	repo := newTestPgRepository(t)
	ctx := context.Background()
	seedUsers(t, repo, "pg-u1", "pg-u2")

	const n = 8
	var wg sync.WaitGroup
	results := make(chan bool, n)
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "pg-u1", "pg-u2"
			if i%2 == 1 {
				a, b = b, a
			}
			created, err := repo.AddMatch(ctx, a, b)
			if err != nil {
				errs <- err
				return
			}
			results <- created
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("AddMatch: %v", err)
	}

	created := 0
	for ok := range results {
		if ok {
			created++
		}
	}
	assert.Equal(t, 1, created)

	for _, id := range []string{"pg-u1", "pg-u2"} {
		u, err := repo.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Len(t, u.Matches, 1)
	}
}

func TestPgRepository_ListConversations(t *testing.T) {
	repo := newTestPgRepository(t)
	ctx := context.Background()
	seedUsers(t, repo, "pg-u1", "pg-u2", "pg-u3")

	c12, err := repo.CreateConversation(ctx, "pg-u1", "pg-u2")
	require.NoError(t, err)
	c13, err := repo.CreateConversation(ctx, "pg-u1", "pg-u3")
	require.NoError(t, err)

	_, err = repo.CreateMessage(ctx, Message{
		ConversationId: c12.Id,
		SenderId:       "pg-u2",
		Body:           Body{Text: "hi"},
		CreatedAt:      time.Now().UTC().Add(time.Minute),
	})
	require.NoError(t, err)

	convs, err := repo.ListConversations(ctx, "pg-u1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, c12.Id, convs[0].Id)
	assert.Equal(t, c13.Id, convs[1].Id)
	assert.NotEmpty(t, convs[0].LastMessageId)
}
