package match

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/liwz/realtime/internal/apperr"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/events"
	"github.com/liwz/realtime/internal/notify"
	"github.com/liwz/realtime/internal/presence"
	"github.com/liwz/realtime/internal/stats"
	"github.com/liwz/realtime/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type queued struct {
	userId string
	notice notify.Notice
}

type recordingNotifier struct {
	mu     sync.Mutex
	queued []queued
}

func (n *recordingNotifier) Enqueue(userId string, notice notify.Notice) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queued = append(n.queued, queued{userId: userId, notice: notice})
	return true
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queued)
}

type recordingHandle struct {
	mu      sync.Mutex
	matches []MatchPayload
}

func (h *recordingHandle) Send(event string, data any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if event == EventMatch {
		h.matches = append(h.matches, data.(MatchPayload))
	}
	return true
}

func (h *recordingHandle) received() []MatchPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]MatchPayload(nil), h.matches...)
}

type testEngine struct {
	*Engine
	repo     *database.MemoryRepository
	registry *presence.Registry
	notifier *recordingNotifier
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	require.NoError(t, repo.SaveUser(ctx, database.User{Id: "u1", Name: "Ana", Photo: "ana.jpg"}))
	require.NoError(t, repo.SaveUser(ctx, database.User{Id: "u2", Name: "Ben", Photo: "ben.jpg"}))

	st := &stats.MockStatsUpdater{}
	st.On("Incr", mock.Anything).Return()

	registry := presence.NewRegistry()
	n := &recordingNotifier{}
	return &testEngine{
		Engine:   NewEngine(repo, registry, n, events.Noop{}, st, testutil.TestLogger(t)),
		repo:     repo,
		registry: registry,
		notifier: n,
	}
}

func TestEngine_LikeScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	h1, h2 := &recordingHandle{}, &recordingHandle{}
	e.registry.SetOnline("u1", h1)
	e.registry.SetOnline("u2", h2)

	out, err := e.Like(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, out.Matched)

	out, err = e.Like(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.True(t, out.Matched)

	u1, _ := e.repo.GetUser(ctx, "u1")
	u2, _ := e.repo.GetUser(ctx, "u2")
	assert.Equal(t, []string{"u2"}, u1.Matches)
	assert.Equal(t, []string{"u1"}, u2.Matches)

	require.Len(t, h1.received(), 1)
	assert.Equal(t, MatchPayload{UserId: "u2", Name: "Ben", Photo: "ben.jpg"}, h1.received()[0])
	require.Len(t, h2.received(), 1)
	assert.Equal(t, MatchPayload{UserId: "u1", Name: "Ana", Photo: "ana.jpg"}, h2.received()[0])

	require.Equal(t, 2, e.notifier.count())
	assert.Equal(t, "u2", e.notifier.queued[0].userId)
	assert.Equal(t, notify.EventLiked, e.notifier.queued[0].notice.Event)
	assert.Equal(t, "Ana liked your profile", e.notifier.queued[0].notice.Text)
	assert.Equal(t, "/profile/u1", e.notifier.queued[0].notice.Link)
}

func TestEngine_LikeReplay(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	h1 := &recordingHandle{}
	e.registry.SetOnline("u1", h1)

	_, err := e.Like(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = e.Like(ctx, "u2", "u1")
	require.NoError(t, err)

	for range 3 {
		out, err := e.Like(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.True(t, out.Matched, "expected replayed like on a matched pair to report the match")
	}

	u1, _ := e.repo.GetUser(ctx, "u1")
	u2, _ := e.repo.GetUser(ctx, "u2")
	assert.Equal(t, []string{"u2"}, u1.Likes, "expected no duplicate like")
	assert.Equal(t, []string{"u2"}, u1.Matches, "expected no duplicate match")
	assert.Equal(t, []string{"u1"}, u2.Matches, "expected no duplicate match")
	assert.Len(t, h1.received(), 1, "expected the match event to fire once")
	assert.Equal(t, 2, e.notifier.count(), "expected no notification for a repeated like")
}

func TestEngine_LikeMissingTarget(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	out, err := e.Like(ctx, "u1", "ghost")
	require.NoError(t, err)
	assert.False(t, out.Matched)

	u1, _ := e.repo.GetUser(ctx, "u1")
	assert.Empty(t, u1.Likes, "expected no mutation for a missing target")
	assert.Equal(t, 0, e.notifier.count())
}

func TestEngine_LikeInvalid(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Like(ctx, "u1", "u1")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = e.Like(ctx, "", "u2")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = e.Like(ctx, "ghost", "u2")
	assert.True(t, apperr.IsNotFound(err))
}

func TestEngine_ConcurrentMutualLikes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	h1, h2 := &recordingHandle{}, &recordingHandle{}
	e.registry.SetOnline("u1", h1)
	e.registry.SetOnline("u2", h2)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.Like(ctx, "u1", "u2")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.Like(ctx, "u2", "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u1, _ := e.repo.GetUser(ctx, "u1")
	u2, _ := e.repo.GetUser(ctx, "u2")
	assert.Equal(t, []string{"u2"}, u1.Matches)
	assert.Equal(t, []string{"u1"}, u2.Matches)
	assert.Len(t, h1.received(), 1, "expected exactly one match event for u1")
	assert.Len(t, h2.received(), 1, "expected exactly one match event for u2")
}

func TestEngine_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	pub := &events.MockPublisher{}
	pub.On("Publish", events.SubjectLikeCreated, mock.AnythingOfType("events.LikeCreated")).Return(nil).Twice()
	pub.On("Publish", events.SubjectMatchCreated, mock.AnythingOfType("events.MatchCreated")).Return(errors.New("nats down")).Once()
	e.publisher = pub

	_, err := e.Like(ctx, "u1", "u2")
	require.NoError(t, err)
	out, err := e.Like(ctx, "u2", "u1")
	require.NoError(t, err, "expected a publish failure not to fail the like")
	assert.True(t, out.Matched)

	pub.AssertExpectations(t)
}

func TestEngine_StoreFailure(t *testing.T) {
	ctx := context.Background()
	repo := &database.MockRepository{}
	repo.On("GetUser", "u1").Return(database.User{Id: "u1"}, nil)
	repo.On("GetUser", "u2").Return(database.User{Id: "u2"}, nil)
	repo.On("AddLike", "u1", "u2").Return(false, errors.New("db down"))

	e := NewEngine(repo, presence.NewRegistry(), &recordingNotifier{}, events.Noop{}, &stats.MockStatsUpdater{}, testutil.TestLogger(t))
	_, err := e.Like(ctx, "u1", "u2")
	assert.Equal(t, apperr.CodePersistence, apperr.CodeOf(err))
	repo.AssertExpectations(t)
}
