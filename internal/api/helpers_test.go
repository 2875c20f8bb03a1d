package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/liwz/realtime/internal/config"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/events"
	"github.com/liwz/realtime/internal/match"
	"github.com/liwz/realtime/internal/notify"
	"github.com/liwz/realtime/internal/server"
	"github.com/liwz/realtime/internal/stats"
	"github.com/liwz/realtime/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

type testApp struct {
	*RealtimeApp
	repo database.Repository
}

func newTestStats() *stats.MockStatsUpdater {
	st := &stats.MockStatsUpdater{}
	st.On("RegisterMetric", mock.Anything).Return().Maybe()
	st.On("Incr", mock.Anything).Return().Maybe()
	st.On("Decr", mock.Anything).Return().Maybe()
	return st
}

// newTestApp wires the app over an in-memory store holding u1, u2 and u3.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()
	logger := testutil.TestLogger(t)

	repo := database.NewMemoryRepository()
	for _, u := range []database.User{{Id: "u1", Name: "Ana"}, {Id: "u2", Name: "Ben"}, {Id: "u3", Name: "Cy"}} {
		require.NoError(t, repo.SaveUser(ctx, u))
	}

	st := newTestStats()
	cs, err := server.NewChatServer(logger, repo, st, server.Options{})
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	dispatcher := notify.NewDispatcher(repo, cs.Registry(), logger)
	engine := match.NewEngine(repo, cs.Registry(), dispatcher, events.Noop{}, st, logger)

	app := NewRealtimeApp(http.NewServeMux(), logger, repo, Services{
		ChatServer: cs,
		Engine:     engine,
		Dispatcher: dispatcher,
	}, &config.Config{
		ServerAddr: "localhost:0",
		SigningKey: testSigningKey,
	})

	return &testApp{RealtimeApp: app, repo: repo}
}

func signToken(t *testing.T, key []byte, userId string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{userIdClaim: userId})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func authedRequest(t *testing.T, method, target, userId string) *http.Request {
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: signToken(t, testSigningKey, userId)})
	return req
}
