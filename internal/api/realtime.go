package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/liwz/realtime/internal/config"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/match"
	"github.com/liwz/realtime/internal/notify"
	"github.com/liwz/realtime/internal/ratelimit"
	"github.com/liwz/realtime/internal/server"
)

type RealtimeApp struct {
	log            *log.Logger
	db             database.Repository
	srv            *http.Server
	cs             *server.ChatServer
	engine         *match.Engine
	dispatcher     *notify.Dispatcher
	limiter        *ratelimit.Limiter
	signingKey     []byte
	allowedOrigins []string
}

// Services groups the engine components the HTTP surface calls into.
type Services struct {
	ChatServer *server.ChatServer
	Engine     *match.Engine
	Dispatcher *notify.Dispatcher
	Limiter    *ratelimit.Limiter
}

func NewRealtimeApp(mux *http.ServeMux, logger *log.Logger, db database.Repository, svc Services, cfg *config.Config) *RealtimeApp {
	s := &RealtimeApp{
		log:            logger,
		db:             db,
		cs:             svc.ChatServer,
		engine:         svc.Engine,
		dispatcher:     svc.Dispatcher,
		limiter:        svc.Limiter,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /ws", s.identityMiddleware(s.serveWs))
	mux.Handle("POST /api/likes/{id}", s.authMiddleware(s.like))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.getInbox))
	mux.Handle("GET /api/conversations/{userId}", s.authMiddleware(s.getConversation))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/notifications", s.authMiddleware(s.getNotifications))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *RealtimeApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *RealtimeApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *RealtimeApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
