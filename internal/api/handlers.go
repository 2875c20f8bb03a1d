package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/liwz/realtime/internal/ratelimit"
	"github.com/liwz/realtime/internal/server"
	"github.com/liwz/realtime/internal/types"
)

func (s *RealtimeApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RealtimeApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Println(errResp.Error())
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *RealtimeApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveWs upgrades the connection. When the request carried a token the
// session may only identify as that user.
func (s *RealtimeApp) serveWs(w http.ResponseWriter, r *http.Request) {
	tokenUserId, _ := UserId(r.Context())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.cs, tokenUserId, s.log)
	s.cs.Register(client)

	go client.Write()
	go client.Read()
}

func (s *RealtimeApp) like(w http.ResponseWriter, r *http.Request) {
	likerId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	likedId := r.PathValue("id")
	if likedId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	if !s.limiter.Allow(r.Context(), likerId, ratelimit.RuleLike) {
		s.writeError(w, NewTooManyRequestsError())
		return
	}

	out, err := s.engine.Like(r.Context(), likerId, likedId)
	if err != nil {
		s.writeError(w, fromAppError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.LikeResult{Match: out.Matched})
}

func (s *RealtimeApp) getConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	conv, err := s.cs.Gateway().Resolve(r.Context(), userId, r.PathValue("userId"))
	if err != nil {
		s.writeError(w, fromAppError(err))
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *RealtimeApp) getInbox(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	inbox, err := s.cs.Gateway().Inbox(r.Context(), userId)
	if err != nil {
		s.writeError(w, fromAppError(err))
		return
	}

	s.writeJson(w, http.StatusOK, inbox)
}

func (s *RealtimeApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	gw := s.cs.Gateway()
	conv, err := gw.Conversation(r.Context(), roomId)
	if err != nil {
		s.writeError(w, fromAppError(err))
		return
	}
	if !conv.HasParticipant(userId) {
		s.writeError(w, NewForbiddenError())
		return
	}

	msgs, err := gw.Messages(r.Context(), roomId)
	if err != nil {
		s.writeError(w, fromAppError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *RealtimeApp) getNotifications(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	list, err := s.dispatcher.List(r.Context(), userId)
	if err != nil {
		s.writeError(w, fromAppError(err))
		return
	}

	s.writeJson(w, http.StatusOK, list)
}
