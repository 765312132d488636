package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/zhouzirui/session-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/session-chat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the chat service.
func NewRouter(chatSvc chat.Chatter, echoSession bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chat.New(chatSvc, echoSession).RegisterRoutes(r)

	return r
}
