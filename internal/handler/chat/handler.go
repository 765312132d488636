package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/session-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/session-chat/backend/internal/service/chat"
	"github.com/zhouzirui/session-chat/backend/internal/service/session"
	"github.com/zhouzirui/session-chat/backend/pkg/utils"
)

// Chatter 执行一次对话轮次
type Chatter interface {
	Chat(ctx context.Context, req chatService.Request) (chatService.Reply, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc     Chatter
	echoSession bool
	upgrader    websocket.Upgrader
}

// New 创建聊天处理器。echoSession 为 true 时响应中附带 session_id 与 timestamp。
func New(chatSvc Chatter, echoSession bool) *Handler {
	return &Handler{
		chatSvc:     chatSvc,
		echoSession: echoSession,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

type chatRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// handleChat 处理单轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chatSvc.Chat(r.Context(), chatService.Request{UserID: payload.UserID, Prompt: payload.Prompt})
	if err != nil {
		status, message := errorStatus(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.toResponse(reply))
}

func (h *Handler) toResponse(reply chatService.Reply) chatResponse {
	resp := chatResponse{Response: reply.Response}
	if h.echoSession {
		resp.SessionID = reply.SessionID
		resp.Timestamp = reply.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

// errorStatus 将服务错误映射为状态码与对外的通用描述，细节只保留在服务端日志中。
func errorStatus(err error) (int, string) {
	var validationErr *chatService.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, validationErr.Error()
	}

	var storeErr *session.StoreError
	if errors.As(err, &storeErr) {
		return http.StatusInternalServerError, "session management error"
	}

	var providerErr *ai.ProviderError
	if errors.As(err, &providerErr) {
		return http.StatusInternalServerError, "completion provider error"
	}

	return http.StatusInternalServerError, "internal server error"
}
