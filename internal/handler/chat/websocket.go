package chat

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	chatService "github.com/zhouzirui/session-chat/backend/internal/service/chat"
)

type outgoingFrame struct {
	Type string `json:"type"`
	chatResponse
	Error string `json:"error,omitempty"`
}

// handleWebSocket 在一条连接上连续处理多轮对话，每个入站帧与 POST /chat 的请求体相同。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var payload chatRequest
		if err := json.Unmarshal(data, &payload); err != nil {
			if !h.writeFrame(conn, outgoingFrame{Type: "error", Error: "invalid message"}) {
				return
			}
			continue
		}

		reply, err := h.chatSvc.Chat(ctx, chatService.Request{UserID: payload.UserID, Prompt: payload.Prompt})
		frame := outgoingFrame{Type: "reply"}
		if err != nil {
			_, message := errorStatus(err)
			frame = outgoingFrame{Type: "error", Error: message}
		} else {
			frame.chatResponse = h.toResponse(reply)
		}

		if !h.writeFrame(conn, frame) {
			return
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame outgoingFrame) bool {
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("[ws] write failed: %v", err)
		return false
	}
	return true
}
