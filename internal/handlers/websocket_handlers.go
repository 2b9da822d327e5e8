package handlers

import (
	"context"
	"net/http"

	"community-chat/internal/auth"
	"community-chat/internal/chat"
	"community-chat/internal/config"
	ws "community-chat/internal/websocket"
	"community-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	chatService *chat.Service
	cfg         *config.Config
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, chatService *chat.Service, cfg *config.Config) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		chatService: chatService,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get JWT token from query parameters
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	// Reject unauthenticated connections before upgrading
	if _, err := h.authService.UserFromToken(tokenStr); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(conn, h.chatService, h.cfg.Chat.SendBuffer)
	session, err := h.chatService.Connect(client, tokenStr)
	if err != nil {
		logger.Error("Error creating session: %v", err)
		conn.Close()
		return
	}
	client.Bind(session)

	// The upgraded connection outlives the handler; the request context
	// dies with it, so the pumps run on their own context.
	go client.WritePump()
	go client.ReadPump(context.Background())
}
