package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"community-chat/internal/auth"
	"community-chat/internal/chat"
	"community-chat/internal/config"
	"community-chat/internal/database"
	"community-chat/internal/handlers"
	"community-chat/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize store
	store, err := database.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer store.Close()

	// Initialize services
	authService := auth.NewService(cfg)
	chatService := chat.New(store, authService, cfg.Chat)

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(authService, chatService, cfg)
	roomHandlers := handlers.NewRoomHandlers(store, authService)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, wsHandlers, roomHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Chat server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
	chatService.Stop()
}

func setupRoutes(mux *http.ServeMux, wsHandlers *handlers.WebSocketHandlers, roomHandlers *handlers.RoomHandlers) {
	// WebSocket route
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)

	// History pagination: /rooms/{id}/messages
	mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		roomHandlers.GetRoomMessages(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
