package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"community-chat/internal/auth"
	"community-chat/internal/database"
	"community-chat/internal/models"
	"community-chat/pkg/logger"
)

// RoomHandlers serves the small REST surface next to the websocket: history
// pagination backed by the same store the pipeline persists into.
type RoomHandlers struct {
	store       database.Store
	authService *auth.Service
}

func NewRoomHandlers(store database.Store, authService *auth.Service) *RoomHandlers {
	return &RoomHandlers{store: store, authService: authService}
}

// GetRoomMessages handles GET /rooms/{id}/messages?before=&limit=
func (h *RoomHandlers) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 4 || parts[3] != "messages" {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	roomID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetRoomByID(r.Context(), roomID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		logger.Error("Error loading room %d: %v", roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	member, err := h.store.IsMember(r.Context(), user.ID, roomID)
	if err != nil {
		logger.Error("Error checking membership for room %d: %v", roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "not a member of this room", http.StatusForbidden)
		return
	}

	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	messages, err := h.store.LoadRecentMessages(r.Context(), roomID, before, limit)
	if err != nil {
		logger.Error("Error loading messages for room %d: %v", roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

// authenticate pulls the bearer token (or ?token= fallback, matching the
// websocket handshake) and resolves it to a user snapshot.
func (h *RoomHandlers) authenticate(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return nil, false
	}

	user, err := h.authService.UserFromToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return nil, false
	}
	return user, true
}
