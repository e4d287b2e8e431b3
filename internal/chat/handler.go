package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"ai-chat/internal/cache"
	myMiddleware "ai-chat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// TokenValidator is what we need from the user service to gate
// connections. Interface keeps the packages loosely coupled.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type Handler struct {
	hub       *Hub
	svc       *Service
	repo      *Repository
	cache     *cache.Cache
	validator TokenValidator
}

func NewHandler(hub *Hub, svc *Service, repo *Repository, c *cache.Cache, validator TokenValidator) *Handler {
	return &Handler{
		hub:       hub,
		svc:       svc,
		repo:      repo,
		cache:     c,
		validator: validator,
	}
}

// extractToken applies the connect-time credential precedence:
// explicit auth field, then Authorization header, then plain query
// fallback.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("auth_token"); token != "" {
		return token
	}
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// ServeWs is the authentication gate in front of the registry: no
// connection state exists until the credential checks out.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		http.Error(w, "authentication token required", http.StatusUnauthorized)
		return
	}

	userID, username, err := h.validator.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
		return
	}
	if userID == 0 {
		http.Error(w, "invalid token: missing user id", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := NewClient(h.hub, h.svc, conn, userID, username)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// ---------------------------------------------
// 🌐 REST API (behind JWT middleware)
// ---------------------------------------------

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "New Conversation"
	}

	conv, err := h.repo.CreateConversation(r.Context(), userID, req.Title)
	if err != nil {
		http.Error(w, "could not create conversation", http.StatusInternalServerError)
		return
	}
	conv.UserID = userID

	h.cache.InvalidateConversationList(r.Context(), userID)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := cache.ConversationListKey(userID)
	if cached, ok := h.cache.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	convs, err := h.repo.ListConversations(r.Context(), userID)
	if err != nil {
		http.Error(w, "could not load conversations", http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []*Conversation{}
	}

	body, _ := json.Marshal(convs)
	h.cache.SetTTL(r.Context(), key, string(body), cache.DefaultTTL)

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	_, conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	key := cache.MessagesKey(conv.ID)
	if cached, ok := h.cache.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	msgs, err := h.repo.GetMessages(r.Context(), conv.ID, 50)
	if err != nil {
		http.Error(w, "could not load messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}

	body, _ := json.Marshal(msgs)
	h.cache.SetTTL(r.Context(), key, string(body), cache.DefaultTTL)

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	if err := h.repo.SoftDeleteConversation(r.Context(), conv.ID); err != nil {
		http.Error(w, "could not delete conversation", http.StatusInternalServerError)
		return
	}

	h.cache.InvalidateConversation(r.Context(), conv.ID)
	h.cache.InvalidateConversationList(r.Context(), userID)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PinMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	messageID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.TogglePin(r.Context(), userID, messageID, req.Pinned); err != nil {
		var authErr *AuthorizationError
		if errors.As(err, &authErr) {
			http.Error(w, authErr.Error(), http.StatusForbidden)
			return
		}
		http.Error(w, "could not pin message", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ownedConversation loads the {id} conversation and enforces
// ownership, writing the HTTP error itself when the check fails.
func (h *Handler) ownedConversation(w http.ResponseWriter, r *http.Request) (int, *Conversation, bool) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, nil, false
	}

	convID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return 0, nil, false
	}

	conv, err := h.repo.GetConversation(r.Context(), convID)
	if err != nil || conv.DeletedAt != nil || conv.UserID != userID {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return 0, nil, false
	}
	return userID, conv, true
}

// PresenceInConversation exposes the distinct online users in a
// channel; handy for a sidebar presence endpoint.
func (h *Handler) PresenceInConversation(w http.ResponseWriter, r *http.Request) {
	_, conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	users := h.hub.UsersInConversation(conv.ID)
	if users == nil {
		users = []int{}
	}
	json.NewEncoder(w).Encode(map[string]any{"user_ids": users})
}
