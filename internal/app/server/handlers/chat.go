package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/services"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/logger"
)

type ChatHandler struct {
	history  *services.HistoryService
	seen     *services.SeenService
	users    *services.UserService
	presence *services.PresenceService
}

func NewChatHandler(
	history *services.HistoryService,
	seen *services.SeenService,
	users *services.UserService,
	presence *services.PresenceService,
) *ChatHandler {
	return &ChatHandler{
		history:  history,
		seen:     seen,
		users:    users,
		presence: presence,
	}
}

type ConversationsResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

type MessagesResponse struct {
	Messages []domain.WireMessage `json:"messages"`
	HasMore  bool                 `json:"hasMore"`
}

type SeenRequest struct {
	ChatID string `json:"chatId"`
}

type SeenResponse struct {
	ChatID string `json:"chatId"`
	Marked int    `json:"marked"`
}

type ProfileResponse struct {
	domain.UserProfile
	Online bool `json:"online"`
}

// Conversations handles GET /conversations.
func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	viewer, ok := currentUser(r)
	if !ok {
		writeError(w, r, domain.ErrUnauthorized)
		return
	}
	convs, err := h.history.Conversations(r.Context(), viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationsResponse{Conversations: convs})
}

// Messages handles GET /chat?peerId=&action=get&limit=&before=.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	viewer, ok := currentUser(r)
	if !ok {
		writeError(w, r, domain.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	if action := q.Get("action"); action != "" && action != "get" {
		http.Error(w, "unsupported action", http.StatusBadRequest)
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	before, err := optionalInt(q.Get("before"))
	if err != nil {
		http.Error(w, "invalid before", http.StatusBadRequest)
		return
	}
	page, err := h.history.LoadMessages(r.Context(), viewer, q.Get("peerId"), int(limit), before)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{
		Messages: domain.ToWireList(page.Messages),
		HasMore:  page.HasMore,
	})
}

// MarkSeen handles POST /chat/seen.
func (h *ChatHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	viewer, ok := currentUser(r)
	if !ok {
		writeError(w, r, domain.ErrUnauthorized)
		return
	}
	var req SeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	n, err := h.seen.MarkSeen(r.Context(), viewer, req.ChatID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SeenResponse{ChatID: req.ChatID, Marked: n})
}

// Profile handles GET /users/{id}.
func (h *ChatHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.users.Lookup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		UserProfile: *p,
		Online:      h.presence.IsOnline(r.Context(), id),
	})
}

// UpdateProfile handles PUT /users/me.
func (h *ChatHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	viewer, ok := currentUser(r)
	if !ok {
		writeError(w, r, domain.ErrUnauthorized)
		return
	}
	var req domain.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.ID = viewer
	if err := h.users.EnsureUser(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func optionalInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrUserNotFound):
		status = http.StatusNotFound
	case domain.ErrorCode(err) == domain.CodeValidationFailed:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "chat handler - request failed", "err", err)
		http.Error(w, "internal error", status)
		return
	}
	writeJSON(w, status, map[string]string{
		"code":  domain.ErrorCode(err),
		"error": err.Error(),
	})
}
