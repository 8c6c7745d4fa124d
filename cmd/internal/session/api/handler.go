// Package sessionapi serves the session and comment REST endpoints.
package sessionapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	authapi "browserjam/cmd/internal/auth/api"
	"browserjam/cmd/internal/store"

	"github.com/google/uuid"
)

// Handler exposes session creation, recent sessions and comment listing.
type Handler struct {
	log    *slog.Logger
	store  store.Store
	tokens authapi.Verifier
	now    func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, st store.Store, tokens authapi.Verifier) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if st == nil || tokens == nil {
		return nil, errors.New("sessionapi: nil dependency")
	}
	return &Handler{
		log:    log,
		store:  st,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires the routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /session/create", h.handleCreate)
	mux.Handle("GET /api/sessions", authapi.RequireBearer(h.tokens, http.HandlerFunc(h.handleRecent)))
	mux.HandleFunc("GET /comments/{highlightId}", h.handleComments)
}

type createResponse struct {
	SessionID string `json:"sessionId"`
}

type sessionSummary struct {
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	JoinedAt  time.Time `json:"joinedAt"`
}

type commentResponse struct {
	CommentID   string    `json:"commentId"`
	HighlightID string    `json:"highlightId"`
	UserID      string    `json:"userId"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	AuthorEmail string    `json:"authorEmail"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if _, err := h.store.CreateSession(r.Context(), id, h.now()); err != nil {
		h.log.Error("session.create.fail", "err", err)
		authapi.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	h.log.Info("session.create", "session_id", id)
	authapi.WriteJSON(w, http.StatusOK, createResponse{SessionID: id})
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	claims, ok := authapi.ClaimsFromContext(r.Context())
	if !ok {
		authapi.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	rows, err := h.store.ListRecentSessions(r.Context(), claims.UserID, store.DefaultRecentSessionsLimit)
	if err != nil {
		h.log.Error("session.recent.fail", "user_id", claims.UserID, "err", err)
		authapi.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	out := make([]sessionSummary, 0, len(rows))
	for _, s := range rows {
		out = append(out, sessionSummary{SessionID: s.SessionID, URL: s.URL, JoinedAt: s.JoinedAt})
	}
	authapi.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleComments(w http.ResponseWriter, r *http.Request) {
	hid := strings.TrimSpace(r.PathValue("highlightId"))
	if hid == "" {
		authapi.WriteError(w, http.StatusBadRequest, "invalid_request", "missing highlight id")
		return
	}

	rows, err := h.store.ListComments(r.Context(), hid)
	if err != nil {
		h.log.Error("session.comments.fail", "highlight_id", hid, "err", err)
		authapi.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	out := make([]commentResponse, 0, len(rows))
	for _, c := range rows {
		out = append(out, commentResponse{
			CommentID:   c.ID,
			HighlightID: c.HighlightID,
			UserID:      c.UserID,
			Text:        c.Text,
			CreatedAt:   c.CreatedAt,
			AuthorEmail: c.AuthorEmail,
		})
	}
	authapi.WriteJSON(w, http.StatusOK, out)
}
