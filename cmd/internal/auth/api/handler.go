package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"browserjam/cmd/identity"
	"browserjam/cmd/security/token"
)

// Handler serves account registration and login.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	users  *identity.Service
	tokens *token.Manager
	logins *failureLimiter
	now    func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users *identity.Service, tokens *token.Manager) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || tokens == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		log:    log,
		cfg:    cfg,
		users:  users,
		tokens: tokens,
		logins: newFailureLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.Register(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case identity.IsInvalidInput(err):
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case identity.IsConflict(err):
		WriteError(w, http.StatusConflict, "email_taken", "email already registered")
		return
	default:
		h.log.Error("auth.register.fail", "err", err)
		WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	h.log.Info("auth.register", "user_id", u.ID)
	WriteJSON(w, http.StatusCreated, registerResponse{UserID: u.ID, Email: u.Email})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	if blocked, retryAfter := h.logins.blocked(ip, now); blocked {
		h.log.Warn("auth.login.rate_limited", "ip", ip.String())
		writeRateLimited(w, retryAfter)
		return
	}

	u, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case identity.IsInvalidCredentials(err), identity.IsInvalidInput(err):
		h.logins.record(ip, now)
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	default:
		h.log.Error("auth.login.fail", "err", err)
		WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	tok, _, err := h.tokens.Issue(u.ID, u.Email, now)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "user_id", u.ID, "err", err)
		WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	h.log.Info("auth.login", "user_id", u.ID)
	WriteJSON(w, http.StatusOK, loginResponse{Token: tok, User: toUserResponse(u)})
}
