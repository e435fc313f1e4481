package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/poster"
	"github.com/avoronov/marketpost/internal/secret"
	"github.com/avoronov/marketpost/internal/session"
)

// LoginFlow performs one interactive login attempt for an account.
type LoginFlow interface {
	Run(ctx context.Context, email, password string) error
}

// AccountHandler handles account registry endpoints.
type AccountHandler struct {
	*Handler
	cipher   *secret.Cipher
	sessions *session.Store
	login    LoginFlow
	runner   *poster.Runner
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(base *Handler, cipher *secret.Cipher, sessions *session.Store, login LoginFlow, runner *poster.Runner) *AccountHandler {
	return &AccountHandler{
		Handler:  base,
		cipher:   cipher,
		sessions: sessions,
		login:    login,
		runner:   runner,
	}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/accounts", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Delete("/{accountID}", h.Delete)
		r.Post("/{accountID}/login", h.Login)
	})
}

type createAccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	HasSession bool      `json:"has_session"`
	CreatedAt  time.Time `json:"created_at"`
}

// Create registers a new account with its credential encrypted at rest.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	encrypted, err := h.cipher.Encrypt(req.Password)
	if err != nil {
		slog.Error("Failed to encrypt credential", "error", err)
		Error(w, http.StatusInternalServerError, "failed to store account")
		return
	}

	account := &domain.Account{
		ID:                uuid.NewString(),
		Email:             req.Email,
		EncryptedPassword: encrypted,
	}
	if err := h.repo.CreateAccount(r.Context(), account); err != nil {
		slog.Error("Failed to create account", "error", err, "email", req.Email)
		Error(w, http.StatusInternalServerError, "failed to store account")
		return
	}

	slog.Info("Account created", "account_id", account.ID, "email", account.Email)
	JSON(w, http.StatusCreated, accountResponse{
		ID:        account.ID,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	})
}

// List returns all accounts with their session presence.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.ListAccounts(r.Context())
	if err != nil {
		slog.Error("Failed to list accounts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ID:         a.ID,
			Email:      a.Email,
			HasSession: h.sessions.Exists(a.Email),
			CreatedAt:  a.CreatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"accounts": out})
}

// Delete removes an account and invalidates its session artifact.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := h.repo.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			Error(w, http.StatusNotFound, "account not found")
			return
		}
		slog.Error("Failed to load account", "error", err, "account_id", accountID)
		Error(w, http.StatusInternalServerError, "failed to delete account")
		return
	}

	if err := h.repo.DeleteAccount(r.Context(), accountID); err != nil {
		slog.Error("Failed to delete account", "error", err, "account_id", accountID)
		Error(w, http.StatusInternalServerError, "failed to delete account")
		return
	}
	if err := h.sessions.Invalidate(account.Email); err != nil {
		slog.Warn("Failed to remove session file", "error", err, "email", account.Email)
	}

	slog.Info("Account deleted", "account_id", accountID, "email", account.Email)
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type loginRequest struct {
	Password string `json:"password,omitempty"`
}

// Login dispatches an interactive login for the account in the
// background and responds immediately. The operator resolves any
// checkpoint in the opened browser window.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := h.repo.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			Error(w, http.StatusNotFound, "account not found")
			return
		}
		slog.Error("Failed to load account", "error", err, "account_id", accountID)
		Error(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	// Body is optional; a supplied password overrides the stored one.
	var req loginRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	password := req.Password
	if password == "" {
		password, err = h.cipher.Decrypt(account.EncryptedPassword)
		if err != nil {
			slog.Error("Failed to decrypt credential", "error", err, "account_id", accountID)
			Error(w, http.StatusInternalServerError, "failed to start login")
			return
		}
	}

	email := account.Email
	if err := h.runner.Go("login-"+accountID, func(ctx context.Context) {
		if err := h.login.Run(ctx, email, password); err != nil {
			slog.Error("Interactive login failed", "email", email, "error", err)
			return
		}
		slog.Info("Interactive login finished", "email", email)
	}); err != nil {
		Error(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	JSON(w, http.StatusAccepted, map[string]string{
		"status": "login_started",
		"email":  email,
	})
}
