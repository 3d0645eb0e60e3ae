package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/huddle/chat-server/internal/account"
	"github.com/huddle/chat-server/internal/auth"
	"github.com/huddle/chat-server/internal/metrics"
)

// Credentials is the body of /register and /login.
type Credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

// SessionResponse is returned by a successful register or login.
type SessionResponse struct {
	Success      bool    `json:"success"`
	Token        string  `json:"token"`
	Username     string  `json:"username"`
	ProfileImage *string `json:"profile_image"`
}

func (h *Handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (Credentials, bool) {
	var c Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&c); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return c, false
	}
	if err := validate.Struct(c); err != nil {
		h.Error(w, http.StatusBadRequest, "Username and password are required")
		return c, false
	}
	return c, true
}

// Register creates an account, makes the user visible to connected clients
// and returns a token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		h.log.Error().Err(err).Msg("hash password")
		h.Error(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	err = h.deps.Accounts.Create(r.Context(), account.Account{
		Username:     creds.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if errors.Is(err, account.ErrExists) {
		h.Error(w, http.StatusBadRequest, "Username already exists")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user", creds.Username).Msg("create account")
		h.Error(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	if err := h.deps.Directory.Add(creds.Username); err != nil {
		h.log.Warn().Err(err).Str("user", creds.Username).Msg("index username")
	}
	h.deps.Gateway.EnsureUser(creds.Username, "")

	h.issue(w, creds.Username, "")
}

// Login checks credentials and returns a fresh token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	acct, err := h.deps.Accounts.Get(r.Context(), creds.Username)
	if errors.Is(err, account.ErrNotFound) {
		metrics.AuthFailures.WithLabelValues("login").Inc()
		h.Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user", creds.Username).Msg("load account")
		h.Error(w, http.StatusInternalServerError, "Login failed")
		return
	}

	if err := auth.ComparePassword(creds.Password, acct.PasswordHash); err != nil {
		metrics.AuthFailures.WithLabelValues("login").Inc()
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			h.log.Error().Err(err).Str("user", creds.Username).Msg("compare password")
		}
		h.Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.deps.Gateway.EnsureUser(acct.Username, acct.ProfileImage)
	h.issue(w, acct.Username, acct.ProfileImage)
}

func (h *Handler) issue(w http.ResponseWriter, username, profileImage string) {
	token, err := h.deps.Issuer.Issue(username)
	if err != nil {
		h.log.Error().Err(err).Str("user", username).Msg("issue token")
		h.Error(w, http.StatusInternalServerError, "Login failed")
		return
	}

	resp := SessionResponse{Success: true, Token: token, Username: username}
	if profileImage != "" {
		resp.ProfileImage = &profileImage
	}
	h.JSON(w, http.StatusOK, resp)
}
