package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        *auth.User `json:"user"`
}

// handleLogin authenticates a user and returns a JWT access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := auth.Authenticate(r.Context(), s.users, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserInactive):
		s.logger.Info("login rejected", "username", req.Username, "reason", err)
		writeUnauthorized(w, "invalid credentials")
		return
	case err != nil:
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "failed to authenticate")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	token, expires, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Seconds()),
		User:        user,
	})
}

// handleMe returns the authenticated user and their permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	user, err := s.users.GetByID(r.Context(), claims.Subject)
	if errors.Is(err, auth.ErrUserNotFound) {
		writeUnauthorized(w, "user no longer exists")
		return
	}
	if err != nil {
		s.logger.Error("get current user failed", "error", err)
		writeInternalError(w, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": auth.PermissionsForRole(user.Role),
	})
}
