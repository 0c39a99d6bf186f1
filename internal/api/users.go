package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-cbj/silo-watch-backend/internal/auth"
)

type createUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

type updateUserRequest struct {
	DisplayName *string    `json:"display_name,omitempty"`
	Role        *auth.Role `json:"role,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account. The role defaults to operator.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleOperator
	}
	if !auth.IsValidRole(req.Role) {
		writeValidationError(w, "invalid role: must be operator or admin")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameExists):
			writeConflict(w, "username already exists")
		case errors.Is(err, auth.ErrInvalidUser):
			writeValidationError(w, err.Error())
		default:
			s.logger.Error("create user failed", "error", err)
			writeInternalError(w, "failed to create user")
		}
		return
	}

	claims := claimsFromContext(r.Context())
	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role, "created_by", claims.Subject)
	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser patches display name, role and active flag.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Role != nil && !auth.IsValidRole(*req.Role) {
		writeValidationError(w, "invalid role: must be operator or admin")
		return
	}

	// Self-protection: no demoting or deactivating your own account.
	if id == claims.Subject {
		if req.IsActive != nil && !*req.IsActive {
			writeForbidden(w, "cannot deactivate your own account")
			return
		}
		if req.Role != nil && *req.Role != claims.Role {
			writeForbidden(w, "cannot change your own role")
			return
		}
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for update failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	s.logger.Info("user updated", "user_id", id, "updated_by", claims.Subject)
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a user account. Admins cannot delete themselves.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())

	if id == claims.Subject {
		writeForbidden(w, "cannot delete your own account")
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", id, "deleted_by", claims.Subject)
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword sets a new password. Users changing their own
// password must prove the current one; user managers may reset others.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())
	self := id == claims.Subject

	if !self && !auth.HasPermission(claims.Role, auth.PermUserManage) {
		writeForbidden(w, "cannot change another user's password")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for password change failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	if self {
		ok, verifyErr := auth.VerifyPassword(req.CurrentPassword, user.PasswordHash)
		if verifyErr != nil {
			s.logger.Error("verify password failed", "error", verifyErr)
			writeInternalError(w, "failed to change password")
			return
		}
		if !ok {
			writeUnauthorized(w, "current password is incorrect")
			return
		}
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}
	if err := s.users.UpdatePassword(r.Context(), id, hash); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("update password failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	s.logger.Info("password changed", "user_id", id, "changed_by", claims.Subject)
	w.WriteHeader(http.StatusNoContent)
}
