package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ernie/rally/internal/auth"
)

// LoginRequest is the request body for login
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginResponse is the response body for successful login
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	PlayerID  int64     `json:"player_id"`
	Name      string    `json:"name"`
}

// handleLogin authenticates a player and returns a JWT token
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var login LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&login); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if login.Name == "" || login.Password == "" {
		writeError(w, http.StatusBadRequest, "name and password are required")
		return
	}
	if !validPlayerName(login.Name) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	creds, err := r.store.GetCredentials(req.Context(), login.Name)
	if err != nil || !auth.CheckPassword(login.Password, creds.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expires, err := r.auth.GenerateToken(creds.PlayerID, creds.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	if err := r.store.UpdateLastLogin(req.Context(), creds.PlayerID); err != nil {
		r.logger.Warn().Err(err).Int64("player", creds.PlayerID).Msg("Failed to update last login")
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expires,
		PlayerID:  creds.PlayerID,
		Name:      creds.Name,
	})
}

// handleAuthCheck checks if the current token is valid
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	if claims == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"authenticated": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"player_id":     claims.PlayerID,
		"name":          claims.Name,
	})
}

// requireAuth is middleware that validates JWT before calling the handler
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.getAuthClaims(req) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, req)
	}
}

// getAuthClaims extracts and validates JWT from Authorization header
func (r *Router) getAuthClaims(req *http.Request) *auth.Claims {
	token := auth.BearerToken(req)
	if token == "" {
		return nil
	}
	claims, err := r.auth.ValidateToken(token)
	if err != nil {
		return nil
	}
	return claims
}

// ChangePasswordRequest is the request body for password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword allows players to change their own password
func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)

	var body ChangePasswordRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}

	creds, err := r.store.GetCredentials(req.Context(), claims.Name)
	if err != nil || creds.PlayerID != claims.PlayerID || !auth.CheckPassword(body.CurrentPassword, creds.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(body.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := r.store.UpdatePassword(req.Context(), creds.PlayerID, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
