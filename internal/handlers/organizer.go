// internal/handlers/organizer.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/typerace/typerace/internal/auth"
	"github.com/typerace/typerace/internal/database"
	"github.com/typerace/typerace/internal/models"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// organizerPayload is the public shape of an organizer in responses; never
// includes the password hash.
type organizerPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RegisterOrganizerHandler creates a new organizer account and returns a
// signed token.
func RegisterOrganizerHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "name, email, and password are required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 6 {
		http.Error(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	org := models.Organizer{
		Name:     req.Name,
		Email:    strings.ToLower(req.Email),
		Password: req.Password,
	}
	if err := database.CreateOrganizer(r.Context(), &org); err != nil {
		// Unique violation on email lands here too; don't leak details.
		http.Error(w, "registration failed", http.StatusBadRequest)
		return
	}

	token, err := auth.CreateJWT(org.ID.String())
	if err != nil {
		http.Error(w, "failed to create token", http.StatusInternalServerError)
		return
	}
	setAuthCookie(w, token)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":     token,
		"organizer": organizerPayload{ID: org.ID.String(), Name: org.Name, Email: org.Email},
	})
}

// LoginOrganizerHandler authenticates an organizer and returns a signed
// token. The last_login stamp is updated on success.
func LoginOrganizerHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	token, err := database.AuthenticateOrganizer(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}
	setAuthCookie(w, token)

	org, err := database.GetOrganizerByEmail(r.Context(), req.Email)
	if err != nil {
		http.Error(w, "failed to load organizer", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":     token,
		"organizer": organizerPayload{ID: org.ID.String(), Name: org.Name, Email: org.Email},
	})
}

// MeHandler returns the authenticated organizer's account info.
func MeHandler(w http.ResponseWriter, r *http.Request) {
	organizerID, err := authedOrganizer(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusForbidden)
		return
	}

	org, err := database.GetOrganizerByID(r.Context(), organizerID)
	if err != nil {
		http.Error(w, "organizer not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"organizer": map[string]interface{}{
			"id":         org.ID.String(),
			"name":       org.Name,
			"email":      org.Email,
			"created_at": org.CreatedAt,
			"last_login": org.LastLogin,
		},
	})
}

// authedOrganizer resolves the requesting organizer from the auth_token
// cookie or a bearer Authorization header.
func authedOrganizer(r *http.Request) (uuid.UUID, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	idStr, err := auth.AuthenticateJWT(token)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(idStr)
}

func setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
}
