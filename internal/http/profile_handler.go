package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
)

type ProfileHandler struct {
	sessions Sessions
	timeout  time.Duration
}

func NewProfileHandler(sessions Sessions, timeout time.Duration) *ProfileHandler {
	return &ProfileHandler{sessions: sessions, timeout: timeout}
}

type UpdateEmailRequestDTO struct {
	Email string `json:"email"`
}

type UpdatePasswordRequestDTO struct {
	// CurrentPassword is accepted for form compatibility and not checked.
	CurrentPassword string `json:"currentPassword,omitempty"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type ProfileResponseDTO struct {
	User    domain.User `json:"user"`
	Message string      `json:"message,omitempty"`
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	respondJSON(w, http.StatusOK, ProfileResponseDTO{User: s.User})
}

func (h *ProfileHandler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	var req UpdateEmailRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	u, err := h.sessions.UpdateEmail(ctx, profileFrom(r.Context()), s.AccessToken, req.Email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ProfileResponseDTO{User: u, Message: "Email updated successfully"})
}

func (h *ProfileHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	var req UpdatePasswordRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	u, err := h.sessions.UpdatePassword(ctx, profileFrom(r.Context()), s.AccessToken, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ProfileResponseDTO{User: u, Message: "Password updated successfully"})
}
