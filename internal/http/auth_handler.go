package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/auth"
	"github.com/fjod/go_storefront/internal/domain"
)

type Sessions interface {
	SignUp(ctx context.Context, profileID, email, password string) (domain.Session, error)
	SignIn(ctx context.Context, profileID, email, password string) (domain.Session, error)
	SignOut(ctx context.Context, profileID, accessToken string) error
	UpdateEmail(ctx context.Context, profileID, accessToken, email string) (domain.User, error)
	UpdatePassword(ctx context.Context, profileID, accessToken, newPassword, confirmPassword string) (domain.User, error)
}

type EventSource interface {
	Subscribe(l auth.Listener) func()
}

// StreamObserver is told when event streams open and close.
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

type AuthHandler struct {
	sessions  Sessions
	events    EventSource
	observer  StreamObserver
	cookies   CookieConfig
	timeout   time.Duration
	heartbeat time.Duration
}

func NewAuthHandler(sessions Sessions, events EventSource, observer StreamObserver, cookies CookieConfig, timeout time.Duration) *AuthHandler {
	return &AuthHandler{
		sessions:  sessions,
		events:    events,
		observer:  observer,
		cookies:   cookies,
		timeout:   timeout,
		heartbeat: 25 * time.Second,
	}
}

type CredentialsRequestDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionDTO struct {
	User      domain.User `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type SignUpResponseDTO struct {
	User                 domain.User `json:"user"`
	ConfirmationRequired bool        `json:"confirmationRequired"`
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CredentialsRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s, err := h.sessions.SignUp(ctx, profileFrom(r.Context()), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if s.Active() {
		h.cookies.setSession(w, s, time.Now())
	}
	respondJSON(w, http.StatusCreated, SignUpResponseDTO{User: s.User, ConfirmationRequired: !s.Active()})
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CredentialsRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "email and password are required")
		return
	}

	s, err := h.sessions.SignIn(ctx, profileFrom(r.Context()), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.cookies.setSession(w, s, time.Now())
	respondJSON(w, http.StatusOK, SessionDTO{User: s.User, ExpiresAt: s.ExpiresAt})
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	// an expired cookie session can still be signed out
	token := cookieValue(r, AccessCookie)
	if s, ok := sessionFrom(r.Context()); ok {
		token = s.AccessToken
	}
	if err := h.sessions.SignOut(ctx, profileFrom(r.Context()), token); err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.cookies.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "no active session")
		return
	}
	respondJSON(w, http.StatusOK, SessionDTO{User: s.User, ExpiresAt: s.ExpiresAt})
}

// Events streams this profile's session changes as server-sent events until the
// client disconnects.
func (h *AuthHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}
	// the stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	profileID := profileFrom(r.Context())
	events := make(chan auth.Event, 16)
	unsubscribe := h.events.Subscribe(func(e auth.Event) {
		if e.ProfileID != profileID {
			return
		}
		select {
		case events <- e:
		default:
			// slow client; the next event carries the current state anyway
		}
	})
	defer unsubscribe()

	if h.observer != nil {
		h.observer.StreamOpened()
		defer h.observer.StreamClosed()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e := <-events:
			data, err := json.Marshal(e)
			if err != nil {
				logger(r).WithError(err).Error("encode session event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}
