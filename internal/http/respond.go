// Package http exposes the storefront over a chi router.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_storefront/internal/auth"
	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/logging"
	"github.com/fjod/go_storefront/internal/repository/catalog"
	"github.com/fjod/go_storefront/internal/repository/orders"
	"github.com/fjod/go_storefront/internal/service"
	"github.com/fjod/go_storefront/internal/variant"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type loggerKey struct{}

// WithLogger makes log available to handlers through the request context.
func WithLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), loggerKey{}, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func logger(r *http.Request) logrus.FieldLogger {
	log, ok := r.Context().Value(loggerKey{}).(logrus.FieldLogger)
	if !ok {
		log = logrus.StandardLogger()
	}
	return logging.FromContext(r.Context(), log)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// handleServiceError maps domain and backend errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var httpStatus int
	var code, message string

	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		httpStatus, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, service.ErrQuantityLimit):
		httpStatus, code, message = http.StatusBadRequest, "quantity_limit", "a line can hold at most 99 items"
	case errors.Is(err, cart.ErrInvalidProduct):
		httpStatus, code = http.StatusBadRequest, "invalid_product_id"
	case errors.Is(err, cart.ErrLineNotFound):
		httpStatus, code = http.StatusNotFound, "line_not_found"
	case errors.Is(err, variant.ErrIncomplete):
		httpStatus, code = http.StatusUnprocessableEntity, "variants_incomplete"
	case errors.Is(err, variant.ErrUnknownAxis), errors.Is(err, variant.ErrUnknownOption):
		httpStatus, code = http.StatusUnprocessableEntity, "invalid_variant"
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, backend.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, auth.ErrPasswordMismatch):
		httpStatus, code, message = http.StatusBadRequest, "password_mismatch", "New passwords do not match"
	case errors.Is(err, auth.ErrPasswordTooShort):
		httpStatus, code = http.StatusBadRequest, "weak_password"
	case errors.Is(err, auth.ErrEmailRequired), errors.Is(err, backend.ErrInvalidInput):
		httpStatus, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, backend.ErrInvalidCredentials):
		httpStatus, code, message = http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, backend.ErrUnauthorized):
		httpStatus, code, message = http.StatusUnauthorized, "unauthenticated", "authentication required"
	case errors.Is(err, backend.ErrConflict):
		httpStatus, code = http.StatusConflict, "already_exists"
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, service.ErrCartUnavailable):
		httpStatus, code, message = http.StatusServiceUnavailable, "service_unavailable", "backend unavailable, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code, message = http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		logger(r).WithError(err).Error("unhandled service error")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if message == "" {
		message = err.Error()
	}
	if httpStatus >= 500 {
		logger(r).WithError(err).Warn("backend failure")
	}
	respondError(w, httpStatus, code, message)
}
