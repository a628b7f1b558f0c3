// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/soothill/alert-destinations/alert"
	apperrors "github.com/soothill/alert-destinations/pkg/errors"
	"github.com/soothill/alert-destinations/pkg/logger"
)

const (
	maxRequestBody      = 1 << 20
	defaultHistoryLimit = 50
)

// notifyRequest is the body of POST /api/v1/notify
type notifyRequest struct {
	Alert        alert.Event `json:"alert"`
	NewState     string      `json:"new_state" validate:"required"`
	Destinations []string    `json:"destinations,omitempty"`
}

// notifyResponse is returned once every selected destination was attempted
type notifyResponse struct {
	Dispatched int `json:"dispatched"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// routes builds the HTTP handler of the host
func (a *App) routes() http.Handler {
	// Create rate limiters for intake and health endpoints
	notifyLimiter := rate.NewLimiter(50, 100)
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("GET /ready", rateLimitMiddleware(readyLimiter, a.readinessCheckHandler))
	mux.HandleFunc("POST /api/v1/notify", rateLimitMiddleware(notifyLimiter, a.notifyHandler))
	mux.HandleFunc("GET /api/v1/destinations", a.destinationsHandler)
	mux.HandleFunc("GET /api/v1/targets", a.targetsHandler)
	mux.HandleFunc("GET /api/v1/history/{destination}", a.historyHandler)
	return mux
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// notifyHandler dispatches one alert transition
func (a *App) notifyHandler(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	state, err := a.validateNotify(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	// Deliveries finish even if the caller goes away.
	ctx := context.WithoutCancel(r.Context())
	n := a.Dispatcher().Dispatch(ctx, &req.Alert, state, req.Destinations...)

	writeJSON(w, http.StatusOK, notifyResponse{Dispatched: n})
}

// validateNotify checks a decoded notify request and parses its state.
// Failures are *errors.ValidationError.
func (a *App) validateNotify(req *notifyRequest) (alert.State, error) {
	if err := a.validate.Struct(req); err != nil {
		return "", fromValidatorError(err)
	}
	state, err := alert.ParseState(req.NewState)
	if err != nil {
		ve := apperrors.NewValidationError("new_state", req.NewState, "unknown alert state")
		ve.Details = err
		return "", ve
	}
	return state, nil
}

// fromValidatorError converts the first struct validation failure
func fromValidatorError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &apperrors.ValidationError{Field: "request", Reason: "invalid", Details: err}
	}
	first := verrs[0]
	field := first.Namespace()
	switch first.StructField() {
	case "AlertName":
		field = "alert.name"
	case "NewState":
		field = "new_state"
	}
	reason := fmt.Sprintf("failed %q check", first.Tag())
	if first.Tag() == "required" {
		reason = "is required"
	}
	return apperrors.NewValidationError(field, first.Value(), reason)
}

// validationMessage is the client-facing text of a validation failure
func validationMessage(err error) string {
	var ve *apperrors.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	if ve.Details != nil {
		return ve.Details.Error()
	}
	return ve.Field + " " + ve.Reason
}

// destinationsHandler lists the registered destination types
func (a *App) destinationsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Catalogue())
}

// targetsHandler lists the configured destination instances
func (a *App) targetsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Dispatcher().Targets())
}

// historyHandler returns recent delivery records of one instance
func (a *App) historyHandler(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "delivery history is not enabled")
		return
	}

	name := r.PathValue("destination")
	if !a.Dispatcher().Has(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown destination %q", name))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := a.history.Recent(r.Context(), name, limit)
	if err != nil {
		logger.Error().Err(err).Str("destination", name).Msg("Failed to query delivery history")
		writeError(w, http.StatusBadGateway, "failed to query delivery history")
		return
	}

	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, historyEntry{
			ID:         rec.ID,
			Type:       rec.Type,
			Alert:      rec.Alert,
			State:      rec.State,
			Outcome:    rec.Outcome,
			StatusCode: rec.StatusCode,
			DurationMS: float64(rec.Duration.Microseconds()) / 1000,
			Timestamp:  rec.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler reports ready once delivery history, when enabled, is healthy
func (a *App) readinessCheckHandler(w http.ResponseWriter, r *http.Request) {
	if a.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessCheckTimeout)
		defer cancel()

		if err := a.history.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("Readiness check failed: delivery history unhealthy")
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("NOT READY: delivery history unhealthy")); writeErr != nil {
				logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
			}
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
