// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/soothill/alert-destinations/alert"
	apperrors "github.com/soothill/alert-destinations/pkg/errors"
	"github.com/soothill/alert-destinations/pkg/logger"
	"github.com/soothill/alert-destinations/pkg/metrics"
)

// Outcomes that are not a pkg/errors Kind.
const (
	outcomePanic        = "panic"
	outcomeUnclassified = "unclassified"
)

// Result describes one delivery attempt.
type Result struct {
	ID          string
	Destination string // Configured instance name
	Type        string
	Alert       string
	State       alert.State
	Outcome     string // metrics.OutcomeSuccess or the failure kind
	StatusCode  int
	Duration    time.Duration
	SentAt      time.Time
	Err         error
}

// Notify delivers one alert transition through d. It never returns an error
// and never panics: failures are logged with their kind and dropped.
func Notify(ctx context.Context, d Destination, a alert.Alert, state alert.State, opts Options) {
	Send(ctx, d.Type(), d, a, state, opts)
}

// Send is Notify for hosts that want to observe the attempt. name is the
// configured instance name used in logs. The returned Result is never nil.
func Send(ctx context.Context, name string, d Destination, a alert.Alert, state alert.State, opts Options) *Result {
	result := &Result{
		ID:          uuid.NewString(),
		Destination: name,
		Type:        d.Type(),
		State:       state,
		SentAt:      time.Now(),
	}
	if a != nil {
		result.Alert = a.Name()
	}
	l := logger.Destination(name, d.Type()).With().Str("delivery_id", result.ID).Logger()

	resp, err := safeDeliver(ctx, d, a, state, opts)
	result.Duration = time.Since(result.SentAt)
	result.Err = err
	if resp != nil {
		result.StatusCode = resp.StatusCode
		l.Warn().Int("status_code", resp.StatusCode).Str("response", resp.Body).Msg("Webhook response")
	}

	switch {
	case err == nil:
		result.Outcome = metrics.OutcomeSuccess
		l.Debug().Str("alert", result.Alert).Str("state", state.String()).
			Dur("duration", result.Duration).Msg("Notification delivered")
	case apperrors.IsKind(err, apperrors.KindStatus):
		result.Outcome = string(apperrors.KindStatus)
		l.Error().Int("status_code", result.StatusCode).Str("kind", result.Outcome).
			Msgf("%s webhook send ERROR. status_code => %d", d.Name(), result.StatusCode)
	default:
		result.Outcome = outcomeOf(err)
		logFailure(&l, d, result.Outcome, err)
	}

	metrics.NotificationsTotal.WithLabelValues(result.Type, result.Outcome).Inc()
	metrics.NotificationDuration.WithLabelValues(result.Type).Observe(result.Duration.Seconds())

	return result
}

// safeDeliver runs Deliver and converts a panic into an error.
func safeDeliver(ctx context.Context, d Destination, a alert.Alert, state alert.State, opts Options) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return d.Deliver(ctx, a, state, opts)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("destination panicked: %v", e.value)
}

func outcomeOf(err error) string {
	if _, ok := err.(*panicError); ok {
		return outcomePanic
	}
	if kind := apperrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return outcomeUnclassified
}

func logFailure(l *zerolog.Logger, d Destination, outcome string, err error) {
	event := l.Error().Err(err).Str("kind", outcome)
	if errors.Is(err, apperrors.ErrTimeout) {
		event = event.Bool("timeout", true)
	}
	if pe, ok := err.(*panicError); ok {
		event = event.Str("stack", string(pe.stack))
	}
	event.Msgf("%s webhook send ERROR.", d.Name())
}
