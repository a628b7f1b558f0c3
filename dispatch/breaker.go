// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dispatch

import (
	"github.com/sony/gobreaker"

	"github.com/soothill/alert-destinations/config"
	apperrors "github.com/soothill/alert-destinations/pkg/errors"
	"github.com/soothill/alert-destinations/pkg/logger"
	"github.com/soothill/alert-destinations/pkg/metrics"
)

// newBreaker creates the circuit breaker guarding one destination instance.
// It trips after MaxFailures consecutive failed deliveries and lets a single
// trial delivery through once OpenTimeout has passed.
func newBreaker(name string, cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A template that fails to render says nothing about the endpoint.
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.IsKind(err, apperrors.KindRender)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			logger.Warn().Str("destination", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// publishBreakerStates replaces the breaker state series with those of
// targets, dropping instances that are no longer configured.
func publishBreakerStates(targets map[string]*Target) {
	metrics.CircuitBreakerState.Reset()
	for name, t := range targets {
		if t.breaker != nil {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(t.breaker.State()))
		}
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
