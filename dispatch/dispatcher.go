// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package dispatch fans one alert transition out to the configured destination
// instances.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/soothill/alert-destinations/alert"
	"github.com/soothill/alert-destinations/config"
	"github.com/soothill/alert-destinations/destination"
	apperrors "github.com/soothill/alert-destinations/pkg/errors"
	"github.com/soothill/alert-destinations/pkg/interfaces"
	"github.com/soothill/alert-destinations/pkg/logger"
	"github.com/soothill/alert-destinations/pkg/metrics"
)

const defaultConcurrency = 8

// Target is one configured destination instance.
type Target struct {
	Name string `json:"name"`
	Type string `json:"type"`

	destination destination.Destination
	options     destination.Options
	breaker     *gobreaker.CircuitBreaker
}

// Dispatcher delivers alert transitions to destination instances.
type Dispatcher struct {
	targets     map[string]*Target
	order       []string
	concurrency int
	breaker     config.CircuitBreakerConfig
	history     interfaces.DeliveryHistory
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency bounds the number of deliveries running at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithCircuitBreaker guards each instance with a circuit breaker when cfg is enabled.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) {
		d.breaker = cfg
	}
}

// WithHistory records every attempt in h.
func WithHistory(h interfaces.DeliveryHistory) Option {
	return func(d *Dispatcher) {
		d.history = h
	}
}

// New resolves every configured instance against the registry. Options are
// validated against the type's configuration schema.
func New(registry *destination.Registry, configs []config.DestinationConfig, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		targets:     make(map[string]*Target, len(configs)),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}

	for i, cfg := range configs {
		field := fmt.Sprintf("destinations[%d]", i)
		if cfg.Name == "" {
			return nil, apperrors.NewConfigError(field+".name", "",
				fmt.Errorf("%w: name is required", apperrors.ErrInvalidConfig))
		}
		if _, exists := d.targets[cfg.Name]; exists {
			return nil, apperrors.NewConfigError(field+".name", cfg.Name,
				fmt.Errorf("%w: duplicate destination name", apperrors.ErrInvalidConfig))
		}

		dest, err := registry.Get(cfg.Type)
		if err != nil {
			return nil, apperrors.NewConfigError(field+".type", cfg.Type, err)
		}

		options, err := destination.ParseOptions(dest.ConfigurationSchema(), cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", cfg.Name, err)
		}
		if options.URL == "" {
			logger.Warn().Str("destination", cfg.Name).Str("type", cfg.Type).
				Msg("Destination has no webhook url configured, deliveries will fail")
		}

		t := &Target{
			Name:        cfg.Name,
			Type:        cfg.Type,
			destination: dest,
			options:     options,
		}
		if d.breaker.Enabled {
			t.breaker = newBreaker(cfg.Name, d.breaker)
		}
		d.targets[cfg.Name] = t
		d.order = append(d.order, cfg.Name)
	}

	metrics.DestinationsConfigured.Set(float64(len(d.targets)))
	publishBreakerStates(d.targets)
	logger.Info().Int("destinations", len(d.targets)).Bool("circuit_breaker", d.breaker.Enabled).
		Msg("Dispatcher configured")

	return d, nil
}

// Dispatch notifies the named instances, or every instance when names is
// empty, and waits for the deliveries to finish. Unknown names are logged and
// skipped. Delivery failures are logged, never returned. The result is the
// number of instances selected.
func (d *Dispatcher) Dispatch(ctx context.Context, a alert.Alert, state alert.State, names ...string) int {
	metrics.DispatchesTotal.Inc()

	targets := d.selectTargets(names)
	if len(targets) == 0 {
		logger.Debug().Str("state", state.String()).Msg("No destinations selected for alert")
		return 0
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			d.deliver(ctx, t, a, state)
			return nil
		})
	}
	_ = g.Wait()

	return len(targets)
}

// selectTargets resolves names to targets, dropping unknown and repeated names.
func (d *Dispatcher) selectTargets(names []string) []*Target {
	if len(names) == 0 {
		names = d.order
	}

	seen := make(map[string]bool, len(names))
	targets := make([]*Target, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		t, ok := d.targets[name]
		if !ok {
			logger.Warn().Str("destination", name).Msg("Unknown destination requested, skipping")
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

// Send delivers to a single instance and returns the attempt. It fails only
// when name is not configured.
func (d *Dispatcher) Send(ctx context.Context, name string, a alert.Alert, state alert.State) (*destination.Result, error) {
	t, ok := d.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownDestination, name)
	}
	metrics.DispatchesTotal.Inc()
	return d.deliver(ctx, t, a, state), nil
}

// deliver runs one delivery, through the breaker when configured, and
// records the attempt.
func (d *Dispatcher) deliver(ctx context.Context, t *Target, a alert.Alert, state alert.State) *destination.Result {
	var result *destination.Result
	if t.breaker == nil {
		result = destination.Send(ctx, t.Name, t.destination, a, state, t.options)
	} else {
		_, err := t.breaker.Execute(func() (interface{}, error) {
			result = destination.Send(ctx, t.Name, t.destination, a, state, t.options)
			return result, result.Err
		})
		if result == nil {
			result = skipped(t, a, state, err)
		}
	}

	d.record(result)
	return result
}

// skipped builds the result of a delivery rejected by an open breaker.
func skipped(t *Target, a alert.Alert, state alert.State, err error) *destination.Result {
	result := &destination.Result{
		ID:          uuid.NewString(),
		Destination: t.Name,
		Type:        t.Type,
		State:       state,
		Outcome:     metrics.OutcomeSkipped,
		SentAt:      time.Now(),
		Err:         fmt.Errorf("%w: %v", apperrors.ErrCircuitBreakerOpen, err),
	}
	if a != nil {
		result.Alert = a.Name()
	}

	logger.Warn().Str("destination", t.Name).Str("type", t.Type).Str("alert", result.Alert).
		Str("breaker_state", t.breaker.State().String()).
		Msg("Circuit breaker open, skipping delivery")
	metrics.NotificationsTotal.WithLabelValues(t.Type, metrics.OutcomeSkipped).Inc()

	return result
}

func (d *Dispatcher) record(result *destination.Result) {
	if d.history == nil {
		return
	}
	err := d.history.Record(&interfaces.DeliveryRecord{
		ID:          result.ID,
		Destination: result.Destination,
		Type:        result.Type,
		Alert:       result.Alert,
		State:       result.State.String(),
		Outcome:     result.Outcome,
		StatusCode:  result.StatusCode,
		Duration:    result.Duration,
		Timestamp:   result.SentAt,
	})
	if err != nil {
		logger.Warn().Err(err).Str("destination", result.Destination).Msg("Failed to record delivery history")
	}
}

// Targets lists the configured instances sorted by name.
func (d *Dispatcher) Targets() []Target {
	out := make([]Target, 0, len(d.targets))
	for _, t := range d.targets {
		out = append(out, Target{Name: t.Name, Type: t.Type})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether an instance named name is configured.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.targets[name]
	return ok
}

// BreakerStates returns the breaker state of each instance. It is empty when
// circuit breakers are disabled.
func (d *Dispatcher) BreakerStates() map[string]string {
	states := make(map[string]string)
	for name, t := range d.targets {
		if t.breaker != nil {
			states[name] = t.breaker.State().String()
		}
	}
	return states
}
