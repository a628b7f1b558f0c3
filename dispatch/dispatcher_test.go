// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/alert-destinations/alert"
	"github.com/soothill/alert-destinations/config"
	"github.com/soothill/alert-destinations/destination"
	apperrors "github.com/soothill/alert-destinations/pkg/errors"
	"github.com/soothill/alert-destinations/pkg/interfaces"
	"github.com/soothill/alert-destinations/pkg/logger"
	"github.com/soothill/alert-destinations/pkg/metrics"
)

type memoryHistory struct {
	mu      sync.Mutex
	records []*interfaces.DeliveryRecord
	err     error
}

func (m *memoryHistory) Record(r *interfaces.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return m.err
}

func (m *memoryHistory) Recent(context.Context, string, int) ([]*interfaces.DeliveryRecord, error) {
	return nil, nil
}

func (m *memoryHistory) Flush()                       {}
func (m *memoryHistory) Close()                       {}
func (m *memoryHistory) Health(context.Context) error { return nil }

func (m *memoryHistory) byDestination() map[string]*interfaces.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*interfaces.DeliveryRecord, len(m.records))
	for _, r := range m.records {
		out[r.Destination] = r
	}
	return out
}

// hookServer counts requests and answers with status.
func hookServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func quietLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.Initialize("debug")
	logger.SetOutput(&buf)
	return &buf
}

func instance(name, destType, url string) config.DestinationConfig {
	return config.DestinationConfig{Name: name, Type: destType, Options: map[string]any{"url": url}}
}

func TestNew_ResolvesInstances(t *testing.T) {
	quietLogs(t)

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("sre", destination.SlackType, "https://hooks.slack.com/services/T/B/X"),
		instance("ops", destination.MattermostType, "https://chat.example.com/hooks/abc"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Target{
		{Name: "ops", Type: destination.MattermostType},
		{Name: "sre", Type: destination.SlackType},
	}, d.Targets())
	assert.True(t, d.Has("ops"))
	assert.False(t, d.Has("dev"))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DestinationsConfigured))
	assert.Empty(t, d.BreakerStates())
}

func TestNew_Errors(t *testing.T) {
	quietLogs(t)

	tests := []struct {
		name    string
		configs []config.DestinationConfig
		check   func(t *testing.T, err error)
	}{
		{
			name:    "unknown type",
			configs: []config.DestinationConfig{instance("ops", "pagerduty", "https://x")},
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, apperrors.ErrUnknownDestination))
				assert.True(t, apperrors.IsConfigError(err))
			},
		},
		{
			name: "duplicate name",
			configs: []config.DestinationConfig{
				instance("ops", destination.MattermostType, "https://a"),
				instance("ops", destination.SlackType, "https://b"),
			},
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, apperrors.ErrInvalidConfig))
			},
		},
		{
			name:    "missing name",
			configs: []config.DestinationConfig{instance("", destination.MattermostType, "https://a")},
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsConfigError(err))
			},
		},
		{
			name: "options fail schema",
			configs: []config.DestinationConfig{
				{Name: "ops", Type: destination.MattermostType, Options: map[string]any{"url": 42}},
			},
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsConfigError(err))
				assert.Contains(t, err.Error(), `"ops"`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(destination.DefaultRegistry(), tt.configs)
			require.Error(t, err)
			assert.Nil(t, d)
			tt.check(t, err)
		})
	}
}

func TestNew_WarnsOnMissingURL(t *testing.T) {
	logs := quietLogs(t)

	_, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		{Name: "ops", Type: destination.MattermostType, Options: map[string]any{"channel": "#ops"}},
	})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "no webhook url configured")
}

func TestDispatch_AllInstances(t *testing.T) {
	quietLogs(t)
	okServer, okHits := hookServer(t, http.StatusOK)
	badServer, badHits := hookServer(t, http.StatusInternalServerError)
	history := &memoryHistory{}

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, okServer.URL),
		instance("sre", destination.SlackType, badServer.URL),
	}, WithHistory(history), WithConcurrency(2))
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.DispatchesTotal)
	n := d.Dispatch(context.Background(), &alert.Event{AlertName: "queue"}, alert.StateTriggered)

	assert.Equal(t, 2, n)
	assert.Equal(t, int32(1), okHits.Load())
	assert.Equal(t, int32(1), badHits.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DispatchesTotal))

	records := history.byDestination()
	require.Len(t, records, 2)
	assert.Equal(t, metrics.OutcomeSuccess, records["ops"].Outcome)
	assert.Equal(t, "status", records["sre"].Outcome)
	assert.Equal(t, http.StatusInternalServerError, records["sre"].StatusCode)
	assert.Equal(t, "triggered", records["sre"].State)
	assert.Equal(t, "queue", records["ops"].Alert)
	assert.NotEmpty(t, records["ops"].ID)
	assert.False(t, records["ops"].Timestamp.IsZero())
}

func TestDispatch_SelectedInstances(t *testing.T) {
	logs := quietLogs(t)
	opsServer, opsHits := hookServer(t, http.StatusOK)
	sreServer, sreHits := hookServer(t, http.StatusOK)

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, opsServer.URL),
		instance("sre", destination.SlackType, sreServer.URL),
	})
	require.NoError(t, err)

	n := d.Dispatch(context.Background(), &alert.Event{AlertName: "queue"}, alert.StateOK, "ops", "ops", "nope")

	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), opsHits.Load(), "repeated names are delivered once")
	assert.Equal(t, int32(0), sreHits.Load())
	assert.Contains(t, logs.String(), "Unknown destination requested")
}

func TestDispatch_NoTargets(t *testing.T) {
	quietLogs(t)

	d, err := New(destination.DefaultRegistry(), nil)
	require.NoError(t, err)

	assert.Zero(t, d.Dispatch(context.Background(), &alert.Event{AlertName: "queue"}, alert.StateTriggered))
}

func TestDispatch_HistoryFailureIsLogged(t *testing.T) {
	logs := quietLogs(t)
	server, _ := hookServer(t, http.StatusOK)

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, server.URL),
	}, WithHistory(&memoryHistory{err: errors.New("disk full")}))
	require.NoError(t, err)

	assert.Equal(t, 1, d.Dispatch(context.Background(), &alert.Event{AlertName: "queue"}, alert.StateTriggered))
	assert.Contains(t, logs.String(), "Failed to record delivery history")
}

func TestDispatch_RunsConcurrently(t *testing.T) {
	quietLogs(t)
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
	}))
	defer server.Close()

	var configs []config.DestinationConfig
	for _, name := range []string{"a", "b", "c", "d"} {
		configs = append(configs, instance(name, destination.MattermostType, server.URL))
	}
	d, err := New(destination.DefaultRegistry(), configs, WithConcurrency(2))
	require.NoError(t, err)

	done := make(chan int)
	go func() {
		done <- d.Dispatch(context.Background(), &alert.Event{AlertName: "queue"}, alert.StateTriggered)
	}()

	assert.Eventually(t, func() bool { return inFlight.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	assert.Equal(t, 4, <-done)
	assert.Equal(t, int32(2), peak.Load(), "concurrency limit is honored")
}

func TestDispatch_CircuitBreakerSkipsOpenInstance(t *testing.T) {
	logs := quietLogs(t)
	server, hits := hookServer(t, http.StatusBadGateway)
	history := &memoryHistory{}

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("flaky", destination.MattermostType, server.URL),
	}, WithHistory(history), WithCircuitBreaker(config.CircuitBreakerConfig{
		Enabled:     true,
		MaxFailures: 2,
		OpenTimeout: time.Minute,
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"flaky": "closed"}, d.BreakerStates())

	skippedCounter := metrics.NotificationsTotal.WithLabelValues(destination.MattermostType, metrics.OutcomeSkipped)
	skippedBefore := testutil.ToFloat64(skippedCounter)

	event := &alert.Event{AlertName: "queue"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, d.Dispatch(context.Background(), event, alert.StateTriggered))
	}

	assert.Equal(t, int32(2), hits.Load(), "third delivery is not attempted")
	assert.Equal(t, map[string]string{"flaky": "open"}, d.BreakerStates())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("flaky")))
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(skippedCounter))
	assert.Contains(t, logs.String(), "Circuit breaker open, skipping delivery")

	history.mu.Lock()
	defer history.mu.Unlock()
	require.Len(t, history.records, 3)
	assert.Equal(t, metrics.OutcomeSkipped, history.records[2].Outcome)
	assert.NotEmpty(t, history.records[2].ID, "skipped deliveries get their own id")
	assert.NotEqual(t, history.records[1].ID, history.records[2].ID)
}

func TestNew_RebuildDropsRemovedBreakerSeries(t *testing.T) {
	quietLogs(t)
	breaker := WithCircuitBreaker(config.CircuitBreakerConfig{Enabled: true, MaxFailures: 1, OpenTimeout: time.Minute})

	_, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, "https://chat.example.com/hooks/abc"),
		instance("retired", destination.SlackType, "https://hooks.slack.com/services/T/B/X"),
	}, breaker)
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.CircuitBreakerState))

	_, err = New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, "https://chat.example.com/hooks/abc"),
	}, breaker)
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.CircuitBreakerState))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("ops")))

	_, err = New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, "https://chat.example.com/hooks/abc"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.CircuitBreakerState), "no series without breakers")
}

func TestDispatch_RenderFailuresDoNotTripBreaker(t *testing.T) {
	quietLogs(t)
	server, hits := hookServer(t, http.StatusOK)

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, server.URL),
	}, WithCircuitBreaker(config.CircuitBreakerConfig{Enabled: true, MaxFailures: 1, OpenTimeout: time.Minute}))
	require.NoError(t, err)

	broken := &alert.Event{AlertName: "queue", Render: func() (string, error) { return "", errors.New("bad template") }}
	d.Dispatch(context.Background(), broken, alert.StateTriggered)
	d.Dispatch(context.Background(), &alert.Event{AlertName: "queue"}, alert.StateTriggered)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "closed", d.BreakerStates()["ops"])
}

func TestTargets_JSONHidesOptions(t *testing.T) {
	quietLogs(t)

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, "https://chat.example.com/hooks/secret"),
	})
	require.NoError(t, err)

	data, err := json.Marshal(d.Targets())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"ops","type":"mattermost"}]`, string(data))
}

func TestSend_SingleInstance(t *testing.T) {
	quietLogs(t)
	server, hits := hookServer(t, http.StatusOK)

	d, err := New(destination.DefaultRegistry(), []config.DestinationConfig{
		instance("ops", destination.MattermostType, server.URL),
	})
	require.NoError(t, err)

	result, err := d.Send(context.Background(), "ops", &alert.Event{AlertName: "queue"}, alert.StateTriggered)
	require.NoError(t, err)
	assert.NoError(t, result.Err)
	assert.Equal(t, metrics.OutcomeSuccess, result.Outcome)
	assert.Equal(t, int32(1), hits.Load())

	_, err = d.Send(context.Background(), "dev", &alert.Event{AlertName: "queue"}, alert.StateTriggered)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownDestination))
}
