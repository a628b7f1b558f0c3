// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/alert-destinations/alert"
	"github.com/soothill/alert-destinations/pkg/metrics"
)

// logEntries decodes the JSON log lines written to buf.
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), scanner.Text())
		entries = append(entries, entry)
	}
	return entries
}

func entriesAt(entries []map[string]any, level string) []map[string]any {
	var out []map[string]any
	for _, e := range entries {
		if e["level"] == level {
			out = append(out, e)
		}
	}
	return out
}

type panickingDestination struct{ Mattermost }

func (p *panickingDestination) Deliver(context.Context, alert.Alert, alert.State, Options) (*Response, error) {
	panic("nil map write")
}

type plainErrorDestination struct{ Mattermost }

func (p *plainErrorDestination) Deliver(context.Context, alert.Alert, alert.State, Options) (*Response, error) {
	return nil, errors.New("something odd")
}

func TestSend_Success(t *testing.T) {
	logs := captureLogs(t)
	server, _ := recordingServer(t, http.StatusOK, "ok")
	counter := metrics.NotificationsTotal.WithLabelValues(MattermostType, metrics.OutcomeSuccess)
	before := testutil.ToFloat64(counter)

	result := Send(context.Background(), "ops", NewMattermost(), &alert.Event{AlertName: "queue"},
		alert.StateTriggered, Options{URL: server.URL})

	assert.NoError(t, result.Err)
	assert.Equal(t, metrics.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "ops", result.Destination)
	assert.Equal(t, "queue", result.Alert)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	warnings := entriesAt(logEntries(t, logs), "warn")
	require.Len(t, warnings, 1, "response body is logged at warning level")
	assert.Equal(t, "ok", warnings[0]["response"])
	assert.Equal(t, "ops", warnings[0]["destination"])
	assert.Empty(t, entriesAt(logEntries(t, logs), "error"))
}

func TestNotify_ServerErrorIsLogged(t *testing.T) {
	logs := captureLogs(t)
	server, _ := recordingServer(t, http.StatusInternalServerError, "internal error")

	assert.NotPanics(t, func() {
		Notify(context.Background(), NewMattermost(), &alert.Event{AlertName: "queue"},
			alert.StateTriggered, Options{URL: server.URL})
	})

	errs := entriesAt(logEntries(t, logs), "error")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0]["message"], "500")
	assert.Equal(t, float64(500), errs[0]["status_code"])
	assert.Equal(t, "status", errs[0]["kind"])

	warnings := entriesAt(logEntries(t, logs), "warn")
	require.Len(t, warnings, 1)
	assert.Equal(t, "internal error", warnings[0]["response"])
}

func TestSend_ConnectionFailure(t *testing.T) {
	logs := captureLogs(t)
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	var result *Result
	assert.NotPanics(t, func() {
		result = Send(context.Background(), "ops", NewMattermost(), &alert.Event{AlertName: "queue"},
			alert.StateOK, Options{URL: url})
	})

	assert.Equal(t, "network", result.Outcome)
	assert.Zero(t, result.StatusCode)

	errs := entriesAt(logEntries(t, logs), "error")
	require.Len(t, errs, 1)
	assert.Equal(t, "network", errs[0]["kind"])
	assert.NotEmpty(t, errs[0]["error"])
	assert.Empty(t, entriesAt(logEntries(t, logs), "warn"), "no response, nothing to log at warning level")
}

func TestSend_MissingURL(t *testing.T) {
	logs := captureLogs(t)

	result := Send(context.Background(), "ops", NewSlack(), &alert.Event{AlertName: "queue"},
		alert.StateTriggered, Options{Channel: "#ops"})

	assert.Equal(t, "request", result.Outcome)
	errs := entriesAt(logEntries(t, logs), "error")
	require.Len(t, errs, 1)
	assert.True(t, strings.Contains(errs[0]["error"].(string), "webhook url is not configured"))
}

func TestSend_RecoversPanic(t *testing.T) {
	logs := captureLogs(t)

	var result *Result
	assert.NotPanics(t, func() {
		result = Send(context.Background(), "broken", &panickingDestination{}, &alert.Event{AlertName: "queue"},
			alert.StateTriggered, Options{})
	})

	assert.Equal(t, "panic", result.Outcome)
	errs := entriesAt(logEntries(t, logs), "error")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0]["error"], "nil map write")
	assert.NotEmpty(t, errs[0]["stack"])
}

func TestSend_UnclassifiedError(t *testing.T) {
	captureLogs(t)

	result := Send(context.Background(), "odd", &plainErrorDestination{}, &alert.Event{AlertName: "queue"},
		alert.StateTriggered, Options{})

	assert.Equal(t, "unclassified", result.Outcome)
}

func TestSend_RenderFailure(t *testing.T) {
	logs := captureLogs(t)
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer server.Close()

	event := &alert.Event{AlertName: "queue", Render: func() (string, error) { return "", errors.New("bad template") }}
	result := Send(context.Background(), "ops", NewMattermost(), event, alert.StateTriggered, Options{URL: server.URL})

	assert.Equal(t, "render", result.Outcome)
	assert.False(t, called, "nothing is posted when rendering fails")
	assert.Len(t, entriesAt(logEntries(t, logs), "error"), 1)
}

func TestSend_TimeoutIsFlagged(t *testing.T) {
	logs := captureLogs(t)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	result := Send(context.Background(), "ops", NewMattermost(WithTimeout(50*time.Millisecond)),
		&alert.Event{AlertName: "queue"}, alert.StateTriggered, Options{URL: server.URL})

	assert.Equal(t, "network", result.Outcome)
	errs := entriesAt(logEntries(t, logs), "error")
	require.Len(t, errs, 1)
	assert.Equal(t, true, errs[0]["timeout"])
}
