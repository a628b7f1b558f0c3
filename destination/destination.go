// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package destination delivers alert state transitions to chat webhooks.
//
// A Destination formats a triggered or resolved alert into a JSON payload and
// performs exactly one HTTP POST with a fixed timeout. Destinations hold no
// state between invocations and may be called concurrently.
//
// # Destination Types
//
// Currently supported:
//   - mattermost: Mattermost incoming webhooks ("#### <name> just triggered")
//   - slack: Slack incoming webhooks with color-coded attachments
//
// Both share the same options: url, username, icon_url and channel. Only url
// is needed to deliver, but the configuration schema marks nothing as
// required so partially filled destinations can still be saved by a host.
//
// # Error Handling
//
// Deliver returns classified errors (see pkg/errors). Notify and Send are the
// boundary used by hosts: they log every failure with its kind, record
// metrics and never propagate an error or a panic to the caller. There are
// no retries.
//
// # Example Usage
//
//	registry := destination.DefaultRegistry()
//	mm, _ := registry.Get("mattermost")
//
//	opts, err := destination.ParseOptions(mm.ConfigurationSchema(), map[string]any{
//	    "url":     "https://chat.example.com/hooks/abc",
//	    "channel": "#ops",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	event := &alert.Event{AlertName: "disk usage", Subject: "disk full"}
//	destination.Notify(ctx, mm, event, alert.StateTriggered, opts)
package destination

import (
	"context"
	"time"

	"github.com/soothill/alert-destinations/alert"
)

// DefaultTimeout bounds every webhook request.
const DefaultTimeout = 5 * time.Second

// Destination is a pluggable delivery channel for alert notifications.
type Destination interface {
	// Type returns the registry key, e.g. "mattermost".
	Type() string
	// Name returns the human readable name shown by hosts.
	Name() string
	// Icon returns a static display-icon identifier for UI presentation.
	Icon() string
	// ConfigurationSchema returns the JSON schema of the destination options.
	ConfigurationSchema() Schema
	// Deliver formats the alert and posts it once to the configured webhook.
	Deliver(ctx context.Context, a alert.Alert, state alert.State, opts Options) (*Response, error)
}

// Options holds the per-instance destination configuration.
type Options struct {
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// Response is the outcome of a completed webhook request.
type Response struct {
	StatusCode int
	Body       string
}
