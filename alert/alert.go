// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package alert defines the alert events handed to destinations.
//
// Alerts are owned by the alerting host. Destinations only read the name,
// the optional custom subject and, when the host has one, the rendered
// description template.
package alert

import (
	"fmt"
	"strings"
)

// State is the state an alert transitioned into.
type State string

const (
	// StateTriggered means the alert condition is met.
	StateTriggered State = "triggered"
	// StateOK means the alert went back to normal.
	StateOK State = "ok"
	// StateUnknown means the host could not evaluate the alert.
	StateUnknown State = "unknown"
)

// ParseState converts a host-supplied state string into a State.
func ParseState(s string) (State, error) {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case StateTriggered:
		return StateTriggered, nil
	case StateOK:
		return StateOK, nil
	case StateUnknown:
		return StateUnknown, nil
	default:
		return "", fmt.Errorf("unknown alert state %q", s)
	}
}

// IsTriggered reports whether the state frames a message as a trigger.
// Every other state is reported as a return to normal.
func (s State) IsTriggered() bool {
	return s == StateTriggered
}

func (s State) String() string {
	return string(s)
}

// Alert is the read-only view of an alert that destinations format.
type Alert interface {
	// Name returns the alert's display name.
	Name() string
	// CustomSubject returns the optional user-defined subject line.
	CustomSubject() string
	// HasTemplate reports whether a rendered description is available.
	HasTemplate() bool
	// RenderTemplate produces the descriptive text for the alert.
	RenderTemplate() (string, error)
}

// Event is the concrete Alert decoded from the host's notify requests.
type Event struct {
	AlertName   string `json:"name" validate:"required"`
	Subject     string `json:"custom_subject,omitempty"`
	Description string `json:"description,omitempty"`

	// Render, when set, replaces Description as the template source. Hosts
	// embedding this module use it to plug in their own template rendering.
	Render func() (string, error) `json:"-"`
}

// Name returns the alert's display name.
func (e *Event) Name() string {
	return e.AlertName
}

// CustomSubject returns the optional user-defined subject line.
func (e *Event) CustomSubject() string {
	return e.Subject
}

// HasTemplate reports whether a description is available.
func (e *Event) HasTemplate() bool {
	return e.Render != nil || e.Description != ""
}

// RenderTemplate returns the rendered description.
func (e *Event) RenderTemplate() (string, error) {
	if e.Render != nil {
		return e.Render()
	}
	return e.Description, nil
}
