// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"context"

	"github.com/soothill/alert-destinations/alert"
	apperrors "github.com/soothill/alert-destinations/pkg/errors"
)

// SlackType is the registry key of the Slack destination.
const SlackType = "slack"

// Slack posts alert notifications to a Slack incoming webhook.
type Slack struct {
	webhook *webhookClient
}

// NewSlack creates a new Slack destination
func NewSlack(opts ...WebhookOption) *Slack {
	return &Slack{webhook: newWebhookClient(opts...)}
}

func (s *Slack) Type() string { return SlackType }

func (s *Slack) Name() string { return "Slack" }

func (s *Slack) Icon() string { return "fa-slack" }

// ConfigurationSchema returns the options schema used for form generation.
func (s *Slack) ConfigurationSchema() Schema {
	return webhookSchema("Slack Webhook URL")
}

// BuildPayload formats the alert transition into a Slack message.
func (s *Slack) BuildPayload(a alert.Alert, state alert.State, opts Options) (*Payload, error) {
	text := "*" + a.Name() + "* went back to normal"
	if state.IsTriggered() {
		text = "*" + a.Name() + "* just triggered"
	}
	if subject := a.CustomSubject(); subject != "" {
		text += "\n" + subject
	}

	payload := &Payload{Text: text}

	if a.HasTemplate() {
		description, err := a.RenderTemplate()
		if err != nil {
			return nil, apperrors.NewNotificationError(SlackType, apperrors.KindRender, err)
		}
		payload.Attachments = descriptionAttachment(stateColor(state), description)
	}

	payload.applyOptions(opts)
	return payload, nil
}

// Deliver posts the alert transition to the webhook in opts.URL.
func (s *Slack) Deliver(ctx context.Context, a alert.Alert, state alert.State, opts Options) (*Response, error) {
	payload, err := s.BuildPayload(a, state, opts)
	if err != nil {
		return nil, err
	}
	return s.webhook.post(ctx, SlackType, opts.URL, payload)
}

// stateColor maps alert states to Slack attachment colors. Every state
// other than triggered reads as a return to normal.
func stateColor(state alert.State) string {
	if state.IsTriggered() {
		return "danger"
	}
	return "good"
}
