// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"context"

	"github.com/soothill/alert-destinations/alert"
	apperrors "github.com/soothill/alert-destinations/pkg/errors"
)

// MattermostType is the registry key of the Mattermost destination.
const MattermostType = "mattermost"

// Mattermost posts alert notifications to a Mattermost incoming webhook.
type Mattermost struct {
	webhook *webhookClient
}

// NewMattermost creates a new Mattermost destination
func NewMattermost(opts ...WebhookOption) *Mattermost {
	return &Mattermost{webhook: newWebhookClient(opts...)}
}

func (m *Mattermost) Type() string { return MattermostType }

func (m *Mattermost) Name() string { return "Mattermost" }

func (m *Mattermost) Icon() string { return "fa-bolt" }

// ConfigurationSchema returns the options schema used for form generation.
func (m *Mattermost) ConfigurationSchema() Schema {
	return webhookSchema("Webhook URL")
}

// BuildPayload formats the alert transition into a Mattermost message.
func (m *Mattermost) BuildPayload(a alert.Alert, state alert.State, opts Options) (*Payload, error) {
	text := "#### " + a.Name() + " went back to normal"
	if state.IsTriggered() {
		text = "#### " + a.Name() + " just triggered"
	}
	if subject := a.CustomSubject(); subject != "" {
		text += "\n" + subject
	}

	payload := &Payload{Text: text}

	if a.HasTemplate() {
		description, err := a.RenderTemplate()
		if err != nil {
			return nil, apperrors.NewNotificationError(MattermostType, apperrors.KindRender, err)
		}
		payload.Attachments = descriptionAttachment("", description)
	}

	payload.applyOptions(opts)
	return payload, nil
}

// Deliver posts the alert transition to the webhook in opts.URL.
func (m *Mattermost) Deliver(ctx context.Context, a alert.Alert, state alert.State, opts Options) (*Response, error) {
	payload, err := m.BuildPayload(a, state, opts)
	if err != nil {
		return nil, err
	}
	return m.webhook.post(ctx, MattermostType, opts.URL, payload)
}
