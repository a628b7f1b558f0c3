// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/soothill/alert-destinations/pkg/errors"
)

// Schema is the JSON schema a destination exposes for its options. Hosts use
// it to generate configuration forms.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single option.
type Property struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// webhookSchema is shared by the webhook destinations. No property is
// required so hosts can save partially filled destinations.
func webhookSchema(urlTitle string) Schema {
	return Schema{
		Type: "object",
		Properties: map[string]Property{
			"url":      {Type: "string", Title: urlTitle},
			"username": {Type: "string", Title: "Username"},
			"icon_url": {Type: "string", Title: "Icon (URL)"},
			"channel":  {Type: "string", Title: "Channel"},
		},
	}
}

// ParseOptions validates raw options against schema and decodes them.
//
// raw usually comes straight from a YAML or JSON document; a nil map is
// treated as empty.
func ParseOptions(schema Schema, raw map[string]any) (Options, error) {
	if raw == nil {
		raw = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Options{}, apperrors.NewConfigError("options", "", fmt.Errorf("schema validation failed: %w", err))
	}
	if !result.Valid() {
		return Options{}, apperrors.NewConfigError("options", "", formatSchemaErrors(result.Errors()))
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Options{}, apperrors.NewConfigError("options", "", fmt.Errorf("failed to encode options: %w", err))
	}

	var opts Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return Options{}, apperrors.NewConfigError("options", "", fmt.Errorf("failed to decode options: %w", err))
	}
	return opts, nil
}

// formatSchemaErrors joins schema errors into a single readable error
func formatSchemaErrors(errs []gojsonschema.ResultError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, strings.Join(msgs, "; "))
}
