// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/alert-destinations/pkg/errors"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"mattermost", "slack"}, r.Types())

	d, err := r.Get("mattermost")
	require.NoError(t, err)
	assert.IsType(t, &Mattermost{}, d)

	_, err = r.Get("pagerduty")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownDestination))
}

func TestNewRegistry_Duplicate(t *testing.T) {
	_, err := NewRegistry(NewMattermost(), NewMattermost())
	assert.Error(t, err)
}

func TestRegistry_Catalogue(t *testing.T) {
	catalogue := DefaultRegistry().Catalogue()
	require.Len(t, catalogue, 2)

	assert.Equal(t, "mattermost", catalogue[0].Type)
	assert.Equal(t, "fa-bolt", catalogue[0].Icon)
	assert.Equal(t, "slack", catalogue[1].Type)

	data, err := json.Marshal(catalogue[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	schema := decoded["configuration_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	_, hasRequired := schema["required"]
	assert.False(t, hasRequired)
}
