// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"fmt"
	"sort"

	apperrors "github.com/soothill/alert-destinations/pkg/errors"
)

// Registry holds the destination types available to a host, keyed by type.
// It is built explicitly at startup.
type Registry struct {
	destinations map[string]Destination
}

// Descriptor is the catalogue entry a host shows for a destination type.
type Descriptor struct {
	Type                string `json:"type"`
	Name                string `json:"name"`
	Icon                string `json:"icon"`
	ConfigurationSchema Schema `json:"configuration_schema"`
}

// NewRegistry creates a registry from an explicit list of destinations.
func NewRegistry(destinations ...Destination) (*Registry, error) {
	r := &Registry{destinations: make(map[string]Destination, len(destinations))}
	for _, d := range destinations {
		if _, exists := r.destinations[d.Type()]; exists {
			return nil, fmt.Errorf("destination type %q registered twice", d.Type())
		}
		r.destinations[d.Type()] = d
	}
	return r, nil
}

// DefaultRegistry returns the registry of every built-in destination type.
func DefaultRegistry(opts ...WebhookOption) *Registry {
	r, err := NewRegistry(
		NewMattermost(opts...),
		NewSlack(opts...),
	)
	if err != nil {
		panic(err) // built-in types are distinct
	}
	return r
}

// Get returns the destination registered under destType.
func (r *Registry) Get(destType string) (Destination, error) {
	d, ok := r.destinations[destType]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", apperrors.ErrUnknownDestination, destType)
	}
	return d, nil
}

// Types returns the registered type keys in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.destinations))
	for t := range r.destinations {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Catalogue describes every registered type, sorted by type.
func (r *Registry) Catalogue() []Descriptor {
	types := r.Types()
	out := make([]Descriptor, 0, len(types))
	for _, t := range types {
		d := r.destinations[t]
		out = append(out, Descriptor{
			Type:                d.Type(),
			Name:                d.Name(),
			Icon:                d.Icon(),
			ConfigurationSchema: d.ConfigurationSchema(),
		})
	}
	return out
}
