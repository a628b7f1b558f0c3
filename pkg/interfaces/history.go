// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"
	"time"
)

// DeliveryRecord describes one delivery attempt to a destination instance.
// This is redeclared here to avoid circular dependencies.
type DeliveryRecord struct {
	ID          string
	Destination string // Configured instance name
	Type        string // Destination type, e.g. "mattermost"
	Alert       string
	State       string
	Outcome     string // "success", "skipped" or the failure kind
	StatusCode  int    // Zero when no response was received
	Duration    time.Duration
	Timestamp   time.Time
}

// DeliveryHistory defines the interface for delivery history persistence.
type DeliveryHistory interface {
	// Record queues a delivery record for writing
	Record(record *DeliveryRecord) error

	// Recent returns the latest records for a destination instance, newest first
	Recent(ctx context.Context, destination string, limit int) ([]*DeliveryRecord, error)

	// Flush ensures all pending writes are completed
	Flush()

	// Close gracefully shuts down the storage connection
	Close()

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error
}
