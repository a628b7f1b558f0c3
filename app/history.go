// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import "time"

// historyEntry is one delivery record as served by GET /api/v1/history/{destination}
type historyEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Alert      string    `json:"alert"`
	State      string    `json:"state"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
