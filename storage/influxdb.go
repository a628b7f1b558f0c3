// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage provides InfluxDB storage for alert delivery history.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/soothill/alert-destinations/pkg/interfaces"
	"github.com/soothill/alert-destinations/pkg/logger"
	"github.com/soothill/alert-destinations/pkg/metrics"
)

const (
	measurement     = "notification_delivery"
	connectTimeout  = 5 * time.Second
	maxQueryLimit   = 1000
	maxFluxStrLen   = 1000
	historyLookback = "-30d"
)

// InfluxDBHistory writes delivery records to InfluxDB
type InfluxDBHistory struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
}

var _ interfaces.DeliveryHistory = (*InfluxDBHistory)(nil)

// NewInfluxDBHistory creates a new InfluxDB history client and verifies the
// server is reachable.
func NewInfluxDBHistory(url, token, org, bucket string) (*InfluxDBHistory, error) {
	client := influxdb2.NewClient(url, token)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	writeAPI := client.WriteAPI(org, bucket)

	// Handle async write errors
	go func() {
		for err := range writeAPI.Errors() {
			metrics.HistoryWriteErrors.Inc()
			logger.Error().Err(err).Msg("InfluxDB write error")
		}
	}()

	return &InfluxDBHistory{
		client:   client,
		writeAPI: writeAPI,
		bucket:   bucket,
		org:      org,
	}, nil
}

// Record queues a delivery record for writing
func (s *InfluxDBHistory) Record(record *interfaces.DeliveryRecord) error {
	p, err := recordPoint(record)
	if err != nil {
		return err
	}
	s.writeAPI.WritePoint(p)
	metrics.HistoryWritesTotal.Inc()
	return nil
}

// recordPoint converts a delivery record to an InfluxDB point
func recordPoint(record *interfaces.DeliveryRecord) (*write.Point, error) {
	if record == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	if record.Destination == "" {
		return nil, fmt.Errorf("destination cannot be empty")
	}
	if record.Timestamp.IsZero() {
		return nil, fmt.Errorf("timestamp cannot be zero")
	}

	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"destination": record.Destination,
			"type":        record.Type,
			"state":       record.State,
			"outcome":     record.Outcome,
		},
		map[string]interface{}{
			"status_code": record.StatusCode,
			"duration_ms": float64(record.Duration) / float64(time.Millisecond),
			"alert":       record.Alert,
			"delivery_id": record.ID,
		},
		record.Timestamp,
	), nil
}

// Recent returns the latest delivery records for a destination instance, newest first
func (s *InfluxDBHistory) Recent(ctx context.Context, destination string, limit int) ([]*interfaces.DeliveryRecord, error) {
	if destination == "" {
		return nil, fmt.Errorf("destination cannot be empty")
	}

	result, err := s.client.QueryAPI(s.org).Query(ctx, recentQuery(s.bucket, destination, limit))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var records []*interfaces.DeliveryRecord
	for result.Next() {
		row := result.Record()
		record := &interfaces.DeliveryRecord{
			Destination: destination,
			Timestamp:   row.Time(),
		}
		record.Type, _ = row.ValueByKey("type").(string)
		record.State, _ = row.ValueByKey("state").(string)
		record.Outcome, _ = row.ValueByKey("outcome").(string)
		record.Alert, _ = row.ValueByKey("alert").(string)
		record.ID, _ = row.ValueByKey("delivery_id").(string)
		if code, ok := row.ValueByKey("status_code").(int64); ok {
			record.StatusCode = int(code)
		}
		if ms, ok := row.ValueByKey("duration_ms").(float64); ok {
			record.Duration = time.Duration(ms * float64(time.Millisecond))
		}
		records = append(records, record)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("query parsing failed: %w", result.Err())
	}

	return records, nil
}

// recentQuery builds the Flux query behind Recent
func recentQuery(bucket, destination string, limit int) string {
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	return fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.destination == "%s")
			|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, sanitizeFluxString(bucket), historyLookback, measurement, sanitizeFluxString(destination), limit)
}

// sanitizeFluxString escapes a value for use inside a Flux string literal.
// Values longer than maxFluxStrLen bytes are cut at a rune boundary.
func sanitizeFluxString(s string) string {
	if len(s) > maxFluxStrLen {
		n := maxFluxStrLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '$':
			b.WriteString(`\$`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Health checks if InfluxDB is reachable and healthy
func (s *InfluxDBHistory) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("InfluxDB status: %s", health.Status)
	}
	return nil
}

// Flush forces all pending writes to complete
func (s *InfluxDBHistory) Flush() {
	s.writeAPI.Flush()
}

// Close closes the InfluxDB client and flushes pending writes
func (s *InfluxDBHistory) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	s.writeAPI.Flush()
	s.client.Close()
}
