// Copyright 2025 The Lighthouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability exposes the platform's metrics through the
// OpenTelemetry metric API backed by a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures metric collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics holds the platform's instruments. The zero value is a no-op.
type Metrics struct {
	enabled bool

	validationDuration metric.Float64Histogram
	validations        metric.Int64Counter
	cacheHits          metric.Int64Counter
	escalations        metric.Int64Counter
	appendDuration     metric.Float64Histogram
	appends            metric.Int64Counter
	elicitations       metric.Int64Counter
	sessionsCreated    metric.Int64Counter
	authDenials        metric.Int64Counter
}

// InitMetrics creates the meter provider and instruments.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("lighthouse")

	m := &Metrics{enabled: true}

	m.validationDuration, err = meter.Float64Histogram(
		"lighthouse_validation_duration_seconds",
		metric.WithDescription("Validation pipeline duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.validations, err = meter.Int64Counter(
		"lighthouse_validations_total",
		metric.WithDescription("Total validation requests by decision"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	m.cacheHits, err = meter.Int64Counter(
		"lighthouse_cache_hits_total",
		metric.WithDescription("Validation cache hits by layer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.escalations, err = meter.Int64Counter(
		"lighthouse_escalations_total",
		metric.WithDescription("Total expert escalations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create escalations counter: %w", err)
	}

	m.appendDuration, err = meter.Float64Histogram(
		"lighthouse_event_append_duration_seconds",
		metric.WithDescription("Event store append duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create append duration histogram: %w", err)
	}

	m.appends, err = meter.Int64Counter(
		"lighthouse_events_appended_total",
		metric.WithDescription("Total events appended"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create appends counter: %w", err)
	}

	m.elicitations, err = meter.Int64Counter(
		"lighthouse_elicitations_total",
		metric.WithDescription("Total elicitations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create elicitations counter: %w", err)
	}

	m.sessionsCreated, err = meter.Int64Counter(
		"lighthouse_sessions_created_total",
		metric.WithDescription("Total sessions created"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions counter: %w", err)
	}

	m.authDenials, err = meter.Int64Counter(
		"lighthouse_auth_denials_total",
		metric.WithDescription("Total authorization denials"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth denials counter: %w", err)
	}

	return m, nil
}

// RecordValidation records one pipeline ruling.
func (m *Metrics) RecordValidation(ctx context.Context, decision string, cacheLayer string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
	m.validationDuration.Record(ctx, duration.Seconds())
	if cacheLayer != "" && cacheLayer != "none" {
		m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", cacheLayer)))
	}
}

// RecordEscalation records one expert escalation.
func (m *Metrics) RecordEscalation(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.escalations.Add(ctx, 1)
}

// RecordAppend records one event store append of n events.
func (m *Metrics) RecordAppend(ctx context.Context, n int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.appends.Add(ctx, int64(n))
	m.appendDuration.Record(ctx, duration.Seconds())
}

// RecordElicitation records one elicitation outcome.
func (m *Metrics) RecordElicitation(ctx context.Context, outcome string) {
	if !m.enabled {
		return
	}
	m.elicitations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSessionCreated records one session issue.
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.sessionsCreated.Add(ctx, 1)
}

// RecordAuthDenial records one authorization denial.
func (m *Metrics) RecordAuthDenial(ctx context.Context, reason string) {
	if !m.enabled {
		return
	}
	m.authDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
