package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the auth service
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Session lifecycle
	SessionStarted metric.Int64Counter
	TokenRefreshed metric.Int64Counter
	SessionRevoked metric.Int64Counter

	// Security
	AuthFailures       metric.Int64Counter
	TokenReuseDetected metric.Int64Counter
	RateLimitExceeded  metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageSizeAccounts      metric.Int64ObservableGauge
	StorageSizeSessions      metric.Int64ObservableGauge
	StorageSizeCredentials   metric.Int64ObservableGauge
	StorageSizeStates        metric.Int64ObservableGauge

	// Provider
	ProviderExchangeTotal    metric.Int64Counter
	ProviderExchangeDuration metric.Float64Histogram
	ProviderExchangeErrors   metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	providerMeter := inst.Meter("provider")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"auth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"auth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.SessionStarted, err = serverMeter.Int64Counter(
		"auth.session.started",
		metric.WithDescription("Number of refresh session families started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.started counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"auth.token.refreshed",
		metric.WithDescription("Number of successful refresh rotations"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.SessionRevoked, err = serverMeter.Int64Counter(
		"auth.session.revoked",
		metric.WithDescription("Number of session families revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.revoked counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"auth.failures.total",
		metric.WithDescription("Number of authentication failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failures.total counter: %w", err)
	}

	m.TokenReuseDetected, err = securityMeter.Int64Counter(
		"auth.token.reuse_detected",
		metric.WithDescription("Number of refresh token reuse attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.reuse_detected counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"auth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageSizeAccounts, err = storageMeter.Int64ObservableGauge(
		"storage.size.accounts",
		metric.WithDescription("Number of accounts in storage"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.accounts gauge: %w", err)
	}

	m.StorageSizeSessions, err = storageMeter.Int64ObservableGauge(
		"storage.size.sessions",
		metric.WithDescription("Number of refresh session families in storage"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.sessions gauge: %w", err)
	}

	m.StorageSizeCredentials, err = storageMeter.Int64ObservableGauge(
		"storage.size.credentials",
		metric.WithDescription("Number of linked provider credentials in storage"),
		metric.WithUnit("{credential}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.credentials gauge: %w", err)
	}

	m.StorageSizeStates, err = storageMeter.Int64ObservableGauge(
		"storage.size.states",
		metric.WithDescription("Number of in-flight OAuth login states in storage"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.states gauge: %w", err)
	}

	m.ProviderExchangeTotal, err = providerMeter.Int64Counter(
		"provider.exchange.total",
		metric.WithDescription("Total number of provider code exchanges"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.exchange.total counter: %w", err)
	}

	m.ProviderExchangeDuration, err = providerMeter.Float64Histogram(
		"provider.exchange.duration",
		metric.WithDescription("Provider code exchange duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.exchange.duration histogram: %w", err)
	}

	m.ProviderExchangeErrors, err = providerMeter.Int64Counter(
		"provider.exchange.errors.total",
		metric.WithDescription("Total number of provider code exchange errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.exchange.errors.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordSessionStarted records the creation of a session family
func (m *Metrics) RecordSessionStarted(ctx context.Context, method string) {
	m.SessionStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordTokenRefresh records a successful refresh rotation
func (m *Metrics) RecordTokenRefresh(ctx context.Context) {
	m.TokenRefreshed.Add(ctx, 1)
}

// RecordSessionRevoked records a session family revocation
func (m *Metrics) RecordSessionRevoked(ctx context.Context, reason string) {
	m.SessionRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordAuthFailure records an authentication failure
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordTokenReuseDetected records a refresh token reuse attempt
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordProviderExchange records a provider code exchange attempt
func (m *Metrics) RecordProviderExchange(ctx context.Context, provider string, durationMs float64, err error) {
	m.ProviderExchangeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
	m.ProviderExchangeDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
	))

	if err != nil {
		m.ProviderExchangeErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
		))
	}
}
