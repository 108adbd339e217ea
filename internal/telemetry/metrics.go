package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	DocumentsProcessed  metric.Int64Counter
	ChunksCreated       metric.Int64Counter
	ProcessingTime      metric.Float64Histogram
	EmbeddingCalls      metric.Int64Counter
	SearchDuration      metric.Float64Histogram
	SyncRuns            metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("doc-ingest-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	documentsProcessed, err := meter.Int64Counter(
		"documents.processed.total",
		metric.WithDescription("Documents that reached a terminal status"),
	)
	if err != nil {
		return nil, err
	}

	chunksCreated, err := meter.Int64Counter(
		"chunks.created.total",
		metric.WithDescription("Chunks written to the store"),
	)
	if err != nil {
		return nil, err
	}

	processingTime, err := meter.Float64Histogram(
		"document.processing.duration",
		metric.WithDescription("End-to-end processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	embeddingCalls, err := meter.Int64Counter(
		"embeddings.batches.total",
		metric.WithDescription("Embedding provider batch calls"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"search.query.duration",
		metric.WithDescription("Search query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	syncRuns, err := meter.Int64Counter(
		"sync.runs.total",
		metric.WithDescription("Folder sync runs"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		DocumentsProcessed:  documentsProcessed,
		ChunksCreated:       chunksCreated,
		ProcessingTime:      processingTime,
		EmbeddingCalls:      embeddingCalls,
		SearchDuration:      searchDuration,
		SyncRuns:            syncRuns,
		CircuitBreakerState: circuitBreakerState,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordDocumentProcessed records a terminal transition, with the lane and
// final status as dimensions.
func (m *Metrics) RecordDocumentProcessed(lane, status string, duration float64, chunkCount int64) {
	attrs := []attribute.KeyValue{
		attribute.String("lane", lane),
		attribute.String("status", status),
	}

	m.DocumentsProcessed.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.ProcessingTime.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if chunkCount > 0 {
		m.ChunksCreated.Add(context.Background(), chunkCount, metric.WithAttributes(attrs...))
	}
}

// RecordEmbeddingBatch records one provider batch call
func (m *Metrics) RecordEmbeddingBatch(model string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("embedding.model", model),
		attribute.Bool("success", success),
	}

	m.EmbeddingCalls.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordSearch records search query metrics
func (m *Metrics) RecordSearch(mode string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("search.mode", mode),
	}

	m.SearchDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordSyncRun records one folder sync run
func (m *Metrics) RecordSyncRun(bindingID string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("binding.id", bindingID),
		attribute.Bool("success", success),
	}

	m.SyncRuns.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
