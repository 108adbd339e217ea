package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/google/generative-ai-go/genai"

	"doc-ingest-platform/internal/logger"
)

// Embedder produces dense vectors for chunk content and queries. The worker
// and the fast lane batch whole documents; the query path embeds one string.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ErrTransient wraps embedding failures worth retrying: rate limits, server
// errors, timeouts and an open circuit breaker. Everything else is permanent.
var ErrTransient = errors.New("transient embedding failure")

// IsTransient reports whether an embedding error is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// batchLimit is the provider's maximum number of contents per batch request.
const batchLimit = 100

// GeminiEmbedder calls the Google Generative AI embedding endpoint behind a
// circuit breaker and a client-side rate limiter.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
}

// NewGeminiEmbedder builds the embedder. requestsPerMinute bounds the
// client-side request rate; the breaker opens after a sustained failure run
// so a provider outage fails fast instead of burning the retry budget.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimension, requestsPerMinute int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiEmbeddings",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name,
				"from", from.String(), "to", to.String())
		},
	})

	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute/6+1)

	return &GeminiEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		breaker:   breaker,
		limiter:   limiter,
	}, nil
}

func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}

// EmbedBatch embeds texts in provider-sized batches, preserving order. Every
// returned vector is validated against the configured dimension; a mismatch
// is a permanent failure since stored vectors would be unsearchable.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("gemini-embedder")
	ctx, span := tracer.Start(ctx, "embeddings.batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("embeddings.count", len(texts)),
		attribute.String("embeddings.model", e.model),
	)

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchLimit {
		end := start + batchLimit
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			span.SetAttributes(attribute.Bool("embeddings.error", true))
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *GeminiEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		model := e.client.EmbeddingModel(e.model)
		batch := model.NewBatch()
		for _, text := range texts {
			batch.AddContent(genai.Text(text))
		}
		return model.BatchEmbedContents(ctx, batch)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: circuit breaker open", ErrTransient)
	}
	if err != nil {
		return nil, classifyProviderError(err)
	}

	resp := result.(*genai.BatchEmbedContentsResponse)
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		if e.dimension > 0 && len(emb.Values) != e.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(emb.Values), e.dimension)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// classifyProviderError splits provider failures into transient and permanent.
func classifyProviderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	msg := err.Error()
	for _, marker := range []string{"429", "500", "502", "503", "504", "rate limit", "deadline", "unavailable", "connection refused", "EOF"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return fmt.Errorf("embedding request failed: %w", err)
}

// Close releases the underlying client.
func (e *GeminiEmbedder) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
