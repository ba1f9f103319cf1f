package ai

import (
	"context"

	"github.com/invopop/jsonschema"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string             // Model identifier to use for generation
	SystemPrompts []string           // System prompts prepended to the request
	Temperature   float64            // Sampling temperature (0.0-2.0)
	Schema        *jsonschema.Schema // Output schema; reflected from the output type when nil
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	Requests       int     `json:"requests"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithSchema returns a GenerateOption that replaces the schema reflected from
// the output type. Use it to narrow string fields to an enumeration.
func WithSchema(schema *jsonschema.Schema) GenerateOption {
	return func(o *GenerateOptions) {
		o.Schema = schema
	}
}

// EmbeddingTask names the purpose of an embedding. It is part of the cache
// key so vectors computed for different tasks never collide.
type EmbeddingTask string

const (
	TaskDocument   EmbeddingTask = "document"
	TaskQuery      EmbeddingTask = "query"
	TaskSimilarity EmbeddingTask = "similarity"
)

// StructuredGenerator produces a JSON object conforming to a schema.
//
// Implementations return *SchemaValidationError when the response cannot be
// decoded into out, *RateLimitError when the provider throttles, and
// *TimeoutError when a call exceeds its deadline.
type StructuredGenerator interface {
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error
}

// Embedder computes vector embeddings. GenerateEmbeddings returns one vector
// per input in input order and issues a single request per call where the
// provider supports batching.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, inputs []string, task EmbeddingTask) ([][]float32, error)
	EmbeddingProvider() string
	EmbeddingModel() string
}

// GraphAIClient defines the AI operations used in graph construction and
// retrieval.
type GraphAIClient interface {
	StructuredGenerator
	Embedder

	ResetMetrics()
	GetMetrics() ModelMetrics
}
