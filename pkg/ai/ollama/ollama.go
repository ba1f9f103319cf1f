package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
type GraphOllamaClient struct {
	embeddingModel  string
	extractionModel string
	taskPrefixes    map[ai.EmbeddingTask]string
	timeout         time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
//
// TaskPrefixes are prepended to embedding inputs per task, for models
// trained with instruction prefixes such as "search_query: ".
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	TaskPrefixes    map[ai.EmbeddingTask]string

	BaseURL string
	ApiKey  string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client with the specified configuration.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 4
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		taskPrefixes:    params.TaskPrefixes,
		timeout:         timeout,

		reqLock: semaphore.NewWeighted(maxReq),

		Client: api.NewClient(u, httpClient),
	}, nil
}

// EmbeddingProvider identifies the provider in embedding cache keys.
func (c *GraphOllamaClient) EmbeddingProvider() string {
	return "ollama"
}

// EmbeddingModel identifies the model in embedding cache keys.
func (c *GraphOllamaClient) EmbeddingModel() string {
	return c.embeddingModel
}

func classify(parent context.Context, op string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return ai.ClassifyCallError(parent, op, statusErr.StatusCode, err)
	}
	return ai.ClassifyCallError(parent, op, 0, err)
}
