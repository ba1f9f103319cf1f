package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbeddings creates embeddings for all inputs in a single request.
// Blank inputs are not sent and map to zero vectors. The task is not
// forwarded; OpenAI embedding models are task agnostic.
func (c *GraphOpenAIClient) GenerateEmbeddings(
	ctx context.Context,
	inputs []string,
	task ai.EmbeddingTask,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if c.EmbeddingClient == nil {
		return nil, fmt.Errorf("openai embedding client not configured")
	}

	idxMap := make([]int, 0, len(inputs))
	send := make([]string, 0, len(inputs))
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			continue
		}
		idxMap = append(idxMap, i)
		send = append(send, in)
	}
	if len(send) == 0 {
		for i := range out {
			out[i] = make([]float32, c.dimensions)
		}
		return out, nil
	}

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: send},
		Model: c.embeddingModel,
	}
	if c.dimensions > 0 {
		body.Dimensions = openai.Int(int64(c.dimensions))
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, classify(ctx, "embed", err)
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, classify(ctx, "embed", err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(send) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(send))
	}

	dim := 0
	for _, embedding := range response.Data {
		dataIdx := int(embedding.Index)
		if dataIdx < 0 || dataIdx >= len(send) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		vec := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vec[i] = float32(v)
		}
		dim = len(vec)
		out[idxMap[dataIdx]] = vec
	}
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}
