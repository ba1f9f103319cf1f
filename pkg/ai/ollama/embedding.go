package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbeddings creates embeddings for all inputs with a single embed
// request. Blank inputs are not sent and map to zero vectors.
func (c *GraphOllamaClient) GenerateEmbeddings(
	ctx context.Context,
	inputs []string,
	task ai.EmbeddingTask,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	prefix := c.taskPrefixes[task]
	idxMap := make([]int, 0, len(inputs))
	send := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			continue
		}
		idxMap = append(idxMap, i)
		send = append(send, prefix+in)
	}

	out := make([][]float32, len(inputs))
	dim := 0
	if len(send) > 0 {
		rCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		if err := c.reqLock.Acquire(rCtx, 1); err != nil {
			return nil, classify(ctx, "embed", err)
		}
		defer c.reqLock.Release(1)

		res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
			Model: c.embeddingModel,
			Input: send,
		})
		if err != nil {
			return nil, classify(ctx, "embed", err)
		}

		c.modifyMetrics(ai.ModelMetrics{
			InputTokens: res.PromptEvalCount,
			TotalTokens: res.PromptEvalCount,
			DurationMs:  res.TotalDuration.Milliseconds(),
		})

		if len(res.Embeddings) != len(send) {
			return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(send))
		}
		for i, vec := range res.Embeddings {
			out[idxMap[i]] = vec
			dim = len(vec)
		}
	}

	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}
