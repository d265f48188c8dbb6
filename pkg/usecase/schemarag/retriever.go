package schemarag

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/m-mizutani/queryscribe/pkg/utils/metrics"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.3
)

// Retriever selects the schema chunks relevant to a question.
type Retriever struct {
	embedder interfaces.Embedder
}

func NewRetriever(embedder interfaces.Embedder) *Retriever {
	return &Retriever{embedder: embedder}
}

// Retrieve ranks chunks of snap by cosine similarity to the question. Only chunks scoring
// at least threshold are kept, at most topK of them, ordered by descending score and then
// by declaration order. An empty snapshot yields an empty result without calling the
// embedder.
func (r *Retriever) Retrieve(ctx context.Context, snap *model.Snapshot, question string, topK int, threshold float64) (*model.RetrievalResult, error) {
	result := &model.RetrievalResult{}
	if snap != nil {
		result.SnapshotID = snap.ID
	}
	if snap.Len() == 0 || topK <= 0 {
		return result, nil
	}

	started := time.Now()
	query, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed question")
	}

	candidates := make([]model.ScoredChunk, 0, snap.Len())
	for i, chunk := range snap.Chunks {
		if len(snap.Vectors[i]) != len(query) {
			return nil, goerr.Wrap(model.ErrEmbeddingMismatch, "vector dimension differs from question",
				goerr.V("expected", len(snap.Vectors[i])),
				goerr.V("actual", len(query)),
				goerr.V("table", chunk.TableName),
				goerr.V("embedding_model", snap.EmbeddingModel),
			)
		}
		score := cosineSimilarity(query, snap.Vectors[i])
		if score < threshold {
			continue
		}
		candidates = append(candidates, model.ScoredChunk{Chunk: chunk, Score: score})
	}

	// Chunks are in declaration order, so a stable sort keeps it for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	result.Items = candidates

	metrics.ObserveRetrieval(time.Since(started), len(candidates))
	logging.From(ctx).Debug("schema context retrieved",
		"snapshot_id", snap.ID.Short(),
		"tables", result.TableNames(),
		"threshold", threshold,
	)

	return result, nil
}

// cosineSimilarity returns 0 for vectors of zero norm. Callers check the dimensions.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
