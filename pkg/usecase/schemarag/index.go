package schemarag

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/m-mizutani/queryscribe/pkg/utils/metrics"
	"golang.org/x/sync/errgroup"
)

// Index is a versioned handle of the installed schema snapshot. Readers always observe
// exactly one complete snapshot; Install replaces it wholesale.
type Index struct {
	current atomic.Pointer[model.Snapshot]
}

func NewIndex() *Index {
	return &Index{}
}

// Current returns the installed snapshot, or nil if nothing is installed yet.
func (x *Index) Current() *model.Snapshot {
	return x.current.Load()
}

// Install atomically replaces the snapshot and returns the previous one.
func (x *Index) Install(snap *model.Snapshot) *model.Snapshot {
	metrics.SetIndexedTables(snap.Len())
	return x.current.Swap(snap)
}

type buildConfig struct {
	embeddingModel string
	concurrency    int
	descriptions   map[model.TableName]string
	now            func() time.Time
}

type BuildOption func(*buildConfig)

// WithEmbeddingModel sets the embedding model name. It's part of snapshot identity because
// vectors from different models are not comparable.
func WithEmbeddingModel(name string) BuildOption {
	return func(cfg *buildConfig) {
		cfg.embeddingModel = name
	}
}

func WithConcurrency(n int) BuildOption {
	return func(cfg *buildConfig) {
		cfg.concurrency = n
	}
}

func WithTableDescriptions(descriptions map[model.TableName]string) BuildOption {
	return func(cfg *buildConfig) {
		cfg.descriptions = descriptions
	}
}

func WithClock(now func() time.Time) BuildOption {
	return func(cfg *buildConfig) {
		cfg.now = now
	}
}

// Build chunks the schema text and embeds every chunk. The returned snapshot is not
// installed; call Index.Install to publish it.
func Build(ctx context.Context, embedder interfaces.Embedder, schemaText string, opts ...BuildOption) (*model.Snapshot, error) {
	cfg := &buildConfig{
		concurrency: 4,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	chunks, err := Chunk(schemaText, WithDescriptions(cfg.descriptions))
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(chunks))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.concurrency)
	for i, chunk := range chunks {
		eg.Go(func() error {
			vec, err := embedder.Embed(egCtx, chunk.Content)
			if err != nil {
				return goerr.Wrap(err, "failed to embed schema chunk", goerr.V("table", chunk.TableName))
			}
			if len(vec) == 0 {
				return goerr.New("empty embedding vector", goerr.V("table", chunk.TableName))
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i := 1; i < len(vectors); i++ {
		if len(vectors[i]) != len(vectors[0]) {
			return nil, goerr.New("embedding dimension mismatch",
				goerr.V("table", chunks[i].TableName),
				goerr.V("expected", len(vectors[0])),
				goerr.V("actual", len(vectors[i])))
		}
	}

	snap := &model.Snapshot{
		ID:             SnapshotIDFor(cfg.embeddingModel, schemaText, cfg.descriptions),
		EmbeddingModel: cfg.embeddingModel,
		Chunks:         chunks,
		Vectors:        vectors,
		CreatedAt:      cfg.now(),
	}

	logging.From(ctx).Debug("schema snapshot built",
		"snapshot_id", snap.ID.Short(),
		"tables", len(chunks),
	)
	return snap, nil
}

// SnapshotIDFor returns the ID Build assigns to a snapshot of the same inputs.
func SnapshotIDFor(embeddingModel, schemaText string, descriptions map[model.TableName]string) model.SnapshotID {
	return model.NewSnapshotID(embeddingModel, schemaText, descriptionKey(descriptions))
}

func descriptionKey(descriptions map[model.TableName]string) string {
	if len(descriptions) == 0 {
		return ""
	}
	keys := make([]string, 0, len(descriptions))
	for k := range descriptions {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var key string
	for _, k := range keys {
		key += k + "=" + descriptions[model.TableName(k)] + "\n"
	}
	return key
}
