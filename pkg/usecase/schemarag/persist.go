package schemarag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/adapter"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/philippgille/chromem-go"
)

const (
	metaTableName      = "table_name"
	metaOrdinal        = "ordinal"
	metaOffset         = "offset"
	metaDefinition     = "definition"
	metaColumns        = "columns"
	metaConstraints    = "constraints"
	metaEmbeddingModel = "embedding_model"
	metaCreatedAt      = "created_at"
)

// SnapshotKey returns the storage key of a persisted snapshot.
func SnapshotKey(id model.SnapshotID) string {
	return "schema-index/" + string(id) + ".chromem"
}

type Persister struct {
	storage       adapter.Storage
	encryptionKey string
}

type PersisterOption func(*Persister)

// WithEncryptionKey enables AES-GCM encryption of persisted blobs. The key must be 32 bytes.
func WithEncryptionKey(key string) PersisterOption {
	return func(p *Persister) {
		p.encryptionKey = key
	}
}

func NewPersister(storage adapter.Storage, opts ...PersisterOption) *Persister {
	p := &Persister{storage: storage}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Save writes the snapshot as one opaque blob keyed by its identity. An existing blob
// with the same key is replaced wholesale.
func (p *Persister) Save(ctx context.Context, snap *model.Snapshot) error {
	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(string(snap.ID), nil, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to create collection", goerr.V("snapshot_id", snap.ID))
	}

	if snap.Len() > 0 {
		docs := make([]chromem.Document, snap.Len())
		for i, chunk := range snap.Chunks {
			doc, err := chunkToDocument(snap, chunk, snap.Vectors[i])
			if err != nil {
				return err
			}
			docs[i] = doc
		}
		if err := coll.AddDocuments(ctx, docs, 1); err != nil {
			return goerr.Wrap(err, "failed to add documents", goerr.V("snapshot_id", snap.ID))
		}
	}

	var buf bytes.Buffer
	if err := db.ExportToWriter(&buf, true, p.encryptionKey, string(snap.ID)); err != nil {
		return goerr.Wrap(err, "failed to export snapshot", goerr.V("snapshot_id", snap.ID))
	}

	key := SnapshotKey(snap.ID)
	w, err := p.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open snapshot writer", goerr.V("key", key))
	}
	if _, err := io.Copy(w, &buf); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write snapshot", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close snapshot writer", goerr.V("key", key))
	}

	logging.From(ctx).Info("schema snapshot saved", "key", key, "tables", snap.Len())
	return nil
}

// Load reads a persisted snapshot. It returns model.ErrSnapshotNotFound if no blob exists.
func (p *Persister) Load(ctx context.Context, id model.SnapshotID) (*model.Snapshot, error) {
	key := SnapshotKey(id)
	r, err := p.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, goerr.Wrap(model.ErrSnapshotNotFound, "no persisted snapshot", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open snapshot reader", goerr.V("key", key))
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read snapshot", goerr.V("key", key))
	}

	db := chromem.NewDB()
	if err := db.ImportFromReader(bytes.NewReader(raw), p.encryptionKey, string(id)); err != nil {
		return nil, goerr.Wrap(err, "failed to import snapshot", goerr.V("key", key))
	}
	coll := db.GetCollection(string(id), nil)
	if coll == nil {
		return nil, goerr.Wrap(model.ErrSnapshotNotFound, "snapshot blob has no collection", goerr.V("key", key))
	}

	snap := &model.Snapshot{ID: id}
	n := coll.Count()
	snap.Chunks = make([]*model.SchemaChunk, n)
	snap.Vectors = make([][]float32, n)
	for i := 0; i < n; i++ {
		doc, err := coll.GetByID(ctx, documentID(i))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get chunk document", goerr.V("key", key), goerr.V("ordinal", i))
		}
		chunk, err := documentToChunk(doc)
		if err != nil {
			return nil, goerr.Wrap(err, "broken chunk document", goerr.V("key", key), goerr.V("ordinal", i))
		}
		snap.Chunks[i] = chunk
		snap.Vectors[i] = doc.Embedding

		if i == 0 {
			snap.EmbeddingModel = doc.Metadata[metaEmbeddingModel]
			if ts, err := time.Parse(time.RFC3339Nano, doc.Metadata[metaCreatedAt]); err == nil {
				snap.CreatedAt = ts
			}
		}
	}

	return snap, nil
}

func documentID(ordinal int) string {
	return fmt.Sprintf("%06d", ordinal)
}

func chunkToDocument(snap *model.Snapshot, chunk *model.SchemaChunk, vector []float32) (chromem.Document, error) {
	columns, err := json.Marshal(chunk.Columns)
	if err != nil {
		return chromem.Document{}, goerr.Wrap(err, "failed to marshal columns", goerr.V("table", chunk.TableName))
	}
	constraints, err := json.Marshal(chunk.Constraints)
	if err != nil {
		return chromem.Document{}, goerr.Wrap(err, "failed to marshal constraints", goerr.V("table", chunk.TableName))
	}

	return chromem.Document{
		ID: documentID(chunk.Ordinal),
		Metadata: map[string]string{
			metaTableName:      string(chunk.TableName),
			metaOrdinal:        strconv.Itoa(chunk.Ordinal),
			metaOffset:         strconv.Itoa(chunk.Offset),
			metaDefinition:     chunk.Definition,
			metaColumns:        string(columns),
			metaConstraints:    string(constraints),
			metaEmbeddingModel: snap.EmbeddingModel,
			metaCreatedAt:      snap.CreatedAt.Format(time.RFC3339Nano),
		},
		Embedding: vector,
		Content:   chunk.Content,
	}, nil
}

func documentToChunk(doc chromem.Document) (*model.SchemaChunk, error) {
	ordinal, err := strconv.Atoi(doc.Metadata[metaOrdinal])
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ordinal")
	}
	offset, err := strconv.Atoi(doc.Metadata[metaOffset])
	if err != nil {
		return nil, goerr.Wrap(err, "invalid offset")
	}

	chunk := &model.SchemaChunk{
		Ordinal:    ordinal,
		TableName:  model.TableName(doc.Metadata[metaTableName]),
		Content:    doc.Content,
		Definition: doc.Metadata[metaDefinition],
		Offset:     offset,
	}
	if err := json.Unmarshal([]byte(doc.Metadata[metaColumns]), &chunk.Columns); err != nil {
		return nil, goerr.Wrap(err, "invalid columns")
	}
	if err := json.Unmarshal([]byte(doc.Metadata[metaConstraints]), &chunk.Constraints); err != nil {
		return nil, goerr.Wrap(err, "invalid constraints")
	}
	return chunk, nil
}
