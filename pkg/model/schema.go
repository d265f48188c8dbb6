package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type TableName string

// Column is a single column declaration of a table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Constraints string `json:"constraints,omitempty"`
}

// SchemaChunk is the retrievable unit of a schema: exactly one table declaration.
type SchemaChunk struct {
	// Ordinal is the declaration order in the source schema text, starting from 0.
	Ordinal   int       `json:"ordinal"`
	TableName TableName `json:"table_name"`

	// Content is the normalized text used for embedding.
	Content     string   `json:"content"`
	Columns     []Column `json:"columns"`
	Constraints []string `json:"constraints,omitempty"`

	// Definition is the original declaration statement.
	Definition string `json:"definition"`
	Offset     int    `json:"offset"`
}

type SnapshotID string

// NewSnapshotID derives the identity of a snapshot from the embedding model, the schema
// text and any other input that changes chunk content.
func NewSnapshotID(embeddingModel, schemaText string, extras ...string) SnapshotID {
	h := sha256.New()
	h.Write([]byte(embeddingModel))
	h.Write([]byte{0})
	h.Write([]byte(schemaText))
	for _, extra := range extras {
		h.Write([]byte{0})
		h.Write([]byte(extra))
	}
	return SnapshotID(hex.EncodeToString(h.Sum(nil)))
}

func (x SnapshotID) Short() string {
	if len(x) > 12 {
		return string(x[:12])
	}
	return string(x)
}

// Snapshot is an immutable set of schema chunks and their embedding vectors. Vectors[i]
// belongs to Chunks[i]. A snapshot must not be modified after it is installed into an index.
type Snapshot struct {
	ID             SnapshotID
	EmbeddingModel string
	Chunks         []*SchemaChunk
	Vectors        [][]float32
	CreatedAt      time.Time
}

// Len returns number of chunks. It's safe to call with nil receiver.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Chunks)
}

func (s *Snapshot) TableNames() []TableName {
	if s == nil {
		return nil
	}
	names := make([]TableName, len(s.Chunks))
	for i, c := range s.Chunks {
		names[i] = c.TableName
	}
	return names
}

// FullSchema returns all table definitions in declaration order.
func (s *Snapshot) FullSchema() string {
	if s == nil {
		return ""
	}
	defs := make([]string, len(s.Chunks))
	for i, c := range s.Chunks {
		defs[i] = c.Definition
	}
	return strings.Join(defs, "\n\n")
}

type ScoredChunk struct {
	Chunk *SchemaChunk
	Score float64
}

// RetrievalResult is ordered by descending score. Ties are ordered by chunk ordinal.
type RetrievalResult struct {
	SnapshotID SnapshotID
	Items      []ScoredChunk
}

func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Items) == 0
}

// Context renders definitions of retrieved tables as schema context for prompts.
func (r *RetrievalResult) Context() string {
	if r.Empty() {
		return ""
	}
	defs := make([]string, len(r.Items))
	for i, item := range r.Items {
		defs[i] = item.Chunk.Definition
	}
	return strings.Join(defs, "\n\n")
}

func (r *RetrievalResult) TableNames() []TableName {
	if r.Empty() {
		return nil
	}
	names := make([]TableName, len(r.Items))
	for i, item := range r.Items {
		names[i] = item.Chunk.TableName
	}
	return names
}
