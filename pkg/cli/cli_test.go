package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/repository"
	"github.com/m-mizutani/queryscribe/pkg/usecase/scribe"
)

const testSchema = `CREATE TABLE users (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL
);

CREATE TABLE orders (
  id INTEGER PRIMARY KEY,
  user_id INTEGER REFERENCES users(id),
  amount DECIMAL(10, 2)
);
`

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "orders") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

type replyGenerator struct {
	reply string
}

func (x *replyGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return x.reply, nil
}

type rowsExecutor struct{}

func (rowsExecutor) Execute(ctx context.Context, query string) (*model.Rows, error) {
	return &model.Rows{Columns: []string{"total"}, Values: [][]any{{42}}}, nil
}

func newTestService(t *testing.T) *scribe.Service {
	t.Helper()
	svc := scribe.New(constEmbedder{}, &replyGenerator{reply: "```sql\nSELECT sum(amount) AS total FROM orders\n```"}, rowsExecutor{},
		scribe.WithRepository(repository.NewMemory()),
		scribe.WithEmbeddingModel("const"),
		scribe.WithPlan(false),
		scribe.WithExplanation(false),
	)
	_, err := svc.IndexSchema(context.Background(), testSchema)
	gt.NoError(t, err)
	return svc
}

func TestWriteRows(t *testing.T) {
	var buf bytes.Buffer
	writeRows(&buf, &model.Rows{
		Columns: []string{"id", "name"},
		Values: [][]any{
			{1, "alice"},
			{2, nil},
			{3, "multi\nline"},
		},
	})

	out := buf.String()
	gt.S(t, out).Contains("id")
	gt.S(t, out).Contains("alice")
	gt.S(t, out).Contains("NULL")
	gt.S(t, out).Contains("multi line")
	gt.S(t, out).Contains("(3 rows)")

	buf.Reset()
	writeRows(&buf, nil)
	gt.S(t, buf.String()).Contains("(no columns)")
}

func TestWriteSession(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		var buf bytes.Buffer
		writeSession(&buf, &model.Session{
			ID:          "s1",
			Status:      model.SessionStatusSucceeded,
			FinalQuery:  "SELECT 1",
			Rows:        &model.Rows{Columns: []string{"x"}, Values: [][]any{{1}}},
			Tables:      []model.TableName{"orders", "users"},
			Explanation: "Counts one.",
			History:     []*model.Attempt{{Number: 1, Query: "SELECT 1", RowCount: 1}},
		})
		out := buf.String()
		gt.S(t, out).Contains("succeeded, 1 attempts")
		gt.S(t, out).Contains("Context: orders, users")
		gt.S(t, out).Contains("SELECT 1")
		gt.S(t, out).Contains("Counts one.")
	})

	t.Run("exhausted", func(t *testing.T) {
		var buf bytes.Buffer
		syntax := &model.ExecError{Kind: model.ErrorKindSyntax, Message: "near FORM"}
		writeSession(&buf, &model.Session{
			ID:             "s2",
			Status:         model.SessionStatusExhausted,
			UsedFullSchema: true,
			History: []*model.Attempt{
				{Number: 1, Error: syntax},
				{Number: 2, Error: syntax},
			},
		})
		out := buf.String()
		gt.S(t, out).Contains("full schema")
		gt.S(t, out).Contains("[syntax] near FORM")
		gt.Equal(t, strings.Count(out, "near FORM"), 1)
	})

	t.Run("aborted", func(t *testing.T) {
		var buf bytes.Buffer
		writeSession(&buf, &model.Session{
			ID:          "s3",
			Status:      model.SessionStatusFatalAborted,
			AbortReason: model.AbortReasonOracleFailure,
		})
		gt.S(t, buf.String()).Contains("Aborted: oracle_failure")
	})
}

func TestWriteAttempts(t *testing.T) {
	var buf bytes.Buffer
	writeAttempts(&buf, &model.Session{
		History: []*model.Attempt{
			{Number: 1, Query: "SELECT * FORM t", Duration: 1500 * time.Microsecond, Error: &model.ExecError{Kind: model.ErrorKindSyntax}},
			{Number: 2, Query: "SELECT * FROM t", RowCount: 7},
		},
	})
	out := buf.String()
	gt.S(t, out).Contains("syntax")
	gt.S(t, out).Contains("7 rows")
	gt.S(t, out).Contains("SELECT * FORM t")
}

func TestWriteSessionList(t *testing.T) {
	var buf bytes.Buffer
	writeSessionList(&buf, nil)
	gt.S(t, buf.String()).Contains("No sessions found")

	buf.Reset()
	writeSessionList(&buf, []*model.Session{
		{ID: "s1", Question: "how many users?", Status: model.SessionStatusSucceeded, StartedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	})
	gt.S(t, buf.String()).Contains("2024-05-01 10:00:00")
	gt.S(t, buf.String()).Contains("how many users?")
}

func TestShellLine(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	t.Run("tables", func(t *testing.T) {
		var buf bytes.Buffer
		quit, err := shellLine(ctx, svc, &buf, `\tables`)
		gt.NoError(t, err)
		gt.False(t, quit)
		gt.S(t, buf.String()).Contains("orders")
		gt.S(t, buf.String()).Contains("user_id")
	})

	t.Run("question and history", func(t *testing.T) {
		var buf bytes.Buffer
		quit, err := shellLine(ctx, svc, &buf, "total amount of orders")
		gt.NoError(t, err)
		gt.False(t, quit)
		gt.S(t, buf.String()).Contains("SELECT sum(amount) AS total FROM orders")
		gt.S(t, buf.String()).Contains("42")

		buf.Reset()
		_, err = shellLine(ctx, svc, &buf, `\history`)
		gt.NoError(t, err)
		gt.S(t, buf.String()).Contains("total amount of orders")

		sessions, err := svc.ListSessions(ctx, 0, 1)
		gt.NoError(t, err)
		gt.A(t, sessions).Length(1)

		buf.Reset()
		_, err = shellLine(ctx, svc, &buf, `\attempts `+string(sessions[0].ID))
		gt.NoError(t, err)
		gt.S(t, buf.String()).Contains("1 rows")
	})

	t.Run("attempts requires id", func(t *testing.T) {
		_, err := shellLine(ctx, svc, &bytes.Buffer{}, `\attempts`)
		gt.Error(t, err)
	})

	t.Run("unknown command", func(t *testing.T) {
		var buf bytes.Buffer
		quit, err := shellLine(ctx, svc, &buf, `\drop`)
		gt.NoError(t, err)
		gt.False(t, quit)
		gt.S(t, buf.String()).Contains("unknown command")
	})

	t.Run("quit", func(t *testing.T) {
		quit, err := shellLine(ctx, svc, &bytes.Buffer{}, `\quit`)
		gt.NoError(t, err)
		gt.True(t, quit)
	})
}

func TestConfigDialect(t *testing.T) {
	testCases := []struct {
		executor string
		dialect  string
		expect   string
	}{
		{"postgres", "", "PostgreSQL"},
		{"bigquery", "", "BigQuery GoogleSQL"},
		{"duckdb", "", "DuckDB"},
		{"postgres", "PostgreSQL 16", "PostgreSQL 16"},
	}

	for _, tc := range testCases {
		t.Run(tc.executor+"/"+tc.dialect, func(t *testing.T) {
			cfg := &config{executorName: tc.executor, dialect: tc.dialect}
			gt.Equal(t, cfg.resolveDialect(), tc.expect)
		})
	}
}

func TestConfigProviders(t *testing.T) {
	ctx := context.Background()

	_, err := (&config{llmProvider: "unknown"}).newGenerator(ctx)
	gt.Error(t, err)

	_, _, err = (&config{embeddingProvider: "claude"}).newEmbedder(ctx)
	gt.Error(t, err)

	_, err = (&config{llmProvider: "claude"}).newGenerator(ctx)
	gt.Error(t, err)

	_, err = (&config{llmProvider: "gemini"}).newGenerator(ctx)
	gt.Error(t, err)
}

func TestConfigRepository(t *testing.T) {
	repo, err := (&config{}).newRepository()
	gt.NoError(t, err)
	_, ok := repo.(*repository.Memory)
	gt.True(t, ok)

	_, err = (&config{}).requireRepository()
	gt.Error(t, err)
}

func TestConfigStorage(t *testing.T) {
	ctx := context.Background()

	storage, err := (&config{storageType: "none"}).newStorage(ctx)
	gt.NoError(t, err)
	gt.V(t, storage).Nil()

	storage, err = (&config{storageType: "local", storageDir: t.TempDir()}).newStorage(ctx)
	gt.NoError(t, err)
	gt.V(t, storage).NotNil()

	_, err = (&config{storageType: "gcs"}).newStorage(ctx)
	gt.Error(t, err)

	_, err = (&config{storageType: "ftp"}).newStorage(ctx)
	gt.Error(t, err)
}

func TestConfigLoadSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.sql")
	notesPath := filepath.Join(dir, "notes.yaml")
	gt.NoError(t, os.WriteFile(schemaPath, []byte(testSchema), 0o600))
	gt.NoError(t, os.WriteFile(notesPath, []byte("tables:\n  orders:\n    description: purchases\n"), 0o600))

	cfg := &config{schemaSource: "file", schemaFile: schemaPath, tableNotes: notesPath}
	src, err := cfg.loadSource(ctx)
	gt.NoError(t, err)
	gt.Equal(t, src.Text, testSchema)
	gt.Equal(t, src.Descriptions["orders"], "purchases")

	_, err = (&config{schemaSource: "file"}).loadSource(ctx)
	gt.Error(t, err)

	_, err = (&config{schemaSource: "mysql"}).loadSource(ctx)
	gt.Error(t, err)
}
