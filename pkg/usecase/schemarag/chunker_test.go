package schemarag_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/usecase/schemarag"
)

const sampleSchema = `-- CREATE TABLE ignored (id INT);
CREATE TABLE users (
    id SERIAL PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

/* orders placed by users */
CREATE TABLE IF NOT EXISTS public.orders (
    id BIGINT,
    user_id INTEGER REFERENCES users(id),
    total DECIMAL (10, 2) NOT NULL,
    PRIMARY KEY (id),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX orders_user_idx ON public.orders (user_id);

CREATE TABLE "audit log" (entry TEXT, logged_at TIMESTAMP)
`

func TestChunk(t *testing.T) {
	chunks, err := schemarag.Chunk(sampleSchema)
	gt.NoError(t, err)
	gt.A(t, chunks).Length(3)

	t.Run("tables in declaration order", func(t *testing.T) {
		gt.Equal(t, chunks[0].TableName, model.TableName("users"))
		gt.Equal(t, chunks[1].TableName, model.TableName("public.orders"))
		gt.Equal(t, chunks[2].TableName, model.TableName("audit log"))
		for i, c := range chunks {
			gt.Equal(t, c.Ordinal, i)
		}
	})

	t.Run("offset points to the declaration", func(t *testing.T) {
		gt.Equal(t, chunks[0].Offset, strings.Index(sampleSchema, "CREATE TABLE users"))
		gt.Equal(t, chunks[1].Offset, strings.Index(sampleSchema, "CREATE TABLE IF NOT EXISTS"))
		gt.Equal(t, chunks[2].Offset, strings.Index(sampleSchema, `CREATE TABLE "audit log"`))
	})

	t.Run("columns and types", func(t *testing.T) {
		users := chunks[0]
		gt.A(t, users.Columns).Length(3)
		gt.Equal(t, users.Columns[0], model.Column{Name: "id", Type: "SERIAL", Constraints: "PRIMARY KEY"})
		gt.Equal(t, users.Columns[1], model.Column{Name: "name", Type: "VARCHAR(100)", Constraints: "NOT NULL"})
		gt.Equal(t, users.Columns[2], model.Column{Name: "created_at", Type: "TIMESTAMP WITH TIME ZONE", Constraints: "DEFAULT now()"})

		orders := chunks[1]
		gt.A(t, orders.Columns).Length(3)
		gt.Equal(t, orders.Columns[2].Type, "DECIMAL(10, 2)")
		gt.Equal(t, orders.Columns[1].Constraints, "REFERENCES users(id)")
		gt.A(t, orders.Constraints).Length(2)
		gt.Equal(t, orders.Constraints[0], "PRIMARY KEY (id)")
	})

	t.Run("definition keeps original text", func(t *testing.T) {
		gt.True(t, strings.HasPrefix(chunks[0].Definition, "CREATE TABLE users ("))
		gt.True(t, strings.HasSuffix(chunks[0].Definition, ");"))
		gt.S(t, chunks[1].Definition).NotContains("CREATE INDEX")
		gt.Equal(t, chunks[2].Definition, `CREATE TABLE "audit log" (entry TEXT, logged_at TIMESTAMP)`)
	})

	t.Run("content is normalized", func(t *testing.T) {
		content := chunks[0].Content
		gt.S(t, content).Contains("Table: users\n")
		gt.S(t, content).Contains("Columns: id, name, created_at\n")
		gt.S(t, content).Contains("  - name (VARCHAR(100)) NOT NULL\n")
		gt.S(t, chunks[1].Content).Contains("Constraints:\n  - PRIMARY KEY (id)\n")
	})
}

func TestChunkDescriptions(t *testing.T) {
	chunks, err := schemarag.Chunk(sampleSchema, schemarag.WithDescriptions(map[model.TableName]string{
		"users": " registered customers ",
	}))
	gt.NoError(t, err)
	gt.S(t, chunks[0].Content).Contains("Description: registered customers\n")
	gt.S(t, chunks[1].Content).NotContains("Description:")
}

func TestChunkEmpty(t *testing.T) {
	for _, text := range []string{"", "   \n", "-- CREATE TABLE x (id INT);", "CREATE VIEW v AS SELECT 1;"} {
		chunks, err := schemarag.Chunk(text)
		gt.NoError(t, err)
		gt.A(t, chunks).Length(0)
	}
}

func TestChunkSemicolonInsideString(t *testing.T) {
	schema := "CREATE TABLE notes (body TEXT DEFAULT 'a;b', kind TEXT);\nCREATE TABLE tags (name TEXT);"
	chunks, err := schemarag.Chunk(schema)
	gt.NoError(t, err)
	gt.A(t, chunks).Length(2)
	gt.Equal(t, chunks[0].Definition, "CREATE TABLE notes (body TEXT DEFAULT 'a;b', kind TEXT);")
	gt.A(t, chunks[0].Columns).Length(2)
}

func TestChunkParseErrors(t *testing.T) {
	testCases := map[string]string{
		"missing column list":   "CREATE TABLE users;",
		"unbalanced":            "CREATE TABLE users (id INT, name TEXT;",
		"create table as":       "CREATE TABLE copy AS SELECT * FROM users;",
		"column without type":   "CREATE TABLE users (id);",
		"no column":             "CREATE TABLE users (PRIMARY KEY (id));",
		"missing name":          "CREATE TABLE (id INT);",
		"duplicated table":      "CREATE TABLE users (id INT);\nCREATE TABLE Users (id INT);",
		"broken after good one": "CREATE TABLE ok (id INT);\nCREATE TABLE bad (",
	}

	for name, schema := range testCases {
		t.Run(name, func(t *testing.T) {
			chunks, err := schemarag.Chunk(schema)
			gt.Error(t, err)
			gt.True(t, errors.Is(err, model.ErrParse))
			gt.A(t, chunks).Length(0)
		})
	}
}

func TestChunkNestedTypes(t *testing.T) {
	schema := "CREATE TABLE `proj.ds.events` (\n" +
		"  id STRING NOT NULL,\n" +
		"  actor STRUCT<name STRING, ip STRING> OPTIONS(description=\"who did it\"),\n" +
		"  tags ARRAY<STRING>\n" +
		")\nPARTITION BY TIMESTAMP_TRUNC(ts, DAY);"

	chunks, err := schemarag.Chunk(schema)
	gt.NoError(t, err)
	gt.A(t, chunks).Length(1)
	gt.Equal(t, chunks[0].TableName, model.TableName("proj.ds.events"))
	gt.A(t, chunks[0].Columns).Length(3)
	gt.Equal(t, chunks[0].Columns[1].Type, "STRUCT<name STRING, ip STRING>")
	gt.S(t, chunks[0].Columns[1].Constraints).Contains("OPTIONS")
	gt.Equal(t, chunks[0].Columns[2].Type, "ARRAY<STRING>")
	gt.S(t, chunks[0].Definition).Contains("PARTITION BY")
}

func TestChunkTableModifiers(t *testing.T) {
	testCases := map[string]struct {
		schema  string
		table   model.TableName
		columns []string
	}{
		"foreign": {
			schema:  "CREATE FOREIGN TABLE remote_users (id INT, name TEXT) SERVER pg OPTIONS (table_name 'users');",
			table:   "remote_users",
			columns: []string{"id", "name"},
		},
		"external": {
			schema:  "CREATE EXTERNAL TABLE logs (ts TIMESTAMP, line STRING) LOCATION 's3://bucket/logs';",
			table:   "logs",
			columns: []string{"ts", "line"},
		},
		"transient": {
			schema:  "CREATE OR REPLACE TRANSIENT TABLE staging (id NUMBER);",
			table:   "staging",
			columns: []string{"id"},
		},
		"virtual": {
			schema:  "CREATE VIRTUAL TABLE docs USING fts5(title, body, tokenize = 'porter');",
			table:   "docs",
			columns: []string{"title", "body"},
		},
		"global temporary": {
			schema:  "CREATE GLOBAL TEMPORARY TABLE scratch (v INT);",
			table:   "scratch",
			columns: []string{"v"},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			chunks, err := schemarag.Chunk(tc.schema)
			gt.NoError(t, err)
			gt.A(t, chunks).Length(1)
			gt.Equal(t, chunks[0].TableName, tc.table)

			names := make([]string, len(chunks[0].Columns))
			for i, col := range chunks[0].Columns {
				names[i] = col.Name
			}
			gt.Equal(t, names, tc.columns)
		})
	}
}

func TestChunkTableWithoutColumnList(t *testing.T) {
	chunks, err := schemarag.Chunk("CREATE TABLE users (id INT);\nCREATE SNAPSHOT TABLE users_snap CLONE users;")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrParse))
	gt.S(t, err.Error()).Contains("CREATE SNAPSHOT TABLE")
	gt.A(t, chunks).Length(0)
}

func TestChunkIgnoresStatementsMentioningTable(t *testing.T) {
	schema := "CREATE TABLE users (id INT);\n" +
		"CREATE PUBLICATION users_pub FOR TABLE users;\n" +
		"CREATE POLICY own_rows ON users FOR SELECT USING (true);"
	chunks, err := schemarag.Chunk(schema)
	gt.NoError(t, err)
	gt.A(t, chunks).Length(1)
	gt.Equal(t, chunks[0].TableName, model.TableName("users"))
}

func TestChunkKeyAndIndexColumns(t *testing.T) {
	schema := "CREATE TABLE settings (\n" +
		"  id INT,\n" +
		"  key TEXT NOT NULL,\n" +
		"  index INT,\n" +
		"  fulltext VARCHAR(255),\n" +
		"  KEY settings_key_idx (key),\n" +
		"  INDEX (index),\n" +
		"  FULLTEXT KEY ft_idx (fulltext)\n" +
		");"

	chunks, err := schemarag.Chunk(schema)
	gt.NoError(t, err)
	gt.A(t, chunks).Length(1)

	cols := chunks[0].Columns
	gt.A(t, cols).Length(4)
	gt.Equal(t, cols[1], model.Column{Name: "key", Type: "TEXT", Constraints: "NOT NULL"})
	gt.Equal(t, cols[2], model.Column{Name: "index", Type: "INT"})
	gt.Equal(t, cols[3], model.Column{Name: "fulltext", Type: "VARCHAR(255)"})
	gt.Equal(t, chunks[0].Constraints, []string{
		"KEY settings_key_idx (key)",
		"INDEX (index)",
		"FULLTEXT KEY ft_idx (fulltext)",
	})
}
