package executor

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"

	_ "github.com/marcboeker/go-duckdb/v2"
)

var sandboxSettings = []string{
	"SET enable_external_access = false",
	"SET lock_configuration = true",
}

// DuckDB runs candidate queries against an empty in-memory replica of the schema. It
// catches syntax and name resolution errors without touching any real data.
type DuckDB struct {
	db      *sql.DB
	maxRows int
}

// NewDuckDB creates the sandbox and applies table definitions. A definition DuckDB can not
// parse is skipped with a warning so that other tables are still available.
func NewDuckDB(ctx context.Context, definitions []string) (*DuckDB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open duckdb")
	}
	// Each connection of an in-memory duckdb is a separate database.
	db.SetMaxOpenConns(1)

	applied := 0
	for _, def := range definitions {
		if _, err := db.ExecContext(ctx, def); err != nil {
			logging.From(ctx).Warn("skip table definition in sandbox", "error", err)
			continue
		}
		applied++
	}

	// Candidate queries must not reach files, extensions or other databases. The lock
	// keeps a query from turning the setting back on.
	for _, stmt := range sandboxSettings {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to restrict duckdb sandbox", goerr.V("statement", stmt))
		}
	}
	logging.From(ctx).Debug("duckdb sandbox ready", "tables", applied, "skipped", len(definitions)-applied)

	return &DuckDB{db: db, maxRows: DefaultMaxRows}, nil
}

func (x *DuckDB) Close() error {
	return x.db.Close()
}

// Execute implements interfaces.Executor
func (x *DuckDB) Execute(ctx context.Context, query string) (*model.Rows, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.ExecError{Kind: model.ErrorKindUnavailable, Message: err.Error()}
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, stripTrailingSemicolons(query))
	if err != nil {
		return nil, classifyDuckDB(err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows, x.maxRows)
	if err != nil {
		return nil, classifyDuckDB(err)
	}
	return result, nil
}

func classifyDuckDB(err error) error {
	msg := err.Error()
	kind := model.ErrorKindRuntime
	switch {
	case containsAny(msg, "Parser Error", "Binder Error", "Catalog Error", "syntax error"):
		kind = model.ErrorKindSyntax
	case containsAny(msg, "context deadline exceeded", "Interrupted"):
		kind = model.ErrorKindTimeout
	case containsAny(msg, "Permission Error", "Invalid Input Error: Cannot change configuration"):
		kind = model.ErrorKindPolicy
	}
	return &model.ExecError{Kind: kind, Message: msg}
}
