package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

// Postgres runs candidate queries in a read only transaction that is always rolled back.
type Postgres struct {
	db               *sql.DB
	maxRows          int
	statementTimeout time.Duration
}

type PostgresOption func(*Postgres)

func WithMaxRows(n int) PostgresOption {
	return func(x *Postgres) {
		x.maxRows = n
	}
}

// WithStatementTimeout sets statement_timeout of the transaction. The server cancels the
// query even if the client side timeout is lost.
func WithStatementTimeout(d time.Duration) PostgresOption {
	return func(x *Postgres) {
		x.statementTimeout = d
	}
}

// OpenPostgres opens a connection pool and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, goerr.New("database dsn is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to ping database")
	}

	return db, nil
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	x := &Postgres{
		db:      db,
		maxRows: DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute implements interfaces.Executor
func (x *Postgres) Execute(ctx context.Context, query string) (*model.Rows, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SET TRANSACTION READ ONLY"); err != nil {
		return nil, classifyPostgres(err)
	}
	if x.statementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", x.statementTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, classifyPostgres(err)
		}
	}

	rows, err := tx.QueryContext(ctx, stripTrailingSemicolons(query))
	if err != nil {
		return nil, classifyPostgres(err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows, x.maxRows)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	return result, nil
}

// classifyPostgres converts a driver error to *model.ExecError by SQLSTATE class.
func classifyPostgres(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.ExecError{Kind: model.ErrorKindTimeout, Message: err.Error()}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &model.ExecError{Kind: model.ErrorKindRuntime, Message: err.Error()}
	}

	msg := pgErr.Message
	if pgErr.Detail != "" {
		msg += "\nDETAIL: " + pgErr.Detail
	}
	if pgErr.Hint != "" {
		msg += "\nHINT: " + pgErr.Hint
	}
	if pgErr.Position > 0 {
		msg += fmt.Sprintf("\nPOSITION: %d", pgErr.Position)
	}

	kind := model.ErrorKindRuntime
	switch {
	case pgErr.Code == "57014":
		kind = model.ErrorKindTimeout
	case pgErr.Code == "25006":
		// read_only_sql_transaction
		kind = model.ErrorKindPolicy
	case strings.HasPrefix(pgErr.Code, "42"):
		kind = model.ErrorKindSyntax
	case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"):
		kind = model.ErrorKindUnavailable
	}

	return &model.ExecError{Kind: kind, Message: msg}
}
