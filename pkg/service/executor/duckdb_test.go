package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/service/executor"
)

func TestDuckDBSandbox(t *testing.T) {
	ctx := context.Background()
	sandbox, err := executor.NewDuckDB(ctx, []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR NOT NULL)",
		"CREATE TABLE orders (id INTEGER, user_id INTEGER, total DECIMAL(10, 2))",
		"CREATE TABLE broken (id SERIAL4 WEIRD)",
	})
	gt.NoError(t, err)
	defer sandbox.Close()

	t.Run("valid query returns empty result", func(t *testing.T) {
		rows, err := sandbox.Execute(ctx, "SELECT u.name, SUM(o.total) FROM users u JOIN orders o ON o.user_id = u.id GROUP BY u.name;")
		gt.NoError(t, err)
		gt.A(t, rows.Columns).Length(2)
		gt.Equal(t, rows.Len(), 0)
	})

	t.Run("unknown column is a syntax error", func(t *testing.T) {
		_, err := sandbox.Execute(ctx, "SELECT nme FROM users")
		var execErr *model.ExecError
		gt.True(t, errors.As(err, &execErr))
		gt.Equal(t, execErr.Kind, model.ErrorKindSyntax)
	})

	t.Run("unknown table is a syntax error", func(t *testing.T) {
		_, err := sandbox.Execute(ctx, "SELECT * FROM customers")
		var execErr *model.ExecError
		gt.True(t, errors.As(err, &execErr))
		gt.Equal(t, execErr.Kind, model.ErrorKindSyntax)
	})
}

func TestDuckDBSandboxKeepsFilesUntouched(t *testing.T) {
	ctx := context.Background()
	sandbox, err := executor.NewDuckDB(ctx, []string{
		"CREATE TABLE users (id INTEGER, name VARCHAR)",
	})
	gt.NoError(t, err)
	defer sandbox.Close()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "users.csv")
	dumpPath := filepath.Join(dir, "dump")
	dbPath := filepath.Join(dir, "other.db")

	testCases := map[string]string{
		"copy to file":      "COPY users TO '" + csvPath + "' (HEADER)",
		"copy query":        "COPY (SELECT * FROM users) TO '" + csvPath + "'",
		"export database":   "EXPORT DATABASE '" + dumpPath + "'",
		"attach database":   "ATTACH '" + dbPath + "' AS other",
		"enable access":     "SET enable_external_access = true",
		"unlock config":     "SET lock_configuration = false",
		"install extension": "INSTALL spatial",
		"load extension":    "LOAD spatial",
	}

	for name, query := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := sandbox.Execute(ctx, query)
			gt.Error(t, err)
			var execErr *model.ExecError
			gt.True(t, errors.As(err, &execErr))
		})
	}

	for _, path := range []string{csvPath, dumpPath, dbPath} {
		_, err := os.Stat(path)
		gt.True(t, os.IsNotExist(err))
	}

	t.Run("queries still run after denied statements", func(t *testing.T) {
		rows, err := sandbox.Execute(ctx, "SELECT id FROM users")
		gt.NoError(t, err)
		gt.Equal(t, rows.Len(), 0)
	})
}

func TestGuardedDuckDBDeniesCopy(t *testing.T) {
	ctx := context.Background()
	sandbox, err := executor.NewDuckDB(ctx, []string{"CREATE TABLE users (id INTEGER)"})
	gt.NoError(t, err)
	defer sandbox.Close()

	guard, err := executor.NewGuard(ctx, sandbox)
	gt.NoError(t, err)

	path := filepath.Join(t.TempDir(), "users.parquet")
	_, err = guard.Execute(ctx, "COPY users TO '"+path+"' (FORMAT PARQUET)")
	var execErr *model.ExecError
	gt.True(t, errors.As(err, &execErr))
	gt.Equal(t, execErr.Kind, model.ErrorKindPolicy)

	_, err = os.Stat(path)
	gt.True(t, os.IsNotExist(err))
}
