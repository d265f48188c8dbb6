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

type mockExecutor struct {
	executeFunc func(ctx context.Context, query string) (*model.Rows, error)
	calls       int
}

func (m *mockExecutor) Execute(ctx context.Context, query string) (*model.Rows, error) {
	m.calls++
	if m.executeFunc != nil {
		return m.executeFunc(ctx, query)
	}
	return &model.Rows{Columns: []string{"n"}, Values: [][]any{{1}}}, nil
}

func TestGuardAllowsSelect(t *testing.T) {
	ctx := context.Background()
	next := &mockExecutor{}
	guard, err := executor.NewGuard(ctx, next)
	gt.NoError(t, err)

	rows, err := guard.Execute(ctx, "SELECT id, updated_at FROM users WHERE created_at > now() - interval '1 day';")
	gt.NoError(t, err)
	gt.Equal(t, rows.Len(), 1)
	gt.Equal(t, next.calls, 1)
}

func TestGuardDeniesWrites(t *testing.T) {
	testCases := map[string]struct {
		query  string
		reason string
	}{
		"drop":     {query: "DROP TABLE users", reason: "DROP statements are not allowed"},
		"delete":   {query: "delete from users where id = 1", reason: "DELETE statements are not allowed"},
		"truncate": {query: "TRUNCATE orders", reason: "TRUNCATE statements are not allowed"},
		"insert":   {query: "INSERT INTO users (id) VALUES (1)", reason: "INSERT statements are not allowed"},
		"update":   {query: "UPDATE users SET name = 'x'", reason: "UPDATE statements are not allowed"},
		"alter":    {query: "ALTER TABLE users ADD COLUMN x INT", reason: "ALTER statements are not allowed"},
		"grant":    {query: "GRANT SELECT ON users TO bob", reason: "GRANT statements are not allowed"},
		"stacked":  {query: "SELECT 1; SELECT 2", reason: "multiple statements are not allowed"},
		"copy":     {query: "COPY users TO '/tmp/users.csv'", reason: "COPY statements are not allowed"},
		"export":   {query: "EXPORT DATABASE '/tmp/dump'", reason: "EXPORT statements are not allowed"},
		"attach":   {query: "ATTACH '/tmp/other.db' AS other", reason: "ATTACH statements are not allowed"},
		"install":  {query: "INSTALL httpfs", reason: "INSTALL statements are not allowed"},
		"load":     {query: "load httpfs", reason: "LOAD statements are not allowed"},
		"set":      {query: "SET enable_external_access = true", reason: "SET statements are not allowed"},
		"pragma":   {query: "PRAGMA database_list", reason: "PRAGMA statements are not allowed"},
		"comment":  {query: "-- export users\n/* csv */ COPY (SELECT * FROM users) TO 'users.csv';", reason: "COPY statements are not allowed"},
	}

	ctx := context.Background()
	next := &mockExecutor{}
	guard, err := executor.NewGuard(ctx, next)
	gt.NoError(t, err)

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := guard.Execute(ctx, tc.query)
			var execErr *model.ExecError
			gt.True(t, errors.As(err, &execErr))
			gt.Equal(t, execErr.Kind, model.ErrorKindPolicy)
			gt.S(t, execErr.Message).Contains(tc.reason)
		})
	}
	gt.Equal(t, next.calls, 0)
}

func TestGuardAllowsKeywordsInsideSelect(t *testing.T) {
	ctx := context.Background()
	next := &mockExecutor{}
	guard, err := executor.NewGuard(ctx, next)
	gt.NoError(t, err)

	denied, err := guard.Check(ctx, "SELECT copy, load, \"set\" FROM settings WHERE pragma IS NULL")
	gt.NoError(t, err)
	gt.A(t, denied).Length(0)
}

func TestGuardCustomPolicy(t *testing.T) {
	dir := t.TempDir()
	policy := `package queryscribe.guard

deny contains "access to secrets is not allowed" if {
	contains(lower(input.query), "secrets")
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.rego"), []byte(policy), 0o600))

	ctx := context.Background()
	guard, err := executor.NewGuard(ctx, &mockExecutor{}, executor.WithPolicyDir(dir))
	gt.NoError(t, err)

	denied, err := guard.Check(ctx, "SELECT * FROM Secrets")
	gt.NoError(t, err)
	gt.A(t, denied).Length(1)
	gt.Equal(t, denied[0], "access to secrets is not allowed")

	denied, err = guard.Check(ctx, "DELETE FROM secrets")
	gt.NoError(t, err)
	gt.A(t, denied).Length(2)

	denied, err = guard.Check(ctx, "SELECT * FROM users")
	gt.NoError(t, err)
	gt.A(t, denied).Length(0)
}

func TestGuardInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package queryscribe.guard\n\ndeny contains"), 0o600))

	_, err := executor.NewGuard(context.Background(), &mockExecutor{}, executor.WithPolicyDir(dir))
	gt.Error(t, err)
}
