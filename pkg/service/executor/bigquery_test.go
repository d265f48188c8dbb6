package executor_test

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/queryscribe/pkg/adapter"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/service/executor"
	"google.golang.org/api/googleapi"
)

type mockBigQuery struct {
	dryRunFunc    func(ctx context.Context, query string) (*adapter.DryRunResult, error)
	queryRowsFunc func(ctx context.Context, query string, maxRows int) (*model.Rows, error)
}

func (m *mockBigQuery) DryRun(ctx context.Context, query string) (*adapter.DryRunResult, error) {
	return m.dryRunFunc(ctx, query)
}

func (m *mockBigQuery) QueryRows(ctx context.Context, query string, maxRows int) (*model.Rows, error) {
	return m.queryRowsFunc(ctx, query, maxRows)
}

func (m *mockBigQuery) ListTables(ctx context.Context, project, datasetID string) ([]string, error) {
	return nil, nil
}

func (m *mockBigQuery) GetTableMetadata(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error) {
	return nil, nil
}

func TestBigQueryExecute(t *testing.T) {
	var gotQuery string
	var gotMax int
	bq := &mockBigQuery{
		dryRunFunc: func(ctx context.Context, query string) (*adapter.DryRunResult, error) {
			return &adapter.DryRunResult{TotalBytesProcessed: 1024, StatementType: "SELECT"}, nil
		},
		queryRowsFunc: func(ctx context.Context, query string, maxRows int) (*model.Rows, error) {
			gotQuery = query
			gotMax = maxRows
			return &model.Rows{Columns: []string{"n"}, Values: [][]any{{int64(1)}}}, nil
		},
	}

	rows, err := executor.NewBigQuery(bq, executor.WithBigQueryMaxRows(10)).
		Execute(context.Background(), "SELECT 1 AS n;")
	gt.NoError(t, err)
	gt.Equal(t, rows.Len(), 1)
	gt.Equal(t, gotQuery, "SELECT 1 AS n")
	gt.Equal(t, gotMax, 10)
}

func TestBigQueryRejectsNonSelect(t *testing.T) {
	bq := &mockBigQuery{
		dryRunFunc: func(ctx context.Context, query string) (*adapter.DryRunResult, error) {
			return &adapter.DryRunResult{StatementType: "DELETE"}, nil
		},
		queryRowsFunc: func(ctx context.Context, query string, maxRows int) (*model.Rows, error) {
			t.Error("query must not run")
			return nil, nil
		},
	}

	_, err := executor.NewBigQuery(bq).Execute(context.Background(), "DELETE FROM t WHERE true")
	var execErr *model.ExecError
	gt.True(t, errors.As(err, &execErr))
	gt.Equal(t, execErr.Kind, model.ErrorKindPolicy)
	gt.S(t, execErr.Message).Contains("DELETE")
}

func TestBigQueryRejectsUnknownStatementType(t *testing.T) {
	bq := &mockBigQuery{
		dryRunFunc: func(ctx context.Context, query string) (*adapter.DryRunResult, error) {
			return &adapter.DryRunResult{TotalBytesProcessed: 1024}, nil
		},
		queryRowsFunc: func(ctx context.Context, query string, maxRows int) (*model.Rows, error) {
			t.Error("query must not run")
			return nil, nil
		},
	}

	_, err := executor.NewBigQuery(bq).Execute(context.Background(), "SELECT 1")
	var execErr *model.ExecError
	gt.True(t, errors.As(err, &execErr))
	gt.Equal(t, execErr.Kind, model.ErrorKindPolicy)
	gt.S(t, execErr.Message).Contains("unknown statement type")
}

func TestBigQueryScanLimit(t *testing.T) {
	bq := &mockBigQuery{
		dryRunFunc: func(ctx context.Context, query string) (*adapter.DryRunResult, error) {
			return &adapter.DryRunResult{TotalBytesProcessed: 3 * 1024 * 1024 * 1024, StatementType: "SELECT"}, nil
		},
		queryRowsFunc: func(ctx context.Context, query string, maxRows int) (*model.Rows, error) {
			t.Error("query must not run")
			return nil, nil
		},
	}

	_, err := executor.NewBigQuery(bq, executor.WithScanLimit(1)).Execute(context.Background(), "SELECT * FROM logs")
	var execErr *model.ExecError
	gt.True(t, errors.As(err, &execErr))
	gt.Equal(t, execErr.Kind, model.ErrorKindPolicy)
	gt.S(t, execErr.Message).Contains("3.00 GiB")
}

func TestBigQueryDryRunErrors(t *testing.T) {
	testCases := map[string]struct {
		err  error
		kind model.ErrorKind
	}{
		"invalid query": {
			err:  &googleapi.Error{Code: 400, Message: "Unrecognized name: nme at [1:8]"},
			kind: model.ErrorKindSyntax,
		},
		"rate limited": {
			err:  &googleapi.Error{Code: 429, Message: "rate limit exceeded"},
			kind: model.ErrorKindUnavailable,
		},
		"job error": {
			err:  &bigquery.Error{Reason: "invalidQuery", Message: "Syntax error: Unexpected keyword FORM"},
			kind: model.ErrorKindSyntax,
		},
		"deadline": {
			err:  context.DeadlineExceeded,
			kind: model.ErrorKindTimeout,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			bq := &mockBigQuery{
				dryRunFunc: func(ctx context.Context, query string) (*adapter.DryRunResult, error) {
					return nil, tc.err
				},
			}
			_, err := executor.NewBigQuery(bq).Execute(context.Background(), "SELECT nme FROM t")
			var execErr *model.ExecError
			gt.True(t, errors.As(err, &execErr))
			gt.Equal(t, execErr.Kind, tc.kind)
		})
	}
}
