package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/queryscribe/pkg/adapter"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"google.golang.org/api/googleapi"
)

// BigQuery validates a candidate query by dry-run and runs it only if it is a SELECT
// statement within the scan limit.
type BigQuery struct {
	client       adapter.BigQuery
	maxRows      int
	scanLimitGiB float64
}

type BigQueryOption func(*BigQuery)

// WithScanLimit rejects queries that would scan more than limit GiB. Zero disables the check.
func WithScanLimit(limit float64) BigQueryOption {
	return func(x *BigQuery) {
		x.scanLimitGiB = limit
	}
}

func WithBigQueryMaxRows(n int) BigQueryOption {
	return func(x *BigQuery) {
		x.maxRows = n
	}
}

func NewBigQuery(client adapter.BigQuery, opts ...BigQueryOption) *BigQuery {
	x := &BigQuery{
		client:       client,
		maxRows:      DefaultMaxRows,
		scanLimitGiB: 10,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute implements interfaces.Executor
func (x *BigQuery) Execute(ctx context.Context, query string) (*model.Rows, error) {
	query = stripTrailingSemicolons(query)

	dryRun, err := x.client.DryRun(ctx, query)
	if err != nil {
		return nil, classifyBigQuery(err)
	}

	if dryRun.StatementType != "SELECT" {
		got := dryRun.StatementType
		if got == "" {
			got = "unknown statement type"
		}
		return nil, &model.ExecError{
			Kind:    model.ErrorKindPolicy,
			Message: fmt.Sprintf("only SELECT statements are allowed, got %s", got),
		}
	}

	scanGiB := float64(dryRun.TotalBytesProcessed) / (1024 * 1024 * 1024)
	logging.From(ctx).Debug("bigquery dry-run", "scan_gib", scanGiB, "statement", dryRun.StatementType)
	if x.scanLimitGiB > 0 && scanGiB > x.scanLimitGiB {
		return nil, &model.ExecError{
			Kind:    model.ErrorKindPolicy,
			Message: fmt.Sprintf("query would scan %.2f GiB, over the limit of %.2f GiB; narrow the date range or select fewer columns", scanGiB, x.scanLimitGiB),
		}
	}

	rows, err := x.client.QueryRows(ctx, query, x.maxRows)
	if err != nil {
		return nil, classifyBigQuery(err)
	}
	return rows, nil
}

func classifyBigQuery(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.ExecError{Kind: model.ErrorKindTimeout, Message: err.Error()}
	}

	var bqErr *bigquery.Error
	if errors.As(err, &bqErr) {
		kind := model.ErrorKindRuntime
		switch bqErr.Reason {
		case "invalidQuery", "invalid":
			kind = model.ErrorKindSyntax
		case "backendError", "rateLimitExceeded", "quotaExceeded", "resourcesExceeded":
			kind = model.ErrorKindUnavailable
		case "timeout", "jobBackendError":
			kind = model.ErrorKindTimeout
		}
		return &model.ExecError{Kind: kind, Message: bqErr.Message}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		kind := model.ErrorKindRuntime
		switch {
		case apiErr.Code == 400:
			kind = model.ErrorKindSyntax
		case apiErr.Code == 403, apiErr.Code == 429, apiErr.Code >= 500:
			kind = model.ErrorKindUnavailable
		}
		return &model.ExecError{Kind: kind, Message: apiErr.Message}
	}

	return &model.ExecError{Kind: model.ErrorKindRuntime, Message: err.Error()}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
