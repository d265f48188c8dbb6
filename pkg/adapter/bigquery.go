package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"google.golang.org/api/iterator"
)

// BigQuery is an interface for BigQuery operations
type BigQuery interface {
	// DryRun validates a query without running it
	DryRun(ctx context.Context, query string) (*DryRunResult, error)

	// QueryRows runs a query and reads up to maxRows rows of the result
	QueryRows(ctx context.Context, query string, maxRows int) (*model.Rows, error)

	// ListTables returns table IDs of a dataset
	ListTables(ctx context.Context, project, datasetID string) ([]string, error)

	// GetTableMetadata retrieves the metadata of a table including schema and partition information
	GetTableMetadata(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error)
}

// DryRunResult is the statistics reported by a dry-run query
type DryRunResult struct {
	TotalBytesProcessed int64
	StatementType       string
}

type bigqueryClient struct {
	client   *bigquery.Client
	location string
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// WithBigQueryLocation sets the location where query jobs run
func WithBigQueryLocation(location string) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.location = location
	}
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	bq := &bigqueryClient{
		client: client,
	}

	for _, opt := range opts {
		opt(bq)
	}
	if bq.location != "" {
		bq.client.Location = bq.location
	}

	return bq, nil
}

// DryRun executes a query in dry-run mode and returns the statistics
func (bq *bigqueryClient) DryRun(ctx context.Context, query string) (*DryRunResult, error) {
	q := bq.client.Query(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return nil, goerr.New("no statistics available from dry-run")
	}
	if err := status.Err(); err != nil {
		return nil, goerr.Wrap(err, "dry-run query failed")
	}

	result := &DryRunResult{
		TotalBytesProcessed: status.Statistics.TotalBytesProcessed,
	}
	if details, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		result.StatementType = details.StatementType
	}

	return result, nil
}

// QueryRows executes a query and reads the result in column order
func (bq *bigqueryClient) QueryRows(ctx context.Context, query string, maxRows int) (*model.Rows, error) {
	q := bq.client.Query(query)

	job, err := q.Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query")
	}

	// Wait for the query to complete
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to wait for query completion")
	}
	if status.Err() != nil {
		return nil, goerr.Wrap(status.Err(), "query execution failed", goerr.V("job_id", job.ID()))
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result")
	}

	rows := &model.Rows{}
	for maxRows <= 0 || len(rows.Values) < maxRows {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result")
		}

		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		rows.Values = append(rows.Values, values)
	}

	for _, field := range it.Schema {
		rows.Columns = append(rows.Columns, field.Name)
	}

	return rows, nil
}

func (bq *bigqueryClient) clientFor(ctx context.Context, project string) (*bigquery.Client, func(), error) {
	if project == "" || project == bq.client.Project() {
		return bq.client, func() {}, nil
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create BigQuery client for project", goerr.V("project", project))
	}
	return client, func() { _ = client.Close() }, nil
}

// ListTables returns table IDs of a dataset
func (bq *bigqueryClient) ListTables(ctx context.Context, project, datasetID string) ([]string, error) {
	client, done, err := bq.clientFor(ctx, project)
	if err != nil {
		return nil, err
	}
	defer done()

	var tables []string
	it := client.Dataset(datasetID).Tables(ctx)
	for {
		tbl, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list tables", goerr.V("dataset", datasetID))
		}
		tables = append(tables, tbl.TableID)
	}
	return tables, nil
}

// GetTableMetadata retrieves the metadata of a table including schema and partition information
func (bq *bigqueryClient) GetTableMetadata(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error) {
	client, done, err := bq.clientFor(ctx, project)
	if err != nil {
		return nil, err
	}
	defer done()

	metadata, err := client.Dataset(datasetID).Table(table).Metadata(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get table metadata", goerr.V("table", table))
	}

	return metadata, nil
}
