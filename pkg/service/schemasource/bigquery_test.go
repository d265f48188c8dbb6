package schemasource_test

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/queryscribe/pkg/adapter"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/service/schemasource"
	"github.com/m-mizutani/queryscribe/pkg/usecase/schemarag"
)

type mockBigQuery struct {
	tables   map[string]*bigquery.TableMetadata
	listed   []string
	listCall int
}

func (m *mockBigQuery) DryRun(ctx context.Context, query string) (*adapter.DryRunResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockBigQuery) QueryRows(ctx context.Context, query string, maxRows int) (*model.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *mockBigQuery) ListTables(ctx context.Context, project, datasetID string) ([]string, error) {
	m.listCall++
	return m.listed, nil
}

func (m *mockBigQuery) GetTableMetadata(ctx context.Context, project, datasetID, table string) (*bigquery.TableMetadata, error) {
	md, ok := m.tables[table]
	if !ok {
		return nil, errors.New("table not found")
	}
	return md, nil
}

func newMockBigQuery() *mockBigQuery {
	return &mockBigQuery{
		listed: []string{"logins", "empty"},
		tables: map[string]*bigquery.TableMetadata{
			"logins": {
				Description: "login events of employees",
				Schema: bigquery.Schema{
					{Name: "user_id", Type: bigquery.StringFieldType, Required: true},
					{Name: "ts", Type: bigquery.TimestampFieldType, Description: "time of login"},
					{Name: "attempts", Type: bigquery.IntegerFieldType},
					{Name: "geo", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
						{Name: "country", Type: bigquery.StringFieldType},
						{Name: "lat", Type: bigquery.FloatFieldType},
					}},
					{Name: "labels", Type: bigquery.StringFieldType, Repeated: true},
				},
				TimePartitioning: &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: "ts"},
				Clustering:       &bigquery.Clustering{Fields: []string{"user_id"}},
			},
			"empty": {},
		},
	}
}

func TestFromBigQuery(t *testing.T) {
	bq := newMockBigQuery()
	src, err := schemasource.FromBigQuery(context.Background(), bq, "proj", "security")
	gt.NoError(t, err)
	gt.Equal(t, bq.listCall, 1)

	gt.S(t, src.Text).Contains("CREATE TABLE `proj.security.logins` (")
	gt.S(t, src.Text).Contains("  user_id STRING NOT NULL,\n")
	gt.S(t, src.Text).Contains(`ts TIMESTAMP OPTIONS(description="time of login")`)
	gt.S(t, src.Text).Contains("attempts INT64")
	gt.S(t, src.Text).Contains("geo STRUCT<country STRING, lat FLOAT64>")
	gt.S(t, src.Text).Contains("labels ARRAY<STRING>")
	gt.S(t, src.Text).Contains("PARTITION BY TIMESTAMP_TRUNC(ts, DAY)")
	gt.S(t, src.Text).Contains("CLUSTER BY user_id;")
	gt.S(t, src.Text).NotContains("empty")
	gt.Equal(t, src.Descriptions["proj.security.logins"], "login events of employees")

	chunks, err := schemarag.Chunk(src.Text, schemarag.WithDescriptions(src.Descriptions))
	gt.NoError(t, err)
	gt.A(t, chunks).Length(1)
	gt.A(t, chunks[0].Columns).Length(5)
	gt.S(t, chunks[0].Content).Contains("Description: login events of employees")
}

func TestFromBigQuerySelectedTables(t *testing.T) {
	bq := newMockBigQuery()
	_, err := schemasource.FromBigQuery(context.Background(), bq, "proj", "security", "logins")
	gt.NoError(t, err)
	gt.Equal(t, bq.listCall, 0)

	_, err = schemasource.FromBigQuery(context.Background(), bq, "proj", "security", "missing")
	gt.Error(t, err)
}

func TestFromBigQueryInvalidArgument(t *testing.T) {
	_, err := schemasource.FromBigQuery(context.Background(), newMockBigQuery(), "", "security")
	gt.True(t, errors.Is(err, model.ErrInvalidArgument))
}
