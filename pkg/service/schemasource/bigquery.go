package schemasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/adapter"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
)

// FromBigQuery renders tables of a dataset as CREATE TABLE statements. All tables of the
// dataset are used if tables is empty.
func FromBigQuery(ctx context.Context, bq adapter.BigQuery, project, dataset string, tables ...string) (*Source, error) {
	if project == "" || dataset == "" {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "project and dataset are required")
	}

	if len(tables) == 0 {
		listed, err := bq.ListTables(ctx, project, dataset)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list tables", goerr.V("project", project), goerr.V("dataset", dataset))
		}
		tables = listed
	}

	src := &Source{Descriptions: make(map[model.TableName]string)}
	var stmts []string
	for _, table := range tables {
		md, err := bq.GetTableMetadata(ctx, project, dataset, table)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get table metadata", goerr.V("table", table))
		}
		if len(md.Schema) == 0 {
			logging.From(ctx).Warn("skip table without schema", "table", table)
			continue
		}

		name := fmt.Sprintf("%s.%s.%s", project, dataset, table)
		stmts = append(stmts, renderBigQueryTable(name, md))
		if md.Description != "" {
			src.Descriptions[model.TableName(name)] = md.Description
		}
	}

	src.Text = strings.Join(stmts, "\n\n")
	return src, nil
}

func renderBigQueryTable(name string, md *bigquery.TableMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE `%s` (\n", name)
	for i, field := range md.Schema {
		b.WriteString("  " + field.Name + " " + bigQueryType(field))
		if field.Required {
			b.WriteString(" NOT NULL")
		}
		if field.Description != "" {
			fmt.Fprintf(&b, " OPTIONS(description=%s)", strconv.Quote(field.Description))
		}
		if i < len(md.Schema)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	if tp := md.TimePartitioning; tp != nil {
		if tp.Field != "" {
			fmt.Fprintf(&b, "\nPARTITION BY TIMESTAMP_TRUNC(%s, %s)", tp.Field, tp.Type)
		} else {
			fmt.Fprintf(&b, "\nPARTITION BY TIMESTAMP_TRUNC(_PARTITIONTIME, %s)", tp.Type)
		}
	}
	if rp := md.RangePartitioning; rp != nil && rp.Range != nil {
		fmt.Fprintf(&b, "\nPARTITION BY RANGE_BUCKET(%s, GENERATE_ARRAY(%d, %d, %d))",
			rp.Field, rp.Range.Start, rp.Range.End, rp.Range.Interval)
	}
	if md.Clustering != nil && len(md.Clustering.Fields) > 0 {
		fmt.Fprintf(&b, "\nCLUSTER BY %s", strings.Join(md.Clustering.Fields, ", "))
	}
	b.WriteString(";")
	return b.String()
}

// bigQueryType renders a field type in GoogleSQL DDL syntax. Nested records become STRUCT.
func bigQueryType(field *bigquery.FieldSchema) string {
	typ := string(field.Type)
	switch field.Type {
	case bigquery.RecordFieldType:
		parts := make([]string, len(field.Schema))
		for i, sub := range field.Schema {
			parts[i] = sub.Name + " " + bigQueryType(sub)
		}
		typ = "STRUCT<" + strings.Join(parts, ", ") + ">"
	case bigquery.IntegerFieldType:
		typ = "INT64"
	case bigquery.FloatFieldType:
		typ = "FLOAT64"
	case bigquery.BooleanFieldType:
		typ = "BOOL"
	}

	if field.Repeated {
		typ = "ARRAY<" + typ + ">"
	}
	return typ
}
