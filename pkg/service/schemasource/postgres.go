package schemasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

const (
	pgColumnsQuery = `SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

	pgKeysQuery = `SELECT tc.table_name, tc.constraint_type, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
LEFT JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_type = 'FOREIGN KEY' AND tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')
ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`

	pgCommentsQuery = `SELECT c.relname, obj_description(c.oid, 'pg_class')
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v') AND obj_description(c.oid, 'pg_class') IS NOT NULL`
)

type pgColumn struct {
	name     string
	dataType string
	nullable bool
	defValue sql.NullString
}

type pgTable struct {
	name        string
	columns     []pgColumn
	primaryKey  []string
	foreignKeys []string
}

// FromPostgres renders tables of a schema from information_schema as CREATE TABLE
// statements in table name order.
func FromPostgres(ctx context.Context, db *sql.DB, schema string) (*Source, error) {
	if schema == "" {
		schema = "public"
	}

	tables, order, err := readPgColumns(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	if err := readPgKeys(ctx, db, schema, tables); err != nil {
		return nil, err
	}
	descriptions, err := readPgComments(ctx, db, schema)
	if err != nil {
		return nil, err
	}

	stmts := make([]string, 0, len(order))
	for _, name := range order {
		stmts = append(stmts, renderPgTable(tables[name]))
	}

	return &Source{Text: strings.Join(stmts, "\n\n"), Descriptions: descriptions}, nil
}

func readPgColumns(ctx context.Context, db *sql.DB, schema string) (map[string]*pgTable, []string, error) {
	rows, err := db.QueryContext(ctx, pgColumnsQuery, schema)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to query columns", goerr.V("schema", schema))
	}
	defer rows.Close()

	tables := make(map[string]*pgTable)
	var order []string
	for rows.Next() {
		var tableName, isNullable string
		var col pgColumn
		if err := rows.Scan(&tableName, &col.name, &col.dataType, &isNullable, &col.defValue); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to scan column")
		}
		col.nullable = isNullable == "YES"

		t, ok := tables[tableName]
		if !ok {
			t = &pgTable{name: tableName}
			tables[tableName] = t
			order = append(order, tableName)
		}
		t.columns = append(t.columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, goerr.Wrap(err, "failed to read columns")
	}
	return tables, order, nil
}

func readPgKeys(ctx context.Context, db *sql.DB, schema string, tables map[string]*pgTable) error {
	rows, err := db.QueryContext(ctx, pgKeysQuery, schema)
	if err != nil {
		return goerr.Wrap(err, "failed to query constraints", goerr.V("schema", schema))
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, constraintType, column string
		var refTable, refColumn sql.NullString
		if err := rows.Scan(&tableName, &constraintType, &column, &refTable, &refColumn); err != nil {
			return goerr.Wrap(err, "failed to scan constraint")
		}
		t, ok := tables[tableName]
		if !ok {
			continue
		}
		switch constraintType {
		case "PRIMARY KEY":
			t.primaryKey = append(t.primaryKey, column)
		case "FOREIGN KEY":
			if refTable.Valid && refColumn.Valid {
				t.foreignKeys = append(t.foreignKeys,
					fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)", column, refTable.String, refColumn.String))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return goerr.Wrap(err, "failed to read constraints")
	}
	return nil
}

func readPgComments(ctx context.Context, db *sql.DB, schema string) (map[model.TableName]string, error) {
	rows, err := db.QueryContext(ctx, pgCommentsQuery, schema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query table comments", goerr.V("schema", schema))
	}
	defer rows.Close()

	descriptions := make(map[model.TableName]string)
	for rows.Next() {
		var name, comment string
		if err := rows.Scan(&name, &comment); err != nil {
			return nil, goerr.Wrap(err, "failed to scan table comment")
		}
		descriptions[model.TableName(name)] = comment
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read table comments")
	}
	return descriptions, nil
}

func renderPgTable(t *pgTable) string {
	lines := make([]string, 0, len(t.columns)+1+len(t.foreignKeys))
	for _, col := range t.columns {
		line := "  " + col.name + " " + col.dataType
		if !col.nullable {
			line += " NOT NULL"
		}
		if col.defValue.Valid {
			line += " DEFAULT " + col.defValue.String
		}
		lines = append(lines, line)
	}
	if len(t.primaryKey) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(t.primaryKey, ", ")+")")
	}
	for _, fk := range t.foreignKeys {
		lines = append(lines, "  "+fk)
	}

	return "CREATE TABLE " + t.name + " (\n" + strings.Join(lines, ",\n") + "\n);"
}
