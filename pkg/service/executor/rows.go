package executor

import (
	"database/sql"
	"strings"

	"github.com/m-mizutani/queryscribe/pkg/model"
)

// DefaultMaxRows limits rows read from a successful query.
const DefaultMaxRows = 1000

func scanRows(rows *sql.Rows, maxRows int) (*model.Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &model.Rows{Columns: columns}
	for rows.Next() {
		if maxRows > 0 && len(result.Values) >= maxRows {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		result.Values = append(result.Values, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
