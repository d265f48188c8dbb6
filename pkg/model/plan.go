package model

import "encoding/json"

// Plan is a structured analysis of a question made before query generation.
type Plan struct {
	Tables  []string `json:"tables" jsonschema:"tables the query reads"`
	Columns []string `json:"columns" jsonschema:"columns to select or aggregate as table.column"`
	Joins   []string `json:"joins" jsonschema:"join conditions"`
	Filters []string `json:"filters" jsonschema:"conditions of the WHERE clause"`
	GroupBy []string `json:"group_by" jsonschema:"grouping columns"`
	OrderBy []string `json:"order_by" jsonschema:"ordering expressions"`
	Limit   int      `json:"limit,omitempty" jsonschema:"row limit"`
}

func (p *Plan) JSON() string {
	if p == nil {
		return "{}"
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
