package scribe

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

//go:embed prompt/plan.md
var planPromptRaw string

//go:embed prompt/explain.md
var explainPromptRaw string

var (
	planPromptTmpl    = template.Must(template.New("plan").Parse(planPromptRaw))
	explainPromptTmpl = template.Must(template.New("explain").Parse(explainPromptRaw))
)

func buildPlanPrompt(dialect, schema, question string) (string, error) {
	var buf bytes.Buffer
	if err := planPromptTmpl.Execute(&buf, map[string]any{
		"Dialect":  dialect,
		"Schema":   schema,
		"Question": question,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute plan prompt template")
	}
	return buf.String(), nil
}

func buildExplainPrompt(dialect string, session *model.Session) (string, error) {
	var columns string
	if session.Rows != nil {
		columns = strings.Join(session.Rows.Columns, ", ")
	}

	var buf bytes.Buffer
	if err := explainPromptTmpl.Execute(&buf, map[string]any{
		"Dialect":  dialect,
		"Question": session.Question,
		"Query":    session.FinalQuery,
		"RowCount": session.RowCount,
		"Columns":  columns,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute explain prompt template")
	}
	return buf.String(), nil
}
