package correction

import (
	"bytes"
	_ "embed"
	"strconv"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

//go:embed prompt/generate.md
var generatePromptRaw string

//go:embed prompt/correct.md
var correctPromptRaw string

var promptFuncs = template.FuncMap{
	"join": func(nums []int, sep string) string {
		s := make([]string, len(nums))
		for i, n := range nums {
			s[i] = strconv.Itoa(n)
		}
		return strings.Join(s, sep)
	},
}

var (
	generatePromptTmpl = template.Must(template.New("generate").Funcs(promptFuncs).Parse(generatePromptRaw))
	correctPromptTmpl  = template.Must(template.New("correct").Funcs(promptFuncs).Parse(correctPromptRaw))
)

// ErrorSummary is a distinct (kind, message) pair with the attempts it occurred on.
type ErrorSummary struct {
	Kind     model.ErrorKind
	Message  string
	Attempts []int
}

// SummarizeErrors deduplicates errors of the history in order of first appearance.
func SummarizeErrors(history []*model.Attempt) []*ErrorSummary {
	var summaries []*ErrorSummary
	index := map[model.ExecError]*ErrorSummary{}
	for _, a := range history {
		if a.Error == nil {
			continue
		}
		if s, ok := index[*a.Error]; ok {
			s.Attempts = append(s.Attempts, a.Number)
			continue
		}
		s := &ErrorSummary{Kind: a.Error.Kind, Message: a.Error.Message, Attempts: []int{a.Number}}
		index[*a.Error] = s
		summaries = append(summaries, s)
	}
	return summaries
}

func buildGeneratePrompt(input *Input) (string, error) {
	var plan string
	if input.Plan != nil {
		plan = input.Plan.JSON()
	}

	var buf bytes.Buffer
	if err := generatePromptTmpl.Execute(&buf, map[string]any{
		"Dialect":  input.Dialect,
		"Schema":   input.SchemaContext,
		"Question": input.Question,
		"Plan":     plan,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute generate prompt template")
	}
	return buf.String(), nil
}

func buildCorrectPrompt(input *Input, history []*model.Attempt) (string, error) {
	last := history[len(history)-1]
	failedQuery := last.Query
	if failedQuery == "" {
		failedQuery = "-- no query was produced"
	}

	var buf bytes.Buffer
	if err := correctPromptTmpl.Execute(&buf, map[string]any{
		"Dialect":      input.Dialect,
		"Schema":       input.SchemaContext,
		"Question":     input.Question,
		"Attempt":      last.Number,
		"FailedQuery":  failedQuery,
		"ErrorKind":    last.Error.Kind,
		"ErrorMessage": last.Error.Message,
		"Errors":       SummarizeErrors(history),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute correct prompt template")
	}
	return buf.String(), nil
}
