package scribe

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

// JSONGenerator is a generator that can constrain its output to a JSON schema.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *jsonschema.Schema) (string, error)
}

var (
	planSchema   *jsonschema.Schema
	planResolved *jsonschema.Resolved
)

func init() {
	schema, err := jsonschema.For[model.Plan](nil)
	if err != nil {
		panic("failed to infer plan schema: " + err.Error())
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic("failed to resolve plan schema: " + err.Error())
	}
	planSchema, planResolved = schema, resolved
}

type planner struct {
	generator interfaces.Generator
}

func (x *planner) Plan(ctx context.Context, dialect, schema, question string) (*model.Plan, error) {
	prompt, err := buildPlanPrompt(dialect, schema, question)
	if err != nil {
		return nil, err
	}

	var text string
	if jg, ok := x.generator.(JSONGenerator); ok {
		text, err = jg.GenerateJSON(ctx, prompt, planSchema)
	} else {
		text, err = x.generator.Generate(ctx, prompt)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate plan")
	}

	return parsePlan(text)
}

// parsePlan extracts a JSON object from the oracle text and validates it against the
// schema inferred from model.Plan.
func parsePlan(text string) (*model.Plan, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, goerr.New("no JSON object in plan response", goerr.V("response", text))
	}

	var instance map[string]any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return nil, goerr.Wrap(err, "invalid JSON in plan response", goerr.V("response", raw))
	}
	// Models often emit null for empty lists.
	for k, v := range instance {
		switch {
		case v != nil:
		case k == "limit":
			delete(instance, k)
		default:
			instance[k] = []any{}
		}
	}
	if err := planResolved.Validate(instance); err != nil {
		return nil, goerr.Wrap(err, "plan does not match schema", goerr.V("response", raw))
	}

	var plan model.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, goerr.Wrap(err, "failed to decode plan", goerr.V("response", raw))
	}
	return &plan, nil
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
