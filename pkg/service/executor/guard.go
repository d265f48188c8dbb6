package executor

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed policy/guard.rego
var defaultPolicy string

const guardQuery = "data.queryscribe.guard.deny"

// Guard evaluates a Rego policy before passing a query to the next executor. A denied
// query is reported as a policy error so that the correction loop can revise it.
type Guard struct {
	next  interfaces.Executor
	query *rego.PreparedEvalQuery
}

type GuardOption func(*guardConfig)

type guardConfig struct {
	policyDir string
}

// WithPolicyDir loads additional *.rego files. Rules must be in package queryscribe.guard and
// add messages to the deny set.
func WithPolicyDir(dir string) GuardOption {
	return func(cfg *guardConfig) {
		cfg.policyDir = dir
	}
}

func NewGuard(ctx context.Context, next interfaces.Executor, opts ...GuardOption) (*Guard, error) {
	var cfg guardConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	modules := []func(*rego.Rego){rego.Module("guard.rego", defaultPolicy)}
	if cfg.policyDir != "" {
		files, err := filepath.Glob(filepath.Join(cfg.policyDir, "*.rego"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to glob policy files")
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
			}
			modules = append(modules, rego.Module(file, string(data)))
		}
		logging.From(ctx).Debug("loaded guard policies", "dir", cfg.policyDir, "files", len(files))
	}

	options := append([]func(*rego.Rego){rego.Query(guardQuery)}, modules...)
	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare guard policy")
	}

	return &Guard{next: next, query: &prepared}, nil
}

// Check returns denial messages for the query in sorted order. Empty means allowed.
func (x *Guard) Check(ctx context.Context, query string) ([]string, error) {
	rs, err := x.query.Eval(ctx, rego.EvalInput(map[string]any{"query": query}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate guard policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("unexpected guard result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	var denied []string
	for _, v := range values {
		if msg, ok := v.(string); ok {
			denied = append(denied, msg)
		}
	}
	sort.Strings(denied)
	return denied, nil
}

// Execute implements interfaces.Executor
func (x *Guard) Execute(ctx context.Context, query string) (*model.Rows, error) {
	denied, err := x.Check(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(denied) > 0 {
		logging.From(ctx).Info("query denied by guard", "reasons", denied)
		return nil, &model.ExecError{
			Kind:    model.ErrorKindPolicy,
			Message: strings.Join(denied, "; "),
		}
	}
	return x.next.Execute(ctx, query)
}
