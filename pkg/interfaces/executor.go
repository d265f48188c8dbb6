package interfaces

import (
	"context"

	"github.com/m-mizutani/queryscribe/pkg/model"
)

// Executor runs a candidate query without persisted side effects. A failure of the query
// itself should be returned as *model.ExecError so that the kind is preserved.
type Executor interface {
	Execute(ctx context.Context, query string) (*model.Rows, error)
}
