package correction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/m-mizutani/queryscribe/pkg/utils/metrics"
)

const (
	DefaultMaxAttempts     = 3
	DefaultGenerateTimeout = 60 * time.Second
	DefaultExecuteTimeout  = 30 * time.Second
	DefaultDialect         = "PostgreSQL"
)

// Controller drives generate, execute and correct rounds of one question until a query
// succeeds, the attempt budget runs out, or the generation oracle fails.
type Controller struct {
	generator interfaces.Generator
	executor  interfaces.Executor

	maxAttempts     int
	generateTimeout time.Duration
	executeTimeout  time.Duration
	now             func() time.Time
}

type Option func(*Controller)

func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		c.maxAttempts = n
	}
}

func WithGenerateTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.generateTimeout = d
	}
}

func WithExecuteTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.executeTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func New(generator interfaces.Generator, executor interfaces.Executor, opts ...Option) *Controller {
	c := &Controller{
		generator:       generator,
		executor:        executor,
		maxAttempts:     DefaultMaxAttempts,
		generateTimeout: DefaultGenerateTimeout,
		executeTimeout:  DefaultExecuteTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Input is the initial context of a session.
type Input struct {
	Question      string
	SchemaContext string
	Plan          *model.Plan
	Dialect       string

	// MaxAttempts overrides the controller default when positive.
	MaxAttempts int
}

type run struct {
	*Controller
	input   *Input
	session *model.Session
	state   State
}

// Run executes one session. The returned session is always non-nil when the input is
// valid. Exhausted is a normal outcome and returns a nil error. FatalAborted returns an
// error as well: wrapping model.ErrGeneration on oracle failure, or the context error on
// cancellation.
//
// Cancellation of ctx is observed only between attempts. An in-flight oracle or executor
// call is bounded by its own timeout instead.
func (c *Controller) Run(ctx context.Context, input Input) (*model.Session, error) {
	if input.MaxAttempts <= 0 {
		input.MaxAttempts = c.maxAttempts
	}
	if input.MaxAttempts < 1 {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "maxAttempts must be at least 1", goerr.V("max_attempts", input.MaxAttempts))
	}
	if input.Dialect == "" {
		input.Dialect = DefaultDialect
	}

	r := &run{
		Controller: c,
		input:      &input,
		session: &model.Session{
			ID:        model.NewSessionID(),
			Question:  input.Question,
			StartedAt: c.now(),
		},
		state: StateInit,
	}
	ctx = logging.With(ctx, logging.From(ctx).With("session_id", r.session.ID))

	err := r.loop(ctx)
	r.session.FinishedAt = c.now()
	metrics.ObserveSession(r.session)
	return r.session, err
}

func (r *run) transit(ctx context.Context, to State) {
	if !CanTransit(r.state, to) {
		// Unreachable unless the loop below is broken.
		panic(fmt.Sprintf("invalid state transition: %s -> %s", r.state, to))
	}
	logging.From(ctx).Debug("correction state", "from", r.state.String(), "to", to.String())
	r.state = to
}

func (r *run) loop(ctx context.Context) error {
	prompt, err := buildGeneratePrompt(r.input)
	if err != nil {
		r.abort(ctx, model.AbortReasonOracleFailure)
		return err
	}

	// External calls must not be interrupted by the caller, only by their own timeout.
	callCtx := context.WithoutCancel(ctx)

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			r.abort(ctx, model.AbortReasonCanceled)
			return goerr.Wrap(err, "correction session canceled", goerr.V("attempts", len(r.session.History)))
		}

		r.transit(ctx, StateGenerating)
		started := r.now()
		query, err := r.generate(callCtx, prompt)
		if err != nil {
			var timeout *model.ExecError
			if !errors.As(err, &timeout) {
				r.abort(ctx, model.AbortReasonOracleFailure)
				return goerr.Wrap(err, "query generation failed", goerr.V("attempt", n))
			}
			// Timeout of the oracle consumes an attempt like an execution error.
			attempt := &model.Attempt{Number: n, StartedAt: started, Duration: r.now().Sub(started), Error: timeout}
			if done := r.fail(ctx, attempt); done {
				return nil
			}
		} else {
			r.transit(ctx, StateExecuting)
			rows, execErr := r.execute(callCtx, query)
			attempt := &model.Attempt{Number: n, Query: query, StartedAt: started, Duration: r.now().Sub(started)}

			if execErr == nil {
				attempt.Rows = rows
				attempt.RowCount = rows.Len()
				r.record(ctx, attempt)

				r.transit(ctx, StateSucceeded)
				r.session.Status = model.SessionStatusSucceeded
				r.session.FinalQuery = query
				r.session.Rows = rows
				r.session.RowCount = rows.Len()
				logging.From(ctx).Info("query succeeded", "attempt", n, "rows", rows.Len())
				return nil
			}

			attempt.Error = execErr
			if done := r.fail(ctx, attempt); done {
				return nil
			}
		}

		prompt, err = buildCorrectPrompt(r.input, r.session.History)
		if err != nil {
			r.abort(ctx, model.AbortReasonOracleFailure)
			return err
		}
	}
}

func (r *run) record(ctx context.Context, attempt *model.Attempt) {
	r.session.History = append(r.session.History, attempt)
	metrics.ObserveAttempt(attempt)
	if attempt.Error != nil {
		logging.From(ctx).Info("attempt failed",
			"attempt", attempt.Number,
			"kind", attempt.Error.Kind,
			"message", attempt.Error.Message,
		)
	}
}

// fail records a failed attempt and moves to Correcting or Exhausted. It returns true when
// the session reached a terminal state.
func (r *run) fail(ctx context.Context, attempt *model.Attempt) bool {
	r.record(ctx, attempt)
	if attempt.Number >= r.input.MaxAttempts {
		r.transit(ctx, StateExhausted)
		r.session.Status = model.SessionStatusExhausted
		logging.From(ctx).Warn("correction attempts exhausted", "attempts", attempt.Number)
		return true
	}
	r.transit(ctx, StateCorrecting)
	return false
}

func (r *run) abort(ctx context.Context, reason string) {
	r.transit(ctx, StateFatalAborted)
	r.session.Status = model.SessionStatusFatalAborted
	r.session.AbortReason = reason
	logging.From(ctx).Warn("correction session aborted", "reason", reason, "attempts", len(r.session.History))
}

// generate returns *model.ExecError of timeout kind when the oracle did not respond in
// time. Other errors wrap model.ErrGeneration.
func (r *run) generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.generateTimeout)
	defer cancel()

	resp, err := r.generator.Generate(callCtx, prompt)
	if err != nil {
		if isTimeout(callCtx, err) {
			return "", &model.ExecError{
				Kind:    model.ErrorKindTimeout,
				Message: fmt.Sprintf("query generation timed out after %s", r.generateTimeout),
			}
		}
		return "", goerr.Wrap(fmt.Errorf("%w: %w", model.ErrGeneration, err), "oracle call failed")
	}

	query := ExtractQuery(resp)
	if query == "" {
		return "", goerr.Wrap(model.ErrGeneration, "oracle returned no query", goerr.V("response", resp))
	}
	return query, nil
}

func (r *run) execute(ctx context.Context, query string) (*model.Rows, *model.ExecError) {
	callCtx, cancel := context.WithTimeout(ctx, r.executeTimeout)
	defer cancel()

	rows, err := r.executor.Execute(callCtx, query)
	if err == nil {
		if rows == nil {
			rows = &model.Rows{}
		}
		return rows, nil
	}
	return nil, classify(callCtx, err, r.executeTimeout)
}

func classify(ctx context.Context, err error, timeout time.Duration) *model.ExecError {
	var execErr *model.ExecError
	if errors.As(err, &execErr) {
		return execErr
	}
	if isTimeout(ctx, err) {
		return &model.ExecError{
			Kind:    model.ErrorKindTimeout,
			Message: fmt.Sprintf("query execution timed out after %s", timeout),
		}
	}
	return &model.ExecError{Kind: model.ErrorKindRuntime, Message: err.Error()}
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
