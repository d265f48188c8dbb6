package scribe

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/usecase/correction"
	"github.com/m-mizutani/queryscribe/pkg/usecase/schemarag"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
)

// Service answers natural language questions with queries. It owns the schema index and
// wires retrieval, planning, the correction loop and session history.
type Service struct {
	embedder  interfaces.Embedder
	generator interfaces.Generator
	executor  interfaces.Executor

	index      *schemarag.Index
	retriever  *schemarag.Retriever
	controller *correction.Controller
	planner    *planner
	persister  *schemarag.Persister
	repo       interfaces.Repository

	embeddingModel string
	descriptions   map[model.TableName]string
	topK           int
	threshold      float64
	dialect        string
	enablePlan     bool
	enableExplain  bool
	loopOpts       []correction.Option

	// bounds the analysis and explanation calls; the loop has its own options
	generateTimeout time.Duration
}

type Option func(*Service)

func WithRepository(repo interfaces.Repository) Option {
	return func(s *Service) {
		s.repo = repo
	}
}

// WithPersister stores built snapshots and allows LoadIndex.
func WithPersister(p *schemarag.Persister) Option {
	return func(s *Service) {
		s.persister = p
	}
}

func WithIndex(index *schemarag.Index) Option {
	return func(s *Service) {
		s.index = index
	}
}

func WithEmbeddingModel(name string) Option {
	return func(s *Service) {
		s.embeddingModel = name
	}
}

func WithTableDescriptions(descriptions map[model.TableName]string) Option {
	return func(s *Service) {
		s.descriptions = descriptions
	}
}

func WithTopK(k int) Option {
	return func(s *Service) {
		s.topK = k
	}
}

func WithThreshold(threshold float64) Option {
	return func(s *Service) {
		s.threshold = threshold
	}
}

func WithDialect(dialect string) Option {
	return func(s *Service) {
		s.dialect = dialect
	}
}

// WithPlan enables the analysis step before query generation.
func WithPlan(enabled bool) Option {
	return func(s *Service) {
		s.enablePlan = enabled
	}
}

// WithExplanation enables the explanation of a successful query.
func WithExplanation(enabled bool) Option {
	return func(s *Service) {
		s.enableExplain = enabled
	}
}

// WithGenerateTimeout bounds each oracle call of the analysis and explanation steps.
func WithGenerateTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.generateTimeout = d
	}
}

func WithLoopOptions(opts ...correction.Option) Option {
	return func(s *Service) {
		s.loopOpts = append(s.loopOpts, opts...)
	}
}

func New(embedder interfaces.Embedder, generator interfaces.Generator, executor interfaces.Executor, opts ...Option) *Service {
	s := &Service{
		embedder:        embedder,
		generator:       generator,
		executor:        executor,
		topK:            schemarag.DefaultTopK,
		threshold:       schemarag.DefaultThreshold,
		dialect:         correction.DefaultDialect,
		enablePlan:      true,
		enableExplain:   true,
		generateTimeout: correction.DefaultGenerateTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.index == nil {
		s.index = schemarag.NewIndex()
	}

	s.retriever = schemarag.NewRetriever(embedder)
	s.controller = correction.New(generator, executor, s.loopOpts...)
	s.planner = &planner{generator: generator}
	return s
}

// Snapshot returns the installed schema snapshot, or nil.
func (s *Service) Snapshot() *model.Snapshot {
	return s.index.Current()
}

// IndexSchema builds a snapshot of schemaText and installs it. A snapshot with the same
// identity is reused from the index or from the persister without calling the embedder.
func (s *Service) IndexSchema(ctx context.Context, schemaText string) (*model.Snapshot, error) {
	id := schemarag.SnapshotIDFor(s.embeddingModel, schemaText, s.descriptions)
	logger := logging.From(ctx).With("snapshot_id", id.Short())

	if cur := s.index.Current(); cur != nil && cur.ID == id {
		logger.Debug("schema is already indexed")
		return cur, nil
	}

	if s.persister != nil {
		snap, err := s.persister.Load(ctx, id)
		switch {
		case err == nil:
			logger.Info("schema snapshot loaded from storage", "tables", snap.Len())
			s.index.Install(snap)
			return snap, nil
		case !errors.Is(err, model.ErrSnapshotNotFound):
			return nil, err
		}
	}

	snap, err := schemarag.Build(ctx, s.embedder, schemaText,
		schemarag.WithEmbeddingModel(s.embeddingModel),
		schemarag.WithTableDescriptions(s.descriptions),
	)
	if err != nil {
		return nil, err
	}

	if s.persister != nil {
		if err := s.persister.Save(ctx, snap); err != nil {
			return nil, err
		}
	}

	s.index.Install(snap)
	logger.Info("schema indexed", "tables", snap.Len())
	return snap, nil
}

// LoadIndex installs a persisted snapshot.
func (s *Service) LoadIndex(ctx context.Context, id model.SnapshotID) (*model.Snapshot, error) {
	if s.persister == nil {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "snapshot storage is not configured")
	}

	snap, err := s.persister.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.embeddingModel != "" && snap.EmbeddingModel != s.embeddingModel {
		return nil, goerr.Wrap(model.ErrEmbeddingMismatch, "snapshot was built with another embedding model",
			goerr.V("snapshot_id", id),
			goerr.V("expected", s.embeddingModel),
			goerr.V("actual", snap.EmbeddingModel),
		)
	}
	s.index.Install(snap)
	return snap, nil
}

// RetrieveContext ranks chunks of the installed snapshot against the question. It returns
// an empty result if no snapshot is installed.
func (s *Service) RetrieveContext(ctx context.Context, question string, topK int, threshold float64) (*model.RetrievalResult, error) {
	return s.retriever.Retrieve(ctx, s.index.Current(), question, topK, threshold)
}

// RunCorrectionLoop runs one generate-execute-correct session with the given schema context.
func (s *Service) RunCorrectionLoop(ctx context.Context, question, schemaContext string, maxAttempts int) (*model.Session, error) {
	if maxAttempts < 1 {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "maxAttempts must be at least 1", goerr.V("max_attempts", maxAttempts))
	}

	return s.controller.Run(ctx, correction.Input{
		Question:      question,
		SchemaContext: schemaContext,
		Dialect:       s.dialect,
		MaxAttempts:   maxAttempts,
	})
}

// Ask runs the whole pipeline for a question and records the session. When retrieval finds
// nothing relevant the full schema is used as context and UsedFullSchema is set.
func (s *Service) Ask(ctx context.Context, question string) (*model.Session, error) {
	snap := s.index.Current()
	if snap == nil {
		return nil, goerr.Wrap(model.ErrSnapshotNotFound, "no schema is indexed")
	}

	retrieved, err := s.retriever.Retrieve(ctx, snap, question, s.topK, s.threshold)
	if err != nil {
		return nil, err
	}

	schemaContext := retrieved.Context()
	tables := retrieved.TableNames()
	usedFullSchema := false
	if retrieved.Empty() {
		logging.From(ctx).Info("no relevant table found, using full schema", "tables", snap.Len())
		schemaContext = snap.FullSchema()
		tables = snap.TableNames()
		usedFullSchema = true
	}

	var plan *model.Plan
	if s.enablePlan {
		planCtx, cancel := context.WithTimeout(ctx, s.generateTimeout)
		p, err := s.planner.Plan(planCtx, s.dialect, schemaContext, question)
		cancel()
		if err != nil {
			logging.From(ctx).Warn("skip analysis", "error", err)
		} else {
			plan = p
		}
	}

	session, err := s.controller.Run(ctx, correction.Input{
		Question:      question,
		SchemaContext: schemaContext,
		Plan:          plan,
		Dialect:       s.dialect,
	})
	if session == nil {
		return nil, err
	}

	session.SnapshotID = snap.ID
	session.Tables = tables
	session.UsedFullSchema = usedFullSchema
	session.Plan = plan

	if err == nil && session.Status == model.SessionStatusSucceeded && s.enableExplain {
		session.Explanation = s.explain(ctx, session)
	}

	if s.repo != nil {
		// The record is kept even if the caller has gone.
		if putErr := s.repo.PutSession(context.WithoutCancel(ctx), session); putErr != nil {
			logging.From(ctx).Error("failed to save session", "error", putErr, "session_id", session.ID)
		}
	}

	return session, err
}

func (s *Service) explain(ctx context.Context, session *model.Session) string {
	prompt, err := buildExplainPrompt(s.dialect, session)
	if err != nil {
		logging.From(ctx).Warn("skip explanation", "error", err)
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, s.generateTimeout)
	defer cancel()

	text, err := s.generator.Generate(callCtx, prompt)
	if err != nil {
		logging.From(ctx).Warn("skip explanation", "error", err)
		return ""
	}
	return text
}

// GetSession returns a recorded session.
func (s *Service) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	if s.repo == nil {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "session repository is not configured")
	}
	return s.repo.GetSession(ctx, id)
}

// ListSessions returns recorded sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	if s.repo == nil {
		return nil, goerr.Wrap(model.ErrInvalidArgument, "session repository is not configured")
	}
	return s.repo.ListSessions(ctx, offset, limit)
}
