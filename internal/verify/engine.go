package verify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/ppiankov/qverify/internal/cache"
	"github.com/ppiankov/qverify/internal/logger"
	"github.com/ppiankov/qverify/internal/model"
	"github.com/ppiankov/qverify/internal/worker"
)

// Outcome is the classification of one statement
type Outcome string

const (
	OutcomeClean      Outcome = "clean"
	OutcomeDeprecated Outcome = "deprecated"
	OutcomeFailed     Outcome = "failed"
	OutcomeSkipped    Outcome = "skipped" // already carries an explain directive
	OutcomeErrored    Outcome = "errored" // transport or driver failure, no rows
)

// StatementResult is the outcome of verifying one statement. Deprecated rows
// and a failed row are mutually exclusive.
type StatementResult struct {
	Statement  model.Statement
	Outcome    Outcome
	Deprecated []model.DeprecatedRow
	Failed     *model.FailedRow
	Cached     bool
	Err        error
}

// GetError implements worker.Result
func (r *StatementResult) GetError() error {
	return r.Err
}

// Result aggregates a verified work set
type Result struct {
	Deprecated []model.DeprecatedRow
	Failed     []model.FailedRow

	Clean                int
	DeprecatedStatements int
	Skipped              int
	Errored              int
	Cached               int
}

// analysis is the raw server response for a statement, before suppression.
// It is what the cache stores.
type analysis struct {
	Notifications []model.Notification `json:"notifications,omitempty"`
	Failure       *ClientError         `json:"failure,omitempty"`
}

// Engine verifies statements against one analyzer
type Engine struct {
	analyzer    Analyzer
	workers     int
	suppression model.SuppressionSet
	limiter     *worker.Limiter
	limiterKey  string
	cache       cache.Cache
	cacheTTL    time.Duration
	version     string
	timeout     time.Duration
	observer    model.Observer
	logger      logger.Interface
}

// Option configures an Engine
type Option func(*Engine)

// WithWorkers sets the number of statements verified concurrently
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSuppression sets the notification codes that never produce rows
func WithSuppression(s model.SuppressionSet) Option {
	return func(e *Engine) { e.suppression = s }
}

// WithLimiter throttles analysis calls against the endpoint
func WithLimiter(l *worker.Limiter, endpoint string) Option {
	return func(e *Engine) {
		e.limiter = l
		e.limiterKey = endpoint
	}
}

// WithCache reuses analysis responses for the same statement on the same
// server version
func WithCache(c cache.Cache, version string, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.version = version
		e.cacheTTL = ttl
	}
}

// WithStatementTimeout bounds each analysis call
func WithStatementTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithObserver reports verification progress
func WithObserver(o model.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Interface) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a verification engine
func NewEngine(analyzer Analyzer, opts ...Option) *Engine {
	e := &Engine{
		analyzer:    analyzer,
		workers:     1,
		suppression: model.DefaultSuppressionSet(),
		observer:    model.NopObserver{},
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// statementJob adapts one statement to the worker pool
type statementJob struct {
	engine    *Engine
	statement model.Statement
}

func (j *statementJob) Execute(ctx context.Context) worker.Result {
	return j.engine.VerifyStatement(ctx, j.statement)
}

// Verify classifies every statement of the work set. Each worker returns its
// own result and rows are merged after all workers finish. When ctx is
// cancelled the statements not yet verified are abandoned and the partial
// result is returned with the context error.
func (e *Engine) Verify(ctx context.Context, ws *model.WorkSet) (*Result, error) {
	e.observer.OnPhase(model.PhaseVerify)

	statements := ws.Statements()
	jobs := make([]worker.Job, len(statements))
	for i, stmt := range statements {
		jobs[i] = &statementJob{engine: e, statement: stmt}
	}

	processor := worker.NewBatchProcessor(e.workers, func(done, total int) {
		e.observer.OnProgress(model.PhaseVerify, done, total)
	})
	results, err := processor.Process(ctx, jobs)

	merged := &Result{}
	for _, r := range results {
		merged.add(r.(*StatementResult))
	}
	if err != nil {
		return merged, errors.Wrap(err, "verification interrupted")
	}
	return merged, nil
}

func (r *Result) add(sr *StatementResult) {
	if sr.Cached {
		r.Cached++
	}
	switch sr.Outcome {
	case OutcomeClean:
		r.Clean++
	case OutcomeDeprecated:
		r.DeprecatedStatements++
		r.Deprecated = append(r.Deprecated, sr.Deprecated...)
	case OutcomeFailed:
		r.Failed = append(r.Failed, *sr.Failed)
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeErrored:
		r.Errored++
	}
}

// VerifyStatement classifies a single statement. It never returns an error;
// failures are captured in the result.
func (e *Engine) VerifyStatement(ctx context.Context, stmt model.Statement) *StatementResult {
	res := &StatementResult{Statement: stmt}

	if HasExplainDirective(stmt.Text) {
		e.logger.Debug("Skipping statement with explain directive", "hash", stmt.Hash)
		res.Outcome = OutcomeSkipped
		return res
	}

	a, cached, err := e.analyze(ctx, stmt)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("Statement could not be analyzed", "hash", stmt.Hash, logger.Error(err))
		}
		res.Outcome = OutcomeErrored
		res.Err = err
		return res
	}
	res.Cached = cached

	if a.Failure != nil {
		row := model.NewFailedRow(stmt, a.Failure.Classification, a.Failure.Category,
			a.Failure.Code, a.Failure.Title, a.Failure.Message)
		res.Outcome = OutcomeFailed
		res.Failed = &row
		return res
	}

	for _, n := range a.Notifications {
		if e.suppression.Suppressed(n.Code) {
			continue
		}
		res.Deprecated = append(res.Deprecated, model.NewDeprecatedRow(stmt, n))
	}
	if len(res.Deprecated) > 0 {
		res.Outcome = OutcomeDeprecated
	} else {
		res.Outcome = OutcomeClean
	}
	return res
}

// analyze returns the raw response for stmt, from the cache when possible
func (e *Engine) analyze(ctx context.Context, stmt model.Statement) (*analysis, bool, error) {
	key := cache.CacheKey(e.version, stmt.Hash)
	if e.cache != nil {
		if data, ok := e.cache.Get(key); ok {
			var a analysis
			if err := json.Unmarshal(data, &a); err == nil {
				return &a, true, nil
			}
			e.logger.Debug("Ignoring undecodable cache entry", "key", key)
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, e.limiterKey); err != nil {
			return nil, false, errors.Wrap(err, "rate limit")
		}
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	notifications, err := e.analyzer.Explain(callCtx, stmt.Text)
	a := &analysis{}
	var clientErr *ClientError
	switch {
	case err == nil:
		a.Notifications = notifications
	case errors.As(err, &clientErr):
		a.Failure = clientErr
	default:
		return nil, false, err
	}

	if e.cache != nil {
		data, err := json.Marshal(a)
		if err == nil {
			err = e.cache.Set(key, data, e.cacheTTL)
		}
		if err != nil {
			e.logger.Warn("Failed to cache analysis", "hash", stmt.Hash, logger.Error(err))
		}
	}
	return a, false, nil
}
