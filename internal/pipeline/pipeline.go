package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/qverify/internal/cache"
	"github.com/ppiankov/qverify/internal/extract"
	"github.com/ppiankov/qverify/internal/logger"
	"github.com/ppiankov/qverify/internal/model"
	"github.com/ppiankov/qverify/internal/provision"
	"github.com/ppiankov/qverify/internal/report"
	"github.com/ppiankov/qverify/internal/verify"
	"github.com/ppiankov/qverify/internal/worker"
)

const (
	closeTimeout   = 10 * time.Second
	unknownVersion = "unknown"
)

// AnalyzerFactory opens an analyzer for a live endpoint
type AnalyzerFactory func(ctx context.Context, endpoint model.Endpoint) (verify.Analyzer, error)

// Neo4jAnalyzers opens Bolt driver analyzers. A failed connectivity check is
// logged and the analyzer is still returned; statements then fail one by one.
func Neo4jAnalyzers(log logger.Interface) AnalyzerFactory {
	return func(ctx context.Context, endpoint model.Endpoint) (verify.Analyzer, error) {
		a, err := verify.NewNeo4jAnalyzer(endpoint, "")
		if err != nil {
			return nil, errors.Wrapf(model.ErrConfig, "%v", err)
		}
		if err := a.VerifyConnectivity(ctx); err != nil {
			log.Warn("Endpoint is not reachable, statements will be reported as errored",
				"uri", endpoint.URI, logger.Error(err))
		}
		return a, nil
	}
}

// Pipeline orchestrates one audit run: ingest and provision in parallel,
// then verify, then report
type Pipeline struct {
	config    *model.Config
	runtime   provision.Runtime
	analyzers AnalyzerFactory
	writer    report.Writer
	cache     cache.Cache
	logger    logger.Interface
	observer  model.Observer
	now       func() time.Time
	runID     string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithRuntime sets the container runtime used when provisioning
func WithRuntime(rt provision.Runtime) Option {
	return func(p *Pipeline) { p.runtime = rt }
}

// WithAnalyzerFactory replaces the Bolt driver analyzer
func WithAnalyzerFactory(f AnalyzerFactory) Option {
	return func(p *Pipeline) { p.analyzers = f }
}

// WithWriter replaces the CSV report writer
func WithWriter(w report.Writer) Option {
	return func(p *Pipeline) { p.writer = w }
}

// WithCache replaces the layered analysis cache
func WithCache(c cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithLogger sets the logger
func WithLogger(l logger.Interface) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithObserver receives phase and progress events
func WithObserver(o model.Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithClock sets the source of the report timestamp
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunID fixes the run identifier used for container names and labels
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// NewPipeline creates a pipeline for the configuration
func NewPipeline(cfg *model.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		config:   cfg,
		writer:   report.CSVWriter{Dir: cfg.OutputDir},
		logger:   logger.Nop(),
		observer: model.NopObserver{},
		now:      time.Now,
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.analyzers == nil {
		p.analyzers = Neo4jAnalyzers(p.logger)
	}
	return p
}

// RunResult describes a finished audit
type RunResult struct {
	RunID    string
	Version  string
	Endpoint string
	Health   provision.State // empty for external endpoints
	Summary  model.Summary
	Report   *report.Report
	Written  []string
	Ingest   *extract.Stats
}

// Run performs the audit. Configuration problems are reported before any
// container is created. A provisioned instance is torn down on every path,
// including cancellation, unless the run succeeds with keep enabled.
func (p *Pipeline) Run(ctx context.Context) (res *RunResult, err error) {
	cfg := p.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srcOpts := extract.OptionsFromConfig(cfg.Source)
	srcOpts.Logger = p.logger
	srcOpts.Observer = p.observer
	src, err := extract.Open(ctx, cfg.Input, srcOpts)
	if err != nil {
		return nil, err
	}

	var prov *provision.Provisioner
	if cfg.Provision.Enabled {
		rt := p.runtime
		if rt == nil {
			docker, err := provision.NewDockerCLI()
			if err != nil {
				return nil, err
			}
			rt = docker
		}
		opts := provision.OptionsFromConfig(cfg, p.runID)
		opts.Logger = p.logger
		opts.Observer = p.observer
		prov = provision.New(rt, opts)
	}

	res = &RunResult{RunID: p.runID}

	var (
		ws       *model.WorkSet
		instance *provision.Instance
		release  provision.Release
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.observer.OnPhase(model.PhaseIngest)
		var err error
		ws, res.Ingest, err = extract.Collect(gctx, src)
		if err != nil {
			return errors.Wrap(err, "ingest")
		}
		p.logger.Info("Statements collected", "mode", src.Mode(),
			"files", res.Ingest.Files, "extracted", res.Ingest.Extracted, "distinct", ws.Len())
		return nil
	})
	if prov != nil {
		g.Go(func() error {
			var err error
			instance, release, err = prov.Acquire(gctx)
			return err
		})
	}
	waitErr := g.Wait()

	// Acquire may succeed before ingestion fails
	if release != nil {
		defer func() { release(err == nil) }()
	}
	if waitErr != nil {
		return nil, waitErr
	}

	endpoint := cfg.ExternalEndpoint()
	if instance != nil {
		res.Health = instance.State()
		if !res.Health.Ready() {
			return nil, errors.Errorf("instance %s has not finished its health gate (%s)", instance.Name, res.Health)
		}
		endpoint = instance.Endpoint
	}
	res.Endpoint = endpoint.URI

	analyzer, err := p.analyzers(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := analyzer.Close(closeCtx); cerr != nil {
			p.logger.Debug("Failed to close analyzer", logger.Error(cerr))
		}
	}()

	res.Version = p.targetVersion(ctx, analyzer)

	engine := verify.NewEngine(analyzer, p.engineOptions(res.Version, endpoint)...)
	result, err := engine.Verify(ctx, ws)
	if err != nil {
		return nil, err
	}

	p.observer.OnPhase(model.PhaseReport)
	res.Report = report.Assemble(result, report.Meta{Version: res.Version, Timestamp: p.now()})
	res.Written, err = res.Report.Write(p.writer)
	if err != nil {
		return nil, errors.Wrap(err, "write reports")
	}

	res.Summary = model.Summary{
		Files:      res.Ingest.Files,
		Extracted:  res.Ingest.Extracted,
		Distinct:   ws.Len(),
		Skipped:    result.Skipped,
		Clean:      result.Clean,
		Deprecated: result.DeprecatedStatements,
		Failed:     len(result.Failed),
		Errored:    result.Errored,
		Cached:     result.Cached,
	}
	return res, nil
}

// targetVersion prefers the configured version and falls back to the
// version the server reports
func (p *Pipeline) targetVersion(ctx context.Context, analyzer verify.Analyzer) string {
	if p.config.TargetVersion != "" {
		return p.config.TargetVersion
	}
	version, err := analyzer.ServerVersion(ctx)
	if err != nil || version == "" {
		p.logger.Warn("Could not detect the server version, reports will be labelled unknown", logger.Error(err))
		return unknownVersion
	}
	p.logger.Info("Detected server version", "version", version)
	return version
}

func (p *Pipeline) engineOptions(version string, endpoint model.Endpoint) []verify.Option {
	cfg := p.config
	opts := []verify.Option{
		verify.WithWorkers(cfg.Verify.Workers),
		verify.WithSuppression(cfg.SuppressionSet()),
		verify.WithStatementTimeout(cfg.Verify.StatementTimeout),
		verify.WithObserver(p.observer),
		verify.WithLogger(p.logger),
	}
	if cfg.Verify.RateLimit > 0 {
		opts = append(opts, verify.WithLimiter(worker.NewLimiter(cfg.Verify.RateLimit, cfg.Verify.RateBurst), endpoint.URI))
	}
	switch {
	case !cfg.Cache.Enabled:
	case version == unknownVersion:
		// responses from unidentified servers would share one key space
		p.logger.Warn("Server version unknown, analysis cache disabled for this run")
	default:
		c := p.cache
		if c == nil {
			c = cache.NewLayeredCache(time.Hour, cfg.Cache.Dir, cfg.Cache.TTL)
		}
		opts = append(opts, verify.WithCache(c, version, cfg.Cache.TTL))
	}
	return opts
}
