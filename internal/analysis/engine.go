package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/heuristics"
	"github.com/rawblock/fundflow-engine/internal/narrative"
	"github.com/rawblock/fundflow-engine/internal/timeline"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Analysis Engine
//
// Runs the full pipeline for one address:
//
//	graph → timeline → patterns → anomalies → risk → narrative
//
// Each stage reads only the input transactions and the output of earlier
// stages. The context is checked between stages so a cancelled request
// stops at the next boundary; stages themselves are CPU-bound and short.

// Config tunes the engine. Zero values take the documented defaults.
type Config struct {
	ZScoreThreshold  float64
	MaxHops          int
	MaxExpansions    int
	Currency         string
	ParallelPatterns bool
	DefaultLanguage  string
}

// Option customizes an Engine.
type Option func(*options)

type options struct {
	now       func() time.Time
	selector  narrative.Selector
	watchlist *heuristics.Watchlist
}

// WithClock fixes the time used for report stamps and account age.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSelector sets the narrative phrasing strategy.
func WithSelector(s narrative.Selector) Option {
	return func(o *options) { o.selector = s }
}

// WithWatchlist replaces the catalog's high-risk address set.
func WithWatchlist(w *heuristics.Watchlist) Option {
	return func(o *options) { o.watchlist = w }
}

// Engine is safe for concurrent use; it holds no per-request state.
type Engine struct {
	cfg      Config
	catalog  *catalog.PatternCatalog
	matcher  *heuristics.PatternMatcher
	detector *heuristics.AnomalyDetector
	scorer   *heuristics.RiskScorer
	timeline *timeline.Analyzer
	narrator *narrative.Generator
	now      func() time.Time
	logger   *zap.Logger
}

// New wires every stage from the catalog and template table.
func New(cfg Config, cat *catalog.PatternCatalog, tpl *catalog.Templates, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: nil pattern catalog", catalog.ErrInvalidCatalog)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = heuristics.DefaultZScoreThreshold
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = graph.DefaultMaxHops
	}
	if cfg.MaxExpansions <= 0 {
		cfg.MaxExpansions = graph.DefaultMaxExpansions
	}
	if cfg.Currency == "" {
		cfg.Currency = heuristics.DefaultCurrency
	}
	cfg.DefaultLanguage = narrative.Language(cfg.DefaultLanguage)

	matcher, err := heuristics.NewPatternMatcher(cat, logger,
		heuristics.WithMaxHops(cfg.MaxHops),
		heuristics.WithMaxExpansions(cfg.MaxExpansions),
		heuristics.WithCurrency(cfg.Currency),
		heuristics.WithParallel(cfg.ParallelPatterns),
	)
	if err != nil {
		return nil, fmt.Errorf("pattern matcher: %w", err)
	}

	scorerOpts := []heuristics.ScorerOption{heuristics.WithClock(o.now)}
	if o.watchlist != nil {
		scorerOpts = append(scorerOpts, heuristics.WithWatchlist(o.watchlist))
	}

	narratorOpts := []narrative.Option{narrative.WithCurrency(cfg.Currency)}
	if o.selector != nil {
		narratorOpts = append(narratorOpts, narrative.WithSelector(o.selector))
	}
	narrator, err := narrative.NewGenerator(tpl, cat, logger, narratorOpts...)
	if err != nil {
		return nil, fmt.Errorf("narrative generator: %w", err)
	}

	return &Engine{
		cfg:      cfg,
		catalog:  cat,
		matcher:  matcher,
		detector: heuristics.NewAnomalyDetector(cfg.ZScoreThreshold, logger),
		scorer:   heuristics.NewRiskScorer(cat, logger, scorerOpts...),
		timeline: timeline.NewAnalyzer(),
		narrator: narrator,
		now:      o.now,
		logger:   logger.Named("engine"),
	}, nil
}

// Catalog returns the pattern catalog the engine runs with.
func (e *Engine) Catalog() *catalog.PatternCatalog { return e.catalog }

// Language resolves the report language for a request.
func (e *Engine) Language(requested string) string {
	if requested == "" {
		return e.cfg.DefaultLanguage
	}
	return narrative.Language(requested)
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("analysis stopped before %s: %w", stage, err)
	}
	return nil
}

// Analyze runs every stage and assembles the report.
func (e *Engine) Analyze(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	addr := models.NormalizeAddress(req.Address)
	lang := e.Language(req.Language)
	txs := req.Transactions

	report := &Report{
		ID:                uuid.NewString(),
		Address:           addr,
		Language:          lang,
		GeneratedAt:       e.now().UTC(),
		TransactionCount:  len(txs),
		Patterns:          []models.PatternMatch{},
		Anomalies:         []models.Anomaly{},
		TemporalAnomalies: []models.Anomaly{},
		Events:            []models.TimelineEvent{},
	}

	if len(txs) == 0 {
		report.AnomalySummary = heuristics.Summarize(nil)
		report.Timeline = e.timeline.Analyze(nil)
		report.Flow = graph.FlowAnalysis{PatternType: graph.FlowNone, MainPaths: []graph.PathStats{}}
		report.Graph = graph.Build(nil).Summary()
		report.RiskAssessment = e.scorer.Assess(addr, nil, nil, nil)
		in := narrative.Input{Address: addr, Language: lang, Risk: report.RiskAssessment}
		report.Narrative = e.narrator.Generate(in)
		report.KeyFindings = e.narrator.KeyFindings(in)
		e.logger.Debug("empty history", zap.String("address", addr))
		return report, nil
	}

	if err := checkpoint(ctx, "graph"); err != nil {
		return nil, err
	}
	g := graph.Build(txs)
	report.Graph = g.Summary()
	chains := e.matcher.Chains(g, addr)
	report.Flow = graph.SummarizeFlow(chains)

	if err := checkpoint(ctx, "timeline"); err != nil {
		return nil, err
	}
	report.Timeline = e.timeline.Analyze(txs)
	report.TemporalAnomalies = orEmpty(timeline.IdentifyTemporalAnomalies(report.Timeline))

	if err := checkpoint(ctx, "patterns"); err != nil {
		return nil, err
	}
	report.Patterns = e.matcher.DetectChains(chains, txs, addr)

	if err := checkpoint(ctx, "anomalies"); err != nil {
		return nil, err
	}
	report.Anomalies = e.detector.Detect(txs, addr)
	report.AnomalyScore = heuristics.Score(report.Anomalies)
	report.AnomalySummary = heuristics.Summarize(report.Anomalies)

	if err := checkpoint(ctx, "risk"); err != nil {
		return nil, err
	}
	report.RiskAssessment = e.scorer.Assess(addr, txs, report.Patterns, report.Anomalies)

	if err := checkpoint(ctx, "narrative"); err != nil {
		return nil, err
	}
	in := narrative.Input{
		Address:      addr,
		Transactions: txs,
		Patterns:     report.Patterns,
		Anomalies:    append(append([]models.Anomaly{}, report.Anomalies...), report.TemporalAnomalies...),
		Risk:         report.RiskAssessment,
		Timeline:     report.Timeline,
		Flow:         report.Flow,
		Language:     lang,
	}
	report.Narrative = e.narrator.Generate(in)
	report.KeyFindings = e.narrator.KeyFindings(in)
	report.Events = e.narrator.Events(in)

	e.logger.Debug("analysis finished",
		zap.String("address", addr),
		zap.String("report", report.ID),
		zap.Int("transactions", len(txs)),
		zap.Int("patterns", len(report.Patterns)),
		zap.Int("anomalies", len(report.Anomalies)),
		zap.Float64("riskScore", report.RiskAssessment.RiskScore),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

// DetectPatterns runs only the pattern stage.
func (e *Engine) DetectPatterns(ctx context.Context, req Request) ([]models.PatternMatch, error) {
	if err := checkpoint(ctx, "patterns"); err != nil {
		return nil, err
	}
	return e.matcher.Detect(req.Transactions, req.Address), nil
}

// DetectAnomalies runs the statistical and temporal anomaly passes.
func (e *Engine) DetectAnomalies(ctx context.Context, req Request) (*AnomalyResult, error) {
	if err := checkpoint(ctx, "anomalies"); err != nil {
		return nil, err
	}
	anomalies := e.detector.Detect(req.Transactions, req.Address)
	return &AnomalyResult{
		Address:           models.NormalizeAddress(req.Address),
		Anomalies:         anomalies,
		Score:             heuristics.Score(anomalies),
		Summary:           heuristics.Summarize(anomalies),
		TemporalAnomalies: orEmpty(timeline.IdentifyTemporalAnomalies(e.timeline.Analyze(req.Transactions))),
	}, nil
}

// AssessRisk runs patterns and anomalies, then scores them.
func (e *Engine) AssessRisk(ctx context.Context, req Request) (*RiskResult, error) {
	patterns, err := e.DetectPatterns(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, "anomalies"); err != nil {
		return nil, err
	}
	anomalies := e.detector.Detect(req.Transactions, req.Address)
	if err := checkpoint(ctx, "risk"); err != nil {
		return nil, err
	}
	return &RiskResult{
		Assessment: e.scorer.Assess(req.Address, req.Transactions, patterns, anomalies),
		Patterns:   patterns,
		Anomalies:  anomalies,
	}, nil
}

func orEmpty(a []models.Anomaly) []models.Anomaly {
	if a == nil {
		return []models.Anomaly{}
	}
	return a
}
