package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/gamma"
	"github.com/guzus/dr-manhattan-sub000/internal/metrics"
	"github.com/guzus/dr-manhattan-sub000/internal/model"
	"github.com/guzus/dr-manhattan-sub000/internal/state"
)

// Lister is the slice of the listing collaborator the poller needs.
type Lister interface {
	LookupTag(ctx context.Context, slug string) (gamma.Tag, error)
	SearchOpenMarkets(ctx context.Context, tagID string, keywords []string, limit int) ([]gamma.Market, error)
}

// Finalizer receives instruments that dropped out of scope so their buffered
// files can be flushed and shipped. Implemented by the sink.
type Finalizer interface {
	Finalize(ctx context.Context, meta model.AssetMeta)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // poll interval (default: 3m)
	SearchLimit int           // max markets fetched per rule (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    3 * time.Minute,
		SearchLimit: 1000,
	}
}

// Poller periodically evaluates the configured market rules against the
// listing API, replaces the desired asset set, and finalizes instruments
// that left scope.
type Poller struct {
	cfg    Config
	rules  []model.MarketRule
	lister Lister
	st     *state.State
	fin    Finalizer
	logger *slog.Logger

	now func() time.Time // injected for tests

	// lastGood holds each rule's metas from its last successful evaluation.
	// Only PollOnce touches it; the run loop is single-goroutine.
	lastGood map[string]map[string]model.AssetMeta

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, rules []model.MarketRule, lister Lister, st *state.State, fin Finalizer, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultConfig().SearchLimit
	}
	return &Poller{
		cfg:      cfg,
		rules:    rules,
		lister:   lister,
		st:       st,
		fin:      fin,
		logger:   logger,
		now:      time.Now,
		lastGood: make(map[string]map[string]model.AssetMeta),
	}
}

// Start begins the polling loop. The first poll runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("discovery poller started",
		"interval", p.cfg.Interval,
		"rules", len(p.rules),
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("discovery poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.PollOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(p.ctx)
		}
	}
}

// PollOnce runs a single discovery tick: evaluate every rule, replace the
// desired set, and finalize dropped instruments. A failing rule keeps its
// instruments from the last successful evaluation: only a successful query
// may remove an instrument, so a transient listing error never unsubscribes
// and finalizes a still-open market.
func (p *Poller) PollOnce(ctx context.Context) {
	now := p.now().UTC()
	metas := make(map[string]model.AssetMeta)

	for _, rule := range p.rules {
		ruleMetas, err := p.evalRule(ctx, rule, now)
		if err != nil {
			p.logger.Warn("rule evaluation failed, keeping previous instruments",
				"rule", rule.Name,
				"error", err,
			)
			ruleMetas = p.lastGood[rule.Name]
		} else {
			p.lastGood[rule.Name] = ruleMetas
		}
		for id, meta := range ruleMetas {
			metas[id] = meta
		}
	}

	diff := p.st.ReplaceDesired(metas)
	if !diff.Changed {
		return
	}
	metrics.DiscoveryDiffs.Inc()

	for _, meta := range diff.Added {
		p.logger.Info("subscribed",
			"question", meta.Question,
			"outcome", meta.Outcome,
		)
	}
	for _, meta := range diff.Removed {
		p.logger.Info("unsubscribed",
			"question", meta.Question,
			"outcome", meta.Outcome,
		)
	}
	p.logger.Info("desired set updated", "assets", len(metas))

	// Finalization can block on disk and object storage; the state mutex is
	// already released here.
	for _, meta := range diff.Removed {
		p.fin.Finalize(ctx, meta)
	}
}

// evalRule queries the listing API for one rule and returns the metas of its
// in-scope outcome tokens.
func (p *Poller) evalRule(ctx context.Context, rule model.MarketRule, now time.Time) (map[string]model.AssetMeta, error) {
	tag, err := p.lister.LookupTag(ctx, rule.Slug)
	if err != nil {
		return nil, err
	}

	markets, err := p.lister.SearchOpenMarkets(ctx, tag.ID, rule.Keywords, p.cfg.SearchLimit)
	if err != nil {
		return nil, err
	}

	metas := make(map[string]model.AssetMeta)
	for _, m := range markets {
		closeTime := model.NormalizeCloseTime(m.EndDate)
		if !InScope(rule, closeTime, now) {
			continue
		}

		tokenIDs := m.TokenIDs()
		outcomes := m.OutcomeLabels()

		for idx, assetID := range tokenIDs {
			outcome := indexOutcome(outcomes, idx)
			metas[assetID] = model.AssetMeta{
				AssetID:      assetID,
				MarketID:     m.MarketID(),
				Question:     m.Question,
				CloseTimeStr: closeTime,
				Outcome:      outcome,
				Freq:         rule.FreqLabel(),
				Prefix:       rule.Prefix,
			}
		}
	}
	return metas, nil
}

func indexOutcome(outcomes []string, idx int) string {
	if idx < len(outcomes) {
		return outcomes[idx]
	}
	if idx == 0 {
		return "Up"
	}
	return "Down"
}
