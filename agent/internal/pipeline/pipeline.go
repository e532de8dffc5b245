package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"migration-agent/agent/database"
	"migration-agent/agent/internal/blacklist"
	"migration-agent/agent/internal/events"
	"migration-agent/agent/internal/filter"
	"migration-agent/agent/internal/models"
	"migration-agent/agent/internal/sentiment"
	"migration-agent/agent/internal/trading"
	"migration-agent/agent/internal/verification"
	"migration-agent/shared/config"
	"migration-agent/shared/logger"

	"go.uber.org/zap"
)

const (
	StageIngestion    = "ingestion"
	StageVerification = "verification"
	StageSocial       = "social"
	StageSentiment    = "sentiment"
	StageTrading      = "trading"
)

var (
	ErrRunInProgress = errors.New("pipeline run already in progress")
	ErrStageDisabled = errors.New("stage not configured")
)

type CoinFeed interface {
	FetchCoins(ctx context.Context) ([]map[string]interface{}, error)
}

type SocialFeed interface {
	FetchPosts(ctx context.Context, handle string, limit int) ([]map[string]interface{}, error)
}

// Deps are the collaborators of a pipeline. Feeds, Verifier and Channel may be nil; the
// stages that need them then report ErrStageDisabled.
type Deps struct {
	Store      *database.Store
	Blacklist  *blacklist.Registry
	CoinFeed   CoinFeed
	SocialFeed SocialFeed
	Verifier   verification.Verifier
	Channel    trading.CommandChannel
	Scorer     sentiment.Scorer
	Logger     *logger.Logger
	Now        func() time.Time
}

// Pipeline runs the ingestion, verification, social, sentiment and trading stages in order.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
	log  *logger.Logger

	runMu   sync.Mutex
	lastMu  sync.RWMutex
	last    *Report
	running bool
}

func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline config: %w", config.ErrMissingField)
	}
	if deps.Store == nil || deps.Blacklist == nil {
		return nil, fmt.Errorf("pipeline store and blacklist: %w", config.ErrMissingField)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Scorer == nil {
		deps.Scorer = sentiment.NewVaderScorer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// Run executes one pipeline run. Stage failures are recorded on the report and do not stop
// later stages; Run returns an error only when another run is active or ctx ends.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if !p.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.runMu.Unlock()
	p.setRunning(true)
	defer p.setRunning(false)

	rep := newReport(p.deps.Now())
	p.log.Info("Pipeline run started")

	p.stage(ctx, rep, StageIngestion, p.ingestCoins)
	if err := ctx.Err(); err != nil {
		return p.abandon(rep, err)
	}
	p.stage(ctx, rep, StageVerification, p.verify)
	if err := ctx.Err(); err != nil {
		return p.abandon(rep, err)
	}
	p.stage(ctx, rep, StageSocial, p.ingestPosts)
	if err := ctx.Err(); err != nil {
		return p.abandon(rep, err)
	}
	var means map[uint]float64
	p.stage(ctx, rep, StageSentiment, func(ctx context.Context, rep *Report) error {
		var err error
		means, err = sentiment.NewAggregator(p.deps.Store, p.deps.Scorer, p.log).Aggregate(ctx)
		rep.SentimentCoins = len(means)
		return err
	})
	if err := ctx.Err(); err != nil {
		return p.abandon(rep, err)
	}
	p.stage(ctx, rep, StageTrading, func(ctx context.Context, rep *Report) error {
		if means == nil {
			return fmt.Errorf("no sentiment available: %w", ErrStageDisabled)
		}
		return p.decide(ctx, rep, means)
	})

	rep.FinishedAt = p.deps.Now()
	p.finish(rep)
	return rep, nil
}

func (p *Pipeline) stage(ctx context.Context, rep *Report, name string, fn func(context.Context, *Report) error) {
	start := time.Now()
	if err := fn(ctx, rep); err != nil {
		rep.StageErrors[name] = err.Error()
		p.log.Error("Pipeline stage failed", zap.String("stage", name), zap.Error(err))
		return
	}
	p.log.Debug("Pipeline stage finished", zap.String("stage", name), zap.Duration("took", time.Since(start)))
}

func (p *Pipeline) abandon(rep *Report, err error) (*Report, error) {
	rep.FinishedAt = p.deps.Now()
	p.finish(rep)
	p.log.Warn("Pipeline run abandoned", zap.Error(err))
	return rep, fmt.Errorf("pipeline run abandoned: %w", err)
}

func (p *Pipeline) finish(rep *Report) {
	p.lastMu.Lock()
	p.last = rep
	p.lastMu.Unlock()
	p.log.Info("Pipeline run finished",
		zap.Int("fetched", rep.Ingestion.Fetched), zap.Int("saved", rep.Ingestion.Saved),
		zap.Int("blacklisted", rep.Ingestion.Blacklisted), zap.Int("verifiedGood", rep.Verification.Good),
		zap.Int("verifiedBad", rep.Verification.Bad), zap.Int("postsSaved", rep.Social.Saved),
		zap.Int("buys", rep.Trading.Buys), zap.Int("sells", rep.Trading.Sells),
		zap.Int("stageErrors", len(rep.StageErrors)))
}

func (p *Pipeline) setRunning(v bool) {
	p.lastMu.Lock()
	p.running = v
	p.lastMu.Unlock()
}

// LastReport returns the report of the most recent finished run, or nil, and whether a run
// is active right now.
func (p *Pipeline) LastReport() (*Report, bool) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last, p.running
}

// Blacklisted reports whether any of the coin's symbol, developer or handle is excluded,
// and which set matched.
func (p *Pipeline) Blacklisted(coin *models.Coin) (bool, models.BlacklistKind) {
	bl := p.deps.Blacklist
	if bl.Contains(models.BlacklistCoin, coin.Symbol) {
		return true, models.BlacklistCoin
	}
	if coin.HasDeveloper() && bl.Contains(models.BlacklistDeveloper, coin.DeveloperID) {
		return true, models.BlacklistDeveloper
	}
	if coin.SocialHandle != "" && bl.Contains(models.BlacklistHandle, coin.SocialHandle) {
		return true, models.BlacklistHandle
	}
	return false, ""
}

func (p *Pipeline) ingestCoins(ctx context.Context, rep *Report) error {
	if p.deps.CoinFeed == nil {
		return fmt.Errorf("coin feed: %w", ErrStageDisabled)
	}
	criteria, err := filter.FromConfig(p.cfg.Filter)
	if err != nil {
		return fmt.Errorf("filter criteria: %w", err)
	}

	raws, err := p.deps.CoinFeed.FetchCoins(ctx)
	if err != nil {
		return err
	}

	res := &rep.Ingestion
	for _, raw := range raws {
		res.Fetched++
		coin, err := events.NormalizeCoin(raw)
		if err != nil {
			res.Rejected++
			p.log.Warn("Rejected coin record", zap.Error(err))
			continue
		}
		symbolField := zap.String("symbol", coin.Symbol)

		if ok, reason := criteria.Passes(coin); !ok {
			res.Filtered++
			p.log.Debug("Coin filtered out", symbolField, zap.String("reason", reason))
			continue
		}

		if handle, ok := p.cfg.SocialHandleFor(coin.Symbol); ok {
			coin.SocialHandle = handle
		}
		if blocked, kind := p.Blacklisted(coin); blocked {
			res.Blacklisted++
			p.log.Info("Coin blacklisted, skipping", symbolField, zap.String("matched", string(kind)))
			continue
		}

		created, err := p.deps.Store.SaveCoin(ctx, coin)
		if err != nil {
			res.SaveFailed++
			p.log.Error("Failed to save coin", symbolField, zap.Error(err))
			continue
		}
		if !created {
			res.Duplicates++
			continue
		}
		res.Saved++

		if same, err := p.deps.Store.CoinsBySymbol(ctx, coin.Symbol); err == nil && len(same) > 1 {
			res.Collisions++
			p.log.Warn("Symbol already stored with another contract", symbolField,
				zap.String("contract", coin.ContractAddress), zap.Int("rows", len(same)))
		}
	}

	p.log.Info("Ingestion stage complete",
		zap.Int("fetched", res.Fetched), zap.Int("rejected", res.Rejected), zap.Int("filtered", res.Filtered),
		zap.Int("blacklisted", res.Blacklisted), zap.Int("saved", res.Saved), zap.Int("duplicates", res.Duplicates))
	return nil
}

func (p *Pipeline) verify(ctx context.Context, rep *Report) error {
	if p.deps.Verifier == nil {
		return fmt.Errorf("contract verifier: %w", ErrStageDisabled)
	}
	var notifier verification.Notifier
	if p.deps.Channel != nil {
		notifier = p.deps.Channel
	}
	wf := verification.NewWorkflow(p.deps.Store, p.deps.Verifier, p.deps.Blacklist, notifier,
		verification.PolicyFromConfig(p.cfg.Verification), p.cfg.Pipeline.Workers, p.log)

	res, err := wf.Run(ctx)
	rep.Verification = res
	return err
}

func (p *Pipeline) ingestPosts(ctx context.Context, rep *Report) error {
	if p.deps.SocialFeed == nil {
		return fmt.Errorf("social feed: %w", ErrStageDisabled)
	}
	coins, err := p.deps.Store.CoinsWithSocialHandle(ctx)
	if err != nil {
		return err
	}

	res := &rep.Social
	fetched := make(map[string]bool)
	for i := range coins {
		coin := &coins[i]
		if blocked, _ := p.Blacklisted(coin); blocked {
			continue
		}
		// rows sharing a symbol share a handle; fetch it once per run
		key := coin.SocialHandle + "\x00" + coin.Symbol
		if fetched[key] {
			continue
		}
		fetched[key] = true
		res.Coins++

		raws, err := p.deps.SocialFeed.FetchPosts(ctx, coin.SocialHandle, p.cfg.Pipeline.SocialPostLimit)
		if err != nil {
			res.FetchFailed++
			p.log.Warn("Failed to fetch social posts", zap.String("symbol", coin.Symbol),
				zap.String("handle", coin.SocialHandle), zap.Error(err))
			continue
		}
		for _, raw := range raws {
			p.savePost(ctx, coin, raw, res)
		}
	}

	p.log.Info("Social stage complete", zap.Int("coins", res.Coins), zap.Int("fetched", res.Fetched),
		zap.Int("saved", res.Saved), zap.Int("duplicates", res.Duplicates), zap.Int("rejected", res.Rejected))
	return nil
}

func (p *Pipeline) savePost(ctx context.Context, coin *models.Coin, raw map[string]interface{}, res *SocialResult) {
	res.Fetched++
	post, stamped, err := events.NormalizePost(raw, coin.ID, p.deps.Now())
	if err != nil {
		res.Rejected++
		p.log.Warn("Rejected social post", zap.String("symbol", coin.Symbol), zap.Error(err))
		return
	}
	if stamped {
		p.log.Debug("Post created_at missing or invalid, using ingestion time", zap.String("postID", post.PostID))
	}
	if post.SentimentScore == nil {
		score := p.deps.Scorer.Score(post.Content)
		post.SentimentScore = &score
	}

	created, err := p.deps.Store.SavePost(ctx, post)
	switch {
	case err != nil:
		res.SaveFailed++
		p.log.Error("Failed to save social post", zap.String("postID", post.PostID), zap.Error(err))
	case created:
		res.Saved++
	default:
		res.Duplicates++
	}
}

func (p *Pipeline) decide(ctx context.Context, rep *Report, means map[uint]float64) error {
	settings, err := trading.SettingsFromConfig(p.cfg.Trading)
	if err != nil {
		return err
	}
	engine := trading.NewEngine(p.deps.Store, p.deps.Store, p.deps.Blacklist, p.deps.Channel,
		settings, p.cfg.Pipeline.Workers, p.log)

	res, actions, err := engine.Run(ctx, means)
	rep.Trading = res
	rep.Actions = actions
	return err
}
