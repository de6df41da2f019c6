package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/maltedev/price-updater/internal/browser"
	"github.com/maltedev/price-updater/internal/catalog"
	"github.com/maltedev/price-updater/internal/challenge"
	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/extract"
	"github.com/maltedev/price-updater/internal/ratelimit"
)

var ErrNoPrice = errors.New("no price found by any strategy")

// PageOpener hands out fresh tabs. *browser.Session implements it.
type PageOpener interface {
	NewPage() (browser.Page, error)
}

type Config struct {
	NavigationTimeout  time.Duration
	NavigationAttempts int
	NavigationDelay    time.Duration
	DOMReadyTimeout    time.Duration
	ExtractAttempts    int
	SkuParam           string
}

func DefaultConfig() Config {
	return Config{
		NavigationTimeout:  30 * time.Second,
		NavigationAttempts: 2,
		NavigationDelay:    3 * time.Second,
		DOMReadyTimeout:    30 * time.Second,
		ExtractAttempts:    3,
		SkuParam:           "skuId",
	}
}

func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		NavigationTimeout:  cfg.Pipeline.NavigationTimeout,
		NavigationAttempts: cfg.Pipeline.NavigationAttempts,
		NavigationDelay:    cfg.Pipeline.NavigationDelay,
		DOMReadyTimeout:    cfg.Pipeline.DOMReadyTimeout,
		ExtractAttempts:    cfg.Extract.MaxAttempts,
		SkuParam:           cfg.Pipeline.SkuParam,
	}
}

type Dependencies struct {
	Pages     PageOpener
	Profile   *browser.StealthProfile
	Resolver  *challenge.Resolver
	Extractor *extract.Extractor
	Delayer   ratelimit.Delayer
	Random    browser.RandomSource
	Logger    *slog.Logger
}

type Pipeline struct {
	pages     PageOpener
	profile   *browser.StealthProfile
	resolver  *challenge.Resolver
	extractor *extract.Extractor
	delayer   ratelimit.Delayer
	rng       browser.RandomSource
	cfg       Config
	logger    *slog.Logger
}

func New(cfg Config, deps Dependencies) *Pipeline {
	if cfg.NavigationAttempts < 1 {
		cfg.NavigationAttempts = 1
	}
	if cfg.ExtractAttempts < 1 {
		cfg.ExtractAttempts = 1
	}
	if deps.Profile == nil {
		deps.Profile = browser.DefaultStealthProfile()
	}
	if deps.Delayer == nil {
		deps.Delayer = ratelimit.Sleeper{}
	}
	if deps.Random == nil {
		deps.Random = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{
		pages:     deps.Pages,
		profile:   deps.Profile,
		resolver:  deps.Resolver,
		extractor: deps.Extractor,
		delayer:   deps.Delayer,
		rng:       deps.Random,
		cfg:       cfg,
		logger:    deps.Logger.With("component", "pipeline"),
	}
}

// AcquirePrice looks up the current price of one product. It never panics
// and never returns an error; every failure is a Result reason.
func (p *Pipeline) AcquirePrice(ctx context.Context, product catalog.Product) Result {
	target, err := NewLookupTarget(product, p.cfg.SkuParam)
	if err != nil {
		p.logger.Error("cannot build lookup target", "product_id", product.ID, "error", err)
		return Failed(ReasonTransportError, err)
	}
	return p.Run(ctx, target)
}

func (p *Pipeline) Run(ctx context.Context, target LookupTarget) (res Result) {
	start := time.Now()
	logger := p.logger.With("product_id", target.ProductID, "url", target.URL)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("acquisition panicked", "panic", r, "stack", string(debug.Stack()))
			res = Failed(ReasonTransportError, fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(start)
		logger.Info("acquisition finished",
			"ok", res.OK(),
			"reason", res.Reason(),
			"challenge_cycles", res.ChallengeCycles,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}()

	page, err := p.pages.NewPage()
	if err != nil {
		return Failed(ReasonTransportError, fmt.Errorf("open page: %w", err))
	}
	defer p.closePage(page, logger)

	if err := page.AddInitScript(p.profile.InitScript()); err != nil {
		logger.Warn("failed to add stealth init script", "error", err)
	}

	if err := p.navigate(ctx, page, target.URL, logger); err != nil {
		return Failed(classify(err), err)
	}

	if err := page.WaitDOMReady(p.cfg.DOMReadyTimeout); err != nil {
		return Failed(classify(err), fmt.Errorf("wait for dom: %w", err))
	}

	browser.SimulateHumanPresence(ctx, page, p.delayer, p.rng, logger)

	outcome := p.resolver.Resolve(ctx, page)
	if !outcome.Resolved() {
		return Failed(ReasonChallengeUnresolved, outcome.Err).withCycles(outcome.Cycles)
	}

	price, ok := p.extractor.Extract(ctx, page, p.cfg.ExtractAttempts)
	if !ok {
		return Failed(ReasonSelectorMiss, ErrNoPrice).withCycles(outcome.Cycles)
	}

	return Priced(price).withCycles(outcome.Cycles)
}

func (p *Pipeline) navigate(ctx context.Context, page browser.Page, url string, logger *slog.Logger) error {
	var lastErr error

	for attempt := 1; attempt <= p.cfg.NavigationAttempts; attempt++ {
		if attempt > 1 {
			logger.Info("retrying navigation", "attempt", attempt)
			if err := p.delayer.Wait(ctx, p.cfg.NavigationDelay); err != nil {
				return err
			}
		}

		err := page.Navigate(url, p.cfg.NavigationTimeout)
		if err == nil {
			return nil
		}

		lastErr = err
		logger.Warn("navigation failed", "attempt", attempt, "error", err)
	}

	return fmt.Errorf("navigation failed after %d attempts: %w", p.cfg.NavigationAttempts, lastErr)
}

func (p *Pipeline) closePage(page browser.Page, logger *slog.Logger) {
	if err := page.Close(); err != nil {
		logger.Warn("failed to close page", "error", err)
	}
}

func classify(err error) Reason {
	if errors.Is(err, browser.ErrNavigationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonTransportError
}
