package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maltedev/price-updater/internal/browser"
	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/ratelimit"
)

type Strategy struct {
	Name     string
	Selector string
}

func DefaultStrategies() []Strategy {
	return StrategiesFromSelectors([]string{
		"span.product-price-value",
		".uniform-banner-box-price",
		"[class*='Price_uniformBannerBoxPrice']",
		"[class*='Price_promotion']",
	})
}

func StrategiesFromSelectors(selectors []string) []Strategy {
	strategies := make([]Strategy, 0, len(selectors))
	for _, sel := range selectors {
		strategies = append(strategies, Strategy{Name: sel, Selector: sel})
	}
	return strategies
}

type Extractor struct {
	strategies     []Strategy
	settleInterval time.Duration
	delayer        ratelimit.Delayer
	logger         *slog.Logger
}

func NewExtractor(strategies []Strategy, settleInterval time.Duration, delayer ratelimit.Delayer, logger *slog.Logger) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if delayer == nil {
		delayer = ratelimit.Sleeper{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		strategies:     strategies,
		settleInterval: settleInterval,
		delayer:        delayer,
		logger:         logger.With("component", "extractor"),
	}
}

func NewExtractorFromConfig(cfg config.ExtractConfig, delayer ratelimit.Delayer, logger *slog.Logger) *Extractor {
	return NewExtractor(StrategiesFromSelectors(cfg.Selectors), cfg.SettleInterval, delayer, logger)
}

// Extract tries every strategy on the top document, up to maxAttempts times,
// waiting the settle interval before each attempt. It reports false once all
// attempts are spent or the context ends.
func (e *Extractor) Extract(ctx context.Context, view browser.DocumentView, maxAttempts int) (decimal.Decimal, bool) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.delayer.Wait(ctx, e.settleInterval); err != nil {
			e.logger.Debug("extraction interrupted", "attempt", attempt, "error", err)
			return decimal.Zero, false
		}

		if price, name, ok := e.tryStrategies(view); ok {
			e.logger.Debug("price extracted", "strategy", name, "attempt", attempt, "price", price.String())
			return price, true
		}

		e.logger.Debug("no strategy matched", "attempt", attempt, "max_attempts", maxAttempts)
	}

	return decimal.Zero, false
}

func (e *Extractor) tryStrategies(view browser.DocumentView) (decimal.Decimal, string, bool) {
	top := browser.TopFrame(view)
	if top == nil {
		return decimal.Zero, "", false
	}

	for _, s := range e.strategies {
		el, err := top.QueryElement(s.Selector)
		if err != nil {
			e.logger.Debug("strategy query failed", "strategy", s.Name, "error", err)
			continue
		}
		if el == nil {
			continue
		}

		text, err := el.Text()
		if err != nil {
			e.logger.Debug("strategy text failed", "strategy", s.Name, "error", err)
			continue
		}

		price, err := ParsePrice(text)
		if err != nil {
			continue
		}
		return price, s.Name, true
	}

	return decimal.Zero, "", false
}
