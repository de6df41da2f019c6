package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/maltedev/price-updater/internal/notify"
)

var hundred = decimal.NewFromInt(100)

// PriceWatcher alerts when a refreshed price moved by at least Threshold
// percent against the previous catalog price.
type PriceWatcher struct {
	threshold  decimal.Decimal
	notifier   notify.Notifier
	recipients []string
	logger     *slog.Logger
}

func NewPriceWatcher(thresholdPercent float64, notifier notify.Notifier, recipients []string, logger *slog.Logger) *PriceWatcher {
	return &PriceWatcher{
		threshold:  decimal.NewFromFloat(thresholdPercent),
		notifier:   notifier,
		recipients: recipients,
		logger:     logger.With("component", "watcher"),
	}
}

func (w *PriceWatcher) Handle(ctx context.Context, e Event) error {
	p := e.Price
	logger := w.logger.With("product_id", p.ProductID, "run_id", p.RunID)

	switch e.Envelope.Type {
	case EventAcquisitionFailed:
		logger.Info("price acquisition failed", "reason", p.Reason, "error", p.Error)
		return nil
	case EventPriceUpdated:
	default:
		logger.Debug("ignoring event", "type", e.Envelope.Type)
		return nil
	}

	change, ok := PercentChange(p)
	if !ok {
		logger.Debug("no previous price to compare")
		return nil
	}

	logger.Info("price observed", "price", *p.Price, "previous", p.PreviousPrice, "change_percent", change.StringFixed(2))
	if change.Abs().LessThan(w.threshold) {
		return nil
	}

	msg := fmt.Sprintf("Product %s price changed from %s to %s (%s%%)",
		p.ProductID, p.PreviousPrice, *p.Price, change.StringFixed(1))
	for _, recipient := range w.recipients {
		if err := w.notifier.Notify(ctx, recipient, msg); err != nil {
			return fmt.Errorf("failed to alert %s: %w", recipient, err)
		}
	}
	return nil
}

// PercentChange is (price - previous) / previous * 100. It reports false
// when either side is missing or the previous price is zero.
func PercentChange(p PricePayload) (decimal.Decimal, bool) {
	if p.Price == nil || p.PreviousPrice == "" {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(*p.Price)
	if err != nil {
		return decimal.Zero, false
	}
	previous, err := decimal.NewFromString(p.PreviousPrice)
	if err != nil || previous.IsZero() {
		return decimal.Zero, false
	}
	return price.Sub(previous).Div(previous).Mul(hundred), true
}
