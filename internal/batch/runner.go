package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/price-updater/internal/catalog"
	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/extract"
	"github.com/maltedev/price-updater/internal/notify"
	"github.com/maltedev/price-updater/internal/pipeline"
	"github.com/maltedev/price-updater/internal/ratelimit"
)

var ErrRunInProgress = errors.New("a batch run is already in progress")

type Acquirer interface {
	AcquirePrice(ctx context.Context, product catalog.Product) pipeline.Result
}

type Catalog interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	UpdatePrice(ctx context.Context, id, link string, minor int64) error
}

// Recorder persists the outcome of each product lookup.
type Recorder interface {
	Record(ctx context.Context, runID string, product catalog.Product, res pipeline.Result) error
}

type feedback interface {
	RecordSuccess()
	RecordError()
}

type Config struct {
	ProductAttempts int
	RetryDelay      time.Duration
	Recipients      []string
	AlertMessage    string
}

func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		ProductAttempts: cfg.Batch.ProductAttempts,
		RetryDelay:      cfg.Batch.RetryDelay,
		Recipients:      cfg.Notify.Recipients,
		AlertMessage:    cfg.Notify.Message,
	}
}

type Summary struct {
	RunID        string                  `json:"run_id"`
	Started      time.Time               `json:"started"`
	Finished     time.Time               `json:"finished"`
	Total        int                     `json:"total"`
	Updated      int                     `json:"updated"`
	Failed       int                     `json:"failed"`
	UpdateErrors int                     `json:"update_errors"`
	Reasons      map[pipeline.Reason]int `json:"reasons"`
	Error        string                  `json:"error,omitempty"`
}

type Dependencies struct {
	Acquirer Acquirer
	Catalog  Catalog
	Notifier notify.Notifier
	Recorder Recorder
	Pacer    ratelimit.Pacer
	Delayer  ratelimit.Delayer
	Logger   *slog.Logger
}

// Runner processes the whole catalog sequentially, one product at a time.
type Runner struct {
	acquirer Acquirer
	catalog  Catalog
	notifier notify.Notifier
	recorder Recorder
	pacer    ratelimit.Pacer
	delayer  ratelimit.Delayer
	cfg      Config
	logger   *slog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *Summary
}

func NewRunner(cfg Config, deps Dependencies) *Runner {
	if cfg.ProductAttempts < 1 {
		cfg.ProductAttempts = 1
	}
	if deps.Delayer == nil {
		deps.Delayer = ratelimit.Sleeper{}
	}
	if deps.Pacer == nil {
		deps.Pacer = ratelimit.NewSimplePacer(deps.Delayer, nil, 0, 0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	return &Runner{
		acquirer: deps.Acquirer,
		catalog:  deps.Catalog,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		pacer:    deps.Pacer,
		delayer:  deps.Delayer,
		cfg:      cfg,
		logger:   deps.Logger.With("component", "batch"),
	}
}

func (r *Runner) Running() bool {
	return r.running.Load()
}

func (r *Runner) LastSummary() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Run refreshes the price of every catalog product. Per-product failures are
// counted in the summary; only a failure to list the catalog or a cancelled
// context is returned as an error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	summary := Summary{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Reasons: make(map[pipeline.Reason]int),
	}
	logger := r.logger.With("run_id", summary.RunID)

	err := r.run(ctx, &summary, logger)

	summary.Finished = time.Now().UTC()
	if err != nil {
		summary.Error = err.Error()
		logger.Error("batch run aborted", "error", err, "processed", summary.Updated+summary.Failed)
	} else {
		logger.Info("batch run finished",
			"total", summary.Total,
			"updated", summary.Updated,
			"failed", summary.Failed,
			"update_errors", summary.UpdateErrors,
			"duration", summary.Finished.Sub(summary.Started).String(),
		)
	}

	r.mu.Lock()
	stored := summary
	r.last = &stored
	r.mu.Unlock()

	return summary, err
}

func (r *Runner) run(ctx context.Context, summary *Summary, logger *slog.Logger) error {
	products, err := r.catalog.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}
	summary.Total = len(products)
	logger.Info("batch run started", "products", len(products))

	for i, product := range products {
		if i > 0 {
			if err := r.pacer.Wait(ctx); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
		}

		plog := logger.With("product_id", product.ID)
		res := r.acquire(ctx, product, plog)

		if r.recorder != nil {
			if err := r.recorder.Record(ctx, summary.RunID, product, res); err != nil {
				plog.Error("failed to record observation", "error", err)
			}
		}

		if res.OK() {
			r.onPriced(ctx, summary, product, res, plog)
		} else {
			r.onFailed(ctx, summary, res, plog)
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}
	}

	return nil
}

func (r *Runner) acquire(ctx context.Context, product catalog.Product, logger *slog.Logger) pipeline.Result {
	var res pipeline.Result

	for attempt := 1; attempt <= r.cfg.ProductAttempts; attempt++ {
		res = r.acquirer.AcquirePrice(ctx, product)
		if res.OK() || !res.Retryable() || attempt == r.cfg.ProductAttempts {
			return res
		}

		logger.Warn("price acquisition failed, retrying",
			"attempt", attempt,
			"reason", res.Reason(),
			"error", res.Err(),
		)
		if err := r.delayer.Wait(ctx, r.cfg.RetryDelay); err != nil {
			return res
		}
	}

	return res
}

func (r *Runner) onPriced(ctx context.Context, summary *Summary, product catalog.Product, res pipeline.Result, logger *slog.Logger) {
	if fb, ok := r.pacer.(feedback); ok {
		fb.RecordSuccess()
	}

	minor := extract.ToMinorUnits(res.Price())
	if err := r.catalog.UpdatePrice(ctx, product.ID, product.Link, minor); err != nil {
		summary.UpdateErrors++
		logger.Error("failed to update catalog price", "price", minor, "error", err)
		return
	}

	summary.Updated++
	logger.Info("price updated", "price", minor, "previous", product.Price.String())
}

func (r *Runner) onFailed(ctx context.Context, summary *Summary, res pipeline.Result, logger *slog.Logger) {
	if fb, ok := r.pacer.(feedback); ok {
		fb.RecordError()
	}

	summary.Failed++
	summary.Reasons[res.Reason()]++
	logger.Error("price acquisition failed", "reason", res.Reason(), "error", res.Err())

	if ctx.Err() != nil {
		logger.Info("run cancelled, alert suppressed")
		return
	}

	recipients := r.cfg.Recipients
	if len(recipients) == 0 {
		// the log fallback still records the failure
		recipients = []string{""}
	}
	for _, recipient := range recipients {
		if err := r.notifier.Notify(ctx, recipient, r.cfg.AlertMessage); err != nil {
			logger.Warn("failed to send alert", "recipient", recipient, "error", err)
		}
	}
}
