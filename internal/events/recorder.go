package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/maltedev/price-updater/internal/catalog"
	"github.com/maltedev/price-updater/internal/database"
	"github.com/maltedev/price-updater/internal/extract"
	"github.com/maltedev/price-updater/internal/pipeline"
)

const (
	EventPriceUpdated      = "PRICE_UPDATED"
	EventAcquisitionFailed = "PRICE_ACQUISITION_FAILED"

	aggregateProduct = "product"
)

// PricePayload is the body of every price event put on the stream. Price and
// PreviousPrice are in major units.
type PricePayload struct {
	RunID           string    `json:"run_id"`
	ProductID       string    `json:"product_id"`
	Link            string    `json:"link"`
	Price           *string   `json:"price,omitempty"`
	PriceMinor      *int64    `json:"price_minor,omitempty"`
	PreviousPrice   string    `json:"previous_price"`
	Reason          string    `json:"reason,omitempty"`
	Error           string    `json:"error,omitempty"`
	ChallengeCycles int       `json:"challenge_cycles"`
	DurationMS      int64     `json:"duration_ms"`
	ObservedAt      time.Time `json:"observed_at"`
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type observationWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, obs *database.Observation) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Recorder writes each lookup to the observation ledger and queues the
// matching outbox event in the same transaction.
type Recorder struct {
	tx           transactor
	observations observationWriter
	outbox       outboxWriter
	logger       *slog.Logger
	now          func() time.Time
}

func NewRecorder(db *database.DB, stream string, logger *slog.Logger) *Recorder {
	return &Recorder{
		tx:           db,
		observations: database.NewObservationRepository(db),
		outbox:       database.NewOutboxRepository(db, stream),
		logger:       logger.With("component", "recorder"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Record(ctx context.Context, runID string, product catalog.Product, res pipeline.Result) error {
	run, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	obs := buildObservation(run, product, res, r.now())
	event, err := buildEvent(obs)
	if err != nil {
		return err
	}

	err = r.tx.Transaction(ctx, func(tx pgx.Tx) error {
		if err := r.observations.InsertWithTx(ctx, tx, obs); err != nil {
			return err
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to record observation for product %s: %w", product.ID, err)
	}

	r.logger.Debug("observation recorded",
		"product_id", product.ID,
		"event_type", event.EventType,
		"observation_id", obs.ID)
	return nil
}

func buildObservation(runID uuid.UUID, product catalog.Product, res pipeline.Result, now time.Time) *database.Observation {
	obs := &database.Observation{
		ID:              uuid.New(),
		RunID:           runID,
		ProductID:       product.ID,
		Link:            product.Link,
		PreviousPrice:   decimal.NewNullDecimal(product.PriceMajor()),
		ChallengeCycles: res.ChallengeCycles,
		Duration:        res.Duration,
		ObservedAt:      now,
	}

	if res.OK() {
		minor := extract.ToMinorUnits(res.Price())
		obs.Price = decimal.NewNullDecimal(res.Price())
		obs.PriceMinor = &minor
		return obs
	}

	reason := string(res.Reason())
	obs.Reason = &reason
	if res.Err() != nil {
		msg := res.Err().Error()
		obs.ErrorMessage = &msg
	}
	return obs
}

func buildEvent(obs *database.Observation) (*database.OutboxEvent, error) {
	payload := PricePayload{
		RunID:           obs.RunID.String(),
		ProductID:       obs.ProductID,
		Link:            obs.Link,
		PriceMinor:      obs.PriceMinor,
		ChallengeCycles: obs.ChallengeCycles,
		DurationMS:      obs.Duration.Milliseconds(),
		ObservedAt:      obs.ObservedAt,
	}
	if obs.PreviousPrice.Valid {
		payload.PreviousPrice = obs.PreviousPrice.Decimal.String()
	}

	eventType := EventPriceUpdated
	if obs.Price.Valid {
		price := obs.Price.Decimal.String()
		payload.Price = &price
	} else {
		eventType = EventAcquisitionFailed
		if obs.Reason != nil {
			payload.Reason = *obs.Reason
		}
		if obs.ErrorMessage != nil {
			payload.Error = *obs.ErrorMessage
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateProduct,
		AggregateID:   obs.ProductID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}
