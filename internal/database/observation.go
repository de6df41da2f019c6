package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Observation is one price lookup as written to the ledger. Price and
// PriceMinor are nil when the lookup failed.
type Observation struct {
	ID              uuid.UUID
	RunID           uuid.UUID
	ProductID       string
	Link            string
	Price           decimal.NullDecimal
	PriceMinor      *int64
	PreviousPrice   decimal.NullDecimal
	Reason          *string
	ErrorMessage    *string
	ChallengeCycles int
	Duration        time.Duration
	ObservedAt      time.Time
}

type ObservationRepository struct {
	db *DB
}

func NewObservationRepository(db *DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

func (r *ObservationRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, obs *Observation) error {
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO price_observation (
			id, run_id, product_id, link, price, price_minor, previous_price,
			reason, error_message, challenge_cycles, duration_ms, observed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := tx.Exec(ctx, query,
		obs.ID, obs.RunID, obs.ProductID, obs.Link, obs.Price, obs.PriceMinor, obs.PreviousPrice,
		obs.Reason, obs.ErrorMessage, obs.ChallengeCycles, obs.Duration.Milliseconds(), obs.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}
	return nil
}

// ListByRun returns the observations of one batch run in the order they were taken.
func (r *ObservationRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*Observation, error) {
	query := `
		SELECT
			id, run_id, product_id, link, price, price_minor, previous_price,
			reason, error_message, challenge_cycles, duration_ms, observed_at
		FROM price_observation
		WHERE run_id = $1
		ORDER BY observed_at ASC`

	rows, err := r.db.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	var observations []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return observations, nil
}

// LatestByProduct returns the most recent observation for a product, or nil
// when the product was never looked up.
func (r *ObservationRepository) LatestByProduct(ctx context.Context, productID string) (*Observation, error) {
	query := `
		SELECT
			id, run_id, product_id, link, price, price_minor, previous_price,
			reason, error_message, challenge_cycles, duration_ms, observed_at
		FROM price_observation
		WHERE product_id = $1
		ORDER BY observed_at DESC
		LIMIT 1`

	obs, err := scanObservation(r.db.pool.QueryRow(ctx, query, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return obs, nil
}

func scanObservation(row pgx.Row) (*Observation, error) {
	obs := &Observation{}
	var durationMS int64
	err := row.Scan(
		&obs.ID, &obs.RunID, &obs.ProductID, &obs.Link, &obs.Price, &obs.PriceMinor, &obs.PreviousPrice,
		&obs.Reason, &obs.ErrorMessage, &obs.ChallengeCycles, &durationMS, &obs.ObservedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan observation: %w", err)
	}
	obs.Duration = time.Duration(durationMS) * time.Millisecond
	return obs, nil
}
