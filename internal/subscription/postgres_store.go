package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the subscriptions table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			user_id    BIGINT PRIMARY KEY,
			end_date   TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, userID int64) (*Subscription, error) {
	sub := &Subscription{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, end_date, updated_at
		FROM subscriptions WHERE user_id = $1
	`, userID).Scan(&sub.UserID, &sub.EndDate, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ExtendEnd upserts the subscription row. GREATEST picks the later of the
// stored end and now, so early renewals stack and lapsed ones restart.
func (p *PostgresStore) ExtendEnd(ctx context.Context, userID int64, d time.Duration, now time.Time) (time.Time, error) {
	var end time.Time
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (user_id, end_date, updated_at)
		VALUES ($1, $2 + $3::interval, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET end_date = GREATEST(subscriptions.end_date, $2) + $3::interval,
		    updated_at = $2
		RETURNING end_date
	`, userID, now, fmt.Sprintf("%f seconds", d.Seconds())).Scan(&end)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend subscription: %w", err)
	}
	return end, nil
}
