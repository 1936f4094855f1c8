package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"laundry/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const slotsSchema = `
CREATE TABLE IF NOT EXISTS checkout_slots (
    session_id  TEXT PRIMARY KEY,
    slot        JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_checkout_slots_updated_at ON checkout_slots (updated_at);
`

// PostgresStore keeps slots in the checkout_slots table.
type PostgresStore struct {
	pool *pgxpool.Pool
	repo slotRepository
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, repo: slotRepository{db: pool}}
}

// EnsureSchema creates the table if it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeoutDuration)
	defer cancel()

	if _, err := s.pool.Exec(ctx, slotsSchema); err != nil {
		return fmt.Errorf("create checkout_slots: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeoutDuration)
	defer cancel()
	return s.repo.get(ctx, sessionID, false)
}

func (s *PostgresStore) Save(ctx context.Context, sessionID string, slot *Slot) error {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeoutDuration)
	defer cancel()
	return s.repo.put(ctx, sessionID, slot)
}

// Update locks the row for the duration of fn.
func (s *PostgresStore) Update(ctx context.Context, sessionID string, fn func(*Slot) error) (*Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeoutDuration)
	defer cancel()

	var out *Slot
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		repo := slotRepository{db: tx}

		slot, err := repo.get(ctx, sessionID, true)
		if err != nil {
			return err
		}
		if err := fn(slot); err != nil {
			return err
		}
		if err := repo.put(ctx, sessionID, slot); err != nil {
			return err
		}
		out = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeoutDuration)
	defer cancel()

	_, err := s.pool.Exec(ctx, `DELETE FROM checkout_slots WHERE session_id = $1`, sessionID)
	return err
}

func (s *PostgresStore) Expire(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeoutDuration)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM checkout_slots WHERE updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// slotRepository runs against either the pool or a transaction.
type slotRepository struct {
	db db.Querier
}

func (r slotRepository) get(ctx context.Context, sessionID string, forUpdate bool) (*Slot, error) {
	query := `SELECT slot FROM checkout_slots WHERE session_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var raw []byte
	if err := r.db.QueryRow(ctx, query, sessionID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var slot Slot
	if err := json.Unmarshal(raw, &slot); err != nil {
		return nil, fmt.Errorf("decode slot %s: %w", sessionID, err)
	}
	return &slot, nil
}

func (r slotRepository) put(ctx context.Context, sessionID string, slot *Slot) error {
	slot.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(slot)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
INSERT INTO checkout_slots (session_id, slot, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE
SET slot = EXCLUDED.slot,
    updated_at = EXCLUDED.updated_at
`, sessionID, raw, slot.UpdatedAt)
	return err
}
