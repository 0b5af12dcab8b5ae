package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clinic-phone/internal/store"

	"github.com/jackc/pgx/v5"
)

// PostgresStateRepository persists the durable phone state of one profile
// as a JSONB row in phone_state.
type PostgresStateRepository struct {
	db      DBTX
	profile string
}

func NewStateRepository(db DBTX, profile string) *PostgresStateRepository {
	if profile == "" {
		profile = "default"
	}
	return &PostgresStateRepository{db: db, profile: profile}
}

// Close releases the connection pool when the repository owns one.
func (r *PostgresStateRepository) Close() {
	if c, ok := r.db.(interface{ Close() }); ok {
		c.Close()
	}
}

func (r *PostgresStateRepository) Load(ctx context.Context) (store.Durable, bool, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM phone_state WHERE profile = $1`, r.profile).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
		return store.Durable{}, false, nil
	}
	if err != nil {
		return store.Durable{}, false, fmt.Errorf("load phone state: %w", err)
	}

	var d store.Durable
	if err := json.Unmarshal(payload, &d); err != nil {
		return store.Durable{}, false, fmt.Errorf("decode phone state: %w", err)
	}
	return d, true, nil
}

func (r *PostgresStateRepository) Save(ctx context.Context, d store.Durable) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return WithTx(ctx, r.db, func(tx DBTX) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO phone_state (profile, payload, revision, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (profile) DO UPDATE
			SET payload = EXCLUDED.payload,
			    revision = phone_state.revision + 1,
			    updated_at = now()`,
			r.profile, payload)
		if err != nil {
			return fmt.Errorf("save phone state: %w", err)
		}
		return nil
	})
}

// Delete removes the profile row.
func (r *PostgresStateRepository) Delete(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM phone_state WHERE profile = $1`, r.profile)
	return err
}
