package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSource reads the clinic_settings table. The global row uses the nil uuid.
type PgSource struct {
	pool *pgxpool.Pool
}

func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

func (s *PgSource) Lookup(ctx context.Context, clinicID uuid.UUID, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value
		FROM clinic_settings
		WHERE clinic_id = $1 AND key = $2
	`, clinicID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select clinic setting: %w", err)
	}
	return value, true, nil
}

// Put upserts a raw value.
func (s *PgSource) Put(ctx context.Context, clinicID uuid.UUID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_settings (clinic_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (clinic_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, clinicID, key, value)
	if err != nil {
		return fmt.Errorf("upsert clinic setting: %w", err)
	}
	return nil
}
