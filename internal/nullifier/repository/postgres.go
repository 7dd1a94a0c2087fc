package repository

import (
	"context"
	"database/sql"
	"errors"

	"phone-verification-server/internal/nullifier/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a nullifier repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the record for nullifier, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, nullifier string) (*domain.Record, error) {
	var rec domain.Record
	err := r.db.QueryRowContext(ctx,
		`SELECT issuance_nullifier, phone_number, created_at FROM nullifiers WHERE issuance_nullifier = $1`, nullifier,
	).Scan(&rec.IssuanceNullifier, &rec.PhoneNumber, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Bind upserts with a WHERE on the existing phone number so a nullifier can never be rebound.
func (r *PostgresRepository) Bind(ctx context.Context, rec *domain.Record) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO nullifiers (issuance_nullifier, phone_number, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (issuance_nullifier) DO UPDATE SET created_at = EXCLUDED.created_at
		WHERE nullifiers.phone_number = EXCLUDED.phone_number`,
		rec.IssuanceNullifier, rec.PhoneNumber, rec.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNullifierBound
	}
	return nil
}
