package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"phone-verification-server/internal/phonenumber/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a phone number repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the registration for number, or nil if not found. inserted_at is stored as epoch millis.
func (r *PostgresRepository) Get(ctx context.Context, number string) (*domain.Registration, error) {
	var ms int64
	err := r.db.QueryRowContext(ctx, `SELECT inserted_at FROM phone_numbers WHERE phone_number = $1`, number).Scan(&ms)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.Registration{PhoneNumber: number, InsertedAt: time.UnixMilli(ms).UTC()}, nil
}

func (r *PostgresRepository) Put(ctx context.Context, reg *domain.Registration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO phone_numbers (phone_number, inserted_at) VALUES ($1, $2)
		ON CONFLICT (phone_number) DO UPDATE SET inserted_at = EXCLUDED.inserted_at`,
		reg.PhoneNumber, reg.InsertedAt.UnixMilli())
	return err
}

func (r *PostgresRepository) Delete(ctx context.Context, number string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM phone_numbers WHERE phone_number = $1`, number)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
