package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"phone-verification-server/internal/voucher/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a voucher repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the voucher for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Voucher, error) {
	var (
		v          domain.Voucher
		sessionID  sql.NullString
		redeemedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, is_redeemed, session_id, tx_hash, created_at, redeemed_at FROM vouchers WHERE id = $1`, id,
	).Scan(&v.ID, &v.IsRedeemed, &sessionID, &v.TxHash, &v.CreatedAt, &redeemedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v.SessionID = sessionID.String
	if redeemedAt.Valid {
		t := redeemedAt.Time
		v.RedeemedAt = &t
	}
	return &v, nil
}

func (r *PostgresRepository) ExistsForTxHash(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM vouchers WHERE tx_hash = $1)`, txHash).Scan(&exists)
	return exists, err
}

// CreateBatch inserts the vouchers in one transaction.
func (r *PostgresRepository) CreateBatch(ctx context.Context, vouchers []*domain.Voucher) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vouchers (id, is_redeemed, tx_hash, created_at) VALUES ($1, false, $2, $3)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, v := range vouchers {
		if _, err := stmt.ExecContext(ctx, v.ID, v.TxHash, v.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Redeem runs a single conditional UPDATE; when it matches nothing the row is re-read to pick the error.
func (r *PostgresRepository) Redeem(ctx context.Context, id, sessionID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE vouchers SET is_redeemed = true, session_id = $2, redeemed_at = $3 WHERE id = $1 AND is_redeemed = false`,
		id, sessionID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	v, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return redeemOutcome(v, sessionID)
}

// redeemOutcome decides the result for a voucher that was not updated.
func redeemOutcome(v *domain.Voucher, sessionID string) error {
	if v == nil {
		return domain.ErrVoucherNotFound
	}
	if v.IsRedeemed && v.SessionID == sessionID {
		return nil
	}
	return domain.ErrVoucherRedeemed
}
