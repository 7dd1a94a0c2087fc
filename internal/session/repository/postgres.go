package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"phone-verification-server/internal/session/domain"
)

const sessionColumns = `id, sig_digest, status, chain_id, tx_hash, num_attempts, refund_tx_hash, paypal, failure_reason, created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanOne(row)
}

// GetByTxHash returns the session that was paid with txHash, or nil if not found.
func (r *PostgresRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE tx_hash = $1`, txHash)
	return scanOne(row)
}

// ListBySigDigest returns all sessions for sigDigest ordered by creation time.
func (r *PostgresRepository) ListBySigDigest(ctx context.Context, sigDigest string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE sig_digest = $1 ORDER BY created_at`, sigDigest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	paypal, err := json.Marshal(s.PayPal)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.SigDigest, string(s.Status), int64ToNull(s.ChainID), stringToNull(s.TxHash), s.NumAttempts,
		stringToNull(s.RefundTxHash), paypal, stringToNull(s.FailureReason), s.CreatedAt, s.UpdatedAt,
	)
	return mapWriteError(err)
}

// Update applies patch in a single UPDATE ... WHERE id = $ AND status = $expected.
// When no row matches, the session is re-read to tell a missing id from a status mismatch.
func (r *PostgresRepository) Update(ctx context.Context, id string, expected domain.Status, patch domain.Patch) (*domain.Session, error) {
	if err := patch.Validate(expected); err != nil {
		return nil, err
	}
	sets, args, err := patchAssignments(patch)
	if err != nil {
		return nil, err
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id, string(expected))
	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = $%d AND status = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), sessionColumns)

	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapWriteError(err)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrSessionNotFound
	}
	return nil, &domain.StatusMismatchError{Actual: current.Status, Expected: expected}
}

// ReserveAttempt increments num_attempts with the cap and status in the WHERE clause.
func (r *PostgresRepository) ReserveAttempt(ctx context.Context, id string, max int) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`UPDATE sessions SET num_attempts = num_attempts + 1, updated_at = $1
		 WHERE id = $2 AND status = $3 AND num_attempts < $4 RETURNING `+sessionColumns,
		time.Now().UTC(), id, string(domain.StatusInProgress), max))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	current, err := r.GetByID(ctx, id)
	switch {
	case err != nil:
		return nil, err
	case current == nil:
		return nil, domain.ErrSessionNotFound
	case current.Status != domain.StatusInProgress:
		return nil, &domain.StatusMismatchError{Actual: current.Status, Expected: domain.StatusInProgress}
	}
	return nil, domain.ErrAttemptsExhausted
}

func (r *PostgresRepository) ReleaseAttempt(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET num_attempts = num_attempts - 1, updated_at = $1 WHERE id = $2 AND num_attempts > 0`,
		time.Now().UTC(), id)
	return err
}

// AppendPayPalOrder appends to paypal.orders in SQL, so no caller overwrites another's order.
func (r *PostgresRepository) AppendPayPalOrder(ctx context.Context, id string, expected domain.Status, order domain.PayPalOrder) (*domain.Session, error) {
	raw, err := json.Marshal([]domain.PayPalOrder{order})
	if err != nil {
		return nil, err
	}
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`UPDATE sessions
		 SET paypal = jsonb_set(paypal, '{orders}', COALESCE(paypal->'orders', '[]'::jsonb) || $1::jsonb), updated_at = $2
		 WHERE id = $3 AND status = $4 RETURNING `+sessionColumns,
		raw, time.Now().UTC(), id, string(expected)))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrSessionNotFound
	}
	return nil, &domain.StatusMismatchError{Actual: current.Status, Expected: expected}
}

func patchAssignments(p domain.Patch) ([]string, []any, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.ChainID != nil {
		add("chain_id", *p.ChainID)
	}
	if p.TxHash != nil {
		add("tx_hash", stringToNull(*p.TxHash))
	}
	if p.RefundTxHash != nil {
		add("refund_tx_hash", stringToNull(*p.RefundTxHash))
	}
	if p.FailureReason != nil {
		add("failure_reason", stringToNull(*p.FailureReason))
	}
	return sets, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*domain.Session, error) {
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                                  domain.Session
		status                             string
		chainID                            sql.NullInt64
		txHash, refundTxHash, failureReason sql.NullString
		paypal                             []byte
	)
	if err := row.Scan(&s.ID, &s.SigDigest, &status, &chainID, &txHash, &s.NumAttempts, &refundTxHash,
		&paypal, &failureReason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = domain.Status(status)
	if chainID.Valid {
		id := chainID.Int64
		s.ChainID = &id
	}
	s.TxHash = txHash.String
	s.RefundTxHash = refundTxHash.String
	s.FailureReason = failureReason.String
	if len(paypal) > 0 {
		if err := json.Unmarshal(paypal, &s.PayPal); err != nil {
			return nil, fmt.Errorf("session %s: decode paypal: %w", s.ID, err)
		}
	}
	return &s, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "sessions_tx_hash_key" {
		return domain.ErrTxHashTaken
	}
	return err
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func int64ToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
