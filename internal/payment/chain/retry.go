package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds FetchTransaction's retries.
type RetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

// DefaultRetry tolerates propagation delay: mainnet can take 15s or more, L2s a few seconds.
var DefaultRetry = RetryPolicy{Attempts: 5, Min: 5 * time.Second, Max: 30 * time.Second}

// ErrTxNotFound is returned when the transaction is still unknown after every attempt.
var ErrTxNotFound = errors.New("transaction not found")

// FetchTransaction asks c for hash until it is found, an attempt budget is spent, or ctx ends.
// Errors and "not found" answers are both retried.
func FetchTransaction(ctx context.Context, c Client, hash string, p RetryPolicy) (*Tx, error) {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: 2, Jitter: true}
	var lastErr error
	for {
		tx, err := c.Transaction(ctx, hash)
		if err == nil && tx != nil {
			return tx, nil
		}
		lastErr = err
		attempt := int(b.Attempt()) + 1
		if attempt >= p.Attempts {
			break
		}
		wait := b.Duration()
		if err != nil {
			log.Printf("chain: fetch %s attempt %d/%d failed, retrying in %s: %v", hash, attempt, p.Attempts, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", hash, lastErr)
	}
	return nil, ErrTxNotFound
}
