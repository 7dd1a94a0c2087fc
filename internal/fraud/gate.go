// Package fraud decides whether a phone number may receive a credential.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	phonedomain "phone-verification-server/internal/phonenumber/domain"
	"phone-verification-server/internal/policy/engine"
)

// ErrFraudProvider is returned when the fraud-score API fails or answers without a numeric score.
var ErrFraudProvider = errors.New("fraud score provider error")

// Scorer returns a fraud score for a phone number.
type Scorer interface {
	FraudScore(ctx context.Context, number, country string) (float64, error)
}

// Registrations is the subset of the phone number repository the gate needs.
type Registrations interface {
	Get(ctx context.Context, number string) (*phonedomain.Registration, error)
	Put(ctx context.Context, reg *phonedomain.Registration) error
}

// Eligibility is the gate's verdict for one number.
type Eligibility struct {
	IsSafe       bool
	IsRegistered bool
	FraudScore   float64
}

type Options struct {
	MaxFraudScore int
	// RegistrationRecency is how long a registration blocks the number.
	RegistrationRecency time.Duration
	// Grace, when positive, lets a number registered within it pass so a lost credential can be re-fetched.
	Grace time.Duration
}

// Gate combines the fraud score, the registration history and the eligibility policy.
type Gate struct {
	scorer    Scorer
	evaluator engine.Evaluator
	numbers   Registrations
	opts      Options
	nowF      func() time.Time
}

func NewGate(scorer Scorer, evaluator engine.Evaluator, numbers Registrations, opts Options) *Gate {
	return &Gate{
		scorer:    scorer,
		evaluator: evaluator,
		numbers:   numbers,
		opts:      opts,
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckEligibility scores the number and evaluates the policy. It never writes.
func (g *Gate) CheckEligibility(ctx context.Context, number, country string) (Eligibility, error) {
	score, err := g.scorer.FraudScore(ctx, number, country)
	if err != nil {
		return Eligibility{}, err
	}
	reg, err := g.numbers.Get(ctx, number)
	if err != nil {
		return Eligibility{}, fmt.Errorf("lookup registration: %w", err)
	}
	res, err := g.evaluator.EvaluateEligibility(ctx, engine.EligibilityInput{
		FraudScore:    score,
		MaxFraudScore: g.opts.MaxFraudScore,
		Registration:  reg,
		Now:           g.nowF(),
		Recency:       g.opts.RegistrationRecency,
		Grace:         g.opts.Grace,
	})
	if err != nil {
		return Eligibility{}, fmt.Errorf("evaluate eligibility: %w", err)
	}
	return Eligibility{IsSafe: res.IsSafe, IsRegistered: res.IsRegistered, FraudScore: score}, nil
}

// Register records that number received a credential now. Call only after every check passed.
func (g *Gate) Register(ctx context.Context, number string) error {
	return g.numbers.Put(ctx, &phonedomain.Registration{PhoneNumber: number, InsertedAt: g.nowF()})
}

// StaticScorer returns the same score for every number. Used in development without an IPQS key.
type StaticScorer float64

func (s StaticScorer) FraudScore(ctx context.Context, number, country string) (float64, error) {
	return float64(s), nil
}
