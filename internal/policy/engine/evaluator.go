package engine

import (
	"context"
	"time"

	phonedomain "phone-verification-server/internal/phonenumber/domain"
)

// EligibilityInput is what the eligibility policy sees about one phone number.
type EligibilityInput struct {
	FraudScore    float64
	MaxFraudScore int
	// Registration is the number's prior registration, or nil.
	Registration *phonedomain.Registration
	Now          time.Time
	Recency      time.Duration
	// Grace, when positive, exempts registrations younger than it (credential re-fetch).
	Grace time.Duration
}

// EligibilityResult holds the result of eligibility policy evaluation.
type EligibilityResult struct {
	IsSafe       bool
	IsRegistered bool
}

// Evaluator evaluates phone eligibility policies using OPA or other engines.
type Evaluator interface {
	// EvaluateEligibility decides whether the number's fraud score is acceptable and whether a prior
	// registration blocks it.
	EvaluateEligibility(ctx context.Context, in EligibilityInput) (EligibilityResult, error)
}
