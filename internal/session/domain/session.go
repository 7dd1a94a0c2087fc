package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a verification session.
type Status string

const (
	StatusNeedsPayment       Status = "NEEDS_PAYMENT"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusIssued             Status = "ISSUED"
	StatusVerificationFailed Status = "VERIFICATION_FAILED"
	StatusRefunded           Status = "REFUNDED"
)

// MaxAttemptsPerSession is the number of OTP sends allowed for one session.
const MaxAttemptsPerSession = 3

// Sentinel errors for session persistence and transitions; handler maps them to HTTP status codes.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrStatusMismatch    = errors.New("session status mismatch")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrTxHashTaken       = errors.New("transaction has already been used to pay for a session")
	ErrAttemptsExhausted = errors.New("session has reached max attempts")
)

// transitions lists every allowed status edge. ISSUED and REFUNDED are terminal.
var transitions = map[Status][]Status{
	StatusNeedsPayment:       {StatusInProgress},
	StatusInProgress:         {StatusIssued, StatusVerificationFailed},
	StatusVerificationFailed: {StatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the session state graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNeedsPayment, StatusInProgress, StatusIssued, StatusVerificationFailed, StatusRefunded:
		return true
	}
	return false
}

// PayPalOrder is one PayPal order created for a session.
type PayPalOrder struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"` // epoch millis as a decimal string
}

// PayPalData is the structured record of PayPal order attempts for a session.
type PayPalData struct {
	Orders []PayPalOrder `json:"orders"`
}

// HasOrder reports whether orderID was created for this session.
func (p PayPalData) HasOrder(orderID string) bool {
	for _, o := range p.Orders {
		if o.ID == orderID {
			return true
		}
	}
	return false
}

// Session tracks one user's attempt to pay for and complete phone verification.
type Session struct {
	ID            string
	SigDigest     string
	Status        Status
	ChainID       *int64 // nil until an on-chain payment is accepted
	TxHash        string
	NumAttempts   int
	RefundTxHash  string
	PayPal        PayPalData
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Patch is a set of optional field updates applied by a single conditional update.
// Nil fields are left unchanged.
type Patch struct {
	Status        *Status
	ChainID       *int64
	TxHash        *string
	RefundTxHash  *string
	FailureReason *string
	// Forced skips the transition graph check. Only the admin force-fail path sets it.
	Forced bool
}

// Validate checks the status edge carried by the patch against the transition graph.
func (p Patch) Validate(from Status) error {
	if p.Status == nil || p.Forced || *p.Status == from {
		return nil
	}
	if !CanTransition(from, *p.Status) {
		return &InvalidTransitionError{From: from, To: *p.Status}
	}
	return nil
}

// Apply copies the non-nil fields of p onto s.
func (p Patch) Apply(s *Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.ChainID != nil {
		id := *p.ChainID
		s.ChainID = &id
	}
	if p.TxHash != nil {
		s.TxHash = *p.TxHash
	}
	if p.RefundTxHash != nil {
		s.RefundTxHash = *p.RefundTxHash
	}
	if p.FailureReason != nil {
		s.FailureReason = *p.FailureReason
	}
}

// StatusMismatchError is returned when a conditional update finds the session in a different status.
type StatusMismatchError struct {
	Actual   Status
	Expected Status
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("session status is %s, expected %s", e.Actual, e.Expected)
}

// Is makes errors.Is(err, ErrStatusMismatch) match.
func (e *StatusMismatchError) Is(target error) bool { return target == ErrStatusMismatch }

// InvalidTransitionError is returned for an edge that is not in the state graph.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move session from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// StatusPtr returns a pointer to s, for building patches.
func StatusPtr(s Status) *Status { return &s }
