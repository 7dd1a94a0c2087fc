// Package admin holds the operator operations behind the admin API key: session inspection,
// forced failure and phone number deletion.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	sessiondomain "phone-verification-server/internal/session/domain"
	"phone-verification-server/internal/telemetry"
	telemetrydomain "phone-verification-server/internal/telemetry/domain"
)

// ForcedFailureReason is stored on sessions failed by an operator.
const ForcedFailureReason = "Unknown"

// Deletion budget: DeletionsPerWindow phone numbers per DeletionWindow.
const (
	DeletionsPerWindow = 100
	DeletionWindow     = 24 * time.Hour
)

var (
	ErrLookupKeyRequired   = errors.New("id or txHash is required")
	ErrSessionIDRequired   = errors.New("id is required")
	ErrPhoneNumberRequired = errors.New("number is required")
	ErrNumberNotFound      = errors.New("phone number not found")
	ErrNotFailable         = errors.New("only IN_PROGRESS or ISSUED sessions can be failed")
	ErrDeletionLimit       = errors.New("phone number deletion limit reached")
)

// Sessions is the subset of the session repository the admin operations use.
type Sessions interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	GetByTxHash(ctx context.Context, txHash string) (*sessiondomain.Session, error)
	ListBySigDigest(ctx context.Context, sigDigest string) ([]*sessiondomain.Session, error)
	Update(ctx context.Context, id string, expected sessiondomain.Status, patch sessiondomain.Patch) (*sessiondomain.Session, error)
}

// Numbers deletes phone number registrations.
type Numbers interface {
	Delete(ctx context.Context, number string) (bool, error)
}

type Service struct {
	sessions Sessions
	numbers  Numbers
	events   telemetry.EventEmitter
	deletes  *rate.Limiter
	nowF     func() time.Time
}

// NewService returns the admin service. events may be nil.
func NewService(sessions Sessions, numbers Numbers, events telemetry.EventEmitter) *Service {
	return &Service{
		sessions: sessions,
		numbers:  numbers,
		events:   events,
		deletes:  rate.NewLimiter(rate.Every(DeletionWindow/DeletionsPerWindow), DeletionsPerWindow),
		nowF:     time.Now,
	}
}

// UserSessions resolves one session by id, or by txHash when id is empty, and returns every session
// that shares its sigDigest.
func (s *Service) UserSessions(ctx context.Context, id, txHash string) ([]*sessiondomain.Session, error) {
	var (
		sess *sessiondomain.Session
		err  error
	)
	switch {
	case id != "":
		sess, err = s.sessions.GetByID(ctx, id)
	case txHash != "":
		sess, err = s.sessions.GetByTxHash(ctx, txHash)
	default:
		return nil, ErrLookupKeyRequired
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, sessiondomain.ErrSessionNotFound
	}
	return s.sessions.ListBySigDigest(ctx, sess.SigDigest)
}

// FailSession forces an IN_PROGRESS or ISSUED session to VERIFICATION_FAILED, which makes it
// refundable. ISSUED -> VERIFICATION_FAILED exists only here.
func (s *Service) FailSession(ctx context.Context, id string) (*sessiondomain.Session, error) {
	if id == "" {
		return nil, ErrSessionIDRequired
	}
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, sessiondomain.ErrSessionNotFound
	}
	if sess.Status != sessiondomain.StatusInProgress && sess.Status != sessiondomain.StatusIssued {
		return nil, fmt.Errorf("%w: session is %s", ErrNotFailable, sess.Status)
	}
	reason := ForcedFailureReason
	updated, err := s.sessions.Update(ctx, id, sess.Status, sessiondomain.Patch{
		Status:        sessiondomain.StatusPtr(sessiondomain.StatusVerificationFailed),
		FailureReason: &reason,
		Forced:        true,
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, id, map[string]string{"action": "fail_session", "from": string(sess.Status)})
	return updated, nil
}

// DeletePhoneNumber removes a number's registration so it can be verified again. At most
// DeletionsPerWindow deletions succeed per DeletionWindow; lookups of absent numbers do not count.
func (s *Service) DeletePhoneNumber(ctx context.Context, number string) error {
	if number == "" {
		return ErrPhoneNumberRequired
	}
	now := s.nowF()
	r := s.deletes.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return ErrDeletionLimit
	}
	deleted, err := s.numbers.Delete(ctx, number)
	if err != nil {
		r.CancelAt(now)
		return fmt.Errorf("delete phone number: %w", err)
	}
	if !deleted {
		r.CancelAt(now)
		return ErrNumberNotFound
	}
	s.emit(ctx, "", map[string]string{"action": "delete_phone_number"})
	return nil
}

func (s *Service) emit(ctx context.Context, sessionID string, metadata map[string]string) {
	if s.events == nil {
		return
	}
	telemetry.EmitAsync(s.events, ctx, telemetrydomain.NewEvent(telemetrydomain.EventAdminAction, sessionID, metadata))
}
