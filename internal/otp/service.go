// Package otp sends and checks one-time codes for phone numbers, with per-country send limits.
package otp

import (
	"context"
	"errors"
	"log"
	"time"

	"phone-verification-server/internal/devotp"
)

// ErrCountryRequired is returned by Begin when no country code is given.
var ErrCountryRequired = errors.New("country code is required")

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Options configures code lifetime, delivery timeout and country windows.
type Options struct {
	TTL            time.Duration
	SendTimeout    time.Duration
	LimitPerMinute int64
	LimitPerHour   int64
	Message        func(code string) string
}

// DefaultOptions mirrors production: 5 minute codes, 10 sends per minute and 300 per hour per country.
func DefaultOptions() Options {
	return Options{
		TTL:            5 * time.Minute,
		SendTimeout:    15 * time.Second,
		LimitPerMinute: 10,
		LimitPerHour:   300,
	}
}

// Service implements Begin and Verify over a Store, a Counter and a Sender.
type Service struct {
	store   Store
	counter Counter
	sender  Sender
	dev     devotp.Store
	opts    Options
	nowF    func() time.Time
}

// NewService returns an OTP service. Zero-valued options fall back to DefaultOptions.
func NewService(store Store, counter Counter, sender Sender, opts Options) *Service {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.LimitPerMinute <= 0 {
		opts.LimitPerMinute = def.LimitPerMinute
	}
	if opts.LimitPerHour <= 0 {
		opts.LimitPerHour = def.LimitPerHour
	}
	if opts.Message == nil {
		opts.Message = func(code string) string { return code + " is your verification code" }
	}
	return &Service{store: store, counter: counter, sender: sender, opts: opts, nowF: time.Now}
}

// WithDevStore enables dev OTP mode: codes go to dev instead of the SMS provider.
func (s *Service) WithDevStore(dev devotp.Store) *Service {
	s.dev = dev
	return s
}

// Begin counts the send against the country windows, stores a fresh code for phoneNumber and
// dispatches it. Delivery happens in the background; its failure is logged, not returned.
func (s *Service) Begin(ctx context.Context, phoneNumber, country string) error {
	if country == "" {
		return ErrCountryRequired
	}
	code, err := GenerateCode()
	if err != nil {
		return err
	}
	if err := s.countCountry(ctx, country); err != nil {
		return err
	}
	if err := s.store.Set(ctx, codeKey(phoneNumber), code, s.opts.TTL); err != nil {
		return err
	}
	if s.dev != nil {
		s.dev.Put(ctx, phoneNumber, code, s.nowF().Add(s.opts.TTL))
		return nil
	}
	s.dispatch(phoneNumber, s.opts.Message(code))
	return nil
}

// both windows are incremented before either is checked
func (s *Service) countCountry(ctx context.Context, country string) error {
	perMinute, err := s.counter.Incr(ctx, minuteKey(country), time.Minute)
	if err != nil {
		return err
	}
	perHour, err := s.counter.Incr(ctx, hourKey(country), time.Hour)
	if err != nil {
		return err
	}
	if perMinute > s.opts.LimitPerMinute || perHour > s.opts.LimitPerHour {
		return &CountryRateLimitError{Country: country}
	}
	return nil
}

func (s *Service) dispatch(phoneNumber, text string) {
	if s.sender == nil {
		log.Printf("otp: no SMS sender configured, code for %s not delivered", redact(phoneNumber))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
		defer cancel()
		if err := s.sender.Send(ctx, phoneNumber, text); err != nil {
			log.Printf("otp: send to %s failed: %v", redact(phoneNumber), err)
		}
	}()
}

// Verify checks code against the stored one and deletes it on success. Of concurrent callers with
// the right code exactly one succeeds; the others get ErrOTPNotFound.
func (s *Service) Verify(ctx context.Context, phoneNumber, code string) error {
	found, ok, err := s.store.Take(ctx, codeKey(phoneNumber), func(stored string) bool {
		return CodeEqual(code, stored)
	})
	switch {
	case err != nil:
		return err
	case !found:
		return ErrOTPNotFound
	case !ok:
		return ErrOTPMismatch
	}
	return nil
}

// redact keeps the last four digits of a number for logs.
func redact(phoneNumber string) string {
	if len(phoneNumber) <= 4 {
		return "****"
	}
	return "****" + phoneNumber[len(phoneNumber)-4:]
}
