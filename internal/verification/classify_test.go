package verification

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"phone-verification-server/internal/fraud"
	"phone-verification-server/internal/otp"
	"phone-verification-server/internal/payment"
	"phone-verification-server/internal/payment/chain"
	sessiondomain "phone-verification-server/internal/session/domain"
)

func TestFailsSession_EveryClassHasEntry(t *testing.T) {
	seen := map[Class]bool{Internal: true}
	for _, e := range classTable {
		seen[e.class] = true
	}
	for class := range seen {
		if _, ok := failsSession[class]; !ok {
			t.Errorf("class %q has no failsSession entry", class)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		class Class
		fails bool
	}{
		{"nil", nil, "", false},
		{"otp mismatch", otp.ErrOTPMismatch, SessionFailing, true},
		{"otp not found wrapped", fmt.Errorf("verify: %w", otp.ErrOTPNotFound), SessionFailing, true},
		{"already registered", ErrAlreadyRegistered, SessionFailing, true},
		{"timeout", fmt.Errorf("score: %w", context.DeadlineExceeded), SessionFailing, true},
		{"country limit", &otp.CountryRateLimitError{Country: "US"}, Transient, false},
		{"unconfirmed tx", payment.ErrTxUnconfirmed, Transient, false},
		{"cancelled", context.Canceled, Transient, false},
		{"unsafe number", fmt.Errorf("%w: fraud score 90", ErrUnsafeNumber), Input, false},
		{"unsupported chain", fmt.Errorf("%w: 999", chain.ErrUnsupportedChain), Input, false},
		{"status mismatch", &sessiondomain.StatusMismatchError{Actual: sessiondomain.StatusIssued, Expected: sessiondomain.StatusInProgress}, Conflict, false},
		{"invalid transition", &sessiondomain.InvalidTransitionError{From: sessiondomain.StatusIssued, To: sessiondomain.StatusInProgress}, Conflict, false},
		{"verify in progress", ErrVerifyInProgress, Conflict, false},
		{"attempts exhausted", sessiondomain.ErrAttemptsExhausted, Input, false},
		{"session not found", sessiondomain.ErrSessionNotFound, NotFound, false},
		{"fraud provider", fmt.Errorf("%w: status 500", fraud.ErrFraudProvider), Dependency, true},
		{"unknown", errors.New("connection reset"), Internal, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.class {
				t.Errorf("Classify = %q, want %q", got, tc.class)
			}
			if got := FailsSession(tc.err); got != tc.fails {
				t.Errorf("FailsSession = %v, want %v", got, tc.fails)
			}
		})
	}
}

func TestParsePhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		number  string
		country string
		ok      bool
	}{
		{"+13109273149", "+13109273149", "US", true},
		{"+44 20 7946 0958", "+442079460958", "GB", true},
		{"+15551234567", "+15551234567", "US", true},
		{"13109273149", "", "", false},
		{"+1", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		number, country, err := parsePhoneNumber(tc.in)
		if !tc.ok {
			if err == nil {
				t.Errorf("parsePhoneNumber(%q) = %q, %q; want error", tc.in, number, country)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePhoneNumber(%q): %v", tc.in, err)
			continue
		}
		if number != tc.number || country != tc.country {
			t.Errorf("parsePhoneNumber(%q) = %q, %q; want %q, %q", tc.in, number, country, tc.number, tc.country)
		}
	}
}
