package httpapi

import (
	"errors"
	"net/http"

	"phone-verification-server/internal/admin"
	"phone-verification-server/internal/otp"
	"phone-verification-server/internal/payment"
	"phone-verification-server/internal/verification"
)

// mapDomainError returns the HTTP status, error code and client message for err. Internal errors
// get a generic message; the cause is only logged.
func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, verification.ErrUnsafeNumber):
		return http.StatusBadRequest, "UNSAFE_NUMBER", err.Error()
	case errors.Is(err, payment.ErrTxUnconfirmed):
		return http.StatusBadRequest, "TX_UNCONFIRMED", err.Error()
	case errors.Is(err, otp.ErrTooManyAttemptsForCountry), errors.Is(err, admin.ErrDeletionLimit):
		return http.StatusTooManyRequests, "RATE_LIMITED", err.Error()
	case errors.Is(err, admin.ErrLookupKeyRequired), errors.Is(err, admin.ErrSessionIDRequired),
		errors.Is(err, admin.ErrPhoneNumberRequired):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, admin.ErrNumberNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, admin.ErrNotFailable):
		return http.StatusConflict, "STATE_CONFLICT", err.Error()
	}

	switch verification.Classify(err) {
	case verification.SessionFailing:
		return http.StatusBadRequest, "VERIFICATION_FAILED", err.Error()
	case verification.Transient:
		return http.StatusTooManyRequests, "RATE_LIMITED", err.Error()
	case verification.Input:
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case verification.NotFound:
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case verification.Conflict:
		return http.StatusConflict, "STATE_CONFLICT", err.Error()
	case verification.Dependency:
		return http.StatusBadGateway, "DEPENDENCY_ERROR", "an upstream provider failed, try again later"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an unknown error occurred"
	}
}
