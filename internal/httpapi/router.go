// Package httpapi is the HTTP transport: a chi router over the verification state machine and
// the admin operations, with the JSON error envelope {"status":"error","code","message"}.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"phone-verification-server/internal/audit"
)

// RouterOptions configure the middleware stack.
type RouterOptions struct {
	// AdminAPIKey gates the admin routes. Empty rejects every admin request.
	AdminAPIKey string
	// IPRateLimitPerMinute is the per-client request budget; 0 disables the limiter.
	IPRateLimitPerMinute int
	// Audit records admin requests. May be nil.
	Audit audit.Recorder
	// MeterProvider receives the request metrics. Nil uses the global provider.
	MeterProvider metric.MeterProvider
}

// NewRouter registers the API routes and middleware stack.
func NewRouter(h *Handler, opts RouterOptions) (http.Handler, error) {
	provider := opts.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	metrics, err := newHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware(metrics))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	adminOnly := chi.Chain(requireAdminKey(opts.AdminAPIKey), auditMiddleware(opts.Audit))

	var limiter *ipRateLimiter
	if opts.IPRateLimitPerMinute > 0 {
		if limiter, err = newIPRateLimiter(opts.IPRateLimitPerMinute); err != nil {
			return nil, err
		}
	}

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.middleware)
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.createSession)
			r.Get("/", h.getSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/paypal-order", h.createPayPalOrder)
				r.Post("/payment", h.pay)
				r.With(adminOnly...).Post("/payment/admin", h.adminPay)
				r.Post("/redeem-voucher", h.redeemVoucher)
				r.Post("/refund", h.refund)
			})
		})
		r.Post("/vouchers", h.generateVouchers)
		r.Post("/otp/send", h.sendCode)
		r.Post("/credentials", h.credentials)

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminOnly...)
			r.Post("/user-sessions", h.adminUserSessions)
			r.Post("/fail-session", h.adminFailSession)
			r.Post("/delete-phone-number", h.adminDeletePhoneNumber)
		})
	})

	if h.devOTP != nil {
		r.Get("/dev/otp/{phone}", h.devOTPCode)
	}
	return r, nil
}
