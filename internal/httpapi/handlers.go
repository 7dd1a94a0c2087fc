package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phone-verification-server/internal/admin"
	"phone-verification-server/internal/devotp"
	sessiondomain "phone-verification-server/internal/session/domain"
	"phone-verification-server/internal/verification"
)

// ReadinessCheck reports whether the server's dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Handler serves the verification API over the state machine and the admin operations.
type Handler struct {
	verify *verification.Service
	admin  *admin.Service
	devOTP devotp.Store
	ready  ReadinessCheck
}

// NewHandler returns a Handler. devOTP enables GET /dev/otp/{phone} and must be nil outside
// development. ready may be nil.
func NewHandler(verify *verification.Service, adminSvc *admin.Service, devOTP devotp.Store, ready ReadinessCheck) *Handler {
	return &Handler{verify: verify, admin: adminSvc, devOTP: devOTP, ready: ready}
}

type sessionResponse struct {
	ID            string                    `json:"id"`
	SigDigest     string                    `json:"sigDigest"`
	SessionStatus sessiondomain.Status      `json:"sessionStatus"`
	NumAttempts   int                       `json:"numAttempts"`
	ChainID       *int64                    `json:"chainId,omitempty"`
	TxHash        string                    `json:"txHash,omitempty"`
	RefundTxHash  string                    `json:"refundTxHash,omitempty"`
	PayPal        *sessiondomain.PayPalData `json:"payPal,omitempty"`
	FailureReason string                    `json:"failureReason,omitempty"`
}

func toSessionResponse(s *sessiondomain.Session) sessionResponse {
	resp := sessionResponse{
		ID:            s.ID,
		SigDigest:     s.SigDigest,
		SessionStatus: s.Status,
		NumAttempts:   s.NumAttempts,
		ChainID:       s.ChainID,
		TxHash:        s.TxHash,
		RefundTxHash:  s.RefundTxHash,
		FailureReason: s.FailureReason,
	}
	if len(s.PayPal.Orders) > 0 {
		pp := s.PayPal
		resp.PayPal = &pp
	}
	return resp
}

func toSessionList(list []*sessiondomain.Session) []sessionResponse {
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s))
	}
	return out
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency check failed", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependency check failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSessionRequest struct {
	SigDigest string `json:"sigDigest"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_session", err)
		return
	}
	s, err := h.verify.CreateSession(r.Context(), req.SigDigest)
	if err != nil {
		writeMappedError(r.Context(), w, "create_session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

func (h *Handler) getSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.verify.GetSessions(r.Context(), q.Get("id"), q.Get("sigDigest"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionList(list))
}

func (h *Handler) createPayPalOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.verify.CreatePayPalOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMappedError(r.Context(), w, "create_paypal_order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type paymentRequest struct {
	ChainID int64  `json:"chainId"`
	TxHash  string `json:"txHash"`
	OrderID string `json:"orderId"`
}

// pay accepts an on-chain payment, or a PayPal capture when orderId is set.
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "session_payment", err)
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	if req.OrderID != "" {
		_, err = h.verify.PayWithPayPal(r.Context(), id, req.OrderID)
	} else {
		_, err = h.verify.PayOnChain(r.Context(), id, req.ChainID, req.TxHash)
	}
	if err != nil {
		writeMappedError(r.Context(), w, "session_payment", err)
		return
	}
	writeSuccess(w)
}

func (h *Handler) adminPay(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_session_payment", err)
		return
	}
	if _, err := h.verify.AdminPayOnChain(r.Context(), chi.URLParam(r, "id"), req.ChainID, req.TxHash); err != nil {
		writeMappedError(r.Context(), w, "admin_session_payment", err)
		return
	}
	writeSuccess(w)
}

type redeemVoucherRequest struct {
	VoucherID string `json:"voucherId"`
}

func (h *Handler) redeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req redeemVoucherRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "redeem_voucher", err)
		return
	}
	if _, err := h.verify.RedeemVoucher(r.Context(), chi.URLParam(r, "id"), req.VoucherID); err != nil {
		writeMappedError(r.Context(), w, "redeem_voucher", err)
		return
	}
	writeSuccess(w)
}

type refundRequest struct {
	To string `json:"to"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "refund", err)
		return
	}
	receipt, err := h.verify.Refund(r.Context(), chi.URLParam(r, "id"), req.To)
	if err != nil {
		writeMappedError(r.Context(), w, "refund", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type generateVouchersRequest struct {
	ChainID          int64  `json:"chainId"`
	TxHash           string `json:"txHash"`
	NumberOfVouchers int    `json:"numberOfVouchers"`
}

func (h *Handler) generateVouchers(w http.ResponseWriter, r *http.Request) {
	var req generateVouchersRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "generate_vouchers", err)
		return
	}
	ids, err := h.verify.GenerateVouchers(r.Context(), req.ChainID, req.TxHash, req.NumberOfVouchers)
	if err != nil {
		writeMappedError(r.Context(), w, "generate_vouchers", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"voucherIds": ids})
}

type sendCodeRequest struct {
	SessionID string `json:"sessionId"`
	Number    string `json:"number"`
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "send_code", err)
		return
	}
	if err := h.verify.SendCode(r.Context(), req.SessionID, req.Number); err != nil {
		writeMappedError(r.Context(), w, "send_code", err)
		return
	}
	writeSuccess(w)
}

type credentialsRequest struct {
	SessionID string `json:"sessionId"`
	Number    string `json:"number"`
	Code      string `json:"code"`
	Country   string `json:"country"`
	Nullifier string `json:"nullifier"`
}

func (h *Handler) credentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "get_credentials", err)
		return
	}
	cred, err := h.verify.VerifyAndIssue(r.Context(), verification.VerifyRequest{
		SessionID:   req.SessionID,
		PhoneNumber: req.Number,
		Code:        req.Code,
		Country:     req.Country,
		Nullifier:   req.Nullifier,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "get_credentials", err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

type userSessionsRequest struct {
	ID     string `json:"id"`
	TxHash string `json:"txHash"`
}

func (h *Handler) adminUserSessions(w http.ResponseWriter, r *http.Request) {
	var req userSessionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_user_sessions", err)
		return
	}
	list, err := h.admin.UserSessions(r.Context(), req.ID, req.TxHash)
	if err != nil {
		writeMappedError(r.Context(), w, "admin_user_sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionList(list))
}

type failSessionRequest struct {
	ID string `json:"id"`
}

func (h *Handler) adminFailSession(w http.ResponseWriter, r *http.Request) {
	var req failSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_fail_session", err)
		return
	}
	if _, err := h.admin.FailSession(r.Context(), req.ID); err != nil {
		writeMappedError(r.Context(), w, "admin_fail_session", err)
		return
	}
	writeSuccess(w)
}

type deletePhoneNumberRequest struct {
	Number string `json:"number"`
}

func (h *Handler) adminDeletePhoneNumber(w http.ResponseWriter, r *http.Request) {
	var req deletePhoneNumberRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_delete_phone_number", err)
		return
	}
	if err := h.admin.DeletePhoneNumber(r.Context(), req.Number); err != nil {
		writeMappedError(r.Context(), w, "admin_delete_phone_number", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted number " + req.Number})
}

func (h *Handler) devOTPCode(w http.ResponseWriter, r *http.Request) {
	code, ok := h.devOTP.Get(r.Context(), chi.URLParam(r, "phone"))
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no code for this number")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}
