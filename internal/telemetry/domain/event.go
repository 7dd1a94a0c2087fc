package domain

import "time"

// Event types emitted by the verification service.
const (
	EventSessionCreated     = "session_created"
	EventPaymentAccepted    = "payment_accepted"
	EventVoucherRedeemed    = "voucher_redeemed"
	EventVouchersGenerated  = "vouchers_generated"
	EventOTPSent            = "otp_sent"
	EventCredentialIssued   = "credential_issued"
	EventCredentialRefetch  = "credential_refetched"
	EventVerificationFailed = "verification_failed"
	EventSessionRefunded    = "session_refunded"
	EventAdminAction        = "admin_action"
	EventGRPCRequest        = "grpc_request"
)

// Event is one session lifecycle event. It is serialized as JSON onto Kafka and
// mapped to an OTel log record; it never carries OTP codes or full phone numbers.
type Event struct {
	Type      string            `json:"eventType"`
	SessionID string            `json:"sessionId,omitempty"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewEvent returns an event of type eventType for sessionID stamped with the current UTC time.
func NewEvent(eventType, sessionID string, metadata map[string]string) *Event {
	return &Event{
		Type:      eventType,
		SessionID: sessionID,
		Source:    "verification",
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}
