package domain

import "time"

// AuditLog records one privileged action (admin endpoints, manual payment overrides).
type AuditLog struct {
	ID        string
	Actor     string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
