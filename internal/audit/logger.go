package audit

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"phone-verification-server/internal/audit/domain"
	auditrepo "phone-verification-server/internal/audit/repository"
)

// SystemActor stands in for an empty actor.
const SystemActor = "_system"

const writeTimeout = 3 * time.Second

// Entry is one privileged request to record.
type Entry struct {
	Actor     string
	Action    string
	Resource  string
	SessionID string
	Status    int
}

// Recorder stores audit entries. Record never fails the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Logger is the Recorder backed by the audit repository. clientIP reads the caller's address
// from the request context.
type Logger struct {
	repo     auditrepo.Repository
	clientIP func(context.Context) string
	nowF     func() time.Time
}

func NewLogger(repo auditrepo.Repository, clientIP func(context.Context) string) *Logger {
	return &Logger{repo: repo, clientIP: clientIP, nowF: func() time.Time { return time.Now().UTC() }}
}

func (l *Logger) Record(ctx context.Context, e Entry) {
	if l == nil || l.repo == nil {
		return
	}
	row := &domain.AuditLog{
		ID:        uuid.NewString(),
		Actor:     e.Actor,
		Action:    e.Action,
		Resource:  e.Resource,
		IP:        "unknown",
		Metadata:  metadata(e),
		CreatedAt: l.nowF(),
	}
	if row.Actor == "" {
		row.Actor = SystemActor
	}
	if l.clientIP != nil {
		if ip := l.clientIP(ctx); ip != "" {
			row.IP = ip
		}
	}
	// The write runs after the response, so the request's cancellation does not apply.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := l.repo.Create(ctx, row); err != nil {
		log.Printf("audit: %s %s: %v", row.Action, row.Resource, err)
	}
}

func metadata(e Entry) string {
	var m string
	if e.Status != 0 {
		m = "status=" + http.StatusText(e.Status)
	}
	if e.SessionID != "" {
		if m != "" {
			m += " "
		}
		m += "session=" + e.SessionID
	}
	return m
}
