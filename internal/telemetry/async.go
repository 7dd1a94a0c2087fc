package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"phone-verification-server/internal/telemetry/domain"
)

const emitTimeout = 5 * time.Second

// ShutdownDrainDuration bounds Drain at shutdown. It covers one full emitTimeout.
const ShutdownDrainDuration = emitTimeout

// inflight counts running EmitAsync goroutines. idle is closed whenever the count is zero.
var inflight struct {
	sync.Mutex
	n    int
	idle chan struct{}
}

func init() {
	inflight.idle = make(chan struct{})
	close(inflight.idle)
}

func track() {
	inflight.Lock()
	if inflight.n == 0 {
		inflight.idle = make(chan struct{})
	}
	inflight.n++
	inflight.Unlock()
}

func untrack() {
	inflight.Lock()
	if inflight.n--; inflight.n == 0 {
		close(inflight.idle)
	}
	inflight.Unlock()
}

// EmitAsync emits event on its own goroutine and returns at once. The emit outlives ctx's
// cancellation but keeps its values. Failures are logged.
func EmitAsync(emitter EventEmitter, ctx context.Context, event *domain.Event) {
	if emitter == nil || event == nil {
		return
	}
	track()
	go func() {
		defer untrack()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: emit %s for session %q: %v", event.Type, event.SessionID, err)
		}
	}()
}

// Drain blocks until every EmitAsync goroutine has returned or ctx is done.
func Drain(ctx context.Context) error {
	inflight.Lock()
	idle := inflight.idle
	inflight.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
