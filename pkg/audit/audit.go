// Package audit is a buffered, best-effort ActionAudit writer: the
// platform mutation is already complete by the time an audit row is
// written, so a slow or failing store must never block or mask that
// outcome (spec §4.5, §4.7).
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
)

// Recorder persists an ActionAudit row.
type Recorder interface {
	RecordAction(ctx context.Context, audit domain.ActionAudit) error
}

const defaultBufferSize = 256

// Writer buffers audit rows on a channel and flushes them from a single
// background goroutine, so callers on the Fixer's hot path never wait on
// the store.
type Writer struct {
	recorder Recorder
	queue    chan domain.ActionAudit
	log      *zap.Logger
	done     chan struct{}
}

// NewWriter starts the background flush goroutine. Callers should call
// Close during shutdown to drain in-flight rows.
func NewWriter(recorder Recorder, log *zap.Logger) *Writer {
	w := &Writer{
		recorder: recorder,
		queue:    make(chan domain.ActionAudit, defaultBufferSize),
		log:      log,
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for audit := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := w.recorder.RecordAction(ctx, audit); err != nil {
			w.log.Warn("audit write failed, platform outcome unaffected",
				logging.NewFields().Component("audit").Operation("record_action").
					Incident(audit.IncidentID).Error(err).ToLogrus())
		}
		cancel()
	}
}

// Record enqueues audit for a background write. If the buffer is full
// the row is dropped and logged rather than blocking the caller — audit
// writes are advisory, not a transaction participant.
func (w *Writer) Record(audit domain.ActionAudit) {
	select {
	case w.queue <- audit:
	default:
		w.log.Warn("audit buffer full, dropping row",
			logging.NewFields().Component("audit").Operation("record_action").
				Incident(audit.IncidentID).ToLogrus())
	}
}

// Close stops accepting new rows and waits for the buffer to drain.
func (w *Writer) Close() {
	close(w.queue)
	<-w.done
}
