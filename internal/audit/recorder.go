package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// Sink is an append-only destination for audit events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Record(ctx context.Context, event Event) error { return f(ctx, event) }

// Recorder fans events out to sinks. Sink failures are logged and never
// returned, so auditing cannot block a booking.
type Recorder struct {
	sinks   []Sink
	logger  *logging.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder constructs a recorder over the given sinks. Nil sinks are skipped.
func NewRecorder(logger *logging.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Recorder{sinks: filtered, logger: logger, timeout: 2 * time.Second, now: time.Now}
}

// WithTimeout bounds each sink call.
func (r *Recorder) WithTimeout(d time.Duration) *Recorder {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Record stamps, redacts and delivers the event to every sink.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}
	event = redact(event)

	// Detach from request cancellation; the sink timeout still applies.
	base := context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		sinkCtx, cancel := context.WithTimeout(base, r.timeout)
		err := sink.Record(sinkCtx, event)
		cancel()
		if err != nil {
			r.logger.Error("audit sink failed",
				"error", err,
				"action", event.Action,
				"event_id", event.ID,
				"subject_id", event.SubjectID,
			)
		}
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns a sink backed by logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, e Event) error {
	s.logger.Info("audit",
		"event_id", e.ID,
		"action", e.Action,
		"tenant", e.Tenant,
		"actor", e.Actor,
		"from", e.From,
		"to", e.To,
		"subject_id", e.SubjectID,
		"contact", e.Contact,
	)
	return nil
}
