package events

import (
	"context"
	"time"

	"slidecast/internal/infra"
)

// Safe makes publishing best-effort: failures are logged, never returned.
type Safe struct {
	next    Publisher
	logger  *infra.Logger
	timeout time.Duration
}

// NewSafe wraps next. A nil next behaves like Nop.
func NewSafe(next Publisher, logger *infra.Logger) *Safe {
	if next == nil {
		next = Nop{}
	}
	return &Safe{next: next, logger: logger, timeout: 5 * time.Second}
}

// Emit publishes ev on a detached, bounded context.
func (s *Safe) Emit(ctx context.Context, ev Event) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.next.Publish(ctx, ev); err != nil && s.logger != nil {
		s.logger.Warn().Err(err).
			Str("event", string(ev.Type)).
			Str("job_id", ev.JobID).
			Msg("events: publish failed")
	}
}

func (s *Safe) Close() error {
	if s == nil {
		return nil
	}
	return s.next.Close()
}
