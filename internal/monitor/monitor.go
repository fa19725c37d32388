// Package monitor polls providers for the status of in-flight jobs and
// drives them to a terminal state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"slidecast/internal/domain"
	"slidecast/internal/events"
	"slidecast/internal/infra"
	"slidecast/internal/metrics"
	"slidecast/internal/providers"
)

const resumeLimit = 5000

// Options tunes polling. Zero values take the defaults.
type Options struct {
	InitialDelay       time.Duration
	Interval           time.Duration
	MaxDuration        time.Duration
	CallTimeout        time.Duration
	MaxConcurrentPolls int
}

func (o Options) withDefaults() Options {
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 30 * time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 20 * time.Second
	}
	if o.MaxConcurrentPolls <= 0 {
		o.MaxConcurrentPolls = 32
	}
	return o
}

// Completion is notified when a job completes successfully.
type Completion interface {
	Trigger(jobID string)
}

// Deps are the collaborators a Monitor needs. Registry, Lease, Completion
// and Events are optional.
type Deps struct {
	Jobs       domain.JobStore
	Providers  *providers.Registry
	Registry   *Registry
	Lease      Lease
	Completion Completion
	Events     *events.Safe
	Logger     *infra.Logger
}

// Monitor runs at most one polling goroutine per job in this process.
type Monitor struct {
	jobs       domain.JobStore
	providers  *providers.Registry
	registry   *Registry
	lease      Lease
	completion Completion
	events     *events.Safe
	logger     *infra.Logger
	opts       Options
	sem        *semaphore.Weighted
	now        func() time.Time
	wg         sync.WaitGroup
}

func New(deps Deps, opts Options) *Monitor {
	opts = opts.withDefaults()
	reg := deps.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Monitor{
		jobs:       deps.Jobs,
		providers:  deps.Providers,
		registry:   reg,
		lease:      deps.Lease,
		completion: deps.Completion,
		events:     deps.Events,
		logger:     logger,
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrentPolls)),
		now:        time.Now,
	}
}

// SetCompletion wires the publisher after construction.
func (m *Monitor) SetCompletion(c Completion) { m.completion = c }

func (m *Monitor) Options() Options { return m.opts }

// Active reports whether this process is monitoring jobID.
func (m *Monitor) Active(jobID string) bool { return m.registry.Has(jobID) }

// Count is the number of jobs monitored by this process.
func (m *Monitor) Count() int { return m.registry.Len() }

// Start begins monitoring job. It returns false when the job is already
// monitored here or its lease is held by another process.
func (m *Monitor) Start(job *domain.GenerationJob) bool {
	if job == nil || job.State.IsTerminal() {
		return false
	}
	deadline := m.now().Add(m.opts.MaxDuration)
	if job.StartedAt != nil {
		deadline = job.StartedAt.Add(m.opts.MaxDuration)
	}

	ctx, cancel := context.WithCancel(context.Background())
	task, ok := m.registry.Register(job.ID, cancel)
	if !ok {
		cancel()
		return false
	}

	var token string
	if m.lease != nil {
		ttl := time.Until(deadline) + m.opts.Interval
		if ttl < m.opts.Interval {
			ttl = m.opts.Interval
		}
		leaseCtx, leaseCancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		tok, acquired, err := m.lease.Acquire(leaseCtx, job.ID, ttl)
		leaseCancel()
		if err != nil || !acquired {
			if err != nil {
				m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("monitor: lease unavailable")
			}
			m.registry.Deregister(task)
			cancel()
			close(task.done)
			return false
		}
		token = tok
	}

	metrics.ActiveMonitors.Inc()
	m.wg.Add(1)
	go m.run(ctx, task, job.ID, deadline, token)
	m.logger.Debug().Str("job_id", job.ID).Time("deadline", deadline).Msg("monitor: started")
	return true
}

// Stop cancels the job's timers. A provider call already in flight finishes
// on its own bounded context.
func (m *Monitor) Stop(jobID string) {
	m.registry.Cancel(jobID)
}

func (m *Monitor) run(ctx context.Context, task *Task, jobID string, deadline time.Time, leaseToken string) {
	defer m.wg.Done()
	defer close(task.done)
	defer metrics.ActiveMonitors.Dec()
	defer m.registry.Deregister(task)
	defer func() {
		if m.lease == nil || leaseToken == "" {
			return
		}
		relCtx, cancel := context.WithTimeout(context.Background(), m.opts.CallTimeout)
		defer cancel()
		if err := m.lease.Release(relCtx, jobID, leaseToken); err != nil {
			m.logger.Warn().Err(err).Str("job_id", jobID).Msg("monitor: release lease")
		}
	}()

	poll := time.NewTimer(m.opts.InitialDelay)
	defer poll.Stop()
	expiry := time.NewTimer(time.Until(deadline))
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			m.expire(ctx, jobID)
			return
		case <-poll.C:
			// Both timers may be ready at once; the deadline wins.
			if !m.now().Before(deadline) {
				m.expire(ctx, jobID)
				return
			}
			started := m.now()
			done, err := m.pollUntil(ctx, jobID, deadline)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				m.logger.Warn().Err(err).Str("job_id", jobID).Msg("monitor: poll failed")
			}
			if done {
				return
			}
			next := m.opts.Interval - m.now().Sub(started)
			if next < 0 {
				next = 0
			}
			poll.Reset(next)
		}
	}
}

// pollUntil runs one Poll that neither waits for a poll slot nor holds a
// provider call past deadline.
func (m *Monitor) pollUntil(ctx context.Context, jobID string, deadline time.Time) (bool, error) {
	slotCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := m.sem.Acquire(slotCtx, 1); err != nil {
		return false, nil
	}
	defer m.sem.Release(1)
	return m.poll(context.WithoutCancel(ctx), jobID, deadline)
}

func (m *Monitor) expire(ctx context.Context, jobID string) {
	if err := m.Expire(context.WithoutCancel(ctx), jobID); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("monitor: expire failed")
	}
}

// Poll performs one status check. done reports that the job needs no
// further monitoring.
func (m *Monitor) Poll(ctx context.Context, jobID string) (bool, error) {
	return m.poll(ctx, jobID, time.Time{})
}

// poll is Poll with the status call cut short at deadline, when set.
func (m *Monitor) poll(ctx context.Context, jobID string, deadline time.Time) (bool, error) {
	job, err := m.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("monitor: load job: %w", err)
	}
	if job.State.IsTerminal() {
		return true, nil
	}
	if job.State != domain.JobStateProcessing {
		return false, nil
	}

	adapter, err := m.providers.Get(job.Provider)
	if err != nil {
		return m.Apply(ctx, job, providers.Status{State: domain.JobStateFailed, ErrorMessage: err.Error()})
	}

	callTimeout := m.opts.CallTimeout
	if !deadline.IsZero() {
		if left := deadline.Sub(m.now()); left < callTimeout {
			callTimeout = left
		}
		if callTimeout <= 0 {
			return false, nil
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	status, err := adapter.GetStatus(callCtx, job.ProviderJobHandle)
	cancel()
	if err != nil {
		if !deadline.IsZero() && !m.now().Before(deadline) {
			// The call was cut at the deadline; the expiry timer takes over.
			return false, nil
		}
		err = providers.ClassifyError(job.Provider, "status", err)
		var term *domain.TerminalProviderError
		if errors.As(err, &term) {
			metrics.Polls.WithLabelValues(string(job.Provider), "terminal_error").Inc()
			return m.Apply(ctx, job, providers.Status{State: domain.JobStateFailed, ErrorMessage: term.Message})
		}
		metrics.Polls.WithLabelValues(string(job.Provider), "transient_error").Inc()
		m.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("provider", string(job.Provider)).
			Msg("monitor: transient status error")
		return false, nil
	}
	metrics.Polls.WithLabelValues(string(job.Provider), "ok").Inc()
	return m.Apply(ctx, job, status)
}

// Apply records a provider status for job. Poll ticks and webhook deliveries
// both land here. done reports that the job is terminal.
func (m *Monitor) Apply(ctx context.Context, job *domain.GenerationJob, status providers.Status) (bool, error) {
	if job.State.IsTerminal() {
		return true, nil
	}
	now := m.now().UTC()
	if !status.State.IsTerminal() {
		if err := m.jobs.RecordPoll(ctx, job.ID, status.ProgressPercent, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return false, fmt.Errorf("monitor: record poll: %w", err)
		}
		return false, nil
	}

	change := domain.StateChange{From: domain.JobStateProcessing, To: status.State, At: now}
	switch status.State {
	case domain.JobStateCompleted:
		if status.ResultRef == "" {
			change.To = domain.JobStateFailed
			change.ErrorMessage = "provider reported completion without a result"
		} else {
			change.ResultRef = status.ResultRef
		}
	case domain.JobStateFailed:
		change.ErrorMessage = status.ErrorMessage
		if change.ErrorMessage == "" {
			change.ErrorMessage = "provider reported failure"
		}
	case domain.JobStateCancelled:
		change.ErrorMessage = status.ErrorMessage
		if change.ErrorMessage == "" {
			change.ErrorMessage = "cancelled by provider"
		}
	}

	updated, err := m.jobs.Transition(ctx, job.ID, change)
	if errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("monitor: transition: %w", err)
	}
	m.afterTransition(ctx, updated, job.State)
	m.registry.Cancel(job.ID)

	if updated.State == domain.JobStateCompleted && m.completion != nil {
		m.completion.Trigger(updated.ID)
	}
	return true, nil
}

// Expire fails a job that produced no terminal status within MaxDuration.
func (m *Monitor) Expire(ctx context.Context, jobID string) error {
	job, err := m.jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitor: load job: %w", err)
	}
	if job.State != domain.JobStateProcessing {
		return nil
	}
	timeout := &domain.TimeoutError{After: m.opts.MaxDuration}
	updated, err := m.jobs.Transition(ctx, jobID, domain.StateChange{
		From:         domain.JobStateProcessing,
		To:           domain.JobStateFailed,
		ErrorMessage: timeout.Error(),
		At:           m.now().UTC(),
	})
	if errors.Is(err, domain.ErrStaleState) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitor: expire: %w", err)
	}
	m.logger.Warn().
		Str("job_id", jobID).
		Str("provider", string(job.Provider)).
		Dur("after", m.opts.MaxDuration).
		Msg("monitor: job timed out")
	m.afterTransition(ctx, updated, job.State)

	if adapter, err := m.providers.Get(job.Provider); err == nil {
		callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		defer cancel()
		if _, err := adapter.Cancel(callCtx, job.ProviderJobHandle); err != nil {
			m.logger.Debug().Err(err).Str("job_id", jobID).Msg("monitor: provider cancel after timeout")
		}
	}
	return nil
}

func (m *Monitor) afterTransition(ctx context.Context, job *domain.GenerationJob, from domain.JobState) {
	metrics.Transitions.WithLabelValues(string(job.Provider), string(job.State)).Inc()
	m.logger.Info().
		Str("job_id", job.ID).
		Str("provider", string(job.Provider)).
		Str("from", string(from)).
		Str("to", string(job.State)).
		Msg("monitor: job transitioned")
	ev := events.ForJob(events.JobStateChanged, job)
	ev.PreviousState = from
	m.events.Emit(ctx, ev)
}

// Resume starts monitors for every PROCESSING job whose provider is
// registered here. It returns how many were started by this call.
func (m *Monitor) Resume(ctx context.Context) (int, error) {
	jobs, err := m.jobs.ListByState(ctx, domain.JobStateProcessing, resumeLimit)
	if err != nil {
		return 0, fmt.Errorf("monitor: list processing jobs: %w", err)
	}
	started := 0
	for i := range jobs {
		if _, err := m.providers.Get(jobs[i].Provider); err != nil {
			continue
		}
		if m.Start(&jobs[i]) {
			started++
		}
	}
	if started > 0 {
		m.logger.Info().Int("count", started).Msg("monitor: resumed jobs")
	}
	return started, nil
}

// Shutdown stops every monitor and waits for the goroutines to exit.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.registry.CancelAll()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
