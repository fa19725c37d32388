// Package batch fans a set of subjects out to one provider with bounded
// concurrency and tracks per-subject outcomes.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/metrics"
	"slidecast/internal/submission"
)

const (
	defaultMaxConcurrent = 5
	handleRetention      = 24 * time.Hour

	// MaxItems bounds the subjects accepted by one RunBatch call.
	MaxItems = 500
)

// Item is one subject to generate.
type Item struct {
	SubjectRef     string          `json:"subject_ref"`
	Payload        json.RawMessage `json:"payload"`
	RequiredAssets []string        `json:"required_assets,omitempty"`
	Locale         string          `json:"locale,omitempty"`
}

type Options struct {
	MaxConcurrent int
	SkipExisting  bool
}

// SubjectStatus is the batch-level outcome of one subject.
type SubjectStatus string

const (
	StatusQueued    SubjectStatus = "QUEUED"
	StatusSubmitted SubjectStatus = "SUBMITTED"
	StatusSkipped   SubjectStatus = "SKIPPED"
	StatusFailed    SubjectStatus = "FAILED"
)

type SubjectResult struct {
	SubjectRef string        `json:"subject_ref"`
	Status     SubjectStatus `json:"status"`
	JobID      string        `json:"job_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Progress aggregates a batch. Succeeded and Failed follow the submitted
// jobs to their terminal state.
type Progress struct {
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	InProgress int `json:"in_progress"`
}

// Handle tracks a running batch.
type Handle struct {
	ID        string
	Provider  domain.ProviderType
	CreatedAt time.Time

	mu      sync.Mutex
	results []SubjectResult
	done    chan struct{}
}

// Results returns a snapshot in submission order.
func (h *Handle) Results() []SubjectResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SubjectResult(nil), h.results...)
}

func (h *Handle) set(i int, r SubjectResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[i] = r
}

// Done is closed once every subject has a final batch-level outcome.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submitter is the submission coordinator.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (*domain.GenerationJob, error)
}

type Orchestrator struct {
	submitter     Submitter
	jobs          domain.JobStore
	handles       *cache.Cache
	logger        *infra.Logger
	maxConcurrent int
}

// New returns an orchestrator. maxConcurrent is both the default for a batch
// that does not set one and the ceiling for one that asks for more.
func New(submitter Submitter, jobs domain.JobStore, logger *infra.Logger, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Orchestrator{
		submitter:     submitter,
		jobs:          jobs,
		handles:       cache.New(handleRetention, time.Hour),
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// RunBatch validates items and starts submitting them in the background. At
// most MaxConcurrent submits are in flight; a slot frees up as soon as a
// subject's submit returns. One subject failing never stops the others.
func (o *Orchestrator) RunBatch(ctx context.Context, provider domain.ProviderType, items []Item, opts Options) (*Handle, error) {
	if len(items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Reason: "at least one subject is required"}
	}
	if len(items) > MaxItems {
		return nil, &domain.ValidationError{Field: "items", Reason: fmt.Sprintf("at most %d subjects per batch", MaxItems)}
	}
	seen := make(map[string]struct{}, len(items))
	for i := range items {
		ref := strings.TrimSpace(items[i].SubjectRef)
		if ref == "" {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("items[%d].subject_ref", i), Reason: "is required"}
		}
		if _, dup := seen[ref]; dup {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("items[%d].subject_ref", i), Reason: fmt.Sprintf("duplicate subject %q", ref)}
		}
		seen[ref] = struct{}{}
	}
	limit := opts.MaxConcurrent
	if limit <= 0 || limit > o.maxConcurrent {
		limit = o.maxConcurrent
	}

	h := &Handle{
		ID:        uuid.NewString(),
		Provider:  provider,
		CreatedAt: time.Now().UTC(),
		results:   make([]SubjectResult, len(items)),
		done:      make(chan struct{}),
	}
	for i := range items {
		h.results[i] = SubjectResult{SubjectRef: strings.TrimSpace(items[i].SubjectRef), Status: StatusQueued}
	}
	o.handles.SetDefault(h.ID, h)

	runCtx := context.WithoutCancel(ctx)
	o.logger.Info().
		Str("batch_id", h.ID).
		Str("provider", string(provider)).
		Int("subjects", len(items)).
		Int("max_concurrent", limit).
		Msg("batch: started")

	go func() {
		defer close(h.done)
		var g errgroup.Group
		g.SetLimit(limit)
		for i, item := range items {
			i, item := i, item
			g.Go(func() error {
				h.set(i, o.runOne(runCtx, h, provider, item, opts.SkipExisting))
				return nil
			})
		}
		_ = g.Wait()
		o.logger.Info().Str("batch_id", h.ID).Msg("batch: all subjects dispatched")
	}()
	return h, nil
}

func (o *Orchestrator) runOne(ctx context.Context, h *Handle, provider domain.ProviderType, item Item, skipExisting bool) SubjectResult {
	ref := strings.TrimSpace(item.SubjectRef)
	if skipExisting {
		has, err := o.jobs.HasPublishedAsset(ctx, ref, provider)
		if err != nil {
			o.logger.Warn().Err(err).Str("batch_id", h.ID).Str("subject_ref", ref).Msg("batch: existing asset lookup failed")
		} else if has {
			metrics.BatchSubjects.WithLabelValues(string(StatusSkipped)).Inc()
			return SubjectResult{SubjectRef: ref, Status: StatusSkipped}
		}
	}
	job, err := o.submitter.Submit(ctx, submission.Request{
		SubjectRef:     ref,
		Provider:       provider,
		Payload:        item.Payload,
		RequiredAssets: item.RequiredAssets,
		Locale:         item.Locale,
	})
	if err != nil {
		metrics.BatchSubjects.WithLabelValues(string(StatusFailed)).Inc()
		o.logger.Warn().Err(err).Str("batch_id", h.ID).Str("subject_ref", ref).Msg("batch: subject failed")
		return SubjectResult{SubjectRef: ref, Status: StatusFailed, Error: err.Error()}
	}
	metrics.BatchSubjects.WithLabelValues(string(StatusSubmitted)).Inc()
	return SubjectResult{SubjectRef: ref, Status: StatusSubmitted, JobID: job.ID}
}

// Get looks up a batch started by this process.
func (o *Orchestrator) Get(batchID string) (*Handle, bool) {
	v, ok := o.handles.Get(batchID)
	if !ok {
		return nil, false
	}
	h, ok := v.(*Handle)
	return h, ok
}

// Progress counts outcomes, reading the current state of submitted jobs.
func (o *Orchestrator) Progress(ctx context.Context, h *Handle) (Progress, error) {
	results := h.Results()
	p := Progress{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusQueued:
			p.InProgress++
		case StatusSkipped:
			p.Skipped++
		case StatusFailed:
			p.Failed++
		case StatusSubmitted:
			job, err := o.jobs.Get(ctx, r.JobID)
			if errors.Is(err, domain.ErrNotFound) {
				p.Failed++
				continue
			}
			if err != nil {
				return Progress{}, fmt.Errorf("batch: load job %s: %w", r.JobID, err)
			}
			switch job.State {
			case domain.JobStateCompleted:
				p.Succeeded++
			case domain.JobStateFailed, domain.JobStateCancelled:
				p.Failed++
			default:
				p.InProgress++
			}
		}
	}
	return p, nil
}
