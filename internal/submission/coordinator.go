// Package submission validates generation requests, hands them to a provider
// and records the resulting job.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"slidecast/internal/domain"
	"slidecast/internal/events"
	"slidecast/internal/infra"
	"slidecast/internal/metrics"
	"slidecast/internal/providers"
)

const maxSubjectRefLen = 255

// Request is one generation request.
type Request struct {
	SubjectRef     string
	Provider       domain.ProviderType
	Payload        json.RawMessage
	RequiredAssets []string
	Locale         string
}

// Starter begins monitoring a freshly submitted job.
type Starter interface {
	Start(job *domain.GenerationJob) bool
	Stop(jobID string)
}

type Deps struct {
	Jobs      domain.JobStore
	Assets    domain.AssetStore
	Providers *providers.Registry
	Monitor   Starter
	Events    *events.Safe
	Logger    *infra.Logger
}

type Options struct {
	SubmitTimeout time.Duration
	// CallbackBaseURL, when set, is passed to providers as <base>/v1/webhooks/<provider>.
	CallbackBaseURL string
}

type Coordinator struct {
	jobs      domain.JobStore
	assets    domain.AssetStore
	providers *providers.Registry
	monitor   Starter
	events    *events.Safe
	logger    *infra.Logger
	opts      Options
	now       func() time.Time
}

func New(deps Deps, opts Options) *Coordinator {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 15 * time.Second
	}
	opts.CallbackBaseURL = strings.TrimRight(opts.CallbackBaseURL, "/")
	logger := deps.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Coordinator{
		jobs:      deps.Jobs,
		assets:    deps.Assets,
		providers: deps.Providers,
		monitor:   deps.Monitor,
		events:    deps.Events,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Submit validates req, submits it to the provider and records a PROCESSING
// job. No job is recorded when validation or the provider call fails.
func (c *Coordinator) Submit(ctx context.Context, req Request) (*domain.GenerationJob, error) {
	normalized, adapter, err := c.validate(ctx, req)
	if err != nil {
		metrics.Submissions.WithLabelValues(string(req.Provider), "invalid").Inc()
		return nil, err
	}

	jobID := uuid.NewString()
	callCtx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	handle, err := adapter.Submit(callCtx, providers.Request{
		JobID:       jobID,
		SubjectRef:  normalized.SubjectRef,
		Payload:     normalized.Payload,
		Locale:      normalized.Locale,
		CallbackURL: c.callbackURL(normalized.Provider),
	})
	cancel()
	if err == nil {
		handle, err = providers.RequireHandle(normalized.Provider, handle)
	}
	if err != nil {
		err = providers.ClassifyError(normalized.Provider, "submit", err)
		outcome := "transient_error"
		if domain.IsTerminal(err) {
			outcome = "rejected"
		}
		metrics.Submissions.WithLabelValues(string(normalized.Provider), outcome).Inc()
		c.logger.Warn().Err(err).
			Str("provider", string(normalized.Provider)).
			Str("subject_ref", normalized.SubjectRef).
			Msg("submission: provider submit failed")
		return nil, err
	}

	now := c.now().UTC()
	job := &domain.GenerationJob{
		ID:                jobID,
		SubjectRef:        normalized.SubjectRef,
		Provider:          normalized.Provider,
		ProviderJobHandle: handle,
		State:             domain.JobStateProcessing,
		RequestPayload:    normalized.Payload,
		StartedAt:         &now,
		CreatedAt:         now,
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		c.logger.Error().Err(err).
			Str("job_id", jobID).
			Str("provider", string(job.Provider)).
			Str("handle", handle).
			Msg("submission: persist job failed, cancelling at provider")
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SubmitTimeout)
		defer cancel()
		if _, cerr := adapter.Cancel(cancelCtx, handle); cerr != nil {
			c.logger.Warn().Err(cerr).Str("handle", handle).Msg("submission: provider cancel failed")
		}
		return nil, fmt.Errorf("submission: persist job: %w", err)
	}

	metrics.Submissions.WithLabelValues(string(job.Provider), "submitted").Inc()
	if c.monitor != nil {
		c.monitor.Start(job)
	}
	c.events.Emit(ctx, events.ForJob(events.JobSubmitted, job))
	c.logger.Info().
		Str("job_id", job.ID).
		Str("provider", string(job.Provider)).
		Str("subject_ref", job.SubjectRef).
		Msg("submission: job submitted")
	return job, nil
}

func (c *Coordinator) callbackURL(provider domain.ProviderType) string {
	if c.opts.CallbackBaseURL == "" {
		return ""
	}
	return c.opts.CallbackBaseURL + "/v1/webhooks/" + string(provider)
}

func (c *Coordinator) validate(ctx context.Context, req Request) (Request, providers.Adapter, error) {
	out := req
	out.SubjectRef = strings.TrimSpace(req.SubjectRef)
	if out.SubjectRef == "" {
		return out, nil, &domain.ValidationError{Field: "subject_ref", Reason: "is required"}
	}
	if utf8.RuneCountInString(out.SubjectRef) > maxSubjectRefLen {
		return out, nil, &domain.ValidationError{Field: "subject_ref", Reason: fmt.Sprintf("must be at most %d characters", maxSubjectRefLen)}
	}

	adapter, err := c.providers.Get(req.Provider)
	if err != nil {
		return out, nil, &domain.ValidationError{Field: "provider", Reason: err.Error()}
	}

	payload := bytes.TrimSpace(req.Payload)
	if len(payload) == 0 || payload[0] != '{' || !json.Valid(payload) {
		return out, nil, &domain.ValidationError{Field: "payload", Reason: "must be a json object"}
	}
	out.Payload = json.RawMessage(payload)

	if loc := strings.TrimSpace(req.Locale); loc != "" {
		tag, err := language.Parse(loc)
		if err != nil {
			return out, nil, &domain.ValidationError{Field: "locale", Reason: fmt.Sprintf("invalid language tag %q", loc)}
		}
		out.Locale = tag.String()
	}

	for _, assetID := range req.RequiredAssets {
		asset, err := c.assets.Get(ctx, assetID)
		if errors.Is(err, domain.ErrNotFound) {
			return out, nil, &domain.ValidationError{Field: "required_assets", Reason: fmt.Sprintf("asset %s does not exist", assetID)}
		}
		if err != nil {
			return out, nil, fmt.Errorf("submission: load asset %s: %w", assetID, err)
		}
		if asset.UploadState != domain.UploadCompleted {
			return out, nil, &domain.ValidationError{Field: "required_assets", Reason: fmt.Sprintf("asset %s is not ready", assetID)}
		}
	}
	return out, adapter, nil
}

// Cancel moves a PROCESSING job to CANCELLED and asks the provider to stop.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return job, domain.ErrTerminalState
	}
	updated, err := c.jobs.Transition(ctx, jobID, domain.StateChange{
		From:         job.State,
		To:           domain.JobStateCancelled,
		ErrorMessage: "cancelled by request",
		At:           c.now().UTC(),
	})
	if errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrInvalidTransition) {
		return updated, domain.ErrTerminalState
	}
	if err != nil {
		return nil, err
	}
	if c.monitor != nil {
		c.monitor.Stop(jobID)
	}
	metrics.Transitions.WithLabelValues(string(updated.Provider), string(updated.State)).Inc()

	if adapter, err := c.providers.Get(job.Provider); err == nil && job.ProviderJobHandle != "" {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SubmitTimeout)
		defer cancel()
		if ok, err := adapter.Cancel(callCtx, job.ProviderJobHandle); err != nil || !ok {
			c.logger.Debug().Err(err).Bool("accepted", ok).Str("job_id", jobID).Msg("submission: provider cancel")
		}
	}
	ev := events.ForJob(events.JobStateChanged, updated)
	ev.PreviousState = job.State
	c.events.Emit(ctx, ev)
	return updated, nil
}
