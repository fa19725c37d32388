// Package publisher copies completed job results into durable object storage
// and links the resulting asset to the job.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"slidecast/internal/domain"
	"slidecast/internal/events"
	"slidecast/internal/infra"
	"slidecast/internal/metrics"
	"slidecast/internal/providers"
	"slidecast/internal/storage"
)

const sweepPage = 100

// Options tunes publishing. Zero values take the defaults.
type Options struct {
	Bucket        string
	MaxBytes      int64
	RetryAttempts int
	RetryBackoff  time.Duration
	FetchTimeout  time.Duration
}

type Deps struct {
	Jobs       domain.JobStore
	Assets     domain.AssetStore
	Store      storage.ObjectStore
	Staging    *storage.Staging
	Providers  *providers.Registry
	HTTPClient *http.Client
	Events     *events.Safe
	Logger     *infra.Logger
}

// Publisher is safe for concurrent use. Concurrent publishes of the same job
// share one execution.
type Publisher struct {
	jobs       domain.JobStore
	assets     domain.AssetStore
	store      storage.ObjectStore
	staging    *storage.Staging
	providers  *providers.Registry
	httpClient *http.Client
	events     *events.Safe
	logger     *infra.Logger
	opts       Options

	group   singleflight.Group
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

func New(deps Deps, opts Options) *Publisher {
	if opts.Bucket == "" {
		opts.Bucket = "slidecast-assets"
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Minute
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := deps.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		jobs:       deps.Jobs,
		assets:     deps.Assets,
		store:      deps.Store,
		staging:    deps.Staging,
		providers:  deps.Providers,
		httpClient: httpClient,
		events:     deps.Events,
		logger:     logger,
		opts:       opts,
		baseCtx:    ctx,
		stop:       cancel,
	}
}

// Publish stores the job's result and returns the linked asset ID. Calling it
// again after success returns the same asset without copying anything.
func (p *Publisher) Publish(ctx context.Context, jobID string) (string, error) {
	v, err, _ := p.group.Do(jobID, func() (any, error) {
		return p.publish(ctx, jobID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Publisher) publish(ctx context.Context, jobID string) (string, error) {
	fail := func(stage string, err error) (string, error) {
		metrics.Publishes.WithLabelValues("failed").Inc()
		return "", &domain.PublishError{JobID: jobID, Stage: stage, Err: err}
	}

	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return fail("load", err)
	}
	if job.State != domain.JobStateCompleted || domain.Deref(job.ResultRef) == "" {
		return fail("precondition", domain.ErrNotPublishable)
	}
	if job.AssetID != nil {
		if asset, err := p.assets.Get(ctx, *job.AssetID); err == nil && asset.UploadState == domain.UploadCompleted {
			metrics.Publishes.WithLabelValues("reused").Inc()
			return asset.ID, nil
		}
	}

	key := storage.ObjectKey(job.Provider, job.SubjectRef, job.ID, *job.ResultRef)
	existing, err := p.assets.GetByLocation(ctx, p.opts.Bucket, key)
	switch {
	case err == nil && existing.UploadState == domain.UploadCompleted:
		if ok, headErr := p.store.HeadObject(ctx, p.opts.Bucket, key); headErr == nil && ok {
			metrics.Publishes.WithLabelValues("reused").Inc()
			return p.link(ctx, job, existing)
		}
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return fail("load", err)
	}

	body, contentType, err := p.open(ctx, job)
	if err != nil {
		return fail("fetch", err)
	}
	staged, err := p.staging.Stage(ctx, body, p.opts.MaxBytes)
	body.Close()
	if err != nil {
		return fail("stage", err)
	}
	defer func() {
		if err := staged.Remove(); err != nil {
			p.logger.Warn().Err(err).Str("path", staged.Path).Msg("publisher: remove staging file")
		}
	}()

	contentType = resolveContentType(contentType, staged.Sniffed, key)
	asset, err := p.assets.Reserve(ctx, &domain.Asset{
		ID:          uuid.NewString(),
		Bucket:      p.opts.Bucket,
		Key:         key,
		ContentType: contentType,
		UploadState: domain.UploadUploading,
	})
	if err != nil {
		return fail("reserve", err)
	}
	if asset.UploadState == domain.UploadCompleted {
		if ok, headErr := p.store.HeadObject(ctx, p.opts.Bucket, key); headErr == nil && ok {
			return p.link(ctx, job, asset)
		}
		// The record outlived its object; write it again.
		p.logger.Warn().Str("asset_id", asset.ID).Str("key", key).Msg("publisher: completed asset has no object, re-uploading")
		if asset, err = p.assets.MarkUploading(ctx, asset.ID); err != nil {
			return fail("reserve", err)
		}
	}

	if err := p.upload(ctx, staged, key, contentType); err != nil {
		if markErr := p.assets.MarkFailed(ctx, asset.ID, err.Error()); markErr != nil {
			p.logger.Error().Err(markErr).Str("asset_id", asset.ID).Msg("publisher: mark asset failed")
		}
		return fail("upload", err)
	}
	asset, err = p.assets.MarkUploaded(ctx, asset.ID, domain.UploadResult{
		SizeBytes:   staged.Size,
		ContentType: contentType,
		Checksum:    staged.Checksum,
	})
	if err != nil {
		return fail("record", err)
	}
	metrics.PublishedBytes.Add(float64(staged.Size))
	metrics.Publishes.WithLabelValues("uploaded").Inc()
	p.logger.Info().
		Str("job_id", job.ID).
		Str("asset_id", asset.ID).
		Str("key", key).
		Int64("size", staged.Size).
		Msg("publisher: asset uploaded")
	return p.link(ctx, job, asset)
}

func (p *Publisher) upload(ctx context.Context, staged *storage.StagedFile, key, contentType string) error {
	f, err := staged.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	return p.store.PutObject(ctx, p.opts.Bucket, key, f, staged.Size, contentType)
}

func (p *Publisher) link(ctx context.Context, job *domain.GenerationJob, asset *domain.Asset) (string, error) {
	linked, err := p.jobs.LinkAsset(ctx, job.ID, asset.ID)
	if err != nil {
		metrics.Publishes.WithLabelValues("failed").Inc()
		return "", &domain.PublishError{JobID: job.ID, Stage: "link", Err: err}
	}
	ev := events.ForJob(events.AssetPublished, job)
	ev.AssetID = linked
	p.events.Emit(ctx, ev)
	return linked, nil
}

// open returns the result bytes, preferring the adapter's own opener.
func (p *Publisher) open(ctx context.Context, job *domain.GenerationJob) (io.ReadCloser, string, error) {
	ref := *job.ResultRef
	if adapter, err := p.providers.Get(job.Provider); err == nil {
		if opener, ok := adapter.(providers.ResultOpener); ok {
			return opener.OpenResult(ctx, ref)
		}
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return nil, "", fmt.Errorf("unsupported result ref %q", ref)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, ref, nil)
	if err != nil {
		cancel()
		return nil, "", err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Get("Content-Type"), nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func resolveContentType(header, sniffed, key string) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil && mt != "application/octet-stream" && !strings.HasPrefix(mt, "text/plain") {
		return mt
	}
	return storage.ContentTypeForKey(key)
}

// Trigger publishes jobID in the background, retrying with exponential
// backoff. A final failure is reported as an asset.publish_failed event.
func (p *Publisher) Trigger(jobID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		var err error
		backoff := p.opts.RetryBackoff
		for attempt := 1; attempt <= p.opts.RetryAttempts; attempt++ {
			var assetID string
			assetID, err = p.Publish(p.baseCtx, jobID)
			if err == nil {
				p.logger.Debug().Str("job_id", jobID).Str("asset_id", assetID).Msg("publisher: triggered publish done")
				return
			}
			if errors.Is(err, domain.ErrNotPublishable) || errors.Is(err, domain.ErrNotFound) || attempt == p.opts.RetryAttempts {
				break
			}
			p.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("publisher: retrying")
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-p.baseCtx.Done():
				return
			}
		}
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("publisher: giving up")
		ev := events.Event{
			ID:         uuid.NewString(),
			Type:       events.AssetPublishFailed,
			JobID:      jobID,
			Error:      err.Error(),
			OccurredAt: time.Now().UTC(),
		}
		if job, loadErr := p.jobs.Get(p.baseCtx, jobID); loadErr == nil {
			ev = events.ForJob(events.AssetPublishFailed, job)
			ev.Error = err.Error()
		}
		p.events.Emit(p.baseCtx, ev)
	}()
}

// Wait blocks until triggered publishes finish or ctx ends.
func (p *Publisher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown abandons pending retries and waits for in-flight work.
func (p *Publisher) Shutdown(ctx context.Context) error {
	p.stop()
	return p.Wait(ctx)
}

// Sweep publishes completed jobs without an asset whose completion falls
// within window. Jobs of providers not registered here are left to the
// process that serves them. It returns how many were published.
func (p *Publisher) Sweep(ctx context.Context, window time.Duration) (int, error) {
	jobs, err := p.jobs.ListUnpublished(ctx, time.Now().Add(-window), sweepPage)
	if err != nil {
		return 0, fmt.Errorf("publisher: list unpublished: %w", err)
	}
	published := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if _, err := p.providers.Get(job.Provider); err != nil {
			continue
		}
		if _, err := p.Publish(ctx, job.ID); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("publisher: sweep publish failed")
			continue
		}
		published++
	}
	return published, nil
}
