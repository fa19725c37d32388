package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecast/internal/adapter/memstore"
	"slidecast/internal/batch"
	"slidecast/internal/domain"
	"slidecast/internal/monitor"
	"slidecast/internal/presign"
	"slidecast/internal/providers"
	"slidecast/internal/providers/providertest"
	"slidecast/internal/publisher"
	"slidecast/internal/storage"
	"slidecast/internal/submission"
)

const scenarioBucket = "slidecast-assets"

// pipeline is the full submit -> monitor -> publish -> presign chain over
// in-memory stores, local storage and a scripted provider.
type pipeline struct {
	jobs        *memstore.Jobs
	assets      *memstore.Assets
	files       *storage.FileStore
	adapter     *providertest.Adapter
	monitor     *monitor.Monitor
	publisher   *publisher.Publisher
	presign     *presign.Manager
	coordinator *submission.Coordinator
	batches     *batch.Orchestrator
}

func newPipeline(t *testing.T, script ...providertest.Step) *pipeline {
	t.Helper()
	assets := memstore.NewAssets()
	jobs := memstore.NewJobs(assets)
	files, err := storage.NewFileStore(t.TempDir(), "http://api.local", "secret")
	require.NoError(t, err)
	staging, err := storage.NewStaging(t.TempDir())
	require.NoError(t, err)

	adapter := providertest.New(domain.ProviderRender, script...)
	registry := providers.NewRegistry(adapter)

	mon := monitor.New(monitor.Deps{Jobs: jobs, Providers: registry}, monitor.Options{
		InitialDelay: time.Millisecond,
		Interval:     5 * time.Millisecond,
		MaxDuration:  5 * time.Second,
		CallTimeout:  time.Second,
	})
	pub := publisher.New(publisher.Deps{
		Jobs:      jobs,
		Assets:    assets,
		Store:     files,
		Staging:   staging,
		Providers: registry,
	}, publisher.Options{Bucket: scenarioBucket, RetryBackoff: time.Millisecond})
	mon.SetCompletion(pub)

	coord := submission.New(submission.Deps{
		Jobs:      jobs,
		Assets:    assets,
		Providers: registry,
		Monitor:   mon,
	}, submission.Options{SubmitTimeout: time.Second})

	p := &pipeline{
		jobs:        jobs,
		assets:      assets,
		files:       files,
		adapter:     adapter,
		monitor:     mon,
		publisher:   pub,
		presign:     presign.New(memstore.NewGrants(), assets, files, nil, presign.Options{TTL: 24 * time.Hour, MinValidity: 30 * time.Minute}),
		coordinator: coord,
		batches:     batch.New(coord, jobs, nil, 5),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mon.Shutdown(ctx)
		_ = pub.Shutdown(ctx)
	})
	return p
}

func (p *pipeline) waitJob(t *testing.T, id string, done func(*domain.GenerationJob) bool) *domain.GenerationJob {
	t.Helper()
	var job *domain.GenerationJob
	require.Eventually(t, func() bool {
		var err error
		job, err = p.jobs.Get(context.Background(), id)
		return err == nil && done(job)
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

func TestScenarioCompletedJobIsPublishedAndServed(t *testing.T) {
	const resultRef = "mem://render/r1.mp4"
	const resultBytes = "rendered slide deck"
	p := newPipeline(t, providertest.Processing(), providertest.Processing(), providertest.Completed(resultRef))
	p.adapter.SetResult(resultRef, resultBytes)
	ctx := context.Background()

	job, err := p.coordinator.Submit(ctx, submission.Request{
		SubjectRef: "Deck Überblick",
		Provider:   domain.ProviderRender,
		Payload:    json.RawMessage(`{"timeline":{"tracks":[]}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateProcessing, job.State)

	job = p.waitJob(t, job.ID, func(j *domain.GenerationJob) bool { return j.AssetID != nil })
	assert.Equal(t, domain.JobStateCompleted, job.State)
	require.NotNil(t, job.ResultRef)
	assert.Equal(t, resultRef, *job.ResultRef)
	assert.Equal(t, 3, p.adapter.Polls(job.ProviderJobHandle))

	hist, err := p.jobs.History(ctx, job.ID)
	require.NoError(t, err)
	var states []domain.JobState
	for _, h := range hist {
		states = append(states, h.To)
	}
	assert.Equal(t, []domain.JobState{domain.JobStatePending, domain.JobStateProcessing, domain.JobStateCompleted}, states)

	asset, err := p.assets.Get(ctx, *job.AssetID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadCompleted, asset.UploadState)
	assert.EqualValues(t, len(resultBytes), asset.SizeBytes)

	f, err := p.files.Open(asset.Bucket, asset.Key)
	require.NoError(t, err)
	stored, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, resultBytes, string(stored))

	grant, err := p.presign.GetURL(ctx, asset.ID, domain.PurposeDownload, 0)
	require.NoError(t, err)
	again, err := p.presign.GetURL(ctx, asset.ID, domain.PurposeDownload, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, grant.URL, again.URL, "fresh grant is reused")

	assetID, err := p.publisher.Publish(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, assetID, "publishing again returns the same asset")
}

func TestScenarioProviderFailureLeavesNoAsset(t *testing.T) {
	p := newPipeline(t, providertest.Processing(), providertest.Failed("quota exceeded"))
	ctx := context.Background()

	job, err := p.coordinator.Submit(ctx, submission.Request{
		SubjectRef: "deck-quota",
		Provider:   domain.ProviderRender,
		Payload:    json.RawMessage(`{"timeline":{}}`),
	})
	require.NoError(t, err)

	job = p.waitJob(t, job.ID, func(j *domain.GenerationJob) bool { return j.State.IsTerminal() })
	assert.Equal(t, domain.JobStateFailed, job.State)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "quota exceeded", *job.ErrorMessage)
	assert.Nil(t, job.AssetID)

	_, err = p.publisher.Publish(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotPublishable)
	assert.Zero(t, p.adapter.Opens(), "failed jobs never fetch results")
	assert.Eventually(t, func() bool { return !p.monitor.Active(job.ID) }, time.Second, 5*time.Millisecond)
}

func TestScenarioBatchBoundsConcurrencyAndSkipsPublished(t *testing.T) {
	p := newPipeline(t)
	p.adapter.SubmitDelay = 20 * time.Millisecond
	ctx := context.Background()

	for i, subject := range []string{"slide-2", "slide-7"} {
		id := fmt.Sprintf("prior-%d", i)
		now := time.Now().UTC()
		require.NoError(t, p.jobs.Create(ctx, &domain.GenerationJob{
			ID: id, SubjectRef: subject, Provider: domain.ProviderRender, ProviderJobHandle: "prior-" + subject,
			State: domain.JobStateProcessing, RequestPayload: json.RawMessage(`{}`), StartedAt: &now,
		}))
		_, err := p.jobs.Transition(ctx, id, domain.StateChange{From: domain.JobStateProcessing, To: domain.JobStateCompleted, ResultRef: "mem://x", At: now})
		require.NoError(t, err)
		assetID := "asset-" + subject
		_, err = p.assets.Reserve(ctx, &domain.Asset{ID: assetID, Bucket: scenarioBucket, Key: "prior/" + subject})
		require.NoError(t, err)
		_, err = p.assets.MarkUploaded(ctx, assetID, domain.UploadResult{SizeBytes: 1})
		require.NoError(t, err)
		_, err = p.jobs.LinkAsset(ctx, id, assetID)
		require.NoError(t, err)
	}

	items := make([]batch.Item, 10)
	for i := range items {
		items[i] = batch.Item{SubjectRef: fmt.Sprintf("slide-%d", i), Payload: json.RawMessage(`{"timeline":{}}`)}
	}
	h, err := p.batches.RunBatch(ctx, domain.ProviderRender, items, batch.Options{MaxConcurrent: 3, SkipExisting: true})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(waitCtx))

	assert.LessOrEqual(t, p.adapter.MaxInFlight(), 3)
	assert.Len(t, p.adapter.Submits(), 8)

	skipped := 0
	for _, r := range h.Results() {
		switch r.SubjectRef {
		case "slide-2", "slide-7":
			assert.Equal(t, batch.StatusSkipped, r.Status)
			skipped++
		default:
			assert.Equal(t, batch.StatusSubmitted, r.Status, r.SubjectRef)
			assert.NotEmpty(t, r.JobID)
		}
	}
	assert.Equal(t, 2, skipped)

	progress, err := p.batches.Progress(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, batch.Progress{Total: 10, Skipped: 2, InProgress: 8}, progress)
}
