//go:build integration

package repo

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/infra/credentials"
)

// startPostgres boots a migrated database and returns a runner over it.
func startPostgres(t *testing.T) *infra.SQLRunner {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("slidecast_test"),
		postgres.WithUsername("slidecast"),
		postgres.WithPassword("slidecast"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, infra.NewMigrator(db, zerolog.Nop()).Up())
	require.NoError(t, db.Close())

	pool, err := infra.NewDBPool(ctx, &infra.Config{DatabaseURL: dsn, DBMaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return infra.NewSQLRunner(pool, zerolog.Nop())
}

func processingJob(subject string) *domain.GenerationJob {
	now := time.Now().UTC()
	return &domain.GenerationJob{
		ID:                uuid.NewString(),
		SubjectRef:        subject,
		Provider:          domain.ProviderRender,
		ProviderJobHandle: "render-" + uuid.NewString(),
		State:             domain.JobStateProcessing,
		RequestPayload:    []byte(`{"timeline":{}}`),
		StartedAt:         &now,
	}
}

func TestPostgresStores(t *testing.T) {
	runner := startPostgres(t)
	jobs := NewJobRepository(runner)
	assets := NewAssetRepository(runner)
	grants := NewGrantRepository(runner)
	ctx := context.Background()

	t.Run("create and lookup", func(t *testing.T) {
		job := processingJob("slide-1")
		require.NoError(t, jobs.Create(ctx, job))

		got, err := jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateProcessing, got.State)
		assert.JSONEq(t, `{"timeline":{}}`, string(got.RequestPayload))

		byHandle, err := jobs.GetByHandle(ctx, domain.ProviderRender, job.ProviderJobHandle)
		require.NoError(t, err)
		assert.Equal(t, job.ID, byHandle.ID)

		hist, err := jobs.History(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Nil(t, hist[0].From)
		assert.Equal(t, domain.JobStateProcessing, hist[1].To)

		_, err = jobs.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("transition is compare and set", func(t *testing.T) {
		job := processingJob("slide-2")
		require.NoError(t, jobs.Create(ctx, job))

		targets := []domain.JobState{domain.JobStateCompleted, domain.JobStateFailed, domain.JobStateCancelled}
		var (
			mu   sync.Mutex
			wins int
			wg   sync.WaitGroup
		)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(to domain.JobState) {
				defer wg.Done()
				_, err := jobs.Transition(ctx, job.ID, domain.StateChange{
					From: domain.JobStateProcessing, To: to, ResultRef: "https://cdn/r.mp4", ErrorMessage: "boom",
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, domain.ErrStaleState)
			}(targets[i%len(targets)])
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		hist, err := jobs.History(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, hist, 3)
		assert.True(t, hist[2].To.IsTerminal())

		got, err := jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("record poll keeps state", func(t *testing.T) {
		job := processingJob("slide-3")
		require.NoError(t, jobs.Create(ctx, job))

		progress := 40
		require.NoError(t, jobs.RecordPoll(ctx, job.ID, &progress, time.Now().UTC()))
		require.NoError(t, jobs.RecordPoll(ctx, job.ID, nil, time.Now().UTC()))

		got, err := jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.PollCount)
		require.NotNil(t, got.ProgressPercent)
		assert.Equal(t, 40, *got.ProgressPercent)
		assert.Equal(t, domain.JobStateProcessing, got.State)
	})

	t.Run("publish bookkeeping", func(t *testing.T) {
		job := processingJob("slide-4")
		require.NoError(t, jobs.Create(ctx, job))

		asset, err := assets.Reserve(ctx, &domain.Asset{
			ID: uuid.NewString(), Bucket: "slidecast-assets", Key: "render/" + job.ID + ".mp4", ContentType: "video/mp4",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.UploadUploading, asset.UploadState)

		again, err := assets.Reserve(ctx, &domain.Asset{
			ID: uuid.NewString(), Bucket: asset.Bucket, Key: asset.Key, ContentType: "video/mp4",
		})
		require.NoError(t, err)
		assert.Equal(t, asset.ID, again.ID, "same location reuses the reserved asset")

		_, err = jobs.LinkAsset(ctx, job.ID, asset.ID)
		assert.ErrorIs(t, err, domain.ErrNotPublishable, "processing jobs cannot be linked")

		_, err = jobs.Transition(ctx, job.ID, domain.StateChange{
			From: domain.JobStateProcessing, To: domain.JobStateCompleted, ResultRef: "https://cdn/r.mp4",
		})
		require.NoError(t, err)

		unpublished, err := jobs.ListUnpublished(ctx, time.Now().Add(-time.Hour), 100)
		require.NoError(t, err)
		assert.True(t, containsJob(unpublished, job.ID))

		linked, err := jobs.LinkAsset(ctx, job.ID, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, asset.ID, linked)
		linked, err = jobs.LinkAsset(ctx, job.ID, uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, asset.ID, linked, "first link wins")

		has, err := jobs.HasPublishedAsset(ctx, "slide-4", domain.ProviderRender)
		require.NoError(t, err)
		assert.False(t, has, "asset still uploading")

		uploaded, err := assets.MarkUploaded(ctx, asset.ID, domain.UploadResult{SizeBytes: 2048, ContentType: "video/mp4", Checksum: "abc"})
		require.NoError(t, err)
		assert.Equal(t, domain.UploadCompleted, uploaded.UploadState)
		assert.EqualValues(t, 2048, uploaded.SizeBytes)

		has, err = jobs.HasPublishedAsset(ctx, "slide-4", domain.ProviderRender)
		require.NoError(t, err)
		assert.True(t, has)

		byLoc, err := assets.GetByLocation(ctx, asset.Bucket, asset.Key)
		require.NoError(t, err)
		assert.Equal(t, asset.ID, byLoc.ID)
	})

	t.Run("grant rotation", func(t *testing.T) {
		asset, err := assets.Reserve(ctx, &domain.Asset{
			ID: uuid.NewString(), Bucket: "slidecast-assets", Key: "avatar/" + uuid.NewString() + ".mp4", ContentType: "video/mp4",
		})
		require.NoError(t, err)

		_, err = grants.Active(ctx, asset.ID, domain.PurposeDownload)
		require.ErrorIs(t, err, domain.ErrNotFound)

		now := time.Now().UTC()
		first, rotated, err := grants.Rotate(ctx, &domain.PresignedURLGrant{
			ID: uuid.NewString(), AssetID: asset.ID, Purpose: domain.PurposeDownload,
			URL: "https://files/1", ExpiresAt: now.Add(24 * time.Hour),
		}, now.Add(30*time.Minute))
		require.NoError(t, err)
		assert.True(t, rotated)

		same, rotated, err := grants.Rotate(ctx, &domain.PresignedURLGrant{
			ID: uuid.NewString(), AssetID: asset.ID, Purpose: domain.PurposeDownload,
			URL: "https://files/2", ExpiresAt: now.Add(24 * time.Hour),
		}, now.Add(30*time.Minute))
		require.NoError(t, err)
		assert.False(t, rotated, "valid grant is kept")
		assert.Equal(t, first.ID, same.ID)

		replaced, rotated, err := grants.Rotate(ctx, &domain.PresignedURLGrant{
			ID: uuid.NewString(), AssetID: asset.ID, Purpose: domain.PurposeDownload,
			URL: "https://files/3", ExpiresAt: now.Add(48 * time.Hour),
		}, now.Add(25*time.Hour))
		require.NoError(t, err)
		assert.True(t, rotated, "grant expiring inside the window is replaced")
		assert.Equal(t, "https://files/3", replaced.URL)

		active, err := grants.Active(ctx, asset.ID, domain.PurposeDownload)
		require.NoError(t, err)
		assert.Equal(t, replaced.ID, active.ID)
		require.NoError(t, grants.Touch(ctx, active.ID))
	})

	t.Run("monitor lease", func(t *testing.T) {
		leases := NewLeaseRepository(runner)
		job := processingJob("slide-lease")
		require.NoError(t, jobs.Create(ctx, job))

		token, ok, err := leases.Acquire(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = leases.Acquire(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "second holder is refused")

		require.NoError(t, leases.Release(ctx, job.ID, uuid.NewString()))
		_, ok, err = leases.Acquire(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "foreign token leaves the lease")

		require.NoError(t, leases.Release(ctx, job.ID, token))
		short, ok, err := leases.Acquire(ctx, job.ID, 200*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEqual(t, token, short)

		require.Eventually(t, func() bool {
			_, ok, err := leases.Acquire(ctx, job.ID, time.Minute)
			return err == nil && ok
		}, 5*time.Second, 100*time.Millisecond, "expired lease is taken over")
	})

	t.Run("malformed ids read as missing", func(t *testing.T) {
		_, err := jobs.Get(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = assets.Get(ctx, "42")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = grants.Active(ctx, "../etc", domain.PurposeDownload)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("credentials round trip", func(t *testing.T) {
		store := credentials.NewStore(runner, map[domain.ProviderType]string{domain.ProviderAvatar: "env-key"})

		key, err := store.APIKey(ctx, domain.ProviderAvatar)
		require.NoError(t, err)
		assert.Equal(t, "env-key", key)

		require.NoError(t, store.SetAPIKey(ctx, domain.ProviderAvatar, "db-key", map[string]any{"note": "rotated"}))
		key, err = store.APIKey(ctx, domain.ProviderAvatar)
		require.NoError(t, err)
		assert.Equal(t, "db-key", key)
	})
}

func containsJob(jobs []domain.GenerationJob, id string) bool {
	for _, j := range jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}
