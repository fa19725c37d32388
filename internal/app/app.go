// Package app wires configuration into the running pipeline. The api and
// worker binaries share it so both see the same stores and providers.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"slidecast/internal/adapter/memstore"
	"slidecast/internal/adapter/repo"
	"slidecast/internal/batch"
	"slidecast/internal/domain"
	"slidecast/internal/events"
	"slidecast/internal/http/handlers"
	"slidecast/internal/infra"
	"slidecast/internal/infra/credentials"
	"slidecast/internal/monitor"
	"slidecast/internal/presign"
	"slidecast/internal/providers"
	"slidecast/internal/providers/avatar"
	"slidecast/internal/providers/render"
	"slidecast/internal/providers/speech"
	"slidecast/internal/publisher"
	"slidecast/internal/storage"
	"slidecast/internal/submission"
)

// Role selects which providers a process serves. Speech results live in the
// memory of the process that synthesized them, so only the api serves it.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// Components is the assembled pipeline.
type Components struct {
	Config *infra.Config
	Logger infra.Logger

	Jobs   domain.JobStore
	Assets domain.AssetStore
	Grants domain.GrantStore

	Objects storage.ObjectStore
	Files   *storage.FileStore

	Providers   *providers.Registry
	Events      *events.Safe
	Monitor     *monitor.Monitor
	Publisher   *publisher.Publisher
	Presign     *presign.Manager
	Coordinator *submission.Coordinator
	Batches     *batch.Orchestrator

	closers []func()
}

// Build connects every backend named by cfg. Call Close when done, even
// after a failed Build.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger, role Role) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}

	var runner infra.SQLExecutor
	var lease monitor.Lease
	switch cfg.StoreBackend {
	case "memory":
		assets := memstore.NewAssets()
		c.Assets = assets
		c.Jobs = memstore.NewJobs(assets)
		c.Grants = memstore.NewGrants()
		lease = memstore.NewLeases()
		logger.Warn().Msg("app: using in-memory stores, state is lost on restart")
	default:
		if cfg.MigrateOnStart {
			if err := migrateUp(cfg.DatabaseURL, logger); err != nil {
				return c, err
			}
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return c, err
		}
		c.closers = append(c.closers, pool.Close)
		sqlRunner := infra.NewSQLRunner(pool, logger)
		runner = sqlRunner
		c.Jobs = repo.NewJobRepository(sqlRunner)
		c.Assets = repo.NewAssetRepository(sqlRunner)
		c.Grants = repo.NewGrantRepository(sqlRunner)
		lease = repo.NewLeaseRepository(sqlRunner)
	}

	if err := c.buildStorage(ctx); err != nil {
		return c, err
	}
	staging, err := storage.NewStaging(cfg.StagingDir)
	if err != nil {
		return c, err
	}

	pub, err := events.FromConfig(cfg)
	if err != nil {
		return c, err
	}
	c.closers = append(c.closers, func() { _ = pub.Close() })
	c.Events = events.NewSafe(pub, &c.Logger)

	registry, err := c.buildProviders(ctx, runner, role)
	if err != nil {
		return c, err
	}
	c.Providers = registry

	// Redis, when configured, takes monitor leases off the database.
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return c, err
		}
		c.closers = append(c.closers, func() { _ = client.Close() })
		lease = newLease(client)
	}

	c.Monitor = monitor.New(monitor.Deps{
		Jobs:      c.Jobs,
		Providers: registry,
		Lease:     lease,
		Events:    c.Events,
		Logger:    &c.Logger,
	}, monitor.Options{
		InitialDelay:       cfg.MonitorInitialDelay,
		Interval:           cfg.MonitorPollInterval,
		MaxDuration:        cfg.MonitorMaxDuration,
		CallTimeout:        cfg.MonitorCallTimeout,
		MaxConcurrentPolls: cfg.MonitorMaxConcurrentPolls,
	})
	c.Publisher = publisher.New(publisher.Deps{
		Jobs:       c.Jobs,
		Assets:     c.Assets,
		Store:      c.Objects,
		Staging:    staging,
		Providers:  registry,
		HTTPClient: &http.Client{},
		Events:     c.Events,
		Logger:     &c.Logger,
	}, publisher.Options{
		Bucket:        cfg.StorageBucket,
		MaxBytes:      cfg.PublishMaxBytes,
		RetryAttempts: cfg.PublishRetryAttempts,
		RetryBackoff:  cfg.PublishRetryBackoff,
	})
	c.Monitor.SetCompletion(c.Publisher)
	c.Presign = presign.New(c.Grants, c.Assets, c.Objects, &c.Logger, presign.Options{
		TTL:         cfg.PresignTTL,
		MinValidity: cfg.PresignMinValidity,
	})
	c.Coordinator = submission.New(submission.Deps{
		Jobs:      c.Jobs,
		Assets:    c.Assets,
		Providers: registry,
		Monitor:   c.Monitor,
		Events:    c.Events,
		Logger:    &c.Logger,
	}, submission.Options{
		SubmitTimeout:   cfg.SubmitTimeout,
		CallbackBaseURL: cfg.PublicBaseURL,
	})
	c.Batches = batch.New(c.Coordinator, c.Jobs, &c.Logger, cfg.BatchMaxConcurrent)
	return c, nil
}

func (c *Components) buildStorage(ctx context.Context) error {
	cfg := c.Config
	switch cfg.StorageBackend {
	case "minio":
		store, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx, cfg.StorageBucket); err != nil {
			return err
		}
		c.Objects = store
	default:
		dir := cfg.StorageDir
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		files, err := storage.NewFileStore(dir, cfg.PublicBaseURL, cfg.StorageSigningKey)
		if err != nil {
			return err
		}
		c.Files = files
		c.Objects = files
	}
	return nil
}

// buildProviders resolves API keys from the credentials table first and
// the environment second.
func (c *Components) buildProviders(ctx context.Context, runner infra.SQLExecutor, role Role) (*providers.Registry, error) {
	cfg := c.Config
	creds := credentials.NewStore(runner, map[domain.ProviderType]string{
		domain.ProviderAvatar: cfg.AvatarAPIKey,
		domain.ProviderRender: cfg.RenderAPIKey,
		domain.ProviderSpeech: cfg.OpenAIAPIKey,
	})
	key := func(p domain.ProviderType) (string, error) {
		k, err := creds.APIKey(ctx, p)
		if err != nil {
			return "", fmt.Errorf("app: load %s api key: %w", p, err)
		}
		if k == "" {
			c.Logger.Warn().Str("provider", string(p)).Msg("app: provider api key missing, submissions will be rejected")
		}
		return k, nil
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	avatarKey, err := key(domain.ProviderAvatar)
	if err != nil {
		return nil, err
	}
	renderKey, err := key(domain.ProviderRender)
	if err != nil {
		return nil, err
	}
	adapters := []providers.Adapter{
		avatar.New(avatar.Options{
			APIKey:        avatarKey,
			BaseURL:       cfg.AvatarBaseURL,
			WebhookSecret: cfg.AvatarWebhookSecret,
			HTTPClient:    httpClient,
			RatePerSecond: cfg.ProviderRatePerSecond,
			Logger:        &c.Logger,
		}),
		render.New(render.Options{
			APIKey:        renderKey,
			BaseURL:       cfg.RenderBaseURL,
			HTTPClient:    httpClient,
			RatePerSecond: cfg.ProviderRatePerSecond,
			Logger:        &c.Logger,
		}),
	}
	if role == RoleAPI {
		speechKey, err := key(domain.ProviderSpeech)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, speech.New(speech.Options{
			APIKey:        speechKey,
			BaseURL:       cfg.OpenAIBaseURL,
			Model:         cfg.SpeechModel,
			Voice:         cfg.SpeechVoice,
			RatePerSecond: cfg.ProviderRatePerSecond,
			Logger:        &c.Logger,
		}))
	}
	return providers.NewRegistry(adapters...), nil
}

func newLease(client *redis.Client) monitor.Lease {
	return monitor.NewRedisLease(client, "slidecast:monitor:")
}

// migrateUp applies the embedded migrations over a lib/pq connection.
func migrateUp(databaseURL string, logger infra.Logger) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("app: open migration connection: %w", err)
	}
	defer db.Close()
	return infra.NewMigrator(db, logger).Up()
}

// Handlers returns the HTTP handler set backed by c.
func (c *Components) Handlers() *handlers.App {
	return &handlers.App{
		Jobs:        c.Jobs,
		Coordinator: c.Coordinator,
		Monitor:     c.Monitor,
		Publisher:   c.Publisher,
		Presign:     c.Presign,
		Batches:     c.Batches,
		Providers:   c.Providers,
		Files:       c.Files,
		Logger:      &c.Logger,
	}
}

// Shutdown stops monitors and in-flight publishes, then closes backends.
func (c *Components) Shutdown(ctx context.Context) {
	if c.Monitor != nil {
		if err := c.Monitor.Shutdown(ctx); err != nil {
			c.Logger.Warn().Err(err).Msg("app: monitor shutdown incomplete")
		}
	}
	if c.Publisher != nil {
		if err := c.Publisher.Shutdown(ctx); err != nil {
			c.Logger.Warn().Err(err).Msg("app: publisher shutdown incomplete")
		}
	}
	c.Close()
}

// Close releases backends in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
