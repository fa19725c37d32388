package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"slidecast/internal/http/handlers"
	"slidecast/internal/infra"
	"slidecast/internal/metrics"
	"slidecast/internal/middleware"
)

type Options struct {
	Logger          infra.Logger
	RateLimitPerMin int
	CORSOrigins     []string
	DefaultLocale   string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Handle("/metrics", metrics.Handler())

	// Provider callbacks and signed file URLs carry their own credentials.
	r.Post("/v1/webhooks/{provider}", app.Webhook)
	r.Get("/files/{bucket}/*", app.DownloadFile)
	r.Head("/files/{bucket}/*", app.DownloadFile)
	r.Put("/files/{bucket}/*", app.UploadFile)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
			middleware.Locale(opts.DefaultLocale),
		)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.SubmitJob)
			r.Get("/{job_id}", app.GetJob)
			r.Post("/{job_id}/cancel", app.CancelJob)
			r.Post("/{job_id}/publish", app.PublishJob)
		})

		r.Route("/v1/batches", func(r chi.Router) {
			r.Post("/", app.RunBatch)
			r.Get("/{batch_id}", app.GetBatch)
		})

		r.Route("/v1/assets", func(r chi.Router) {
			r.Get("/{asset_id}/url", app.AssetURL)
			r.Post("/urls/stale", app.StaleURLs)
		})
	})

	return r
}
