package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"slidecast/internal/domain"
	"slidecast/internal/providers"
)

const maxWebhookBody = 1 << 20

// Webhook feeds a provider push notification through the same state
// rules as polling. Unknown handles are acknowledged so the provider stops
// retrying.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	provider, err := domain.ParseProviderType(chi.URLParam(r, "provider"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}
	adapter, err := a.Providers.Get(provider)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "provider not configured")
		return
	}
	decoder, ok := adapter.(providers.WebhookDecoder)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "provider does not send webhooks")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	ev, err := decoder.DecodeWebhook(r.Header, body)
	if errors.Is(err, providers.ErrInvalidSignature) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	logger := a.log().With().Str("provider", string(provider)).Str("handle", ev.Handle).Logger()
	job, err := a.Jobs.GetByHandle(r.Context(), provider, ev.Handle)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Msg("http: webhook for unknown job")
		a.json(w, http.StatusOK, map[string]any{"applied": false})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	applied, err := a.Monitor.Apply(r.Context(), job, ev.Status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	logger.Info().Str("job_id", job.ID).Str("state", string(ev.Status.State)).Bool("applied", applied).Msg("http: webhook received")
	a.json(w, http.StatusOK, map[string]any{"job_id": job.ID, "applied": applied})
}
