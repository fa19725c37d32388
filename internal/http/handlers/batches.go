package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"slidecast/internal/batch"
	"slidecast/internal/domain"
	"slidecast/internal/middleware"
)

type runBatchRequest struct {
	Provider      string       `json:"provider"`
	Items         []batch.Item `json:"items"`
	MaxConcurrent int          `json:"max_concurrent"`
	SkipExisting  bool         `json:"skip_existing"`
}

type batchResponse struct {
	BatchID   string                `json:"batch_id"`
	Provider  domain.ProviderType   `json:"provider"`
	CreatedAt time.Time             `json:"created_at"`
	Done      bool                  `json:"done"`
	Progress  *batch.Progress       `json:"progress,omitempty"`
	Results   []batch.SubjectResult `json:"results,omitempty"`
}

func (a *App) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req runBatchRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	provider, err := domain.ParseProviderType(req.Provider)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported provider")
		return
	}
	if locale := middleware.LocaleFromContext(r.Context()); locale != "" {
		for i := range req.Items {
			if req.Items[i].Locale == "" {
				req.Items[i].Locale = locale
			}
		}
	}
	h, err := a.Batches.RunBatch(r.Context(), provider, req.Items, batch.Options{
		MaxConcurrent: req.MaxConcurrent,
		SkipExisting:  req.SkipExisting,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, batchResponse{
		BatchID:   h.ID,
		Provider:  h.Provider,
		CreatedAt: h.CreatedAt,
	})
}

func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	h, ok := a.Batches.Get(chi.URLParam(r, "batch_id"))
	if !ok {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	progress, err := a.Batches.Progress(r.Context(), h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	done := false
	select {
	case <-h.Done():
		done = true
	default:
	}
	a.json(w, http.StatusOK, batchResponse{
		BatchID:   h.ID,
		Provider:  h.Provider,
		CreatedAt: h.CreatedAt,
		Done:      done,
		Progress:  &progress,
		Results:   h.Results(),
	})
}
