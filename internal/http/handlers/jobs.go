package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"slidecast/internal/domain"
	"slidecast/internal/middleware"
	"slidecast/internal/submission"
)

type submitJobRequest struct {
	SubjectRef     string          `json:"subject_ref"`
	Provider       string          `json:"provider"`
	Payload        json.RawMessage `json:"payload"`
	RequiredAssets []string        `json:"required_assets"`
	Locale         string          `json:"locale"`
}

type jobResponse struct {
	JobID string          `json:"job_id"`
	State domain.JobState `json:"state"`
}

type jobDetail struct {
	*domain.GenerationJob
	History []domain.Transition `json:"history"`
}

func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	provider, err := domain.ParseProviderType(req.Provider)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported provider")
		return
	}
	if req.Locale == "" {
		req.Locale = middleware.LocaleFromContext(r.Context())
	}
	job, err := a.Coordinator.Submit(r.Context(), submission.Request{
		SubjectRef:     req.SubjectRef,
		Provider:       provider,
		Payload:        req.Payload,
		RequiredAssets: req.RequiredAssets,
		Locale:         req.Locale,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, State: job.State})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.Get(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	history, err := a.Jobs.History(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if history == nil {
		history = []domain.Transition{}
	}
	a.json(w, http.StatusOK, jobDetail{GenerationJob: job, History: history})
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Coordinator.Cancel(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, jobResponse{JobID: job.ID, State: job.State})
}

// PublishJob runs the publisher synchronously; a completed job whose
// background publish gave up can be retried this way.
func (a *App) PublishJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	assetID, err := a.Publisher.Publish(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "asset_id": assetID})
}
