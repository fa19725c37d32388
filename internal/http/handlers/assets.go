package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"slidecast/internal/domain"
)

const maxStaleLookup = 500

type assetURLResponse struct {
	AssetID   string              `json:"asset_id"`
	Purpose   domain.GrantPurpose `json:"purpose"`
	URL       string              `json:"url"`
	ExpiresAt time.Time           `json:"expires_at"`
}

func (a *App) AssetURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	purpose, err := domain.ParseGrantPurpose(q.Get("purpose"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	minValidity, err := parseValidity(q.Get("min_validity"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	grant, err := a.Presign.GetURL(r.Context(), chi.URLParam(r, "asset_id"), purpose, minValidity)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, assetURLResponse{
		AssetID:   grant.AssetID,
		Purpose:   grant.Purpose,
		URL:       grant.URL,
		ExpiresAt: grant.ExpiresAt,
	})
}

type staleRequest struct {
	AssetIDs    []string `json:"asset_ids"`
	Purpose     string   `json:"purpose"`
	MinValidity string   `json:"min_validity"`
}

// StaleURLs lists which of the given assets need a fresh URL.
func (a *App) StaleURLs(w http.ResponseWriter, r *http.Request) {
	var req staleRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(req.AssetIDs) > maxStaleLookup {
		a.error(w, http.StatusBadRequest, "bad_request", "too many asset_ids")
		return
	}
	purpose, err := domain.ParseGrantPurpose(req.Purpose)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	minValidity, err := parseValidity(req.MinValidity)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	stale, err := a.Presign.Stale(r.Context(), req.AssetIDs, purpose, minValidity)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if stale == nil {
		stale = []string{}
	}
	a.json(w, http.StatusOK, map[string][]string{"stale": stale})
}
