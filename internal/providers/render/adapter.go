// Package render adapts the timeline rendering service that assembles the
// final narrated video.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/providers"
)

const defaultBaseURL = "https://api.shotstack.io/edit/v1"

var statuses = providers.StatusMap{
	"queued":    domain.JobStateProcessing,
	"fetching":  domain.JobStateProcessing,
	"rendering": domain.JobStateProcessing,
	"saving":    domain.JobStateProcessing,
	"done":      domain.JobStateCompleted,
	"failed":    domain.JobStateFailed,
	"cancelled": domain.JobStateCancelled,
}

// progress reported for each in-flight stage; the service exposes no percentage.
var stageProgress = map[string]int{
	"queued":    0,
	"fetching":  20,
	"rendering": 50,
	"saving":    90,
}

type Options struct {
	APIKey        string
	BaseURL       string
	HTTPClient    *http.Client
	RatePerSecond int
	Logger        *infra.Logger
}

type Adapter struct {
	client *providers.JSONClient
	hasKey bool
}

func New(opts Options) *Adapter {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	key := strings.TrimSpace(opts.APIKey)
	return &Adapter{
		client: providers.NewJSONClient(providers.HTTPOptions{
			Provider:      domain.ProviderRender,
			BaseURL:       base,
			Headers:       map[string]string{"x-api-key": key},
			HTTPClient:    opts.HTTPClient,
			RatePerSecond: opts.RatePerSecond,
			Logger:        opts.Logger,
		}),
		hasKey: key != "",
	}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderRender }

type envelope struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		URL    string `json:"url"`
		Error  string `json:"error"`
	} `json:"response"`
}

func (a *Adapter) Submit(ctx context.Context, req providers.Request) (string, error) {
	if !a.hasKey {
		return "", &domain.TerminalProviderError{Provider: domain.ProviderRender, Op: "submit", Message: providers.ErrMissingAPIKey.Error(), Err: providers.ErrMissingAPIKey}
	}
	body := map[string]any{}
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return "", &domain.TerminalProviderError{Provider: domain.ProviderRender, Op: "submit", Message: "payload is not a json object", Err: err}
	}
	if req.CallbackURL != "" {
		body["callback"] = req.CallbackURL
	}
	var out envelope
	if err := a.client.Do(ctx, "submit", http.MethodPost, "/render", body, &out); err != nil {
		return "", err
	}
	return providers.RequireHandle(domain.ProviderRender, out.Response.ID)
}

func (a *Adapter) GetStatus(ctx context.Context, handle string) (providers.Status, error) {
	var out envelope
	if err := a.client.Do(ctx, "status", http.MethodGet, "/render/"+url.PathEscape(handle), nil, &out); err != nil {
		return providers.Status{}, err
	}
	return toStatus(out.Response.Status, out.Response.URL, out.Response.Error), nil
}

// Cancel asks the service to abort a render. A 404 or 409 means the render
// can no longer be cancelled.
func (a *Adapter) Cancel(ctx context.Context, handle string) (bool, error) {
	err := a.client.Do(ctx, "cancel", http.MethodDelete, "/render/"+url.PathEscape(handle), nil, nil)
	if err == nil {
		return true, nil
	}
	var term *domain.TerminalProviderError
	if errors.As(err, &term) {
		return false, nil
	}
	return false, err
}

type webhookPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// DecodeWebhook parses a render callback. The service does not sign callbacks.
func (a *Adapter) DecodeWebhook(_ http.Header, body []byte) (providers.WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return providers.WebhookEvent{}, fmt.Errorf("render: decode webhook: %w", err)
	}
	if p.ID == "" {
		return providers.WebhookEvent{}, errors.New("render: webhook without id")
	}
	return providers.WebhookEvent{Handle: p.ID, Status: toStatus(p.Status, p.URL, p.Error)}, nil
}

func toStatus(native, resultURL, errMsg string) providers.Status {
	st := providers.Status{
		Native:       native,
		State:        statuses.Resolve(native),
		ResultRef:    resultURL,
		ErrorMessage: strings.TrimSpace(errMsg),
	}
	if p, ok := stageProgress[strings.ToLower(native)]; ok {
		st.ProgressPercent = &p
	}
	return st
}

var (
	_ providers.Adapter        = (*Adapter)(nil)
	_ providers.WebhookDecoder = (*Adapter)(nil)
)
