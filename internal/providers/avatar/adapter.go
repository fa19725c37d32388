// Package avatar adapts the talking-avatar video service.
package avatar

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/providers"
)

const defaultBaseURL = "https://api.heygen.com"

var statuses = providers.StatusMap{
	"pending":    domain.JobStateProcessing,
	"waiting":    domain.JobStateProcessing,
	"processing": domain.JobStateProcessing,
	"completed":  domain.JobStateCompleted,
	"failed":     domain.JobStateFailed,
}

// Options configures the adapter.
type Options struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
	HTTPClient    *http.Client
	RatePerSecond int
	Logger        *infra.Logger
}

// Adapter submits avatar videos and polls their status. The service offers
// no cancellation.
type Adapter struct {
	providers.NoCancel
	client        *providers.JSONClient
	hasKey        bool
	webhookSecret []byte
}

func New(opts Options) *Adapter {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	key := strings.TrimSpace(opts.APIKey)
	return &Adapter{
		client: providers.NewJSONClient(providers.HTTPOptions{
			Provider:      domain.ProviderAvatar,
			BaseURL:       base,
			Headers:       map[string]string{"X-Api-Key": key},
			HTTPClient:    opts.HTTPClient,
			RatePerSecond: opts.RatePerSecond,
			Logger:        opts.Logger,
		}),
		hasKey:        key != "",
		webhookSecret: []byte(opts.WebhookSecret),
	}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderAvatar }

type generateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

// Submit forwards the payload untouched, adding the callback id so webhook
// deliveries can be correlated with the job.
func (a *Adapter) Submit(ctx context.Context, req providers.Request) (string, error) {
	if !a.hasKey {
		return "", &domain.TerminalProviderError{Provider: domain.ProviderAvatar, Op: "submit", Message: providers.ErrMissingAPIKey.Error(), Err: providers.ErrMissingAPIKey}
	}
	body := map[string]any{}
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return "", &domain.TerminalProviderError{Provider: domain.ProviderAvatar, Op: "submit", Message: "payload is not a json object", Err: err}
	}
	if _, ok := body["callback_id"]; !ok {
		body["callback_id"] = req.JobID
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}

	var out generateResponse
	if err := a.client.Do(ctx, "submit", http.MethodPost, "/v2/video/generate", body, &out); err != nil {
		return "", err
	}
	return providers.RequireHandle(domain.ProviderAvatar, out.Data.VideoID)
}

type statusResponse struct {
	Data struct {
		Status   string  `json:"status"`
		VideoURL string  `json:"video_url"`
		Progress float64 `json:"progress"`
		Error    *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	} `json:"data"`
}

func (a *Adapter) GetStatus(ctx context.Context, handle string) (providers.Status, error) {
	var out statusResponse
	path := "/v1/video_status.get?video_id=" + url.QueryEscape(handle)
	if err := a.client.Do(ctx, "status", http.MethodGet, path, nil, &out); err != nil {
		return providers.Status{}, err
	}
	st := providers.Status{
		Native:    out.Data.Status,
		State:     statuses.Resolve(out.Data.Status),
		ResultRef: out.Data.VideoURL,
	}
	if out.Data.Progress > 0 {
		st.ProgressPercent = providers.Progress(out.Data.Progress)
	}
	if e := out.Data.Error; e != nil {
		st.ErrorMessage = firstNonEmpty(e.Message, e.Detail, e.Code)
	}
	return st, nil
}

type webhookPayload struct {
	EventType string `json:"event_type"`
	EventData struct {
		VideoID string `json:"video_id"`
		URL     string `json:"url"`
		Msg     string `json:"msg"`
	} `json:"event_data"`
}

// DecodeWebhook verifies the Signature header (hex HMAC-SHA256 of the body)
// when a secret is configured.
func (a *Adapter) DecodeWebhook(header http.Header, body []byte) (providers.WebhookEvent, error) {
	if len(a.webhookSecret) > 0 {
		want := SignWebhook(string(a.webhookSecret), body)
		if !hmac.Equal([]byte(want), []byte(strings.TrimSpace(header.Get("Signature")))) {
			return providers.WebhookEvent{}, providers.ErrInvalidSignature
		}
	}
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return providers.WebhookEvent{}, fmt.Errorf("avatar: decode webhook: %w", err)
	}
	if p.EventData.VideoID == "" {
		return providers.WebhookEvent{}, fmt.Errorf("avatar: webhook without video_id")
	}
	ev := providers.WebhookEvent{Handle: p.EventData.VideoID, Status: providers.Status{Native: p.EventType}}
	switch p.EventType {
	case "avatar_video.success":
		ev.Status.State = domain.JobStateCompleted
		ev.Status.ResultRef = p.EventData.URL
	case "avatar_video.fail":
		ev.Status.State = domain.JobStateFailed
		ev.Status.ErrorMessage = p.EventData.Msg
	default:
		ev.Status.State = domain.JobStateProcessing
	}
	return ev, nil
}

// SignWebhook computes the Signature header value for body. Used by tests and
// local tooling that replays deliveries.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var (
	_ providers.Adapter        = (*Adapter)(nil)
	_ providers.WebhookDecoder = (*Adapter)(nil)
)
