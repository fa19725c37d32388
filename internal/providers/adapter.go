// Package providers defines the contract every external generation service
// adapter satisfies and the shared plumbing adapters are built from.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"slidecast/internal/domain"
)

// ErrMissingAPIKey is returned by adapters configured without credentials.
var ErrMissingAPIKey = errors.New("providers: api key is required")

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("providers: invalid webhook signature")

// Request is what the submission coordinator hands to an adapter.
type Request struct {
	JobID       string
	SubjectRef  string
	Payload     json.RawMessage
	Locale      string
	CallbackURL string
}

// Status is a provider's answer normalized to the job state vocabulary.
type Status struct {
	State           domain.JobState
	ResultRef       string
	ProgressPercent *int
	ErrorMessage    string
	Native          string
}

// Adapter talks to one external generation service.
//
// Submit returns the provider's opaque job handle. GetStatus maps the
// provider's native status onto a JobState. Cancel reports whether the
// provider accepted the cancellation; providers without cancellation return
// false with a nil error.
//
// Errors are *domain.TransientProviderError or *domain.TerminalProviderError.
type Adapter interface {
	Type() domain.ProviderType
	Submit(ctx context.Context, req Request) (string, error)
	GetStatus(ctx context.Context, handle string) (Status, error)
	Cancel(ctx context.Context, handle string) (bool, error)
}

// NoCancel can be embedded by adapters whose provider has no cancel endpoint.
type NoCancel struct{}

func (NoCancel) Cancel(context.Context, string) (bool, error) { return false, nil }

// ResultOpener is implemented by adapters that serve result bytes themselves
// instead of exposing a downloadable URL.
type ResultOpener interface {
	OpenResult(ctx context.Context, resultRef string) (io.ReadCloser, string, error)
}

// WebhookEvent is a push notification decoded by an adapter.
type WebhookEvent struct {
	Handle string
	Status Status
}

// WebhookDecoder is implemented by adapters whose provider pushes status changes.
type WebhookDecoder interface {
	DecodeWebhook(header http.Header, body []byte) (WebhookEvent, error)
}
