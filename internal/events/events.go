// Package events publishes pipeline lifecycle notifications to a message bus.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slidecast/internal/domain"
)

// Type names a lifecycle event.
type Type string

const (
	JobSubmitted       Type = "job.submitted"
	JobStateChanged    Type = "job.state_changed"
	AssetPublished     Type = "asset.published"
	AssetPublishFailed Type = "asset.publish_failed"
)

// Event is the wire form of a lifecycle notification.
type Event struct {
	ID            string              `json:"id"`
	Type          Type                `json:"type"`
	JobID         string              `json:"job_id"`
	SubjectRef    string              `json:"subject_ref,omitempty"`
	Provider      domain.ProviderType `json:"provider,omitempty"`
	State         domain.JobState     `json:"state,omitempty"`
	PreviousState domain.JobState     `json:"previous_state,omitempty"`
	AssetID       string              `json:"asset_id,omitempty"`
	Error         string              `json:"error,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// ForJob builds an event describing job.
func ForJob(t Type, job *domain.GenerationJob) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
	if job != nil {
		ev.JobID = job.ID
		ev.SubjectRef = job.SubjectRef
		ev.Provider = job.Provider
		ev.State = job.State
		ev.AssetID = domain.Deref(job.AssetID)
		ev.Error = domain.Deref(job.ErrorMessage)
	}
	return ev
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
