package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProviderType enumerates the external generation services a job can target.
type ProviderType string

const (
	ProviderAvatar ProviderType = "avatar"
	ProviderRender ProviderType = "render"
	ProviderSpeech ProviderType = "speech"
)

// ParseProviderType normalizes a provider name coming from configuration or requests.
func ParseProviderType(raw string) (ProviderType, error) {
	p := ProviderType(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case ProviderAvatar, ProviderRender, ProviderSpeech:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
}

// JobState enumerates generation job lifecycle states.
type JobState string

const (
	JobStatePending    JobState = "PENDING"
	JobStateProcessing JobState = "PROCESSING"
	JobStateCompleted  JobState = "COMPLETED"
	JobStateFailed     JobState = "FAILED"
	JobStateCancelled  JobState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateProcessing, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// Rank orders states along the transition graph. Terminal states share a rank.
func (s JobState) Rank() int {
	switch s {
	case JobStatePending:
		return 0
	case JobStateProcessing:
		return 1
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return 2
	}
	return -1
}

// CanTransition reports whether the graph allows moving from s to next.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStatePending:
		return next == JobStateProcessing
	case JobStateProcessing:
		return next == JobStateCompleted || next == JobStateFailed || next == JobStateCancelled
	}
	return false
}

// GenerationJob is one request to an external provider and its lifecycle.
type GenerationJob struct {
	ID                string          `db:"id" json:"id"`
	SubjectRef        string          `db:"subject_ref" json:"subject_ref"`
	Provider          ProviderType    `db:"provider" json:"provider"`
	ProviderJobHandle string          `db:"provider_job_handle" json:"provider_job_handle"`
	State             JobState        `db:"state" json:"state"`
	RequestPayload    json.RawMessage `db:"request_payload" json:"request_payload"`
	ResultRef         *string         `db:"result_ref" json:"result_ref,omitempty"`
	ErrorMessage      *string         `db:"error_message" json:"error_message,omitempty"`
	ProgressPercent   *int            `db:"progress_percent" json:"progress_percent,omitempty"`
	PollCount         int             `db:"poll_count" json:"poll_count"`
	LastPolledAt      *time.Time      `db:"last_polled_at" json:"last_polled_at,omitempty"`
	AssetID           *string         `db:"asset_id" json:"asset_id,omitempty"`
	StartedAt         *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers can't mutate stored state.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	c := *j
	c.RequestPayload = append(json.RawMessage(nil), j.RequestPayload...)
	c.ResultRef = cloneString(j.ResultRef)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.AssetID = cloneString(j.AssetID)
	if j.ProgressPercent != nil {
		v := *j.ProgressPercent
		c.ProgressPercent = &v
	}
	c.LastPolledAt = cloneTime(j.LastPolledAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

// StateChange is a compare-and-set request against a job's state.
type StateChange struct {
	From         JobState
	To           JobState
	ResultRef    string
	ErrorMessage string
	At           time.Time
}

// Validate checks the change against the transition graph.
func (c StateChange) Validate() error {
	if !c.From.CanTransition(c.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.From, c.To)
	}
	return nil
}

// Transition is one entry of a job's state history.
type Transition struct {
	JobID string    `db:"job_id" json:"-"`
	From  *JobState `db:"from_state" json:"from,omitempty"`
	To    JobState  `db:"to_state" json:"to"`
	At    time.Time `db:"occurred_at" json:"at"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
