package domain

import (
	"context"
	"time"
)

// JobStore persists generation jobs and their state history.
type JobStore interface {
	Create(ctx context.Context, job *GenerationJob) error
	Get(ctx context.Context, jobID string) (*GenerationJob, error)
	GetByHandle(ctx context.Context, provider ProviderType, handle string) (*GenerationJob, error)
	// Transition applies change only if the job is still in change.From.
	// It returns ErrStaleState otherwise and ErrNotFound for unknown jobs.
	Transition(ctx context.Context, jobID string, change StateChange) (*GenerationJob, error)
	RecordPoll(ctx context.Context, jobID string, progress *int, at time.Time) error
	// LinkAsset sets the job's asset once and returns whichever asset ends up linked.
	LinkAsset(ctx context.Context, jobID, assetID string) (string, error)
	History(ctx context.Context, jobID string) ([]Transition, error)
	ListByState(ctx context.Context, state JobState, limit int) ([]GenerationJob, error)
	ListUnpublished(ctx context.Context, completedAfter time.Time, limit int) ([]GenerationJob, error)
	HasPublishedAsset(ctx context.Context, subjectRef string, provider ProviderType) (bool, error)
}

// AssetStore persists asset records.
type AssetStore interface {
	Get(ctx context.Context, assetID string) (*Asset, error)
	GetByLocation(ctx context.Context, bucket, key string) (*Asset, error)
	// Reserve inserts asset unless one exists at the same bucket/key, in which
	// case the existing record is returned (moved back to UPLOADING unless completed).
	Reserve(ctx context.Context, asset *Asset) (*Asset, error)
	MarkUploaded(ctx context.Context, assetID string, result UploadResult) (*Asset, error)
	// MarkUploading moves any record, completed ones included, back to
	// UPLOADING so its object can be written again.
	MarkUploading(ctx context.Context, assetID string) (*Asset, error)
	MarkFailed(ctx context.Context, assetID string, reason string) error
}

// GrantStore persists presigned URL grants.
type GrantStore interface {
	Active(ctx context.Context, assetID string, purpose GrantPurpose) (*PresignedURLGrant, error)
	// Rotate returns the active grant if it is still valid at validUntil.
	// Otherwise it deactivates prior grants and stores candidate, atomically.
	// The boolean reports whether candidate was stored.
	Rotate(ctx context.Context, candidate *PresignedURLGrant, validUntil time.Time) (*PresignedURLGrant, bool, error)
	Touch(ctx context.Context, grantID string) error
}
