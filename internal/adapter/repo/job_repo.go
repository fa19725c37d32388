package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job store backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job and records its initial transitions.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	row := r.sql.QueryRow(ctx, sqlinline.QInsertGenerationJob,
		job.ID,
		job.SubjectRef,
		string(job.Provider),
		job.ProviderJobHandle,
		string(job.State),
		nullableBytes(job.RequestPayload),
		job.StartedAt,
		job.CreatedAt,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	id, err := rowID(jobID)
	if err != nil {
		return nil, err
	}
	var job domain.GenerationJob
	if err := pgxscan.Get(ctx, r.sql, &job, sqlinline.QSelectGenerationJob, id); err != nil {
		return nil, mapNotFound(err)
	}
	return &job, nil
}

// GetByHandle fetches a job by the provider-assigned handle.
func (r *JobRepositoryPG) GetByHandle(ctx context.Context, provider domain.ProviderType, handle string) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	if err := pgxscan.Get(ctx, r.sql, &job, sqlinline.QSelectGenerationJobByHandle, string(provider), handle); err != nil {
		return nil, mapNotFound(err)
	}
	return &job, nil
}

// Transition moves a job between states with compare-and-set on change.From.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, change domain.StateChange) (*domain.GenerationJob, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}
	id, err := rowID(jobID)
	if err != nil {
		return nil, err
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	var job domain.GenerationJob
	err = pgxscan.Get(ctx, r.sql, &job, sqlinline.QTransitionGenerationJob,
		id,
		string(change.From),
		string(change.To),
		change.ResultRef,
		change.ErrorMessage,
		change.At,
	)
	if err == nil {
		return &job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, err
	}
	// Nothing matched: either the job is gone or another writer moved it first.
	current, getErr := r.Get(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return current, fmt.Errorf("%w: job %s is %s", domain.ErrStaleState, jobID, current.State)
}

// RecordPoll stores monitoring bookkeeping; allowed in any state.
func (r *JobRepositoryPG) RecordPoll(ctx context.Context, jobID string, progress *int, at time.Time) error {
	id, err := rowID(jobID)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QRecordGenerationJobPoll, id, at, progress)
	return err
}

// LinkAsset sets the job's asset once and returns the linked asset id.
func (r *JobRepositoryPG) LinkAsset(ctx context.Context, jobID, assetID string) (string, error) {
	id, err := rowID(jobID)
	if err != nil {
		return "", err
	}
	asset, err := rowID(assetID)
	if err != nil {
		return "", err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QLinkGenerationJobAsset, id, asset)
	var linked *string
	if err := row.Scan(&linked); err != nil {
		return "", mapNotFound(err)
	}
	if linked != nil {
		return *linked, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return "", err
	}
	return "", domain.ErrNotPublishable
}

// History lists the job's state transitions in order.
func (r *JobRepositoryPG) History(ctx context.Context, jobID string) ([]domain.Transition, error) {
	id, err := rowID(jobID)
	if err != nil {
		return nil, err
	}
	var out []domain.Transition
	if err := pgxscan.Select(ctx, r.sql, &out, sqlinline.QSelectJobTransitions, id); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByState returns the oldest jobs in state.
func (r *JobRepositoryPG) ListByState(ctx context.Context, state domain.JobState, limit int) ([]domain.GenerationJob, error) {
	var out []domain.GenerationJob
	if err := pgxscan.Select(ctx, r.sql, &out, sqlinline.QListGenerationJobsByState, string(state), limit); err != nil {
		return nil, err
	}
	return out, nil
}

// ListUnpublished returns completed jobs without an asset that finished after completedAfter.
func (r *JobRepositoryPG) ListUnpublished(ctx context.Context, completedAfter time.Time, limit int) ([]domain.GenerationJob, error) {
	var out []domain.GenerationJob
	if err := pgxscan.Select(ctx, r.sql, &out, sqlinline.QListUnpublishedJobs, completedAfter, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// HasPublishedAsset reports whether subjectRef already has a completed, uploaded result from provider.
func (r *JobRepositoryPG) HasPublishedAsset(ctx context.Context, subjectRef string, provider domain.ProviderType) (bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSubjectHasPublishedAsset, subjectRef, string(provider))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func mapNotFound(err error) error {
	if infra.IsNoRows(err) {
		return domain.ErrNotFound
	}
	return err
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
