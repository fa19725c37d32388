// Package memstore keeps jobs, assets and grants in process memory with the
// same compare-and-set semantics as the Postgres repositories.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"slidecast/internal/domain"
)

// Jobs implements domain.JobStore.
type Jobs struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.GenerationJob
	history map[string][]domain.Transition
	assets  *Assets
}

// NewJobs creates an empty job store. assets is consulted by HasPublishedAsset and may be nil.
func NewJobs(assets *Assets) *Jobs {
	return &Jobs{
		jobs:    make(map[string]*domain.GenerationJob),
		history: make(map[string][]domain.Transition),
		assets:  assets,
	}
}

func (s *Jobs) Create(ctx context.Context, job *domain.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("memstore: job %s already exists", job.ID)
	}
	for _, existing := range s.jobs {
		if existing.Provider == job.Provider && existing.ProviderJobHandle == job.ProviderJobHandle {
			return fmt.Errorf("memstore: handle %s already recorded", job.ProviderJobHandle)
		}
	}
	stored := job.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[job.ID] = stored

	hist := []domain.Transition{{JobID: job.ID, To: domain.JobStatePending, At: stored.CreatedAt}}
	if stored.State != domain.JobStatePending {
		from := domain.JobStatePending
		at := stored.CreatedAt
		if stored.StartedAt != nil {
			at = *stored.StartedAt
		}
		hist = append(hist, domain.Transition{JobID: job.ID, From: &from, To: stored.State, At: at})
	}
	s.history[job.ID] = hist
	return nil
}

func (s *Jobs) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *Jobs) GetByHandle(ctx context.Context, provider domain.ProviderType, handle string) (*domain.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Provider == provider && job.ProviderJobHandle == handle {
			return job.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Jobs) Transition(ctx context.Context, jobID string, change domain.StateChange) (*domain.GenerationJob, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != change.From {
		return job.Clone(), fmt.Errorf("%w: job %s is %s", domain.ErrStaleState, jobID, job.State)
	}
	job.State = change.To
	if change.ResultRef != "" {
		job.ResultRef = domain.StringPtr(change.ResultRef)
	}
	if change.ErrorMessage != "" {
		job.ErrorMessage = domain.StringPtr(change.ErrorMessage)
	}
	if change.To.IsTerminal() {
		at := change.At
		job.CompletedAt = &at
	}
	job.UpdatedAt = change.At
	from := change.From
	s.history[jobID] = append(s.history[jobID], domain.Transition{JobID: jobID, From: &from, To: change.To, At: change.At})
	return job.Clone(), nil
}

func (s *Jobs) RecordPoll(ctx context.Context, jobID string, progress *int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.PollCount++
	polled := at
	job.LastPolledAt = &polled
	if progress != nil {
		p := *progress
		job.ProgressPercent = &p
	}
	return nil
}

func (s *Jobs) LinkAsset(ctx context.Context, jobID, assetID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", domain.ErrNotFound
	}
	if job.AssetID != nil {
		return *job.AssetID, nil
	}
	if job.State != domain.JobStateCompleted {
		return "", domain.ErrNotPublishable
	}
	job.AssetID = domain.StringPtr(assetID)
	job.UpdatedAt = time.Now().UTC()
	return assetID, nil
}

func (s *Jobs) History(ctx context.Context, jobID string) ([]domain.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Transition(nil), s.history[jobID]...), nil
}

func (s *Jobs) ListByState(ctx context.Context, state domain.JobState, limit int) ([]domain.GenerationJob, error) {
	return s.list(limit, func(j *domain.GenerationJob) bool { return j.State == state }, func(j *domain.GenerationJob) time.Time { return j.CreatedAt }), nil
}

func (s *Jobs) ListUnpublished(ctx context.Context, completedAfter time.Time, limit int) ([]domain.GenerationJob, error) {
	match := func(j *domain.GenerationJob) bool {
		return j.State == domain.JobStateCompleted && j.AssetID == nil && j.ResultRef != nil &&
			j.CompletedAt != nil && !j.CompletedAt.Before(completedAfter)
	}
	return s.list(limit, match, func(j *domain.GenerationJob) time.Time { return *j.CompletedAt }), nil
}

func (s *Jobs) HasPublishedAsset(ctx context.Context, subjectRef string, provider domain.ProviderType) (bool, error) {
	s.mu.RLock()
	var assetIDs []string
	for _, job := range s.jobs {
		if job.SubjectRef == subjectRef && job.Provider == provider && job.State == domain.JobStateCompleted && job.AssetID != nil {
			assetIDs = append(assetIDs, *job.AssetID)
		}
	}
	s.mu.RUnlock()
	if s.assets == nil {
		return len(assetIDs) > 0, nil
	}
	for _, id := range assetIDs {
		asset, err := s.assets.Get(ctx, id)
		if err == nil && asset.UploadState == domain.UploadCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Jobs) list(limit int, match func(*domain.GenerationJob) bool, orderBy func(*domain.GenerationJob) time.Time) []domain.GenerationJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.GenerationJob
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, *job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return orderBy(&out[i]).Before(orderBy(&out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var _ domain.JobStore = (*Jobs)(nil)
