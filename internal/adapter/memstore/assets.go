package memstore

import (
	"context"
	"sync"
	"time"

	"slidecast/internal/domain"
)

type location struct{ bucket, key string }

// Assets implements domain.AssetStore.
type Assets struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Asset
	byLoc map[location]string
}

func NewAssets() *Assets {
	return &Assets{byID: make(map[string]*domain.Asset), byLoc: make(map[location]string)}
}

func (s *Assets) Get(ctx context.Context, assetID string) (*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Assets) GetByLocation(ctx context.Context, bucket, key string) (*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byLoc[location{bucket, key}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Assets) Reserve(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	loc := location{asset.Bucket, asset.Key}
	state := asset.UploadState
	if state == "" {
		state = domain.UploadUploading
	}
	if id, ok := s.byLoc[loc]; ok {
		existing := s.byID[id]
		if existing.UploadState != domain.UploadCompleted {
			existing.UploadState = state
			existing.ContentType = asset.ContentType
		}
		existing.UpdatedAt = now
		return existing.Clone(), nil
	}
	stored := &domain.Asset{
		ID:          asset.ID,
		Bucket:      asset.Bucket,
		Key:         asset.Key,
		ContentType: asset.ContentType,
		UploadState: state,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byID[stored.ID] = stored
	s.byLoc[loc] = stored.ID
	return stored.Clone(), nil
}

func (s *Assets) MarkUploaded(ctx context.Context, assetID string, result domain.UploadResult) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	a.SizeBytes = result.SizeBytes
	a.ContentType = result.ContentType
	a.Checksum = domain.StringPtr(result.Checksum)
	a.UploadState = domain.UploadCompleted
	a.LastError = nil
	a.UpdatedAt = time.Now().UTC()
	return a.Clone(), nil
}

func (s *Assets) MarkUploading(ctx context.Context, assetID string) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	a.UploadState = domain.UploadUploading
	a.LastError = nil
	a.UpdatedAt = time.Now().UTC()
	return a.Clone(), nil
}

func (s *Assets) MarkFailed(ctx context.Context, assetID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[assetID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.UploadState == domain.UploadCompleted {
		return nil
	}
	a.UploadState = domain.UploadFailed
	a.LastError = domain.StringPtr(reason)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Len reports how many asset records exist.
func (s *Assets) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

var _ domain.AssetStore = (*Assets)(nil)
