package memstore

import (
	"context"
	"sync"
	"time"

	"slidecast/internal/domain"
)

type grantKey struct {
	assetID string
	purpose domain.GrantPurpose
}

// Grants implements domain.GrantStore. Superseded grants are kept, inactive.
type Grants struct {
	mu     sync.Mutex
	all    map[string]*domain.PresignedURLGrant
	active map[grantKey]string
}

func NewGrants() *Grants {
	return &Grants{all: make(map[string]*domain.PresignedURLGrant), active: make(map[grantKey]string)}
}

func (s *Grants) Active(ctx context.Context, assetID string, purpose domain.GrantPurpose) (*domain.PresignedURLGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[grantKey{assetID, purpose}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	g := *s.all[id]
	return &g, nil
}

func (s *Grants) Rotate(ctx context.Context, candidate *domain.PresignedURLGrant, validUntil time.Time) (*domain.PresignedURLGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{candidate.AssetID, candidate.Purpose}
	now := time.Now().UTC()
	var carried int64
	if id, ok := s.active[key]; ok {
		current := s.all[id]
		if !current.ExpiresAt.Before(validUntil) {
			g := *current
			return &g, false, nil
		}
		current.Active = false
		current.UpdatedAt = now
		carried = current.AccessCount
	}
	stored := *candidate
	stored.Active = true
	stored.AccessCount = carried
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.all[stored.ID] = &stored
	s.active[key] = stored.ID
	g := stored
	return &g, true, nil
}

func (s *Grants) Touch(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.all[grantID]
	if !ok {
		return domain.ErrNotFound
	}
	g.AccessCount++
	return nil
}

// ActiveCount reports how many grants are active for the asset and purpose.
func (s *Grants) ActiveCount(assetID string, purpose domain.GrantPurpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.all {
		if g.AssetID == assetID && g.Purpose == purpose && g.Active {
			n++
		}
	}
	return n
}

var _ domain.GrantStore = (*Grants)(nil)
