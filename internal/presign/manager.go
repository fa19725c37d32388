// Package presign hands out time-limited object URLs, reusing a stored grant
// while it still has enough validity left.
package presign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/metrics"
	"slidecast/internal/storage"
)

const (
	DefaultTTL         = 24 * time.Hour
	DefaultMinValidity = 30 * time.Minute

	batchConcurrency = 8
)

type Options struct {
	TTL         time.Duration
	MinValidity time.Duration
}

type Manager struct {
	grants domain.GrantStore
	assets domain.AssetStore
	store  storage.ObjectStore
	logger *infra.Logger
	opts   Options
	now    func() time.Time
}

func New(grants domain.GrantStore, assets domain.AssetStore, store storage.ObjectStore, logger *infra.Logger, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MinValidity <= 0 || opts.MinValidity >= opts.TTL {
		opts.MinValidity = min(DefaultMinValidity, opts.TTL/2)
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Manager{grants: grants, assets: assets, store: store, logger: logger, opts: opts, now: time.Now}
}

func (m *Manager) resolveMinValidity(minValidity time.Duration) (time.Duration, error) {
	if minValidity <= 0 {
		return m.opts.MinValidity, nil
	}
	if minValidity >= m.opts.TTL {
		return 0, &domain.ValidationError{Field: "min_validity", Reason: fmt.Sprintf("must be shorter than the url lifetime (%s)", m.opts.TTL)}
	}
	return minValidity, nil
}

// GetURL returns a grant for assetID that stays valid for at least
// minValidity. minValidity <= 0 uses the configured default.
func (m *Manager) GetURL(ctx context.Context, assetID string, purpose domain.GrantPurpose, minValidity time.Duration) (*domain.PresignedURLGrant, error) {
	mv, err := m.resolveMinValidity(minValidity)
	if err != nil {
		return nil, err
	}
	now := m.now()
	current, err := m.grants.Active(ctx, assetID, purpose)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("presign: load grant: %w", err)
	}
	if err == nil && current.ValidFor(now, mv) {
		metrics.Presigns.WithLabelValues(string(purpose), "reused").Inc()
		return m.handOut(ctx, current), nil
	}

	asset, err := m.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if purpose == domain.PurposeDownload && asset.UploadState != domain.UploadCompleted {
		return nil, &domain.ValidationError{Field: "asset_id", Reason: "asset upload is not complete"}
	}
	url, err := m.store.Presign(ctx, asset.Bucket, asset.Key, purpose, m.opts.TTL)
	if err != nil {
		return nil, fmt.Errorf("presign: sign url: %w", err)
	}
	candidate := &domain.PresignedURLGrant{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Purpose:   purpose,
		URL:       url,
		ExpiresAt: now.Add(m.opts.TTL).UTC(),
		Active:    true,
	}
	grant, rotated, err := m.grants.Rotate(ctx, candidate, now.Add(mv))
	if err != nil {
		return nil, fmt.Errorf("presign: rotate grant: %w", err)
	}
	source := "reused"
	if rotated {
		source = "minted"
		m.logger.Debug().
			Str("asset_id", assetID).
			Str("purpose", string(purpose)).
			Time("expires_at", grant.ExpiresAt).
			Msg("presign: minted url")
	}
	metrics.Presigns.WithLabelValues(string(purpose), source).Inc()
	return m.handOut(ctx, grant), nil
}

// handOut bumps the advisory access counter. Failures are logged only.
func (m *Manager) handOut(ctx context.Context, grant *domain.PresignedURLGrant) *domain.PresignedURLGrant {
	if err := m.grants.Touch(ctx, grant.ID); err != nil {
		m.logger.Warn().Err(err).Str("grant_id", grant.ID).Msg("presign: touch grant")
		return grant
	}
	grant.AccessCount++
	return grant
}

// Stale returns the assets, in input order without duplicates, that lack a
// grant valid for minValidity.
func (m *Manager) Stale(ctx context.Context, assetIDs []string, purpose domain.GrantPurpose, minValidity time.Duration) ([]string, error) {
	mv, err := m.resolveMinValidity(minValidity)
	if err != nil {
		return nil, err
	}
	now := m.now()
	stale := make([]string, 0, len(assetIDs))
	for _, id := range dedupe(assetIDs) {
		grant, err := m.grants.Active(ctx, id, purpose)
		if errors.Is(err, domain.ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("presign: load grant: %w", err)
		}
		if !grant.ValidFor(now, mv) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

// URLs returns a fresh grant for every asset, refreshing only the stale ones.
func (m *Manager) URLs(ctx context.Context, assetIDs []string, purpose domain.GrantPurpose, minValidity time.Duration) (map[string]*domain.PresignedURLGrant, error) {
	if _, err := m.resolveMinValidity(minValidity); err != nil {
		return nil, err
	}
	ids := dedupe(assetIDs)
	out := make(map[string]*domain.PresignedURLGrant, len(ids))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			grant, err := m.GetURL(gctx, id, purpose, minValidity)
			if err != nil {
				return fmt.Errorf("asset %s: %w", id, err)
			}
			mu.Lock()
			out[id] = grant
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
