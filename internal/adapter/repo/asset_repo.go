package repo

import (
	"context"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/sqlinline"
)

// AssetRepositoryPG implements domain.AssetStore.
type AssetRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAssetRepository creates an asset store backed by PostgreSQL.
func NewAssetRepository(sql infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{sql: sql}
}

func (r *AssetRepositoryPG) Get(ctx context.Context, assetID string) (*domain.Asset, error) {
	id, err := rowID(assetID)
	if err != nil {
		return nil, err
	}
	var asset domain.Asset
	if err := pgxscan.Get(ctx, r.sql, &asset, sqlinline.QSelectAssetByID, id); err != nil {
		return nil, mapNotFound(err)
	}
	return &asset, nil
}

func (r *AssetRepositoryPG) GetByLocation(ctx context.Context, bucket, key string) (*domain.Asset, error) {
	var asset domain.Asset
	if err := pgxscan.Get(ctx, r.sql, &asset, sqlinline.QSelectAssetByLocation, bucket, key); err != nil {
		return nil, mapNotFound(err)
	}
	return &asset, nil
}

// Reserve inserts the asset or returns the one already stored at its location.
func (r *AssetRepositoryPG) Reserve(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	state := asset.UploadState
	if state == "" {
		state = domain.UploadUploading
	}
	var out domain.Asset
	err := pgxscan.Get(ctx, r.sql, &out, sqlinline.QReserveAsset,
		asset.ID,
		asset.Bucket,
		asset.Key,
		asset.ContentType,
		string(state),
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *AssetRepositoryPG) MarkUploaded(ctx context.Context, assetID string, result domain.UploadResult) (*domain.Asset, error) {
	id, err := rowID(assetID)
	if err != nil {
		return nil, err
	}
	var out domain.Asset
	err = pgxscan.Get(ctx, r.sql, &out, sqlinline.QMarkAssetUploaded,
		id,
		result.SizeBytes,
		result.ContentType,
		result.Checksum,
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &out, nil
}

func (r *AssetRepositoryPG) MarkUploading(ctx context.Context, assetID string) (*domain.Asset, error) {
	id, err := rowID(assetID)
	if err != nil {
		return nil, err
	}
	var out domain.Asset
	if err := pgxscan.Get(ctx, r.sql, &out, sqlinline.QMarkAssetUploading, id); err != nil {
		return nil, mapNotFound(err)
	}
	return &out, nil
}

func (r *AssetRepositoryPG) MarkFailed(ctx context.Context, assetID string, reason string) error {
	id, err := rowID(assetID)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QMarkAssetFailed, id, truncate(reason, 1024))
	return err
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ domain.AssetStore = (*AssetRepositoryPG)(nil)
