package repo

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/sqlinline"
)

// GrantRepositoryPG implements domain.GrantStore.
type GrantRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGrantRepository creates a grant store backed by PostgreSQL.
func NewGrantRepository(sql infra.SQLExecutor) *GrantRepositoryPG {
	return &GrantRepositoryPG{sql: sql}
}

func (r *GrantRepositoryPG) Active(ctx context.Context, assetID string, purpose domain.GrantPurpose) (*domain.PresignedURLGrant, error) {
	id, err := rowID(assetID)
	if err != nil {
		return nil, err
	}
	var g domain.PresignedURLGrant
	if err := pgxscan.Get(ctx, r.sql, &g, sqlinline.QSelectActiveGrant, id, string(purpose)); err != nil {
		return nil, mapNotFound(err)
	}
	return &g, nil
}

// Rotate relies on the partial unique index over active grants: a concurrent
// rotation that loses the race fails with a unique violation and falls back
// to the winner's grant.
func (r *GrantRepositoryPG) Rotate(ctx context.Context, candidate *domain.PresignedURLGrant, validUntil time.Time) (*domain.PresignedURLGrant, bool, error) {
	var g domain.PresignedURLGrant
	err := pgxscan.Get(ctx, r.sql, &g, sqlinline.QRotateGrant,
		candidate.ID,
		candidate.AssetID,
		string(candidate.Purpose),
		candidate.URL,
		candidate.ExpiresAt,
		validUntil,
	)
	switch {
	case err == nil:
		return &g, true, nil
	case infra.IsNoRows(err), infra.IsUniqueViolation(err):
		current, getErr := r.Active(ctx, candidate.AssetID, candidate.Purpose)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	default:
		return nil, false, err
	}
}

func (r *GrantRepositoryPG) Touch(ctx context.Context, grantID string) error {
	id, err := rowID(grantID)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QTouchGrant, id)
	return err
}

var _ domain.GrantStore = (*GrantRepositoryPG)(nil)
