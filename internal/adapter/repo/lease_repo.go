package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slidecast/internal/infra"
	"slidecast/internal/sqlinline"
)

// LeaseRepositoryPG keeps monitor leases in the monitor_leases table so the
// api and worker processes agree on who polls a job without Redis.
type LeaseRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewLeaseRepository(sql infra.SQLExecutor) *LeaseRepositoryPG {
	return &LeaseRepositoryPG{sql: sql}
}

// Acquire takes the lease when nobody holds it or the holder's lease ran out.
func (r *LeaseRepositoryPG) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	id, err := rowID(jobID)
	if err != nil {
		return "", false, nil
	}
	var token string
	err = r.sql.QueryRow(ctx, sqlinline.QAcquireMonitorLease, id, uuid.NewString(), ttl.Milliseconds()).Scan(&token)
	switch {
	case err == nil:
		return token, true, nil
	case infra.IsNoRows(err):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("acquire monitor lease: %w", err)
	}
}

// Release drops the lease only while token still owns it.
func (r *LeaseRepositoryPG) Release(ctx context.Context, jobID, token string) error {
	id, err := rowID(jobID)
	if err != nil {
		return nil
	}
	if _, err := uuid.Parse(token); err != nil {
		return nil
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QReleaseMonitorLease, id, token); err != nil {
		return fmt.Errorf("release monitor lease: %w", err)
	}
	return nil
}
