package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"slidecast/internal/domain"
)

// unreachableSQL fails the test if a statement is issued.
type unreachableSQL struct {
	t *testing.T
}

func (u unreachableSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	u.t.Errorf("unexpected exec with args %v", args)
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (u unreachableSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	u.t.Errorf("unexpected query row with args %v", args)
	return failedRow{}
}

func (u unreachableSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	u.t.Errorf("unexpected query with args %v", args)
	return nil, errors.New("unexpected query")
}

type failedRow struct{}

func (failedRow) Scan(...any) error { return errors.New("unexpected scan") }

func TestMalformedIDsNeverReachTheDatabase(t *testing.T) {
	ctx := context.Background()
	db := unreachableSQL{t: t}
	jobs := NewJobRepository(db)
	assets := NewAssetRepository(db)
	grants := NewGrantRepository(db)
	leases := NewLeaseRepository(db)

	for _, id := range []string{"", "not-a-uuid", "123", "00000000-0000-0000-0000-00000000000g", "'; drop table assets; --"} {
		if _, err := jobs.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("jobs.Get(%q) err = %v", id, err)
		}
		if _, err := jobs.History(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("jobs.History(%q) err = %v", id, err)
		}
		if err := jobs.RecordPoll(ctx, id, nil, time.Now()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("jobs.RecordPoll(%q) err = %v", id, err)
		}
		change := domain.StateChange{From: domain.JobStateProcessing, To: domain.JobStateFailed, ErrorMessage: "x"}
		if _, err := jobs.Transition(ctx, id, change); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("jobs.Transition(%q) err = %v", id, err)
		}
		if _, err := jobs.LinkAsset(ctx, id, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("jobs.LinkAsset(%q) err = %v", id, err)
		}
		if _, err := assets.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("assets.Get(%q) err = %v", id, err)
		}
		if _, err := assets.MarkUploaded(ctx, id, domain.UploadResult{}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("assets.MarkUploaded(%q) err = %v", id, err)
		}
		if err := assets.MarkFailed(ctx, id, "x"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("assets.MarkFailed(%q) err = %v", id, err)
		}
		if _, err := grants.Active(ctx, id, domain.PurposeDownload); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("grants.Active(%q) err = %v", id, err)
		}
		if err := grants.Touch(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("grants.Touch(%q) err = %v", id, err)
		}
		if _, ok, err := leases.Acquire(ctx, id, time.Minute); err != nil || ok {
			t.Fatalf("leases.Acquire(%q) = %v, %v", id, ok, err)
		}
	}
}

func TestRowIDCanonicalizes(t *testing.T) {
	got, err := rowID("{6BA7B810-9DAD-11D1-80B4-00C04FD430C8}")
	if err != nil {
		t.Fatalf("rowID: %v", err)
	}
	if got != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Fatalf("rowID = %q", got)
	}
}
