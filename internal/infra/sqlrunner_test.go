package infra

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 66e9d97c-408c-497d-b7ff-f056ea2b0f8e\nselect 1;"
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker error: %v", err)
	}
	if marker != "66e9d97c-408c-497d-b7ff-f056ea2b0f8e" {
		t.Fatalf("marker = %q", marker)
	}
	if trimmed != "select 1;" {
		t.Fatalf("trimmed = %q", trimmed)
	}
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	for _, q := range []string{"select 1;", "--sql not-a-uuid\nselect 1;", ""} {
		if _, _, err := extractMarker(q); !errors.Is(err, ErrMissingMarker) {
			t.Fatalf("expected ErrMissingMarker for %q, got %v", q, err)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	if !IsNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to be detected")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatalf("unexpected no-rows match")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
}

type scriptedRow struct{ err error }

func (s scriptedRow) Scan(dest ...any) error { return s.err }

func TestTimedRowReturnsScanError(t *testing.T) {
	runner := &SQLRunner{}
	for _, want := range []error{nil, pgx.ErrNoRows, errors.New("conn reset")} {
		row := &timedRow{row: scriptedRow{err: want}, runner: runner, marker: "m", start: time.Now()}
		if got := row.Scan(); !errors.Is(got, want) && got != want {
			t.Fatalf("Scan = %v, want %v", got, want)
		}
	}
}

func TestQueryRowWithoutMarkerFailsOnScan(t *testing.T) {
	runner := &SQLRunner{}
	var id string
	err := runner.QueryRow(context.Background(), "select 1;").Scan(&id)
	if !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
}
