package domain

import (
	"errors"
	"testing"
	"time"
)

func TestJobStateTransitions(t *testing.T) {
	all := []JobState{JobStatePending, JobStateProcessing, JobStateCompleted, JobStateFailed, JobStateCancelled}
	allowed := map[JobState][]JobState{
		JobStatePending:    {JobStateProcessing},
		JobStateProcessing: {JobStateCompleted, JobStateFailed, JobStateCancelled},
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Fatalf("%s -> %s = %v, want %v", from, to, got, want)
			}
			if want && to.Rank() <= from.Rank() {
				t.Fatalf("%s -> %s allowed but rank does not increase", from, to)
			}
		}
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, s := range []JobState{JobStateCompleted, JobStateFailed, JobStateCancelled} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		err := StateChange{From: s, To: JobStateProcessing, At: time.Now()}.Validate()
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition from %s, got %v", s, err)
		}
	}
}

func TestParseProviderType(t *testing.T) {
	p, err := ParseProviderType("  Avatar ")
	if err != nil || p != ProviderAvatar {
		t.Fatalf("ParseProviderType = %q, %v", p, err)
	}
	if _, err := ParseProviderType("veo"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	transient := &TransientProviderError{Provider: ProviderRender, Op: "submit", Err: errors.New("502")}
	terminal := &TerminalProviderError{Provider: ProviderRender, Op: "status", Message: "quota exceeded"}
	if !IsTransient(transient) || IsTerminal(transient) {
		t.Fatalf("transient misclassified")
	}
	if !IsTerminal(terminal) || IsTransient(terminal) {
		t.Fatalf("terminal misclassified")
	}
	pub := &PublishError{JobID: "j1", Stage: "upload", Err: ErrNotFound}
	if !errors.Is(pub, ErrNotFound) {
		t.Fatalf("PublishError should unwrap")
	}
	if got := (&TimeoutError{After: 30 * time.Minute}).Error(); got != "timeout: no terminal status within 30m0s" {
		t.Fatalf("timeout message = %q", got)
	}
}

func TestGrantValidFor(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g := &PresignedURLGrant{Active: true, ExpiresAt: now.Add(time.Hour)}
	if !g.ValidFor(now, 30*time.Minute) {
		t.Fatalf("expected grant valid for 30m")
	}
	if g.ValidFor(now, 61*time.Minute) {
		t.Fatalf("expected grant invalid for 61m")
	}
	g.Active = false
	if g.ValidFor(now, time.Minute) {
		t.Fatalf("inactive grant should never be valid")
	}
}
