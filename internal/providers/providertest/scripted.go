// Package providertest provides a scripted adapter for exercising the
// orchestration pipeline without a real provider.
package providertest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"slidecast/internal/domain"
	"slidecast/internal/providers"
)

// Step is one scripted GetStatus answer.
type Step struct {
	Status providers.Status
	Err    error
}

// Processing returns a non-terminal step.
func Processing() Step {
	return Step{Status: providers.Status{State: domain.JobStateProcessing, Native: "processing"}}
}

// Completed returns a terminal success step.
func Completed(ref string) Step {
	return Step{Status: providers.Status{State: domain.JobStateCompleted, Native: "done", ResultRef: ref}}
}

// Failed returns a terminal failure step.
func Failed(msg string) Step {
	return Step{Status: providers.Status{State: domain.JobStateFailed, Native: "failed", ErrorMessage: msg}}
}

// Transient returns a step whose poll fails with a retryable error.
func Transient(provider domain.ProviderType) Step {
	return Step{Err: &domain.TransientProviderError{Provider: provider, Op: "status", Err: fmt.Errorf("503")}}
}

// Adapter replays Steps per handle; once a script runs out the last step repeats.
// A handle without a script reports PROCESSING forever.
type Adapter struct {
	Provider domain.ProviderType

	SubmitDelay time.Duration
	SubmitErr   error
	// Results maps result refs to bytes served through OpenResult.
	Results map[string]string

	mu        sync.Mutex
	script    []Step
	scripts   map[string][]Step
	polls     map[string]int
	cancelled map[string]bool
	submits   []providers.Request
	seq       int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	openCount   atomic.Int32
}

// New returns an adapter that gives every new handle a copy of script.
func New(provider domain.ProviderType, script ...Step) *Adapter {
	return &Adapter{
		Provider:  provider,
		script:    script,
		scripts:   map[string][]Step{},
		polls:     map[string]int{},
		cancelled: map[string]bool{},
		Results:   map[string]string{},
	}
}

func (a *Adapter) Type() domain.ProviderType { return a.Provider }

// Script replaces the steps for a specific handle.
func (a *Adapter) Script(handle string, steps ...Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[handle] = steps
}

func (a *Adapter) Submit(ctx context.Context, req providers.Request) (string, error) {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		max := a.maxInFlight.Load()
		if n <= max || a.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if a.SubmitDelay > 0 {
		select {
		case <-time.After(a.SubmitDelay):
		case <-ctx.Done():
			return "", &domain.TransientProviderError{Provider: a.Provider, Op: "submit", Err: ctx.Err()}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits = append(a.submits, req)
	if a.SubmitErr != nil {
		return "", a.SubmitErr
	}
	a.seq++
	handle := fmt.Sprintf("%s-%d", a.Provider, a.seq)
	if _, ok := a.scripts[handle]; !ok {
		a.scripts[handle] = append([]Step(nil), a.script...)
	}
	return handle, nil
}

func (a *Adapter) GetStatus(_ context.Context, handle string) (providers.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls[handle]++
	steps := a.scripts[handle]
	if len(steps) == 0 {
		return Processing().Status, nil
	}
	step := steps[0]
	if len(steps) > 1 {
		a.scripts[handle] = steps[1:]
	}
	return step.Status, step.Err
}

func (a *Adapter) Cancel(_ context.Context, handle string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled[handle] = true
	return true, nil
}

// OpenResult serves bytes registered in Results.
func (a *Adapter) OpenResult(_ context.Context, ref string) (io.ReadCloser, string, error) {
	a.openCount.Add(1)
	a.mu.Lock()
	body, ok := a.Results[ref]
	a.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("providertest: no result for %s: %w", ref, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), "video/mp4", nil
}

// SetResult registers bytes for ref.
func (a *Adapter) SetResult(ref, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Results[ref] = body
}

// Polls reports how many times handle was polled.
func (a *Adapter) Polls(handle string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls[handle]
}

// Cancelled reports whether Cancel was called for handle.
func (a *Adapter) Cancelled(handle string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled[handle]
}

// Submits returns the requests received so far.
func (a *Adapter) Submits() []providers.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]providers.Request(nil), a.submits...)
}

// MaxInFlight is the highest number of concurrent Submit calls observed.
func (a *Adapter) MaxInFlight() int { return int(a.maxInFlight.Load()) }

// Opens counts OpenResult calls.
func (a *Adapter) Opens() int { return int(a.openCount.Load()) }

var (
	_ providers.Adapter      = (*Adapter)(nil)
	_ providers.ResultOpener = (*Adapter)(nil)
)
