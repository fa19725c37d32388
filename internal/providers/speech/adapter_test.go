package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"slidecast/internal/domain"
	"slidecast/internal/providers"
)

type fakeSynth struct {
	audio string
	err   error
	block chan struct{}
	got   chan openai.CreateSpeechRequest
}

func (f *fakeSynth) CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	if f.got != nil {
		f.got <- req
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return openai.RawResponse{}, ctx.Err()
		}
	}
	if f.err != nil {
		return openai.RawResponse{}, f.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader(f.audio))}, nil
}

func waitState(t *testing.T, a *Adapter, handle string, want domain.JobState) providers.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := a.GetStatus(context.Background(), handle)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("handle %s never reached %s", handle, want)
	return providers.Status{}
}

func TestSubmitSynthesizesInBackground(t *testing.T) {
	synth := &fakeSynth{audio: "ID3-audio", got: make(chan openai.CreateSpeechRequest, 1)}
	a := New(Options{Client: synth, Voice: "nova"})

	handle, err := a.Submit(context.Background(), providers.Request{Payload: json.RawMessage(`{"input":" Hello slide one "}`)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	req := <-synth.got
	if req.Input != "Hello slide one" || req.Voice != "nova" || req.Model != "tts-1" {
		t.Fatalf("unexpected request %+v", req)
	}

	st := waitState(t, a, handle, domain.JobStateCompleted)
	if st.ResultRef != RefScheme+handle {
		t.Fatalf("result ref = %q", st.ResultRef)
	}
	rc, ct, err := a.OpenResult(context.Background(), st.ResultRef)
	if err != nil {
		t.Fatalf("OpenResult: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "ID3-audio" || ct != "audio/mpeg" {
		t.Fatalf("OpenResult = %q, %q", data, ct)
	}
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	a := New(Options{Client: &fakeSynth{}})
	_, err := a.Submit(context.Background(), providers.Request{Payload: json.RawMessage(`{"input":"  "}`)})
	if !domain.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestSubmitWithoutKeyIsTerminal(t *testing.T) {
	a := New(Options{})
	_, err := a.Submit(context.Background(), providers.Request{Payload: json.RawMessage(`{"input":"hi"}`)})
	if !domain.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestSynthesisFailureReported(t *testing.T) {
	a := New(Options{Client: &fakeSynth{err: &openai.APIError{Message: "voice not supported"}}})
	handle, err := a.Submit(context.Background(), providers.Request{Payload: json.RawMessage(`{"input":"hi"}`)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := waitState(t, a, handle, domain.JobStateFailed)
	if st.ErrorMessage != "voice not supported" {
		t.Fatalf("error message = %q", st.ErrorMessage)
	}
}

func TestCancelAbortsSynthesis(t *testing.T) {
	a := New(Options{Client: &fakeSynth{block: make(chan struct{})}})
	handle, err := a.Submit(context.Background(), providers.Request{Payload: json.RawMessage(`{"input":"hi"}`)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ok, err := a.Cancel(context.Background(), handle)
	if !ok || err != nil {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	waitState(t, a, handle, domain.JobStateCancelled)
	if ok, _ := a.Cancel(context.Background(), handle); ok {
		t.Fatalf("second cancel should report false")
	}
}

func TestUnknownHandleFails(t *testing.T) {
	a := New(Options{Client: &fakeSynth{}})
	st, err := a.GetStatus(context.Background(), "missing")
	if err != nil || st.State != domain.JobStateFailed {
		t.Fatalf("GetStatus = %+v, %v", st, err)
	}
	if _, _, err := a.OpenResult(context.Background(), RefScheme+"missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
