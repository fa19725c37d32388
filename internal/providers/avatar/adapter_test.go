package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"slidecast/internal/domain"
	"slidecast/internal/providers"
)

func TestSubmitSendsPayloadAndReturnsHandle(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/video/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"video_id":"vid-1"}}`))
	}))
	defer srv.Close()

	a := New(Options{APIKey: "key", BaseURL: srv.URL})
	handle, err := a.Submit(context.Background(), providers.Request{
		JobID:   "job-1",
		Payload: json.RawMessage(`{"video_inputs":[{"voice":{"input_text":"hi"}}]}`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle != "vid-1" {
		t.Fatalf("handle = %q", handle)
	}
	if got["callback_id"] != "job-1" {
		t.Fatalf("callback_id = %v", got["callback_id"])
	}
	if _, ok := got["video_inputs"]; !ok {
		t.Fatalf("payload not forwarded: %v", got)
	}
}

func TestSubmitClassifiesErrors(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		tc := tc
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))
		a := New(Options{APIKey: "key", BaseURL: srv.URL})
		_, err := a.Submit(context.Background(), providers.Request{Payload: json.RawMessage(`{}`)})
		srv.Close()
		if tc.transient && !domain.IsTransient(err) {
			t.Fatalf("status %d: expected transient, got %v", tc.status, err)
		}
		if !tc.transient && !domain.IsTerminal(err) {
			t.Fatalf("status %d: expected terminal, got %v", tc.status, err)
		}
	}
}

func TestSubmitEmptyHandleIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()
	a := New(Options{APIKey: "key", BaseURL: srv.URL})
	if _, err := a.Submit(context.Background(), providers.Request{Payload: json.RawMessage(`{}`)}); !domain.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestGetStatusMapsVocabulary(t *testing.T) {
	cases := map[string]domain.JobState{
		`{"data":{"status":"waiting"}}`:                                       domain.JobStateProcessing,
		`{"data":{"status":"Processing","progress":40}}`:                      domain.JobStateProcessing,
		`{"data":{"status":"completed","video_url":"https://cdn/x.mp4"}}`:     domain.JobStateCompleted,
		`{"data":{"status":"failed","error":{"message":"avatar not found"}}}`: domain.JobStateFailed,
		`{"data":{"status":"brand_new_status"}}`:                              domain.JobStateProcessing,
	}
	for body, want := range cases {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("video_id") != "vid-1" {
				t.Errorf("video_id = %q", r.URL.Query().Get("video_id"))
			}
			_, _ = w.Write([]byte(body))
		}))
		a := New(Options{APIKey: "key", BaseURL: srv.URL})
		st, err := a.GetStatus(context.Background(), "vid-1")
		srv.Close()
		if err != nil {
			t.Fatalf("GetStatus(%s): %v", body, err)
		}
		if st.State != want {
			t.Fatalf("GetStatus(%s) = %s, want %s", body, st.State, want)
		}
		if want == domain.JobStateCompleted && st.ResultRef != "https://cdn/x.mp4" {
			t.Fatalf("result ref = %q", st.ResultRef)
		}
		if want == domain.JobStateFailed && st.ErrorMessage != "avatar not found" {
			t.Fatalf("error message = %q", st.ErrorMessage)
		}
	}
}

func TestCancelUnsupported(t *testing.T) {
	ok, err := New(Options{APIKey: "key"}).Cancel(context.Background(), "vid-1")
	if ok || err != nil {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
}

func TestDecodeWebhookVerifiesSignature(t *testing.T) {
	a := New(Options{APIKey: "key", WebhookSecret: "shh"})
	body := []byte(`{"event_type":"avatar_video.success","event_data":{"video_id":"vid-1","url":"https://cdn/x.mp4"}}`)

	h := http.Header{}
	h.Set("Signature", SignWebhook("shh", body))
	ev, err := a.DecodeWebhook(h, body)
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if ev.Handle != "vid-1" || ev.Status.State != domain.JobStateCompleted || ev.Status.ResultRef != "https://cdn/x.mp4" {
		t.Fatalf("unexpected event %+v", ev)
	}

	h.Set("Signature", "deadbeef")
	if _, err := a.DecodeWebhook(h, body); !errors.Is(err, providers.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
