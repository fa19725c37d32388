package render

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"slidecast/internal/domain"
	"slidecast/internal/providers"
)

type captureTransport struct {
	mu        sync.Mutex
	responses map[string]responseStub
	requests  []string
	lastBody  []byte
}

type responseStub struct {
	status int
	body   string
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.Method + " " + req.URL.Path
	c.requests = append(c.requests, key)
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	stub, ok := c.responses[key]
	if !ok {
		stub = responseStub{status: http.StatusNotFound, body: `{"message":"not found"}`}
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(stub.body)),
		Request:    req,
	}, nil
}

func newTestAdapter(stubs map[string]responseStub) (*Adapter, *captureTransport) {
	transport := &captureTransport{responses: stubs}
	return New(Options{
		APIKey:     "key",
		BaseURL:    "https://render.test/v1",
		HTTPClient: &http.Client{Transport: transport},
	}), transport
}

func TestSubmitAddsCallback(t *testing.T) {
	a, transport := newTestAdapter(map[string]responseStub{
		"POST /v1/render": {status: http.StatusCreated, body: `{"success":true,"response":{"id":"r-1"}}`},
	})
	handle, err := a.Submit(context.Background(), providers.Request{
		Payload:     json.RawMessage(`{"timeline":{"tracks":[]}}`),
		CallbackURL: "https://api.local/v1/webhooks/render",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle != "r-1" {
		t.Fatalf("handle = %q", handle)
	}
	var sent map[string]any
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if sent["callback"] != "https://api.local/v1/webhooks/render" {
		t.Fatalf("callback = %v", sent["callback"])
	}
}

func TestGetStatusStages(t *testing.T) {
	cases := []struct {
		body     string
		state    domain.JobState
		progress int
	}{
		{`{"response":{"status":"queued"}}`, domain.JobStateProcessing, 0},
		{`{"response":{"status":"rendering"}}`, domain.JobStateProcessing, 50},
		{`{"response":{"status":"done","url":"https://cdn/r-1.mp4"}}`, domain.JobStateCompleted, -1},
		{`{"response":{"status":"failed","error":"bad asset"}}`, domain.JobStateFailed, -1},
		{`{"response":{"status":"cancelled"}}`, domain.JobStateCancelled, -1},
	}
	for _, tc := range cases {
		a, _ := newTestAdapter(map[string]responseStub{
			"GET /v1/render/r-1": {status: http.StatusOK, body: tc.body},
		})
		st, err := a.GetStatus(context.Background(), "r-1")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if st.State != tc.state {
			t.Fatalf("%s: state = %s, want %s", tc.body, st.State, tc.state)
		}
		if tc.progress >= 0 && (st.ProgressPercent == nil || *st.ProgressPercent != tc.progress) {
			t.Fatalf("%s: progress = %v, want %d", tc.body, st.ProgressPercent, tc.progress)
		}
	}
}

func TestCancel(t *testing.T) {
	a, transport := newTestAdapter(map[string]responseStub{
		"DELETE /v1/render/r-1": {status: http.StatusOK, body: `{"success":true}`},
		"DELETE /v1/render/r-2": {status: http.StatusConflict, body: `{"message":"already rendered"}`},
		"DELETE /v1/render/r-3": {status: http.StatusServiceUnavailable, body: `{}`},
	})
	if ok, err := a.Cancel(context.Background(), "r-1"); !ok || err != nil {
		t.Fatalf("Cancel(r-1) = %v, %v", ok, err)
	}
	if ok, err := a.Cancel(context.Background(), "r-2"); ok || err != nil {
		t.Fatalf("Cancel(r-2) = %v, %v", ok, err)
	}
	if _, err := a.Cancel(context.Background(), "r-3"); !domain.IsTransient(err) {
		t.Fatalf("Cancel(r-3) expected transient, got %v", err)
	}
	if len(transport.requests) != 3 {
		t.Fatalf("requests = %v", transport.requests)
	}
}

func TestDecodeWebhook(t *testing.T) {
	a, _ := newTestAdapter(nil)
	ev, err := a.DecodeWebhook(nil, []byte(`{"id":"r-9","status":"done","url":"https://cdn/r-9.mp4"}`))
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if ev.Handle != "r-9" || ev.Status.State != domain.JobStateCompleted {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, err := a.DecodeWebhook(nil, []byte(`{"status":"done"}`)); err == nil {
		t.Fatalf("expected error for missing id")
	}
}
