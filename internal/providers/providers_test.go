package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"slidecast/internal/domain"
)

type stubAdapter struct {
	NoCancel
	t domain.ProviderType
}

func (s stubAdapter) Type() domain.ProviderType                       { return s.t }
func (stubAdapter) Submit(context.Context, Request) (string, error)   { return "h", nil }
func (stubAdapter) GetStatus(context.Context, string) (Status, error) { return Status{}, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubAdapter{t: domain.ProviderRender}, nil, stubAdapter{t: domain.ProviderAvatar})
	if a, err := r.Get(domain.ProviderRender); err != nil || a.Type() != domain.ProviderRender {
		t.Fatalf("Get(render) = %v, %v", a, err)
	}
	if _, err := r.Get(domain.ProviderSpeech); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	types := r.Types()
	if len(types) != 2 || types[0] != domain.ProviderAvatar {
		t.Fatalf("Types = %v", types)
	}
	if ok, err := (stubAdapter{}).Cancel(context.Background(), "h"); ok || err != nil {
		t.Fatalf("NoCancel = %v, %v", ok, err)
	}
}

func TestStatusMapResolve(t *testing.T) {
	m := StatusMap{"done": domain.JobStateCompleted, "failed": domain.JobStateFailed}
	if got := m.Resolve(" DONE "); got != domain.JobStateCompleted {
		t.Fatalf("Resolve(DONE) = %s", got)
	}
	if got := m.Resolve("exploding"); got != domain.JobStateProcessing {
		t.Fatalf("unknown status should keep polling, got %s", got)
	}
}

func TestIsTransientStatus(t *testing.T) {
	for _, s := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests, 500, 503} {
		if !IsTransientStatus(s) {
			t.Fatalf("%d should be transient", s)
		}
	}
	for _, s := range []int{400, 401, 403, 404, 422} {
		if IsTransientStatus(s) {
			t.Fatalf("%d should be terminal", s)
		}
	}
}

func TestClassifyError(t *testing.T) {
	if ClassifyError(domain.ProviderRender, "submit", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	term := &domain.TerminalProviderError{Provider: domain.ProviderRender, Op: "submit", Message: "bad"}
	if got := ClassifyError(domain.ProviderRender, "submit", term); got != term {
		t.Fatalf("classified errors should pass through")
	}
	if !domain.IsTransient(ClassifyError(domain.ProviderRender, "submit", errors.New("boom"))) {
		t.Fatalf("unknown errors should be transient")
	}
}

func TestRequireHandle(t *testing.T) {
	if _, err := RequireHandle(domain.ProviderAvatar, "  "); !domain.IsTerminal(err) {
		t.Fatalf("empty handle should be terminal, got %v", err)
	}
	if h, err := RequireHandle(domain.ProviderAvatar, " v1 "); err != nil || h != "v1" {
		t.Fatalf("RequireHandle = %q, %v", h, err)
	}
}

func TestErrorDetail(t *testing.T) {
	cases := map[string]string{
		`{"message":"quota exceeded"}`:           "quota exceeded",
		`{"error":"bad timeline"}`:               "bad timeline",
		`{"error":{"message":"avatar missing"}}`: "avatar missing",
		`upstream exploded`:                      "upstream exploded",
		``:                                       "empty response",
	}
	for in, want := range cases {
		if got := errorDetail([]byte(in)); got != want {
			t.Fatalf("errorDetail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProgressClamps(t *testing.T) {
	if Progress(-1) != nil {
		t.Fatalf("negative progress should be nil")
	}
	if p := Progress(140); p == nil || *p != 100 {
		t.Fatalf("Progress(140) = %v", p)
	}
}
