package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		fallback string
		want     string
	}{
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "id-ID")
				r.Header.Set("Accept-Language", "en-US")
			},
			want: "id-ID",
		},
		{
			name: "accept-language weights",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "fr;q=0.5, de-DE;q=0.9")
			},
			want: "de-DE",
		},
		{
			name: "wildcard skipped",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "*, en-GB;q=0.8")
			},
			want: "en-GB",
		},
		{
			name: "invalid x-locale falls through",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "not a locale!")
				r.Header.Set("Accept-Language", "pt-BR")
			},
			want: "pt-BR",
		},
		{
			name:     "configured fallback",
			fallback: "en",
			want:     "en",
		},
		{
			name: "no hint",
			want: "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			got := detectLocale(req, tc.fallback)
			if got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLocaleMiddlewareStoresValue(t *testing.T) {
	var got string
	h := Locale("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ja-JP")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "ja-JP" {
		t.Fatalf("locale = %q, want ja-JP", got)
	}
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != "" {
		t.Fatalf("LocaleFromContext() default = %q, want empty", got)
	}
	ctx = context.WithValue(ctx, LocaleKey, "id")
	if got := LocaleFromContext(ctx); got != "id" {
		t.Fatalf("LocaleFromContext() with value = %q, want %q", got, "id")
	}
}
