package storage

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slidecast/internal/domain"
)

func TestSanitizeKey(t *testing.T) {
	cases := map[string]struct {
		want    string
		wantErr bool
	}{
		"generated/avatar/a/b.mp4": {want: "generated/avatar/a/b.mp4"},
		"/leading/slash.mp4":       {want: "leading/slash.mp4"},
		`windows\style\key.mp3`:    {want: "windows/style/key.mp3"},
		"../escape":                {wantErr: true},
		"a/../../escape":           {wantErr: true},
		"  ":                       {wantErr: true},
	}
	for in, tc := range cases {
		got, err := sanitizeKey(in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) expected error, got %q", in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, %v; want %q", in, got, err, tc.want)
		}
	}
}

func TestFileStorePutHeadAndPresign(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://api.local/", "secret")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	key := "generated/render/deck-1/job.mp4"

	ok, err := store.HeadObject(ctx, "assets", key)
	if err != nil || ok {
		t.Fatalf("HeadObject before put = %v, %v", ok, err)
	}
	if err := store.PutObject(ctx, "assets", key, strings.NewReader("video"), 5, "video/mp4"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	ok, err = store.HeadObject(ctx, "assets", key)
	if err != nil || !ok {
		t.Fatalf("HeadObject after put = %v, %v", ok, err)
	}

	raw, err := store.Presign(ctx, "assets", key, domain.PurposeDownload, time.Hour)
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "api.local" || u.Path != "/files/assets/"+key {
		t.Fatalf("unexpected url %s", raw)
	}
	q := u.Query()
	if err := store.Verify("assets", key, domain.PurposeDownload, q.Get("expires"), q.Get("sig")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := store.Verify("assets", key, domain.PurposeUpload, q.Get("expires"), q.Get("sig")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("purpose mismatch should fail, got %v", err)
	}

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := store.Verify("assets", key, domain.PurposeDownload, q.Get("expires"), q.Get("sig")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expired url should fail, got %v", err)
	}
}

func TestFileStoreShortWriteLeavesNothing(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(base, "", "secret")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	err = store.PutObject(context.Background(), "assets", "a/b.mp4", strings.NewReader("abc"), 10, "video/mp4")
	if !errors.Is(err, ErrShortWrite) {
		t.Fatalf("expected short write error")
	}
	entries, _ := os.ReadDir(filepath.Join(base, "assets", "a"))
	if len(entries) != 0 {
		t.Fatalf("expected no files, found %d", len(entries))
	}
}

func TestStageHashesAndCaps(t *testing.T) {
	dir := t.TempDir()
	staging, err := NewStaging(dir)
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	f, err := staging.Stage(context.Background(), strings.NewReader("hello"), 100)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if f.Size != 5 {
		t.Fatalf("size = %d", f.Size)
	}
	if f.Checksum != "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("checksum = %s", f.Checksum)
	}
	if !strings.HasPrefix(f.Sniffed, "text/plain") {
		t.Fatalf("sniffed = %s", f.Sniffed)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}

	if _, err := staging.Stage(context.Background(), bytes.NewReader(make([]byte, 64)), 32); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("staging dir should be empty, found %d entries", len(entries))
	}
}

func TestObjectKeyDeterministic(t *testing.T) {
	a := ObjectKey(domain.ProviderRender, "Café Deck #1", "job-1", "https://cdn.example.com/out/final.MP4?sig=x")
	b := ObjectKey(domain.ProviderRender, "Café Deck #1", "job-1", "https://cdn.example.com/out/final.MP4?sig=x")
	if a != b {
		t.Fatalf("keys differ: %s vs %s", a, b)
	}
	if a != "generated/render/cafe-deck-1/job-1.mp4" {
		t.Fatalf("key = %s", a)
	}
	if got := ObjectKey(domain.ProviderSpeech, "deck", "job-2", "speech://abc"); got != "generated/speech/deck/job-2.mp3" {
		t.Fatalf("speech key = %s", got)
	}
	if got := SubjectSegment("../../"); got != "subject" {
		t.Fatalf("segment = %s", got)
	}
}

func TestContentTypeForKey(t *testing.T) {
	if got := ContentTypeForKey("generated/render/deck/j.MP4"); got != "video/mp4" {
		t.Fatalf("ContentTypeForKey(mp4) = %q", got)
	}
	if got := ContentTypeForKey("blob"); got != "application/octet-stream" {
		t.Fatalf("ContentTypeForKey(blob) = %q", got)
	}
}
