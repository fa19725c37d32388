package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ErrTooLarge is returned when a staged download exceeds the configured cap.
var ErrTooLarge = errors.New("storage: payload exceeds size limit")

// Staging holds downloaded results on local disk before upload.
type Staging struct {
	dir string
}

// NewStaging ensures dir exists.
func NewStaging(dir string) (*Staging, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: staging dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure staging dir: %w", err)
	}
	return &Staging{dir: dir}, nil
}

func (s *Staging) Dir() string { return s.dir }

// StagedFile is a local copy of a downloaded result.
type StagedFile struct {
	Path     string
	Size     int64
	Checksum string
	Sniffed  string
}

// Open reopens the staged bytes for reading.
func (f *StagedFile) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// Remove deletes the staged copy. Safe to call more than once.
func (f *StagedFile) Remove() error {
	if f == nil || f.Path == "" {
		return nil
	}
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Stage copies r into a temp file, hashing as it goes. maxBytes <= 0 disables
// the cap. On error nothing is left behind.
func (s *Staging) Stage(ctx context.Context, r io.Reader, maxBytes int64) (*StagedFile, error) {
	f, err := os.CreateTemp(s.dir, "stage-*")
	if err != nil {
		return nil, fmt.Errorf("storage: create staging file: %w", err)
	}
	staged := &StagedFile{Path: f.Name()}
	cleanup := func() {
		_ = f.Close()
		_ = staged.Remove()
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	hasher := sha256.New()
	sniff := &sniffBuffer{}
	n, err := io.Copy(io.MultiWriter(f, hasher, sniff), &ctxReader{ctx: ctx, r: src})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("storage: stage copy: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		cleanup()
		return nil, ErrTooLarge
	}
	if err := f.Close(); err != nil {
		_ = staged.Remove()
		return nil, fmt.Errorf("storage: close staging file: %w", err)
	}
	staged.Size = n
	staged.Checksum = "sha256:" + hex.EncodeToString(hasher.Sum(nil))
	staged.Sniffed = http.DetectContentType(sniff.buf)
	return staged, nil
}

type sniffBuffer struct{ buf []byte }

func (b *sniffBuffer) Write(p []byte) (int, error) {
	if room := 512 - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
