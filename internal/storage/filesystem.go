package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"slidecast/internal/domain"
)

// ErrInvalidSignature is returned when a signed file URL does not verify or has expired.
var ErrInvalidSignature = errors.New("storage: invalid or expired signature")

// ErrShortWrite means the body ended before the declared size.
var ErrShortWrite = errors.New("storage: short write")

// FileStore persists objects onto the local filesystem and hands out
// HMAC-signed URLs served by the API's /files route. It is intended for
// development and single-node deployments without an object storage service.
type FileStore struct {
	basePath   string
	publicBase string
	signingKey []byte
	now        func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath. publicBase is the
// externally reachable API origin used to build presigned URLs.
func NewFileStore(basePath, publicBase, signingKey string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if signingKey == "" {
		return nil, errors.New("storage: signing key is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:   basePath,
		publicBase: strings.TrimRight(publicBase, "/"),
		signingKey: []byte(signingKey),
		now:        time.Now,
	}, nil
}

// PutObject writes r to bucket/key, replacing any previous object atomically.
func (s *FileStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, written, size)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("storage: commit file: %w", err)
	}
	return nil
}

func (s *FileStore) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	fullPath, err := s.path(bucket, key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat: %w", err)
	}
	return !info.IsDir(), nil
}

// Presign returns a URL valid for ttl that the /files handler will honour for purpose.
func (s *FileStore) Presign(ctx context.Context, bucket, key string, purpose domain.GrantPurpose, ttl time.Duration) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if err := checkBucket(bucket); err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("purpose", string(purpose))
	q.Set("sig", s.sign(bucket, cleanKey, purpose, expires))
	return fmt.Sprintf("%s/files/%s/%s?%s", s.publicBase, url.PathEscape(bucket), escapeKey(cleanKey), q.Encode()), nil
}

// Verify checks a signed request for bucket/key.
func (s *FileStore) Verify(bucket, key string, purpose domain.GrantPurpose, expires, sig string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return ErrInvalidSignature
	}
	want := s.sign(bucket, cleanKey, purpose, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// Open returns a reader for bucket/key.
func (s *FileStore) Open(bucket, key string) (*os.File, error) {
	fullPath, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	return f, err
}

func (s *FileStore) sign(bucket, key string, purpose domain.GrantPurpose, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", bucket, key, purpose, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FileStore) path(bucket, key string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := checkBucket(bucket); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, bucket, filepath.FromSlash(cleanKey)), nil
}

func checkBucket(bucket string) error {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return errors.New("storage: invalid bucket")
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ObjectStore = (*FileStore)(nil)
