package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"slidecast/internal/domain"
	"slidecast/internal/storage"
)

// fileRequest verifies the signed query of a /files URL and returns the
// bucket and key it grants.
func (a *App) fileRequest(w http.ResponseWriter, r *http.Request, purpose domain.GrantPurpose) (string, string, bool) {
	if a.Files == nil {
		a.error(w, http.StatusNotFound, "not_found", "local file serving disabled")
		return "", "", false
	}
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid key")
			return "", "", false
		}
		key = unescaped
	}
	q := r.URL.Query()
	if domain.GrantPurpose(q.Get("purpose")) != purpose {
		a.error(w, http.StatusForbidden, "forbidden", "url does not grant this access")
		return "", "", false
	}
	if err := a.Files.Verify(bucket, key, purpose, q.Get("expires"), q.Get("sig")); err != nil {
		a.error(w, http.StatusForbidden, "forbidden", "invalid or expired signature")
		return "", "", false
	}
	return bucket, key, true
}

func (a *App) DownloadFile(w http.ResponseWriter, r *http.Request) {
	bucket, key, ok := a.fileRequest(w, r, domain.PurposeDownload)
	if !ok {
		return
	}
	f, err := a.Files.Open(bucket, key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", storage.ContentTypeForKey(key))
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func (a *App) UploadFile(w http.ResponseWriter, r *http.Request) {
	bucket, key, ok := a.fileRequest(w, r, domain.PurposeUpload)
	if !ok {
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = storage.ContentTypeForKey(key)
	}
	if err := a.Files.PutObject(r.Context(), bucket, key, r.Body, r.ContentLength, contentType); err != nil {
		if errors.Is(err, storage.ErrShortWrite) {
			a.error(w, http.StatusBadRequest, "bad_request", "body shorter than Content-Length")
			return
		}
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
