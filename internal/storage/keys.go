package storage

import (
	"mime"
	"net/url"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"slidecast/internal/domain"
)

const maxSegmentLen = 80

// ObjectKey derives the storage key for a job's published result. The same
// inputs always yield the same key.
func ObjectKey(provider domain.ProviderType, subjectRef, jobID, resultRef string) string {
	ext := extensionFromRef(resultRef)
	if ext == "" {
		ext = defaultExtension(provider)
	}
	return path.Join("generated", string(provider), SubjectSegment(subjectRef), jobID+ext)
}

// SubjectSegment folds a subject reference to a path-safe ASCII segment.
func SubjectSegment(subjectRef string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, subjectRef)
	if err != nil {
		folded = subjectRef
	}
	folded = strings.ToLower(strings.TrimSpace(folded))

	var b strings.Builder
	lastDash := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSegmentLen {
			break
		}
	}
	seg := strings.Trim(b.String(), "-.")
	if seg == "" {
		return "subject"
	}
	return seg
}

func extensionFromRef(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

func defaultExtension(provider domain.ProviderType) string {
	switch provider {
	case domain.ProviderSpeech:
		return ".mp3"
	default:
		return ".mp4"
	}
}

var extensionTypes = map[string]string{
	".mp4": "video/mp4",
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".png": "image/png",
	".jpg": "image/jpeg",
	".txt": "text/plain",
}

// ContentTypeForKey guesses a content type from the key's extension.
func ContentTypeForKey(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
