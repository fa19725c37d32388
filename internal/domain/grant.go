package domain

import (
	"fmt"
	"strings"
	"time"
)

// GrantPurpose is the access a presigned URL grants.
type GrantPurpose string

const (
	PurposeUpload   GrantPurpose = "UPLOAD"
	PurposeDownload GrantPurpose = "DOWNLOAD"
)

// ParseGrantPurpose accepts either case; empty means download.
func ParseGrantPurpose(raw string) (GrantPurpose, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(PurposeDownload):
		return PurposeDownload, nil
	case string(PurposeUpload):
		return PurposeUpload, nil
	}
	return "", &ValidationError{Field: "purpose", Reason: fmt.Sprintf("unsupported purpose %q", raw)}
}

// PresignedURLGrant is a time-limited capability to read or write an asset.
type PresignedURLGrant struct {
	ID          string       `db:"id" json:"id"`
	AssetID     string       `db:"asset_id" json:"asset_id"`
	Purpose     GrantPurpose `db:"purpose" json:"purpose"`
	URL         string       `db:"url" json:"url"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expires_at"`
	Active      bool         `db:"active" json:"active"`
	AccessCount int64        `db:"access_count" json:"access_count"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// ValidFor reports whether the grant stays usable for at least d after now.
func (g *PresignedURLGrant) ValidFor(now time.Time, d time.Duration) bool {
	if g == nil || !g.Active {
		return false
	}
	return g.ExpiresAt.Sub(now) >= d
}
