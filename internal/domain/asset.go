package domain

import "time"

// UploadState enumerates asset upload lifecycle states.
type UploadState string

const (
	UploadPending   UploadState = "PENDING"
	UploadUploading UploadState = "UPLOADING"
	UploadCompleted UploadState = "COMPLETED"
	UploadFailed    UploadState = "FAILED"
)

// Asset represents a durably stored binary artifact. Bucket and Key never change after creation.
type Asset struct {
	ID          string      `db:"id" json:"id"`
	Bucket      string      `db:"bucket" json:"bucket"`
	Key         string      `db:"object_key" json:"key"`
	SizeBytes   int64       `db:"size_bytes" json:"size_bytes"`
	ContentType string      `db:"content_type" json:"content_type"`
	Checksum    *string     `db:"checksum" json:"checksum,omitempty"`
	UploadState UploadState `db:"upload_state" json:"upload_state"`
	LastError   *string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.Checksum = cloneString(a.Checksum)
	c.LastError = cloneString(a.LastError)
	return &c
}

// UploadResult carries the facts recorded once an upload succeeds.
type UploadResult struct {
	SizeBytes   int64
	ContentType string
	Checksum    string
}
