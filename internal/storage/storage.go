// Package storage persists source documents through an ordered chain of blob tiers:
// a remote primary (Drive), an optional remote secondary (GCS or S3) and the local filesystem.
package storage

import (
	"context"
	"path"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// File is one source document handed to the chain.
type File struct {
	Name       string
	Data       []byte
	MIMEType   string
	TaxID      string
	OCRSuccess bool
	ReceivedAt time.Time
}

// TaxIDFolder is the per-tax-ID folder name.
func (f File) TaxIDFolder() string {
	return constants.TaxIDFolderPrefix + common.SanitizeTaxID(f.TaxID)
}

// DateFolder is the per-day folder name, from ReceivedAt in local time.
func (f File) DateFolder() string {
	return f.ReceivedAt.Format(constants.DateFolderLayout)
}

// RelPath is TAXID-<id>/<date>/<name>, shared by every tier.
func (f File) RelPath() string {
	return path.Join(f.TaxIDFolder(), f.DateFolder(), f.Name)
}

// Location is where a tier put the file.
type Location struct {
	FullPath string `json:"full_path"`
	Filename string `json:"filename"`
	FileID   string `json:"file_id,omitempty"`
	URL      string `json:"web_view_link,omitempty"`
	Size     int64  `json:"size"`
}

// Backend is one tier. Put is attempted at most once per PersistFile call.
// A storage-quota rejection must satisfy errors.Is(err, common.ErrPersistenceQuota).
type Backend interface {
	Name() constants.Backend
	Type() constants.StorageType
	Put(ctx context.Context, f File) (Location, error)
}

// Lister is implemented by tiers that can enumerate stored files.
type Lister interface {
	List(ctx context.Context, taxID, date string) ([]StoredFile, error)
}

// Pinger is implemented by remote tiers that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoredFile is one entry of a listing.
type StoredFile struct {
	Filename    string                `json:"filename"`
	Size        int64                 `json:"size"`
	DateFolder  string                `json:"date_folder"`
	FilePath    string                `json:"file_path,omitempty"`
	FileID      string                `json:"file_id,omitempty"`
	WebViewLink string                `json:"web_view_link,omitempty"`
	CreatedAt   string                `json:"created_time,omitempty"`
	ModifiedAt  string                `json:"modified_time,omitempty"`
	StorageType constants.StorageType `json:"storage_type"`
}

// Attempt records one tier tried during a write.
type Attempt struct {
	Backend   constants.Backend `json:"backend"`
	Error     string            `json:"error,omitempty"`
	Quota     bool              `json:"quota_exceeded,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

// Outcome is the result of a blob write across the chain.
type Outcome struct {
	Success     bool                  `json:"success"`
	StorageType constants.StorageType `json:"storage_type,omitempty"`
	Backend     constants.Backend     `json:"backend,omitempty"`
	FullPath    string                `json:"full_path,omitempty"`
	Location    *Location             `json:"location,omitempty"`
	Attempts    []Attempt             `json:"attempts"`
	Error       string                `json:"error,omitempty"`
}
