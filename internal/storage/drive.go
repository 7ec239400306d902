package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// quotaReason is the Drive error reason for an exhausted storage quota
// (typically a service account without its own Drive storage).
const quotaReason = "storageQuotaExceeded"

// driveAPI is the subset of Drive v3 the primary tier needs.
type driveAPI interface {
	FindFolder(ctx context.Context, name, parentID string) (id string, found bool, err error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, name, parentID, mimeType string, data []byte) (*drive.File, error)
	Children(ctx context.Context, parentID string, folders bool) ([]*drive.File, error)
}

type DriveConfig struct {
	RootFolderName string
	Options        []option.ClientOption
}

// Drive is the primary tier. Folder provisioning is find-then-create per path segment,
// serialized per folder key so concurrent uploads for a new tax ID share one folder.
type Drive struct {
	api    driveAPI
	root   string
	logger *slog.Logger
	cb     *gobreaker.CircuitBreaker[Location]

	folderLocks common.KeyedMutex
	mu          sync.RWMutex
	folders     map[string]string
}

func NewDrive(ctx context.Context, cfg DriveConfig, logger *slog.Logger) (*Drive, error) {
	svc, err := drive.NewService(ctx, cfg.Options...)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "create drive service", err)
	}
	return newDrive(&driveService{svc: svc}, cfg.RootFolderName, logger), nil
}

func newDrive(api driveAPI, root string, logger *slog.Logger) *Drive {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = constants.DefaultRootFolder
	}
	d := &Drive{api: api, root: root, logger: logger, folders: map[string]string{}}
	d.cb = gobreaker.NewCircuitBreaker[Location](gobreaker.Settings{
		Name:    "drive",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage.drive.breaker", "from", from.String(), "to", to.String())
		},
	})
	return d
}

func (d *Drive) Name() constants.Backend     { return constants.BackendPrimaryBlob }
func (d *Drive) Type() constants.StorageType { return constants.StorageRemote }

// Put uploads f to root/TAXID-<id>/<date>/<name>. A storage-quota rejection is returned as a QuotaError.
func (d *Drive) Put(ctx context.Context, f File) (Location, error) {
	start := time.Now()
	loc, err := d.cb.Execute(func() (Location, error) {
		return d.put(ctx, f)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Location{}, common.PersistenceError("drive breaker open", err)
		}
		return Location{}, err
	}
	d.logger.Info("storage.drive.uploaded",
		"path", loc.FullPath,
		"file_id", loc.FileID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return loc, nil
}

func (d *Drive) put(ctx context.Context, f File) (Location, error) {
	parent, err := d.ensurePath(ctx, f.TaxIDFolder(), f.DateFolder())
	if err != nil {
		return Location{}, classify("provision drive folders", err)
	}
	mime := f.MIMEType
	if mime == "" {
		mime = constants.MIMETypeForExt(path.Ext(f.Name))
	}
	up, err := d.api.Upload(ctx, f.Name, parent, mime, f.Data)
	if err != nil {
		return Location{}, classify("drive upload", err)
	}
	return Location{
		FullPath: path.Join(d.root, f.RelPath()),
		Filename: up.Name,
		FileID:   up.Id,
		URL:      up.WebViewLink,
		Size:     up.Size,
	}, nil
}

// classify maps a Drive error onto the persistence taxonomy by its structured reason.
func classify(msg string, err error) error {
	if IsQuotaExceeded(err) {
		return common.QuotaError(msg, err)
	}
	return common.PersistenceError(msg, err)
}

// IsQuotaExceeded reports whether err is a 403 carrying the storageQuotaExceeded reason.
func IsQuotaExceeded(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == quotaReason {
			return true
		}
	}
	for _, detail := range gerr.Details {
		if m, ok := detail.(map[string]any); ok && m["reason"] == quotaReason {
			return true
		}
	}
	return false
}

// ensurePath resolves root/segments..., creating missing folders, and returns the leaf ID.
func (d *Drive) ensurePath(ctx context.Context, segments ...string) (string, error) {
	parent, err := d.ensureFolder(ctx, d.root, "")
	if err != nil {
		return "", err
	}
	for _, s := range segments {
		if parent, err = d.ensureFolder(ctx, s, parent); err != nil {
			return "", err
		}
	}
	return parent, nil
}

func (d *Drive) ensureFolder(ctx context.Context, name, parent string) (string, error) {
	key := parent + "/" + name
	d.mu.RLock()
	id, ok := d.folders[key]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}

	unlock := d.folderLocks.Lock(key)
	defer unlock()

	d.mu.RLock()
	id, ok = d.folders[key]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, found, err := d.api.FindFolder(ctx, name, parent)
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if !found {
		if id, err = d.api.CreateFolder(ctx, name, parent); err != nil {
			return "", fmt.Errorf("create folder %q: %w", name, err)
		}
		d.logger.Info("storage.drive.folder_created", "name", name, "parent", parent, "id", id)
	}

	d.mu.Lock()
	d.folders[key] = id
	d.mu.Unlock()
	return id, nil
}

// Ping resolves the root folder and lists its subfolders.
func (d *Drive) Ping(ctx context.Context) error {
	root, err := d.ensureFolder(ctx, d.root, "")
	if err != nil {
		return err
	}
	_, err = d.api.Children(ctx, root, true)
	return err
}

// List walks TAXID-<id>/<date> folders. A missing tax ID folder yields an empty list.
func (d *Drive) List(ctx context.Context, taxID, date string) ([]StoredFile, error) {
	root, err := d.ensureFolder(ctx, d.root, "")
	if err != nil {
		return nil, err
	}
	taxFolder, found, err := d.api.FindFolder(ctx, File{TaxID: taxID}.TaxIDFolder(), root)
	if err != nil {
		return nil, err
	}
	out := []StoredFile{}
	if !found {
		return out, nil
	}
	dates, err := d.api.Children(ctx, taxFolder, true)
	if err != nil {
		return nil, err
	}
	for _, df := range dates {
		if date != "" && df.Name != date {
			continue
		}
		files, err := d.api.Children(ctx, df.Id, false)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, StoredFile{
				Filename:    f.Name,
				Size:        f.Size,
				DateFolder:  df.Name,
				FileID:      f.Id,
				WebViewLink: f.WebViewLink,
				CreatedAt:   f.CreatedTime,
				ModifiedAt:  f.ModifiedTime,
				StorageType: constants.StorageRemote,
			})
		}
	}
	return out, nil
}

type driveService struct {
	svc *drive.Service
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func (s *driveService) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", quote(name), constants.DriveFolderMIME)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", quote(parentID))
	}
	res, err := s.svc.Files.List().Q(q).Fields("files(id,name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", false, err
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

func (s *driveService) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	meta := &drive.File{Name: name, MimeType: constants.DriveFolderMIME}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	f, err := s.svc.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (s *driveService) Upload(ctx context.Context, name, parentID, mimeType string, data []byte) (*drive.File, error) {
	meta := &drive.File{Name: name, Parents: []string{parentID}, MimeType: mimeType}
	return s.svc.Files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id,name,size,webViewLink,webContentLink").
		Context(ctx).
		Do()
}

func (s *driveService) Children(ctx context.Context, parentID string, folders bool) ([]*drive.File, error) {
	op := "!="
	if folders {
		op = "="
	}
	q := fmt.Sprintf("'%s' in parents and mimeType%s'%s' and trashed=false", quote(parentID), op, constants.DriveFolderMIME)
	var out []*drive.File
	err := s.svc.Files.List().
		Q(q).
		Fields("nextPageToken, files(id,name,size,createdTime,modifiedTime,webViewLink)").
		PageSize(100).
		Pages(ctx, func(page *drive.FileList) error {
			out = append(out, page.Files...)
			return nil
		})
	return out, err
}
